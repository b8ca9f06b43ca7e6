package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConnectTargetRequiresPeerID(t *testing.T) {
	_, err := parseConnectTarget("/ip4/127.0.0.1/tcp/4001")
	assert.Error(t, err)
}

func TestParseConnectTargetAcceptsFullAddr(t *testing.T) {
	pi, err := parseConnectTarget("/ip4/127.0.0.1/tcp/4001/p2p/12D3KooWGRwMju3wHPhTxuC6s9PeSFtYnrFq5YkXjKaxPzMrW4Z2")
	require.NoError(t, err)
	assert.Equal(t, "12D3KooWGRwMju3wHPhTxuC6s9PeSFtYnrFq5YkXjKaxPzMrW4Z2", pi.ID.String())
}

func TestParseConnectTargetRejectsGarbage(t *testing.T) {
	_, err := parseConnectTarget("not-a-multiaddr")
	assert.Error(t, err)
}

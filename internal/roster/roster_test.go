package roster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommandLongestPrefix(t *testing.T) {
	r := New(nil)
	r.Set("peer-alice", "Alice")
	r.Set("peer-alice-smith", "Alice Smith")

	peerID, name, body, ok := r.ParseCommand("Alice Smith hello world")
	require.True(t, ok)
	assert.Equal(t, "peer-alice-smith", peerID)
	assert.Equal(t, "Alice Smith", name)
	assert.Equal(t, "hello world", body)

	peerID, name, body, ok = r.ParseCommand("Alice hi there")
	require.True(t, ok)
	assert.Equal(t, "peer-alice", peerID)
	assert.Equal(t, "Alice", name)
	assert.Equal(t, "hi there", body)
}

func TestParseCommandEmptyBodyRejected(t *testing.T) {
	r := New(nil)
	r.Set("peer-alice", "Alice")

	_, _, _, ok := r.ParseCommand("Alice ")
	assert.False(t, ok)
}

func TestParseCommandUnknownName(t *testing.T) {
	r := New(nil)
	r.Set("peer-alice", "Alice")

	_, _, _, ok := r.ParseCommand("Bob hello")
	assert.False(t, ok)
}

func TestRemoveInvalidatesLookup(t *testing.T) {
	r := New(nil)
	r.Set("peer-alice", "Alice")
	r.Remove("peer-alice")

	_, ok := r.Name("peer-alice")
	assert.False(t, ok)
}

func TestEnsurePlaceholderDoesNotOverwrite(t *testing.T) {
	r := New(nil)
	r.Set("peer-alice", "Alice")
	r.EnsurePlaceholder("peer-alice")

	name, ok := r.Name("peer-alice")
	require.True(t, ok)
	assert.Equal(t, "Alice", name)
}

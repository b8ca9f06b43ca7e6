package uiproto

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalParsesEachInputLine(t *testing.T) {
	in := strings.NewReader("ls p\nname alice\n")
	var out bytes.Buffer
	term := NewTerminal(in, &out)
	defer term.Close()

	select {
	case cmd := <-term.Input():
		assert.Equal(t, KindListDiscovered, cmd.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first command")
	}

	select {
	case cmd := <-term.Input():
		assert.Equal(t, KindSetName, cmd.Kind)
		assert.Equal(t, "alice", cmd.DisplayName)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second command")
	}
}

func TestTerminalInputClosesWhenReaderExhausted(t *testing.T) {
	in := strings.NewReader("quit\n")
	var out bytes.Buffer
	term := NewTerminal(in, &out)
	defer term.Close()

	<-term.Input()
	_, ok := <-term.Input()
	assert.False(t, ok)
}

func TestTerminalLogPrefixesOutput(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(strings.NewReader(""), &out)
	defer term.Close()

	term.Log("hello world")
	assert.Equal(t, "-- hello world\n", out.String())
}

func TestTerminalDrawRendersCounts(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(strings.NewReader(""), &out)
	defer term.Close()

	err := term.Draw(View{
		LocalName:       "alice",
		LocalPeerID:     "peer1",
		ConnectedPeers:  []string{"p1", "p2"},
		DiscoveredPeers: []string{"p1", "p2", "p3"},
		Stories:         []StoryView{{}},
		Bootstrap:       BootstrapView{Phase: "connected", Attempts: 2, PeerCount: 5},
		NetworkHealth:   NetworkHealthView{HealthyOps: 6, Total: 6},
	})
	require.NoError(t, err)

	rendered := out.String()
	assert.Contains(t, rendered, "[alice | peer1]")
	assert.Contains(t, rendered, "bootstrap: connected (attempts=2, peers=5)")
	assert.Contains(t, rendered, "connected peers: 2, discovered: 3")
	assert.Contains(t, rendered, "stories: 1, channels: 0, conversations: 0")
}

func TestTerminalCloseAfterReadSucceeds(t *testing.T) {
	in := strings.NewReader("ls p\nls c\nls p\n")
	var out bytes.Buffer
	term := NewTerminal(in, &out)

	<-term.Input()
	require.NoError(t, term.Close())
}

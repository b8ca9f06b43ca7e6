package uiproto

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Terminal is a plain stdin/stdout Collaborator: one line of input per
// Command, state redrawn as a compact text block. No TUI library is used —
// the corpus carries no terminal-UI dependency to build on here, only the
// GUI-backed original surface, so this follows the pack's own plain-fmt CLI
// style instead (banner printing, one command at a time).
type Terminal struct {
	out io.Writer

	mu     sync.Mutex
	closed bool

	input chan Command
}

// NewTerminal starts a background reader over in, emitting parsed Commands
// until in is closed or Close is called.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	t := &Terminal{out: out, input: make(chan Command, 16)}
	go t.readLoop(in)
	return t
}

func (t *Terminal) readLoop(in io.Reader) {
	defer close(t.input)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return
		}
		t.input <- Parse(scanner.Text())
	}
}

func (t *Terminal) Input() <-chan Command { return t.input }

func (t *Terminal) Log(msg string) {
	fmt.Fprintf(t.out, "-- %s\n", msg)
}

func (t *Terminal) Draw(v View) error {
	var b strings.Builder
	fmt.Fprintf(&b, "\n[%s | %s]\n", v.LocalName, v.LocalPeerID)
	fmt.Fprintf(&b, "bootstrap: %s (attempts=%d, peers=%d)\n", v.Bootstrap.Phase, v.Bootstrap.Attempts, v.Bootstrap.PeerCount)
	fmt.Fprintf(&b, "network health: %d/%d operations healthy\n", v.NetworkHealth.HealthyOps, v.NetworkHealth.Total)
	fmt.Fprintf(&b, "connected peers: %d, discovered: %d\n", len(v.ConnectedPeers), len(v.DiscoveredPeers))
	fmt.Fprintf(&b, "stories: %d, channels: %d, conversations: %d\n", len(v.Stories), len(v.Channels), len(v.Conversations))
	_, err := io.WriteString(t.out, b.String())
	return err
}

func (t *Terminal) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

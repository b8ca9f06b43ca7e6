// Package roster implements the Peer Roster & Name Cache (spec.md §4.8):
// peer-id → display-name plus a length-sorted view used by direct-message
// command parsing. Used by the event loop and by the composition's broadcast
// read goroutine (PeerName announcements), so a mutex guards it; the short
// critical section here never awaits.
package roster

import (
	"sort"
	"strings"
	"sync"
)

// DefaultPlaceholder is the display name assigned on ConnectionEstablished
// when no name has been announced yet (spec.md §4.2).
const DefaultPlaceholder = "anonymous"

// Roster maps peer ids to display names and maintains a length-sorted name
// cache rebuilt on every mutation.
type Roster struct {
	mu    sync.RWMutex
	names map[string]string // peer id -> display name

	// cache is names sorted by len(name) descending, rebuilt on mutation.
	cache []cacheEntry
}

type cacheEntry struct {
	peerID string
	name   string
}

// New creates an empty roster, optionally seeded from persisted names.
func New(seed map[string]string) *Roster {
	r := &Roster{names: make(map[string]string, len(seed))}
	for k, v := range seed {
		r.names[k] = v
	}
	r.rebuild()
	return r
}

// Set records peerID's display name (from a PeerName broadcast or an
// explicit local "name" command) and rebuilds the name cache.
func (r *Roster) Set(peerID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[peerID] = name
	r.rebuild()
}

// EnsurePlaceholder assigns DefaultPlaceholder to peerID if it has no known
// name yet (spec.md §4.2 ConnectionEstablished handling).
func (r *Roster) EnsurePlaceholder(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.names[peerID]; ok {
		return
	}
	r.names[peerID] = DefaultPlaceholder
	r.rebuild()
}

// Remove deletes peerID from the roster (ConnectionClosed, spec.md §4.2).
func (r *Roster) Remove(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.names, peerID)
	r.rebuild()
}

// Name returns peerID's display name, if known.
func (r *Roster) Name(peerID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.names[peerID]
	return n, ok
}

// Resolve returns the peer id for a display name, if known.
func (r *Roster) Resolve(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, n := range r.names {
		if n == name {
			return id, true
		}
	}
	return "", false
}

// Snapshot returns a copy of the full peer-id -> name map.
func (r *Roster) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.names))
	for k, v := range r.names {
		out[k] = v
	}
	return out
}

// rebuild must be called with mu held.
func (r *Roster) rebuild() {
	entries := make([]cacheEntry, 0, len(r.names))
	for id, n := range r.names {
		entries = append(entries, cacheEntry{peerID: id, name: n})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return len(entries[i].name) > len(entries[j].name)
	})
	r.cache = entries
}

// ParseCommand splits a "msg <name> <text>" argument string into the
// resolved peer id, display name, and remaining message body by walking the
// length-sorted name cache and matching the longest prefix that equals a
// known name (spec.md §4.8). Returns ok=false if no known name prefixes
// input, or if the matched body is empty after trimming.
func (r *Roster) ParseCommand(input string) (peerID, name, body string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.cache {
		if !strings.HasPrefix(input, e.name) {
			continue
		}
		rest := input[len(e.name):]
		if rest != "" && rest[0] != ' ' {
			// "Alice" must not match inside "Alicesmith"
			continue
		}
		msg := strings.TrimSpace(rest)
		if msg == "" {
			return "", "", "", false
		}
		return e.peerID, e.name, msg, true
	}
	return "", "", "", false
}

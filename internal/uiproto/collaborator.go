package uiproto

// StoryView is a story as rendered to the UI.
type StoryView struct {
	ID        int64
	Name      string
	Header    string
	Body      string
	Public    bool
	Channel   string
	CreatedAt int64
}

// ChannelView is a channel as rendered to the UI, with the local unread
// count folded in (spec.md §8 unread-count invariant).
type ChannelView struct {
	Name        string
	Description string
	Unread      int
}

// ConversationView is one direct-message conversation as rendered to the UI.
type ConversationView struct {
	PeerID       string
	PeerName     string
	LastActivity int64
	Unread       int
}

// BootstrapView mirrors internal/bootstrap.Status for display.
type BootstrapView struct {
	Phase       string
	Attempts    int
	PeerCount   int
	LastError   string
}

// NetworkHealthView mirrors internal/breaker.NetworkHealthSummary for
// display.
type NetworkHealthView struct {
	HealthyOps int
	FailedOps  int
	Total      int
}

// View is the full snapshot the orchestrator pushes to the UI after each
// dispatch that changes visible state (spec.md §4.1 step (g)).
type View struct {
	LocalName   string
	LocalPeerID string

	DiscoveredPeers []string
	ConnectedPeers  []string

	Stories       []StoryView
	Channels      []ChannelView
	Conversations []ConversationView

	Description *string

	Bootstrap     BootstrapView
	NetworkHealth NetworkHealthView
}

// Collaborator is the UI boundary the Event Orchestrator drives. Draw/Log
// errors are swallowed by the orchestrator (spec.md §7): they are never
// treated as fatal.
type Collaborator interface {
	// Input yields one parsed Command per line of interactive input. The
	// channel is closed when the UI backend itself terminates (e.g. stdin
	// closed), which the orchestrator treats as an implicit quit.
	Input() <-chan Command

	// Log surfaces a short, human-readable message (spec.md §7: validation
	// errors, non-fatal transport errors, informational notices).
	Log(msg string)

	// Draw renders the latest state snapshot.
	Draw(v View) error

	// Close releases any UI backend resources (terminal mode, etc).
	Close() error
}

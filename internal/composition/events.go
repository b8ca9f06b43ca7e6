package composition

import "github.com/storynode/core/internal/wire"

// Event is the tagged event stream Protocol Behaviour Composition emits for
// the Event Orchestrator to consume (spec.md §4.1, §4.2).
type Event interface{ isEvent() }

// ConnectionEstablished fires when the swarm completes a new connection.
type ConnectionEstablished struct {
	PeerID string
}

// ConnectionClosed fires when a connection to a peer tears down.
type ConnectionClosed struct {
	PeerID string
}

// RoutingUpdated mirrors the DHT's RoutingUpdated event (spec.md §4.2, §4.5).
type RoutingUpdated struct {
	IsNewPeer bool
}

// StoryReceived fires when a PublishedStory broadcast was stored locally.
type StoryReceived struct {
	Story wire.Story
}

// ListRequestReceived fires when a peer asked for our public story list; the
// response has been queued on OutgoingListResponses by the time this event is
// emitted, and the event loop publishes it when it drains that queue.
type ListRequestReceived struct {
	FromPeerID string
}

// ListResponseReceived fires when a peer answered our list request.
type ListResponseReceived struct {
	FromPeerID string
	Count      int
}

// PeerNameReceived fires when a peer announced a display name.
type PeerNameReceived struct {
	PeerID string
	Name   string
}

// ChannelAnnounced fires when a bare channel announcement was stored.
type ChannelAnnounced struct {
	Name string
}

// RelayEnvelopeReceived fires after the relay engine has fully processed an
// inbound envelope (delivered, forwarded, or dropped).
type RelayEnvelopeReceived struct{}

// StorySyncCompleted fires after reconciling a StorySyncResponse, carrying
// the new-channel count for UI notification (spec.md §4.4).
type StorySyncCompleted struct {
	PeerID      string
	NewChannels int
}

func (ConnectionEstablished) isEvent()   {}
func (ConnectionClosed) isEvent()        {}
func (RoutingUpdated) isEvent()          {}
func (StoryReceived) isEvent()           {}
func (ListRequestReceived) isEvent()     {}
func (ListResponseReceived) isEvent()    {}
func (PeerNameReceived) isEvent()        {}
func (ChannelAnnounced) isEvent()        {}
func (RelayEnvelopeReceived) isEvent()   {}
func (StorySyncCompleted) isEvent()      {}

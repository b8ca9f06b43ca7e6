// Package composition implements Protocol Behaviour Composition (spec.md
// §4.2): it aggregates the six sub-protocols plus local discovery and
// liveness, demultiplexing everything into one tagged event stream consumed
// by the Event Orchestrator (internal/orchestrator).
package composition

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/network"

	"github.com/storynode/core/internal/breaker"
	"github.com/storynode/core/internal/config"
	"github.com/storynode/core/internal/identity"
	"github.com/storynode/core/internal/logging"
	"github.com/storynode/core/internal/relay"
	"github.com/storynode/core/internal/roster"
	"github.com/storynode/core/internal/storage"
	"github.com/storynode/core/internal/storysync"
	"github.com/storynode/core/internal/swarm"
	"github.com/storynode/core/internal/wire"
)

var log = logging.For("composition")

// Composition owns the decode/dispatch logic over the swarm's broadcast
// topics and the three RPC stream protocols, plus the connection-lifecycle
// notifiee (spec.md §4.2).
type Composition struct {
	sw       *swarm.Swarm
	identity *identity.Service
	roster   *roster.Roster
	relay    *relay.Engine
	sync     *storysync.Engine
	store    *storage.DB
	breakers *breaker.Set
	cfg      config.Network
	localName func() string

	descMu      sync.RWMutex
	description *string

	events                chan Event
	outgoingListResponses chan wire.ListResponse
}

// New constructs a Composition without its relay engine wired yet — the
// relay engine's constructor takes the Composition itself (as Publisher,
// Connectivity, Delivery, and Recorder), so callers must finish wiring with
// AttachRelay before calling Start.
func New(sw *swarm.Swarm, ident *identity.Service, rost *roster.Roster, syncEngine *storysync.Engine, store *storage.DB, breakers *breaker.Set, cfg config.Network, localName func() string) *Composition {
	return &Composition{
		sw: sw, identity: ident, roster: rost, sync: syncEngine, store: store, breakers: breakers,
		cfg: cfg, localName: localName,
		events:                make(chan Event, 256),
		outgoingListResponses: make(chan wire.ListResponse, 32),
	}
}

// AttachRelay completes construction by wiring the relay engine, which
// itself depends on this Composition as its Publisher/Connectivity/Delivery/
// Recorder collaborator (spec.md §3 "Relay Engine owns one" crypto service).
func (c *Composition) AttachRelay(r *relay.Engine) { c.relay = r }

// requestTimeout returns the configured per-RPC outbound timeout, falling
// back to a sane default (spec.md §4.2 request_timeout_seconds).
func (c *Composition) requestTimeout() time.Duration {
	if c.cfg.RequestTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.cfg.RequestTimeoutSeconds) * time.Second
}

// SetDescription sets the local node description surfaced by the Node
// Description RPC (spec.md §6, ≤1024 bytes).
func (c *Composition) SetDescription(desc string) {
	if len(desc) > 1024 {
		desc = desc[:1024]
	}
	c.descMu.Lock()
	c.description = &desc
	c.descMu.Unlock()
}

func (c *Composition) currentDescription() *string {
	c.descMu.RLock()
	defer c.descMu.RUnlock()
	return c.description
}

// Description returns the local node description set via SetDescription, for
// the "show desc" command.
func (c *Composition) Description() *string { return c.currentDescription() }

// LocalPeerID exposes the local peer id for the orchestrator's view snapshot.
func (c *Composition) LocalPeerID() string { return c.localPeerID() }

// Events is the tagged event stream §4.1 consumes.
func (c *Composition) Events() <-chan Event { return c.events }

func (c *Composition) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		log.Warnf("composition: event queue full, dropping %T", ev)
	}
}

// Start registers the connection notifiee, RPC stream handlers, and launches
// the three broadcast read loops. It announces nothing itself; the public key
// is announced through AnnouncePublicKey on each ConnectionEstablished.
func (c *Composition) Start(ctx context.Context) {
	c.sw.Host.Network().Notify(c.connNotifyBundle())

	c.sw.SetStreamHandler(swarm.ProtoDirectMessage, c.handleDirectMessageStream)
	c.sw.SetStreamHandler(swarm.ProtoNodeDescription, c.handleNodeDescriptionStream)
	c.sw.SetStreamHandler(swarm.ProtoStorySync, c.handleStorySyncStream)

	storiesSub, relaySub, defaultSub := c.sw.Subscriptions()
	go c.readBroadcastLoop(ctx, storiesSub)
	go c.readBroadcastLoop(ctx, relaySub)
	go c.readBroadcastLoop(ctx, defaultSub)
}

func (c *Composition) localPeerID() string { return c.identity.PeerID().String() }

// readBroadcastLoop drains one gossipsub subscription, decoding each message
// into the tagged wire.Envelope and dispatching by Type (spec.md §4.6,
// redesigned from trial-unmarshal dispatch per spec.md §9).
func (c *Composition) readBroadcastLoop(ctx context.Context, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return // context cancelled or subscription closed
		}
		if msg.ReceivedFrom == c.sw.Host.ID() {
			continue
		}
		var env wire.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			continue // unmatched payload, dropped silently
		}
		c.dispatchEnvelope(env)
	}
}

func (c *Composition) dispatchEnvelope(env wire.Envelope) {
	switch env.Type {
	case wire.TypeStory:
		c.handlePublishedStory(env.Story)
	case wire.TypeListRequest:
		c.handleListRequest(env.ListRequest)
	case wire.TypeListResponse:
		c.handleListResponse(env.ListResponse)
	case wire.TypePeerName:
		c.handlePeerName(env.PeerName)
	case wire.TypeChannel:
		c.handleChannelAnnounce(env.Channel)
	case wire.TypeRelay:
		c.handleRelay(env.Relay)
	case wire.TypePubKey:
		c.handlePubKeyAnnounce(env.PubKey)
	default:
		// Unknown variant: explicit drop case (spec.md §9).
	}
}

func (c *Composition) handlePublishedStory(s *wire.PublishedStory) {
	if s == nil || !s.Story.Public {
		return
	}
	if _, dup, err := c.store.FindDuplicateStory(s.Story.Name, s.Story.Header, s.Story.Body); err != nil {
		log.Warnf("check duplicate story: %v", err)
		return
	} else if dup {
		return
	}
	ch := s.Story.Channel
	if _, err := c.store.UpsertChannel(storage.Channel{Name: ch, Description: "Channel: " + ch, CreatedBy: "unknown"}); err != nil {
		log.Warnf("ensure channel %q for broadcast story: %v", ch, err)
	}
	if _, err := c.store.InsertStory(storage.Story{
		Name: s.Story.Name, Header: s.Story.Header, Body: s.Story.Body,
		Public: true, Channel: s.Story.Channel, CreatedAt: s.Story.CreatedAt,
	}); err != nil {
		log.Warnf("insert broadcast story: %v", err)
		return
	}
	c.emit(StoryReceived{Story: s.Story})
}

func (c *Composition) handleListRequest(req *wire.ListRequest) {
	if req == nil {
		return
	}
	if !req.Mode.All && req.Mode.One != c.localPeerID() {
		return
	}
	stories, err := c.store.ListPublicStories("", 0)
	if err != nil {
		log.Warnf("list public stories for list-request: %v", err)
		return
	}
	wireStories := make([]wire.Story, 0, len(stories))
	for _, s := range stories {
		wireStories = append(wireStories, toWireStory(s))
	}
	resp := wire.ListResponse{Mode: wire.ListRequestMode{One: req.From}, Receiver: req.From, Data: wireStories}
	select {
	case c.outgoingListResponses <- resp:
	default:
		log.Warnf("outgoing list-response queue full, dropping response to %s", req.From)
	}
	c.emit(ListRequestReceived{FromPeerID: req.From})
}

// OutgoingListResponses is drained by the orchestrator's event loop so the
// publish (network I/O) for a received ListRequest happens on the loop's own
// turn rather than inside this broadcast read goroutine (spec.md §4.1
// internal application channels).
func (c *Composition) OutgoingListResponses() <-chan wire.ListResponse { return c.outgoingListResponses }

// PublishListResponse publishes a response built by handleListRequest; called
// by the orchestrator after draining OutgoingListResponses.
func (c *Composition) PublishListResponse(resp wire.ListResponse) {
	c.publishEnvelope(wire.Envelope{Type: wire.TypeListResponse, ListResponse: &resp})
}

func (c *Composition) handleListResponse(resp *wire.ListResponse) {
	if resp == nil {
		return
	}
	if resp.Mode.One != "" && resp.Mode.One != c.localPeerID() {
		return
	}
	count := 0
	for _, s := range resp.Data {
		if !s.Public {
			continue
		}
		if _, dup, err := c.store.FindDuplicateStory(s.Name, s.Header, s.Body); err != nil {
			log.Warnf("check duplicate story: %v", err)
			continue
		} else if dup {
			continue
		}
		if _, err := c.store.UpsertChannel(storage.Channel{Name: s.Channel, Description: "Channel: " + s.Channel, CreatedBy: "unknown"}); err != nil {
			log.Warnf("ensure channel %q for list-response story: %v", s.Channel, err)
		}
		if _, err := c.store.InsertStory(storage.Story{
			Name: s.Name, Header: s.Header, Body: s.Body,
			Public: true, Channel: s.Channel, CreatedAt: s.CreatedAt,
		}); err != nil {
			log.Warnf("insert list-response story: %v", err)
			continue
		}
		count++
	}
	c.emit(ListResponseReceived{FromPeerID: resp.Receiver, Count: count})
}

func (c *Composition) handlePeerName(pn *wire.PeerName) {
	if pn == nil {
		return
	}
	c.roster.Set(pn.PeerID, pn.Name)
	if err := c.store.SavePeerName(pn.PeerID, pn.Name); err != nil {
		log.Warnf("persist peer name: %v", err)
	}
	c.emit(PeerNameReceived{PeerID: pn.PeerID, Name: pn.Name})
}

func (c *Composition) handleChannelAnnounce(ch *wire.Channel) {
	if ch == nil {
		return
	}
	if _, err := c.store.UpsertChannel(storage.Channel{
		Name: ch.Name, Description: ch.Description, CreatedBy: ch.CreatedBy, CreatedAt: ch.CreatedAt,
	}); err != nil {
		log.Warnf("upsert announced channel: %v", err)
		return
	}
	c.emit(ChannelAnnounced{Name: ch.Name})
}

func (c *Composition) handleRelay(env *wire.RelayEnvelope) {
	if env == nil {
		return
	}
	c.relay.HandleEnvelope(*env)
	c.emit(RelayEnvelopeReceived{})
}

// DeliverIncoming implements internal/relay.Delivery: an incoming direct
// message has already been recorded by the engine's Recorder call, so this
// only needs to notify the orchestrator for UI rendering.
func (c *Composition) DeliverIncoming(wire.DirectMessage) {
	c.emit(RelayEnvelopeReceived{})
}

func (c *Composition) handlePubKeyAnnounce(pk *wire.PubKeyAnnounce) {
	if pk == nil {
		return
	}
	if err := c.identity.RememberPublicKey(pk.PeerID, pk.PublicKey); err != nil {
		log.Warnf("remember announced public key: %v", err)
	}
}

// PublishRelay implements internal/relay.Publisher by serializing the
// envelope into the tagged broadcast union and publishing on the relay
// topic.
func (c *Composition) PublishRelay(envelope wire.RelayEnvelope) error {
	data, err := json.Marshal(wire.Envelope{Type: wire.TypeRelay, Relay: &envelope})
	if err != nil {
		return fmt.Errorf("marshal relay envelope: %w", err)
	}
	return c.sw.PublishRelay(context.Background(), data)
}

// IsConnected implements internal/relay.Connectivity by delegating to the
// swarm.
func (c *Composition) IsConnected(peerID string) bool { return c.sw.IsConnected(peerID) }

// RecordDirectMessage implements internal/relay.Recorder, translating the
// engine's incoming/outgoing perspective into a stored DirectMessage row.
func (c *Composition) RecordDirectMessage(localPeerID, peerID, peerName, body string, incoming, read bool, at time.Time) error {
	m := storage.DirectMessage{Message: body, Timestamp: at.Unix(), IsOutgoing: !incoming, Read: read}
	if incoming {
		m.FromPeerID, m.FromName = peerID, peerName
		m.ToPeerID, m.ToName = localPeerID, c.localName()
	} else {
		m.FromPeerID, m.FromName = localPeerID, c.localName()
		m.ToPeerID, m.ToName = peerID, peerName
	}
	_, err := c.store.InsertDirectMessage(m)
	return err
}

func (c *Composition) publishEnvelope(env wire.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Warnf("marshal broadcast envelope: %v", err)
		return
	}
	if err := c.sw.PublishStories(context.Background(), data); err != nil {
		log.Warnf("publish broadcast envelope: %v", err)
	}
}

// PublishStory publishes a newly-public local story on the stories topic
// (spec.md §4.6 story broadcast path).
func (c *Composition) PublishStory(s wire.Story) {
	env := wire.Envelope{Type: wire.TypeStory, Story: &wire.PublishedStory{Story: s, Publisher: c.localPeerID()}}
	c.publishEnvelope(env)
}

// PublishListRequest broadcasts a request for peers' public story lists,
// driven by the "ls s all" / "ls s <peer_id>" commands.
func (c *Composition) PublishListRequest(mode wire.ListRequestMode) {
	env := wire.Envelope{Type: wire.TypeListRequest, ListRequest: &wire.ListRequest{Mode: mode, From: c.localPeerID()}}
	c.publishEnvelope(env)
}

// AnnouncePeerName publishes this node's display name.
func (c *Composition) AnnouncePeerName(name string) {
	env := wire.Envelope{Type: wire.TypePeerName, PeerName: &wire.PeerName{PeerID: c.localPeerID(), Name: name}}
	c.publishEnvelope(env)
}

// AnnouncePublicKey publishes this node's box public key so peers can
// populate the peer-id → public-key directory (spec.md §3.9 supplemented).
func (c *Composition) AnnouncePublicKey() {
	env := wire.Envelope{Type: wire.TypePubKey, PubKey: &wire.PubKeyAnnounce{PeerID: c.localPeerID(), PublicKey: c.identity.BoxPublicKey()}}
	c.publishEnvelope(env)
}

func toWireStory(s storage.Story) wire.Story {
	return wire.Story{
		ID: s.ID, Name: s.Name, Header: s.Header, Body: s.Body,
		Public: s.Public, Channel: s.Channel, CreatedAt: s.CreatedAt, AutoShare: s.AutoShare,
	}
}

// connNotifyBundle bridges libp2p's network.Notifiee into Composition's
// tagged event stream (spec.md §4.2 ConnectionEstablished/ConnectionClosed).
// Only ConnectedF/DisconnectedF are set; NotifyBundle no-ops any other
// network.Notifiee method libp2p might call, unlike embedding a nil
// network.Notifiee, which would nil-panic on first use.
func (c *Composition) connNotifyBundle() *network.NotifyBundle {
	return &network.NotifyBundle{
		ConnectedF: func(_ network.Network, conn network.Conn) {
			c.emit(ConnectionEstablished{PeerID: conn.RemotePeer().String()})
		},
		DisconnectedF: func(_ network.Network, conn network.Conn) {
			c.emit(ConnectionClosed{PeerID: conn.RemotePeer().String()})
		},
	}
}

// WatchRoutingUpdates subscribes to the host event bus's
// EvtPeerIdentificationCompleted, used as a proxy for a routing-table
// update, and emits RoutingUpdated{IsNewPeer: true} for each such event
// (spec.md §4.2, §4.5). It does not consult the DHT or the roster.
func (c *Composition) WatchRoutingUpdates(ctx context.Context, bus event.Bus) error {
	sub, err := bus.Subscribe(new(event.EvtPeerIdentificationCompleted))
	if err != nil {
		return fmt.Errorf("subscribe identification events: %w", err)
	}
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub.Out():
				if !ok {
					return
				}
				c.emit(RoutingUpdated{IsNewPeer: true})
			}
		}
	}()
	return nil
}

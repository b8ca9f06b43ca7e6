// Package swarm constructs the libp2p host and wires the transport-level
// concerns of Protocol Behaviour Composition (spec.md §4.2): connection
// limits, local discovery, liveness ping, and the three pub/sub broadcast
// topics. RPC stream handler registration is exposed for internal/composition
// to attach.
package swarm

import (
	"context"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	rcmgr "github.com/libp2p/go-libp2p/p2p/host/resource-manager"
	libp2pping "github.com/libp2p/go-libp2p/p2p/protocol/ping"

	"github.com/storynode/core/internal/config"
)

func init() {
	// Silence noisy libp2p subsystems the way the teacher's node.go does —
	// dial backoff and relay chatter otherwise pollute the event log.
	logging.SetLogLevel("swarm2", "error")
	logging.SetLogLevel("autorelay", "error")
	logging.SetLogLevel("autonat", "warn")
	logging.SetLogLevel("pubsub", "warn")
}

// Protocol identifiers, one versioned string per RPC, plus a fixed topic
// name per broadcast channel (spec.md §7 "Protocol identifiers").
const (
	ProtoDirectMessage    = protocol.ID("/storynode/dm/1.0.0")
	ProtoNodeDescription  = protocol.ID("/storynode/node-description/1.0.0")
	ProtoStorySync        = protocol.ID("/storynode/story-sync/1.0.0")

	TopicStories = "storynode.stories.v1"
	TopicRelay   = "storynode.relay.v1"
	TopicDefault = "storynode.default.v1"

	mdnsServiceTag = "storynode-mdns"
)

// Swarm owns the libp2p host, gossipsub router, and the three broadcast
// topics. It does not interpret message contents — internal/composition
// decodes and dispatches what arrives on Subscriptions().
type Swarm struct {
	Host host.Host
	PubSub *pubsub.PubSub
	Ping   *libp2pping.PingService

	storiesTopic *pubsub.Topic
	relayTopic   *pubsub.Topic
	defaultTopic *pubsub.Topic

	storiesSub *pubsub.Subscription
	relaySub   *pubsub.Subscription
	defaultSub *pubsub.Subscription
}

// New constructs the host with the configured connection limits, starts
// gossipsub and mDNS, and joins the three broadcast topics.
func New(ctx context.Context, priv p2pcrypto.PrivKey, cfg config.Network) (*Swarm, error) {
	limiter := rcmgr.NewFixedLimiter(rcmgr.DefaultLimits.AutoScale())
	rm, err := rcmgr.NewResourceManager(limiter)
	if err != nil {
		return nil, fmt.Errorf("create resource manager: %w", err)
	}

	connMgr, err := connmgrFor(cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection manager: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.ListenPort)),
		libp2p.ResourceManager(rm),
		libp2p.ConnectionManager(connMgr),
	)
	if err != nil {
		return nil, fmt.Errorf("construct host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("construct gossipsub: %w", err)
	}

	s := &Swarm{Host: h, PubSub: ps, Ping: libp2pping.NewPingService(h)}

	if s.storiesTopic, s.storiesSub, err = joinAndSubscribe(ps, TopicStories); err != nil {
		_ = h.Close()
		return nil, err
	}
	if s.relayTopic, s.relaySub, err = joinAndSubscribe(ps, TopicRelay); err != nil {
		_ = h.Close()
		return nil, err
	}
	if s.defaultTopic, s.defaultSub, err = joinAndSubscribe(ps, TopicDefault); err != nil {
		_ = h.Close()
		return nil, err
	}

	svc := mdns.NewMdnsService(h, mdnsServiceTag, &discoveryNotifee{host: h})
	if err := svc.Start(); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("start mdns: %w", err)
	}

	return s, nil
}

func joinAndSubscribe(ps *pubsub.PubSub, name string) (*pubsub.Topic, *pubsub.Subscription, error) {
	topic, err := ps.Join(name)
	if err != nil {
		return nil, nil, fmt.Errorf("join topic %q: %w", name, err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe topic %q: %w", name, err)
	}
	return topic, sub, nil
}

func connmgrFor(cfg config.Network) (*connmgr.BasicConnMgr, error) {
	lo := cfg.MaxEstablishedTotal / 2
	if lo < 1 {
		lo = 1
	}
	hi := cfg.MaxEstablishedTotal
	if hi < lo {
		hi = lo
	}
	idle := time.Duration(cfg.IdleConnectionTimeoutSec) * time.Second
	if idle <= 0 {
		idle = 60 * time.Second
	}
	return connmgr.NewConnManager(lo, hi, connmgr.WithGracePeriod(idle))
}

// PublishStories publishes a serialized envelope on the stories topic.
func (s *Swarm) PublishStories(ctx context.Context, data []byte) error {
	return s.storiesTopic.Publish(ctx, data)
}

// PublishRelay publishes a serialized envelope on the relay topic (used by
// internal/relay.Publisher).
func (s *Swarm) PublishRelay(ctx context.Context, data []byte) error {
	return s.relayTopic.Publish(ctx, data)
}

// PublishDefault publishes a serialized envelope on the default topic.
func (s *Swarm) PublishDefault(ctx context.Context, data []byte) error {
	return s.defaultTopic.Publish(ctx, data)
}

// Subscriptions returns the three broadcast subscriptions for the
// composition layer's read loops.
func (s *Swarm) Subscriptions() (stories, relay, def *pubsub.Subscription) {
	return s.storiesSub, s.relaySub, s.defaultSub
}

// SetStreamHandler registers an RPC stream handler, exposed so
// internal/composition can wire the DM/NodeDescription/StorySync protocols
// without internal/swarm depending on their wire formats.
func (s *Swarm) SetStreamHandler(id protocol.ID, handler network.StreamHandler) {
	s.Host.SetStreamHandler(id, handler)
}

// IsConnected reports whether the host currently holds a connection to
// peerID, implementing internal/relay.Connectivity.
func (s *Swarm) IsConnected(peerID string) bool {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return false
	}
	return s.Host.Network().Connectedness(pid) == network.Connected
}

// Connect dials pi, implementing internal/bootstrap.Dialer.
func (s *Swarm) Connect(ctx context.Context, pi peer.AddrInfo) error {
	return s.Host.Connect(ctx, pi)
}

// Close tears down the host.
func (s *Swarm) Close() error {
	return s.Host.Close()
}

type discoveryNotifee struct {
	host host.Host
}

func (d *discoveryNotifee) HandlePeerFound(pi peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = d.host.Connect(ctx, pi)
}

// Package relay implements the Direct Message + Relay Engine (spec.md §4.3):
// encrypt-sign-forward direct messaging with hop-limited flood relay,
// per-sender rate limiting, replay protection, and a pending-retry queue.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storynode/core/internal/identity"
	"github.com/storynode/core/internal/logging"
	"github.com/storynode/core/internal/metrics"
	"github.com/storynode/core/internal/util"
	"github.com/storynode/core/internal/wire"
)

// forwardedHistorySize bounds how many recently forwarded message ids the
// engine remembers, to stop the same undecryptable envelope from being
// re-published on every gossipsub retransmission it happens to receive.
const forwardedHistorySize = 256

var log = logging.For("relay")

// Errors returned by the send path (spec.md §4.3).
var (
	ErrPeerUnknown       = errors.New("relay: recipient name does not resolve to a peer")
	ErrMessageTooLarge   = errors.New("relay: MessageTooLarge")
	ErrRateLimitExceeded = errors.New("relay: RateLimitExceeded")
	ErrNoPublicKey       = errors.New("relay: recipient public key unknown")
)

// DropReason tags why an inbound envelope was not delivered or forwarded
// (spec.md §4.3 receive path).
type DropReason string

const (
	DropMaxHopsExceeded    DropReason = "max_hops_exceeded"
	DropTooOld             DropReason = "too_old"
	DropInvalidSignature   DropReason = "invalid_signature"
	DropForwardingDisabled DropReason = "forwarding_disabled"
	DropAlreadyForwarded   DropReason = "already_forwarded"
	DropInvalidPayload     DropReason = "invalid_payload"
)

// Config mirrors config.Relay, narrowed to what the engine needs.
type Config struct {
	MaxMessageSize    int
	MaxHops           int
	RateLimitPerPeer  int
	MaxRetryAttempts  int
	ForwardingEnabled bool
	EnvelopeMaxAge    time.Duration
}

// Publisher publishes a serialized envelope onto the relay broadcast topic.
type Publisher interface {
	PublishRelay(envelope wire.RelayEnvelope) error
}

// Connectivity reports whether a peer is currently connected, used to decide
// between an immediate send and queuing a PendingDirectMessage.
type Connectivity interface {
	IsConnected(peerID string) bool
}

// Delivery receives locally-delivered direct messages, implemented by the
// composition (spec.md §4.1, §4.3).
type Delivery interface {
	DeliverIncoming(msg wire.DirectMessage)
}

// Recorder persists sent/received direct messages to the storage adapter.
type Recorder interface {
	RecordDirectMessage(localPeerID, peerID, peerName, body string, incoming, read bool, at time.Time) error
}

// Stats are the four relay counters named by spec.md §4.3.
type Stats struct {
	MessagesRelayed int64
	MessagesDropped int64
	RateLimitHits   int64
	CryptoErrors    int64
}

// PendingDirectMessage is a send attempt queued because the recipient name
// did not resolve or the peer was not connected (spec.md §4.3).
type PendingDirectMessage struct {
	ToName        string
	Message       string
	Attempts      int
	LastAttemptAt time.Time
	QueuedAt      time.Time
}

// Engine owns the rate limiter, pending queue, and statistics for the relay
// protocol. It is called both from the event loop and from the composition's
// broadcast read goroutine (HandleEnvelope); mu guards the shared state.
type Engine struct {
	cfg       Config
	identity  *identity.Service
	pub       Publisher
	conn      Connectivity
	deliver   Delivery
	rec       Recorder
	localID   string
	localName func() string

	mu        sync.Mutex
	windows   map[string][]time.Time // sender peer id -> send timestamps, last 60s
	pending   []*PendingDirectMessage
	stats     Stats
	forwarded *util.RingBuffer[string]
}

func New(cfg Config, ident *identity.Service, pub Publisher, conn Connectivity, deliver Delivery, rec Recorder) *Engine {
	return &Engine{
		cfg:       cfg,
		identity:  ident,
		pub:       pub,
		conn:      conn,
		deliver:   deliver,
		rec:       rec,
		localID:   ident.PeerID().String(),
		localName: func() string { return "" },
		windows:   make(map[string][]time.Time),
		forwarded: util.NewRingBuffer[string](forwardedHistorySize),
	}
}

// SetLocalName wires the engine to the node's current display name, used to
// populate DirectMessage.FromName on the send path. Called once, after
// construction, the same way composition.AttachRelay completes wiring.
func (e *Engine) SetLocalName(localName func() string) {
	e.localName = localName
}

// Stats returns a copy of the current counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Resolver resolves a free-text recipient name to a peer id via the
// length-sorted name cache (internal/roster).
type Resolver func(name string) (peerID string, ok bool)

// Send runs the full send path (spec.md §4.3). resolve looks up toName in the
// peer-name cache; a miss or a disconnected peer queues a pending entry.
func (e *Engine) Send(resolve Resolver, toName, message string) error {
	peerID, ok := resolve(toName)
	if !ok {
		e.queuePending(toName, message)
		return nil
	}
	if !e.conn.IsConnected(peerID) {
		e.queuePending(toName, message)
		return nil
	}
	return e.sendTo(peerID, toName, message)
}

func (e *Engine) queuePending(toName, message string) {
	e.mu.Lock()
	e.pending = append(e.pending, &PendingDirectMessage{
		ToName:   toName,
		Message:  message,
		QueuedAt: time.Now(),
	})
	e.mu.Unlock()
}

// sendTo performs steps 3-5 of the send path against an already-connected
// peer with a known public key.
func (e *Engine) sendTo(peerID, toName, message string) error {
	if !e.identity.HasPublicKey(peerID) {
		return ErrNoPublicKey
	}

	dm := wire.DirectMessage{
		FromPeerID: e.localID,
		FromName:   e.localName(),
		ToPeerID:   peerID,
		ToName:     toName,
		Message:    message,
		Timestamp:  time.Now().Unix(),
	}

	serialized, err := json.Marshal(dm)
	if err != nil {
		return fmt.Errorf("serialize direct message: %w", err)
	}
	if len(serialized) > e.cfg.MaxMessageSize {
		return ErrMessageTooLarge
	}

	if !e.admit(peerID) {
		e.mu.Lock()
		e.stats.RateLimitHits++
		e.mu.Unlock()
		metrics.RelayEvent("rate_limited")
		return ErrRateLimitExceeded
	}

	payload, err := e.identity.Encrypt(peerID, serialized)
	if err != nil {
		return fmt.Errorf("encrypt payload: %w", err)
	}
	sig, err := e.identity.Sign(serialized)
	if err != nil {
		return fmt.Errorf("sign payload: %w", err)
	}

	envelope := wire.RelayEnvelope{
		MessageID:    uuid.NewString(),
		TargetPeerID: peerID,
		TargetName:   toName,
		EncryptedPayload: wire.EncryptedPayload{
			Ciphertext:      payload.Ciphertext,
			Nonce:           payload.Nonce,
			SenderPublicKey: payload.SenderPublicKey,
		},
		SenderSignature: wire.MessageSignature{
			Signature: sig.Signature,
			PublicKey: sig.PublicKey,
			Timestamp: dm.Timestamp,
		},
		HopCount:     0,
		MaxHops:      e.cfg.MaxHops,
		Timestamp:    time.Now().Unix(),
		RelayAttempt: true,
	}

	if err := e.pub.PublishRelay(envelope); err != nil {
		return fmt.Errorf("publish relay envelope: %w", err)
	}
	e.mu.Lock()
	e.stats.MessagesRelayed++
	e.mu.Unlock()
	metrics.RelayEvent("relayed")

	if e.rec != nil {
		if err := e.rec.RecordDirectMessage(e.localID, peerID, toName, dm.Message, false, true, time.Now()); err != nil {
			log.Warnf("record outgoing direct message: %v", err)
		}
	}
	return nil
}

// admit checks and updates the sliding window rate limiter for peerID.
func (e *Engine) admit(peerID string) bool {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	window := pruneWindow(e.windows[peerID], now, 60*time.Second)
	if len(window) >= e.cfg.RateLimitPerPeer {
		e.windows[peerID] = window
		return false
	}
	window = append(window, now)
	e.windows[peerID] = window
	return true
}

func pruneWindow(ts []time.Time, now time.Time, horizon time.Duration) []time.Time {
	cutoff := now.Add(-horizon)
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// CleanupWindows expires rate-limit windows older than one hour, run on the
// orchestrator's connection-maintenance tick (spec.md §4.3.3).
func (e *Engine) CleanupWindows() {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	for peerID, ts := range e.windows {
		pruned := pruneWindow(ts, now, time.Hour)
		if len(pruned) == 0 {
			delete(e.windows, peerID)
			continue
		}
		e.windows[peerID] = pruned
	}
}

// HandleEnvelope runs the receive path for an inbound RelayEnvelope observed
// on the relay topic (spec.md §4.3 receive path).
func (e *Engine) HandleEnvelope(envelope wire.RelayEnvelope) {
	if envelope.HopCount >= envelope.MaxHops {
		e.drop(DropMaxHopsExceeded)
		return
	}
	if age := time.Since(time.Unix(envelope.Timestamp, 0)); age > e.cfg.EnvelopeMaxAge || age < -e.cfg.EnvelopeMaxAge {
		e.drop(DropTooOld)
		return
	}

	plaintext, ok := e.identity.Decrypt(identity.EncryptedPayloadFields{
		Ciphertext:      envelope.EncryptedPayload.Ciphertext,
		Nonce:           envelope.EncryptedPayload.Nonce,
		SenderPublicKey: envelope.EncryptedPayload.SenderPublicKey,
	})
	if !ok {
		e.forwardOrDrop(envelope)
		return
	}

	var dm wire.DirectMessage
	if err := json.Unmarshal(plaintext, &dm); err != nil {
		e.drop(DropInvalidPayload)
		return
	}

	sig := identity.MessageSignatureFields{
		Signature: envelope.SenderSignature.Signature,
		PublicKey: envelope.SenderSignature.PublicKey,
	}
	if !identity.Verify(sig, plaintext) {
		e.drop(DropInvalidSignature)
		e.mu.Lock()
		e.stats.CryptoErrors++
		e.mu.Unlock()
		metrics.RelayEvent("crypto_error")
		return
	}
	dm.IsOutgoing = false

	e.mu.Lock()
	e.stats.MessagesRelayed++
	e.mu.Unlock()
	metrics.RelayEvent("relayed")

	if e.rec != nil {
		if err := e.rec.RecordDirectMessage(e.localID, dm.FromPeerID, dm.FromName, dm.Message, true, false, time.Now()); err != nil {
			log.Warnf("record incoming direct message: %v", err)
		}
	}
	e.deliver.DeliverIncoming(dm)
}

func (e *Engine) forwardOrDrop(envelope wire.RelayEnvelope) {
	if !e.cfg.ForwardingEnabled {
		e.drop(DropForwardingDisabled)
		return
	}
	if e.alreadyForwarded(envelope.MessageID) {
		e.drop(DropAlreadyForwarded)
		return
	}
	e.forwarded.Push(envelope.MessageID)

	forwarded := envelope
	forwarded.HopCount = envelope.HopCount + 1
	forwarded.Timestamp = time.Now().Unix()
	if err := e.pub.PublishRelay(forwarded); err != nil {
		log.Warnf("forward relay envelope: %v", err)
		e.drop(DropForwardingDisabled)
		return
	}
	e.mu.Lock()
	e.stats.MessagesRelayed++
	e.mu.Unlock()
	metrics.RelayEvent("relayed")
}

func (e *Engine) alreadyForwarded(messageID string) bool {
	for _, id := range e.forwarded.Snapshot() {
		if id == messageID {
			return true
		}
	}
	return false
}

func (e *Engine) drop(reason DropReason) {
	e.mu.Lock()
	e.stats.MessagesDropped++
	e.mu.Unlock()
	metrics.RelayEvent("dropped")
	log.Debugf("relay: dropped envelope: %s", reason)
}

// RetryPending runs the dm_retry_interval tick over the pending queue
// (spec.md §4.3 pending message retries).
func (e *Engine) RetryPending(resolve Resolver) {
	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	var keep []*PendingDirectMessage
	for _, p := range pending {
		if p.Attempts >= e.cfg.MaxRetryAttempts {
			log.Infof("relay: abandoning pending message to %q after %d attempts", p.ToName, p.Attempts)
			continue
		}
		peerID, ok := resolve(p.ToName)
		if !ok || !e.conn.IsConnected(peerID) {
			keep = append(keep, p)
			continue
		}
		if err := e.sendTo(peerID, p.ToName, p.Message); err != nil {
			p.Attempts++
			p.LastAttemptAt = time.Now()
			keep = append(keep, p)
			continue
		}
	}

	e.mu.Lock()
	e.pending = append(e.pending, keep...)
	e.mu.Unlock()
}

// RetryForPeer immediately retries any pending entries addressed to name,
// called on ConnectionEstablished (spec.md §4.3: "retries are also attempted
// immediately on any ConnectionEstablished event whose peer matches a
// pending target").
func (e *Engine) RetryForPeer(name string, resolve Resolver) {
	e.mu.Lock()
	var rest []*PendingDirectMessage
	var matched []*PendingDirectMessage
	for _, p := range e.pending {
		if p.ToName == name {
			matched = append(matched, p)
		} else {
			rest = append(rest, p)
		}
	}
	e.pending = rest
	e.mu.Unlock()

	var keep []*PendingDirectMessage
	for _, p := range matched {
		peerID, ok := resolve(p.ToName)
		if !ok || !e.conn.IsConnected(peerID) {
			keep = append(keep, p)
			continue
		}
		if err := e.sendTo(peerID, p.ToName, p.Message); err != nil {
			p.Attempts++
			p.LastAttemptAt = time.Now()
			keep = append(keep, p)
		}
	}

	e.mu.Lock()
	e.pending = append(e.pending, keep...)
	e.mu.Unlock()
}

// PendingCount reports the current queue depth, for diagnostics.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Package breaker implements the Circuit Breaker Set (spec.md §4.7): one
// breaker per named outbound operation, each independently tracking
// Closed/Open/HalfOpen state and gating calls to a failing dependency.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/storynode/core/internal/metrics"
)

// State is the tagged CircuitState variant (spec.md §3).
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Errors returned by Execute.
var (
	ErrCircuitOpen      = errors.New("breaker: circuit open")
	ErrOperationTimeout = errors.New("breaker: operation timed out")
)

// Config is a single breaker's tunable thresholds (spec.md §4.7).
type Config struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	OperationTimeout time.Duration
}

// Breaker is one named operation's independent gate.
type Breaker struct {
	cfg Config

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	consecutiveSuccess  int
	openedAt            time.Time
}

func newBreaker(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, state: Closed}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentStateLocked()
}

// currentStateLocked applies the Open -> HalfOpen timeout transition lazily,
// the way a single-threaded event loop would check "now - opened_at" on read
// rather than running a background timer (spec.md §4.7, §5 no unowned
// background goroutines over shared state).
func (b *Breaker) currentStateLocked() State {
	if b.state == Open && time.Since(b.openedAt) >= b.cfg.Timeout {
		b.state = HalfOpen
		b.consecutiveSuccess = 0
	}
	return b.state
}

// Execute runs op if the breaker admits the call, recording success/failure
// and applying operation_timeout (spec.md §4.7).
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	b.mu.Lock()
	state := b.currentStateLocked()
	if state == Open {
		b.mu.Unlock()
		metrics.BreakerRejected(b.cfg.Name)
		return ErrCircuitOpen
	}
	b.mu.Unlock()

	opCtx := ctx
	var cancel context.CancelFunc
	if b.cfg.OperationTimeout > 0 {
		opCtx, cancel = context.WithTimeout(ctx, b.cfg.OperationTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- op(opCtx) }()

	var err error
	select {
	case err = <-done:
	case <-opCtx.Done():
		err = ErrOperationTimeout
	}

	if err != nil {
		b.recordFailure()
		metrics.BreakerCall(b.cfg.Name, false)
		return err
	}
	b.recordSuccess()
	metrics.BreakerCall(b.cfg.Name, true)
	return nil
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentStateLocked() {
	case HalfOpen:
		b.state = Open
		b.openedAt = time.Now()
		b.consecutiveFailures = 0
		b.consecutiveSuccess = 0
	case Closed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.state = Open
			b.openedAt = time.Now()
			b.consecutiveFailures = 0
		}
	}
	metrics.BreakerState(b.cfg.Name, b.state.String())
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentStateLocked() {
	case Closed:
		b.consecutiveFailures = 0
	case HalfOpen:
		b.consecutiveSuccess++
		if b.consecutiveSuccess >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.consecutiveSuccess = 0
			b.consecutiveFailures = 0
		}
	}
	metrics.BreakerState(b.cfg.Name, b.state.String())
}

// Names of the six outbound operations the core protects (spec.md §4.7).
const (
	OpPeerConnection   = "peer_connection"
	OpDHTBootstrap     = "dht_bootstrap"
	OpMessageBroadcast = "message_broadcast"
	OpDirectMessage    = "direct_message"
	OpStoryPublish     = "story_publish"
	OpStorySync        = "story_sync"
)

// Set owns one breaker per named outbound operation.
type Set struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	defaults Config
}

// NewSet creates a breaker for each of the six named operations using a
// shared default config, applied uniformly per spec.md §4.7 (the spec names
// per-breaker config but does not differentiate values across operations).
func NewSet(defaults Config) *Set {
	s := &Set{breakers: make(map[string]*Breaker), defaults: defaults}
	for _, name := range []string{
		OpPeerConnection, OpDHTBootstrap, OpMessageBroadcast,
		OpDirectMessage, OpStoryPublish, OpStorySync,
	} {
		cfg := defaults
		cfg.Name = name
		s.breakers[name] = newBreaker(cfg)
	}
	return s
}

// Get returns the named breaker, creating one with default config on first
// use for any operation tag not pre-registered.
func (s *Set) Get(name string) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[name]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[name]; ok {
		return b
	}
	cfg := s.defaults
	cfg.Name = name
	b = newBreaker(cfg)
	s.breakers[name] = b
	return b
}

// Execute is a convenience wrapper: Get(name).Execute(ctx, op).
func (s *Set) Execute(ctx context.Context, name string, op func(context.Context) error) error {
	return s.Get(name).Execute(ctx, op)
}

// OpDetail is one operation's health for NetworkHealthSummary.
type OpDetail struct {
	Name  string
	State State
}

// NetworkHealthSummary reports aggregate breaker health for the UI
// collaborator (spec.md §4.7).
type NetworkHealthSummary struct {
	HealthyOps int
	FailedOps  int
	Total      int
	Details    []OpDetail
}

// Summary computes the current NetworkHealthSummary across all breakers.
func (s *Set) Summary() NetworkHealthSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum NetworkHealthSummary
	for name, b := range s.breakers {
		st := b.State()
		sum.Details = append(sum.Details, OpDetail{Name: name, State: st})
		sum.Total++
		if st == Closed {
			sum.HealthyOps++
		} else {
			sum.FailedOps++
		}
	}
	return sum
}

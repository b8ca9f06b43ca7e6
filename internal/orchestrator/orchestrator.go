// Package orchestrator implements the Event Orchestrator (spec.md §4.1): a
// single-threaded cooperative scheduler draining UI input, internal
// application channels, swarm events, and periodic timers, then reflecting
// updated state back to the UI collaborator.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/storynode/core/internal/bootstrap"
	"github.com/storynode/core/internal/breaker"
	"github.com/storynode/core/internal/composition"
	"github.com/storynode/core/internal/config"
	"github.com/storynode/core/internal/logging"
	"github.com/storynode/core/internal/relay"
	"github.com/storynode/core/internal/roster"
	"github.com/storynode/core/internal/storage"
	"github.com/storynode/core/internal/swarm"
	"github.com/storynode/core/internal/uiproto"
	"github.com/storynode/core/internal/wire"
)

var log = logging.For("orchestrator")

// creationPrompt tracks the in-progress "create s" interactive flow, which
// spans several input lines (spec.md §6 StartStoryCreation).
type creationPrompt struct {
	step    int
	name    string
	header  string
	body    string
	channel string
}

var creationSteps = []string{"name", "header", "body", "channel"}

// Loop owns the swarm, protocol composition, peer roster, bootstrap
// controller, pending-message list, and relay engine for the duration of
// the process (spec.md §3 Ownership). The storage adapter is shared but
// every access here is a single bounded-pool call that never blocks the
// loop for more than one event.
type Loop struct {
	sw        *swarm.Swarm
	comp      *composition.Composition
	roster    *roster.Roster
	relayEng  *relay.Engine
	store     *storage.DB
	breakers  *breaker.Set
	bootstrap *bootstrap.Controller
	ui        uiproto.Collaborator
	cfg       config.Config

	// localName is a shared cell with the composition's AnnouncePeerName
	// closure so a runtime "name" command is visible to both without a
	// second, desynchronizable copy of the same state.
	localName *string
	quit      bool
	creation  *creationPrompt

	outgoingStories chan wire.Story

	view viewCache
}

// New constructs the orchestrator loop. All collaborators must already be
// fully wired (relay engine attached to comp, stream handlers registered)
// before Run is called.
func New(sw *swarm.Swarm, comp *composition.Composition, rost *roster.Roster, relayEng *relay.Engine, store *storage.DB, breakers *breaker.Set, boot *bootstrap.Controller, ui uiproto.Collaborator, cfg config.Config, localName *string) *Loop {
	return &Loop{
		sw: sw, comp: comp, roster: rost, relayEng: relayEng,
		store: store, breakers: breakers, bootstrap: boot, ui: ui, cfg: cfg,
		localName:       localName,
		outgoingStories: make(chan wire.Story, 32),
		view:            newViewCache(),
	}
}

// Run drives the event loop until ctx is cancelled or a quit command/UI
// closure is observed. It always returns nil; fatal startup failures are the
// caller's responsibility (spec.md §7).
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		if err := l.ui.Close(); err != nil {
			log.Warnf("ui close: %v", err)
		}
	}()

	connMaintenance := time.NewTicker(30 * time.Second)
	defer connMaintenance.Stop()
	bootstrapRetry := time.NewTicker(5 * time.Second)
	defer bootstrapRetry.Stop()
	bootstrapStatusLog := time.NewTicker(30 * time.Second)
	defer bootstrapStatusLog.Stop()

	dmRetryInterval := time.Duration(l.cfg.Relay.DMRetryIntervalS) * time.Second
	if dmRetryInterval <= 0 {
		dmRetryInterval = 30 * time.Second
	}
	pendingDMRetry := time.NewTicker(dmRetryInterval)
	defer pendingDMRetry.Stop()

	healthRefresh := time.NewTicker(10 * time.Second)
	defer healthRefresh.Stop()

	// Bounds each iteration's wait to <=100ms so timers make progress even
	// when no network or UI event arrives (spec.md §4.1 step (e)).
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		l.pumpUI()

		if err := l.ui.Draw(l.snapshot()); err != nil {
			log.Warnf("ui draw: %v", err)
		}

		if l.quit {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil

		case cmd, ok := <-l.ui.Input():
			if !ok {
				l.quit = true
				continue
			}
			l.dispatchUI(ctx, cmd)

		case resp, ok := <-l.comp.OutgoingListResponses():
			if ok {
				l.comp.PublishListResponse(resp)
			}

		case s, ok := <-l.outgoingStories:
			if ok {
				l.comp.PublishStory(s)
			}

		case ev, ok := <-l.comp.Events():
			if ok {
				l.dispatchEvent(ctx, ev)
			}

		case <-connMaintenance.C:
			l.runConnMaintenance()
			l.relayEng.CleanupWindows()

		case <-bootstrapRetry.C:
			l.runBootstrapRetry(ctx)

		case <-bootstrapStatusLog.C:
			l.logBootstrapStatus()

		case <-pendingDMRetry.C:
			l.relayEng.RetryPending(l.roster.Resolve)

		case <-healthRefresh.C:
			l.refreshNetworkHealth()

		case <-tick.C:
			// no-op: bounds the wait so draws/timers stay on schedule
		}
	}
}

// pumpUI drains every immediately-available UI command before the loop does
// anything else (spec.md §4.1 step (a)).
func (l *Loop) pumpUI() {
	for {
		select {
		case cmd, ok := <-l.ui.Input():
			if !ok {
				l.quit = true
				return
			}
			l.dispatchUI(context.Background(), cmd)
			if l.quit {
				return
			}
		default:
			return
		}
	}
}

func (l *Loop) runConnMaintenance() {
	connected := l.sw.Host.Network().Peers()
	for _, p := range connected {
		l.roster.EnsurePlaceholder(p.String())
	}
}

func (l *Loop) runBootstrapRetry(ctx context.Context) {
	if !l.bootstrap.Eligible(time.Now()) {
		return
	}
	go func() {
		_ = l.breakers.Execute(ctx, breaker.OpDHTBootstrap, func(opCtx context.Context) error {
			return l.bootstrap.Attempt(opCtx)
		})
	}()
}

// refreshNetworkHealth surfaces a notice to the UI when any circuit breaker
// is tripped (spec.md §4.1 NetworkHealthRefresh timer; SPEC_FULL.md §3.2).
func (l *Loop) refreshNetworkHealth() {
	sum := l.breakers.Summary()
	if sum.FailedOps > 0 {
		l.ui.Log(fmt.Sprintf("network health: %d/%d operations degraded", sum.FailedOps, sum.Total))
	}
}

func (l *Loop) logBootstrapStatus() {
	st := l.bootstrap.Status()
	log.Infof("bootstrap: phase=%s attempts=%d peers=%d", st.Phase, st.Attempts, st.PeerCount)
}

func parseConnectTarget(addr string) (peer.AddrInfo, error) {
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("invalid multiaddr: %w", err)
	}
	pi, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("multiaddr missing /p2p/ peer id: %w", err)
	}
	return *pi, nil
}

// Package bootstrap implements the Bootstrap Controller (spec.md §4.5): a
// retry state machine with exponential backoff driving DHT bootstrap.
package bootstrap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/storynode/core/internal/config"
	"github.com/storynode/core/internal/logging"
)

var log = logging.For("bootstrap")

// Phase is the tagged BootstrapStatus variant (spec.md §3).
type Phase int

const (
	NotStarted Phase = iota
	InProgress
	Connected
	Failed
)

func (p Phase) String() string {
	switch p {
	case NotStarted:
		return "not_started"
	case InProgress:
		return "in_progress"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is the full BootstrapStatus value, carrying the fields relevant to
// whichever Phase is active.
type Status struct {
	Phase         Phase
	Attempts      int
	LastAttempt   time.Time
	PeerCount     int
	ConnectedAt   time.Time
	LastError     string
	nextRetryTime time.Time
}

// DHTBootstrapper is the subset of a Kademlia DHT the controller drives.
// Implemented by *dht.IpfsDHT in production; faked in tests.
type DHTBootstrapper interface {
	Bootstrap(ctx context.Context) error
	RoutingTableSize() int
}

// Dialer connects to a peer by address, implemented by the swarm host.
type Dialer interface {
	Connect(ctx context.Context, pi peer.AddrInfo) error
}

// Controller owns the BootstrapStatus state machine. It is accessed from the
// event loop and from the goroutine the loop starts for each bootstrap retry
// attempt; a mutex guards the status shared between them.
type Controller struct {
	cfg config.Bootstrap
	dht DHTBootstrapper
	dialer Dialer

	mu     sync.Mutex
	status Status
}

func New(cfg config.Bootstrap, dht DHTBootstrapper, dialer Dialer) *Controller {
	return &Controller{cfg: cfg, dht: dht, dialer: dialer, status: Status{Phase: NotStarted}}
}

// Status returns a copy of the current BootstrapStatus.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Reset transitions Connected -> NotStarted explicitly (spec.md §4.5: the
// only path back to NotStarted).
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = Status{Phase: NotStarted}
}

// Eligible reports whether a retry is due: enabled, attempts below the cap,
// and now >= next_retry_time (spec.md §4.5).
func (c *Controller) Eligible(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cfg.Enabled {
		return false
	}
	if c.status.Phase != Failed && c.status.Phase != NotStarted {
		return false
	}
	if c.status.Attempts >= c.cfg.MaxRetryAttempts {
		return false
	}
	return now.After(c.status.nextRetryTime) || now.Equal(c.status.nextRetryTime)
}

// Attempt runs a single bootstrap attempt: parses configured peers, dials
// whichever resolve, and invokes the DHT bootstrap query.
func (c *Controller) Attempt(ctx context.Context) error {
	c.mu.Lock()
	attemptNum := c.status.Attempts + 1
	if c.status.Phase == NotStarted || c.status.Phase == Failed {
		c.status.Phase = InProgress
	}
	c.status.Attempts = attemptNum
	c.status.LastAttempt = time.Now()
	c.mu.Unlock()

	if len(c.cfg.Peers) == 0 {
		return c.fail(fmt.Errorf("no bootstrap peers configured"))
	}

	dialed := 0
	for _, addr := range c.cfg.Peers {
		pi, err := parsePeerAddr(addr)
		if err != nil {
			log.Warnf("bootstrap: skipping invalid multiaddr %q: %v", addr, err)
			continue
		}
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = c.dialer.Connect(dialCtx, pi)
		cancel()
		if err != nil {
			log.Warnf("bootstrap: dial %s failed: %v", pi.ID, err)
			continue
		}
		dialed++
	}

	if dialed == 0 {
		return c.fail(fmt.Errorf("no configured multiaddress resolved to a dialable peer"))
	}

	if err := c.dht.Bootstrap(ctx); err != nil {
		return c.fail(err)
	}

	c.scheduleNextRetry(attemptNum)
	return nil
}

func (c *Controller) fail(err error) error {
	c.mu.Lock()
	c.status.Phase = Failed
	c.status.LastError = err.Error()
	attempt := c.status.Attempts
	c.mu.Unlock()
	c.scheduleNextRetry(attempt)
	log.Warnf("bootstrap attempt %d failed: %v", attempt, err)
	return err
}

func (c *Controller) scheduleNextRetry(attempt int) {
	delay := c.cfg.RetryDelay(attempt + 1)
	c.mu.Lock()
	c.status.nextRetryTime = time.Now().Add(delay)
	c.mu.Unlock()
}

// OnRoutingUpdated handles a DHT RoutingUpdated{is_new_peer=true} event: if
// bootstrap is InProgress, transitions to Connected{peer_count} (spec.md
// §4.2, §4.5).
func (c *Controller) OnRoutingUpdated(isNewPeer bool) {
	if !isNewPeer {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.Phase != InProgress {
		return
	}
	c.status.Phase = Connected
	c.status.PeerCount = c.dht.RoutingTableSize()
	c.status.ConnectedAt = time.Now()
}

// parsePeerAddr decodes a multiaddress string into a dialable AddrInfo. If
// it encodes a /p2p/<peer-id> fragment, the peer id is extracted; otherwise
// the address is dialed without an expected identity (spec.md §4.5).
func parsePeerAddr(s string) (peer.AddrInfo, error) {
	addr, err := ma.NewMultiaddr(s)
	if err != nil {
		return peer.AddrInfo{}, err
	}
	pi, err := peer.AddrInfoFromP2pAddr(addr)
	if err == nil {
		return *pi, nil
	}
	// No /p2p/ fragment: dial by address alone, id unknown until handshake.
	return peer.AddrInfo{Addrs: []ma.Multiaddr{addr}}, nil
}

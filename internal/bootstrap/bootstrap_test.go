package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storynode/core/internal/config"
)

type fakeDHT struct {
	bootstrapErr error
	rtSize       int
}

func (f *fakeDHT) Bootstrap(ctx context.Context) error { return f.bootstrapErr }
func (f *fakeDHT) RoutingTableSize() int                { return f.rtSize }

type fakeDialer struct {
	connectErr error
	dialed     []peer.AddrInfo
}

func (f *fakeDialer) Connect(ctx context.Context, pi peer.AddrInfo) error {
	f.dialed = append(f.dialed, pi)
	return f.connectErr
}

func testCfg() config.Bootstrap {
	return config.Bootstrap{
		Enabled:           true,
		Peers:             []string{"/ip4/127.0.0.1/tcp/4001/p2p/QmcgpsyWgH8Y8ajJz1Cu72KnS5uo2Aa2LpzU7gqwL9psV2"},
		RetryIntervalSecs: 1,
		BackoffMultiplier: 2,
		MaxRetryAttempts:  3,
		MaxRetryDelaySecs: 300,
	}
}

func TestAttemptSuccessTransitionsToConnectedOnRoutingUpdate(t *testing.T) {
	dht := &fakeDHT{rtSize: 4}
	dialer := &fakeDialer{}
	c := New(testCfg(), dht, dialer)

	require.NoError(t, c.Attempt(context.Background()))
	assert.Equal(t, InProgress, c.Status().Phase)

	c.OnRoutingUpdated(true)
	st := c.Status()
	assert.Equal(t, Connected, st.Phase)
	assert.Equal(t, 4, st.PeerCount)
}

func TestAttemptFailureSchedulesBackoff(t *testing.T) {
	dialer := &fakeDialer{connectErr: errors.New("dial refused")}
	c := New(testCfg(), &fakeDHT{}, dialer)

	err := c.Attempt(context.Background())
	require.Error(t, err)
	st := c.Status()
	assert.Equal(t, Failed, st.Phase)
	assert.Equal(t, 1, st.Attempts)
	assert.False(t, c.Eligible(time.Now()))
}

func TestEligibleRespectsMaxRetryAttempts(t *testing.T) {
	cfg := testCfg()
	cfg.MaxRetryAttempts = 1
	dialer := &fakeDialer{connectErr: errors.New("no")}
	c := New(cfg, &fakeDHT{}, dialer)

	require.Error(t, c.Attempt(context.Background()))
	assert.False(t, c.Eligible(time.Now().Add(time.Hour)))
}

func TestEligibleFalseWhenDisabled(t *testing.T) {
	cfg := testCfg()
	cfg.Enabled = false
	c := New(cfg, &fakeDHT{}, &fakeDialer{})
	assert.False(t, c.Eligible(time.Now().Add(time.Hour)))
}

func TestResetReturnsToNotStarted(t *testing.T) {
	dht := &fakeDHT{rtSize: 1}
	c := New(testCfg(), dht, &fakeDialer{})
	require.NoError(t, c.Attempt(context.Background()))
	c.OnRoutingUpdated(true)
	require.Equal(t, Connected, c.Status().Phase)

	c.Reset()
	assert.Equal(t, NotStarted, c.Status().Phase)
}

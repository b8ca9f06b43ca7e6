package relay

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storynode/core/internal/identity"
	"github.com/storynode/core/internal/wire"
)

type fakePublisher struct {
	published []wire.RelayEnvelope
	err       error
}

func (f *fakePublisher) PublishRelay(e wire.RelayEnvelope) error {
	f.published = append(f.published, e)
	return f.err
}

type fakeConnectivity struct {
	connected map[string]bool
}

func (f *fakeConnectivity) IsConnected(peerID string) bool { return f.connected[peerID] }

type fakeDelivery struct {
	delivered []wire.DirectMessage
}

func (f *fakeDelivery) DeliverIncoming(msg wire.DirectMessage) {
	f.delivered = append(f.delivered, msg)
}

type recordedMessage struct {
	localPeerID, peerID, peerName, body string
	incoming, read                      bool
}

type fakeRecorder struct {
	calls   int
	records []recordedMessage
}

func (f *fakeRecorder) RecordDirectMessage(localPeerID, peerID, peerName, body string, incoming, read bool, at time.Time) error {
	f.calls++
	f.records = append(f.records, recordedMessage{localPeerID, peerID, peerName, body, incoming, read})
	return nil
}

func newTestIdentity(t *testing.T) *identity.Service {
	t.Helper()
	dir := t.TempDir()
	svc, err := identity.LoadOrGenerate(filepath.Join(dir, "id.key"))
	require.NoError(t, err)
	return svc
}

func testConfig() Config {
	return Config{
		MaxMessageSize:    8192,
		MaxHops:           3,
		RateLimitPerPeer:  2,
		MaxRetryAttempts:  3,
		ForwardingEnabled: true,
		EnvelopeMaxAge:    300 * time.Second,
	}
}

func TestSendQueuesWhenNameUnresolved(t *testing.T) {
	ident := newTestIdentity(t)
	pub := &fakePublisher{}
	conn := &fakeConnectivity{connected: map[string]bool{}}
	e := New(testConfig(), ident, pub, conn, &fakeDelivery{}, &fakeRecorder{})

	resolve := func(string) (string, bool) { return "", false }
	require.NoError(t, e.Send(resolve, "alice", "hello"))
	assert.Empty(t, pub.published)
	assert.Equal(t, 1, e.PendingCount())
}

func TestSendQueuesWhenPeerNotConnected(t *testing.T) {
	ident := newTestIdentity(t)
	pub := &fakePublisher{}
	conn := &fakeConnectivity{connected: map[string]bool{}}
	e := New(testConfig(), ident, pub, conn, &fakeDelivery{}, &fakeRecorder{})

	resolve := func(string) (string, bool) { return "peer1", true }
	require.NoError(t, e.Send(resolve, "alice", "hello"))
	assert.Equal(t, 1, e.PendingCount())
}

func TestSendFailsWithoutKnownPublicKey(t *testing.T) {
	ident := newTestIdentity(t)
	pub := &fakePublisher{}
	conn := &fakeConnectivity{connected: map[string]bool{"peer1": true}}
	e := New(testConfig(), ident, pub, conn, &fakeDelivery{}, &fakeRecorder{})

	resolve := func(string) (string, bool) { return "peer1", true }
	err := e.Send(resolve, "alice", "hello")
	assert.ErrorIs(t, err, ErrNoPublicKey)
}

func TestSendPublishesEncryptedEnvelope(t *testing.T) {
	ident := newTestIdentity(t)
	peerIdent := newTestIdentity(t)
	require.NoError(t, ident.RememberPublicKey("peer1", peerIdent.BoxPublicKey()))

	pub := &fakePublisher{}
	conn := &fakeConnectivity{connected: map[string]bool{"peer1": true}}
	rec := &fakeRecorder{}
	e := New(testConfig(), ident, pub, conn, &fakeDelivery{}, rec)
	e.SetLocalName(func() string { return "me" })

	resolve := func(string) (string, bool) { return "peer1", true }
	require.NoError(t, e.Send(resolve, "alice", "hello"))
	require.Len(t, pub.published, 1)
	env := pub.published[0]
	assert.Equal(t, 0, env.HopCount)
	assert.Equal(t, 3, env.MaxHops)
	assert.NotEmpty(t, env.MessageID)
	assert.Equal(t, 1, rec.calls)
	assert.EqualValues(t, 1, e.Stats().MessagesRelayed, "a pure send must count as relayed (spec §8 scenario 1)")
}

func TestRateLimitExceeded(t *testing.T) {
	ident := newTestIdentity(t)
	peerIdent := newTestIdentity(t)
	require.NoError(t, ident.RememberPublicKey("peer1", peerIdent.BoxPublicKey()))

	cfg := testConfig()
	cfg.RateLimitPerPeer = 1
	pub := &fakePublisher{}
	conn := &fakeConnectivity{connected: map[string]bool{"peer1": true}}
	e := New(cfg, ident, pub, conn, &fakeDelivery{}, &fakeRecorder{})

	resolve := func(string) (string, bool) { return "peer1", true }
	require.NoError(t, e.Send(resolve, "alice", "one"))
	err := e.Send(resolve, "alice", "two")
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
}

func TestMessageTooLarge(t *testing.T) {
	ident := newTestIdentity(t)
	peerIdent := newTestIdentity(t)
	require.NoError(t, ident.RememberPublicKey("peer1", peerIdent.BoxPublicKey()))

	cfg := testConfig()
	cfg.MaxMessageSize = 4
	pub := &fakePublisher{}
	conn := &fakeConnectivity{connected: map[string]bool{"peer1": true}}
	e := New(cfg, ident, pub, conn, &fakeDelivery{}, &fakeRecorder{})

	resolve := func(string) (string, bool) { return "peer1", true }
	err := e.Send(resolve, "alice", "this is too long")
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestHandleEnvelopeDeliversWhenAddressedToUs(t *testing.T) {
	sender := newTestIdentity(t)
	receiver := newTestIdentity(t)
	require.NoError(t, sender.RememberPublicKey("receiver", receiver.BoxPublicKey()))

	pub := &fakePublisher{}
	conn := &fakeConnectivity{}
	deliver := &fakeDelivery{}
	rec := &fakeRecorder{}
	senderEngine := New(testConfig(), sender, pub, conn, deliver, rec)
	senderEngine.SetLocalName(func() string { return "alice" })

	conn.connected = map[string]bool{"receiver": true}
	resolve := func(string) (string, bool) { return "receiver", true }
	require.NoError(t, senderEngine.Send(resolve, "bob", "secret"))
	require.Len(t, pub.published, 1)

	receiverPub := &fakePublisher{}
	receiverEngine := New(testConfig(), receiver, receiverPub, conn, deliver, rec)
	receiverEngine.HandleEnvelope(pub.published[0])

	require.Len(t, deliver.delivered, 1)
	delivered := deliver.delivered[0]
	assert.Equal(t, "secret", delivered.Message)
	assert.Equal(t, sender.PeerID().String(), delivered.FromPeerID, "receiver must recover the sender's peer id from the decrypted payload")
	assert.Equal(t, "alice", delivered.FromName)
	assert.Empty(t, receiverPub.published, "should not re-forward a successfully decrypted envelope")

	require.Len(t, rec.records, 2)
	incoming := rec.records[len(rec.records)-1]
	assert.Equal(t, sender.PeerID().String(), incoming.peerID, "conversation must be keyed on the sender, not the local recipient id")
	assert.Equal(t, "alice", incoming.peerName)
	assert.True(t, incoming.incoming)
}

func TestHandleEnvelopeDropsOnMaxHops(t *testing.T) {
	ident := newTestIdentity(t)
	e := New(testConfig(), ident, &fakePublisher{}, &fakeConnectivity{}, &fakeDelivery{}, &fakeRecorder{})
	env := wire.RelayEnvelope{HopCount: 3, MaxHops: 3, Timestamp: time.Now().Unix()}
	e.HandleEnvelope(env)
	assert.EqualValues(t, 1, e.Stats().MessagesDropped)
}

func TestHandleEnvelopeDropsOnAge(t *testing.T) {
	ident := newTestIdentity(t)
	e := New(testConfig(), ident, &fakePublisher{}, &fakeConnectivity{}, &fakeDelivery{}, &fakeRecorder{})
	env := wire.RelayEnvelope{HopCount: 0, MaxHops: 3, Timestamp: time.Now().Add(-time.Hour).Unix()}
	e.HandleEnvelope(env)
	assert.EqualValues(t, 1, e.Stats().MessagesDropped)
}

func TestHandleEnvelopeForwardsWhenNotAddressedToUs(t *testing.T) {
	stranger := newTestIdentity(t)
	pub := &fakePublisher{}
	e := New(testConfig(), stranger, pub, &fakeConnectivity{}, &fakeDelivery{}, &fakeRecorder{})

	other := newTestIdentity(t)
	env := wire.RelayEnvelope{
		HopCount:  0,
		MaxHops:   3,
		Timestamp: time.Now().Unix(),
		EncryptedPayload: wire.EncryptedPayload{
			Ciphertext:      []byte("not really encrypted for stranger"),
			Nonce:           make([]byte, 24),
			SenderPublicKey: other.BoxPublicKey(),
		},
	}
	e.HandleEnvelope(env)
	require.Len(t, pub.published, 1)
	assert.Equal(t, 1, pub.published[0].HopCount)
}

func TestHandleEnvelopeSkipsReforwardingSameMessageID(t *testing.T) {
	stranger := newTestIdentity(t)
	pub := &fakePublisher{}
	e := New(testConfig(), stranger, pub, &fakeConnectivity{}, &fakeDelivery{}, &fakeRecorder{})

	other := newTestIdentity(t)
	env := wire.RelayEnvelope{
		MessageID: "msg-1",
		HopCount:  0,
		MaxHops:   3,
		Timestamp: time.Now().Unix(),
		EncryptedPayload: wire.EncryptedPayload{
			Ciphertext:      []byte("not really encrypted for stranger"),
			Nonce:           make([]byte, 24),
			SenderPublicKey: other.BoxPublicKey(),
		},
	}
	e.HandleEnvelope(env)
	require.Len(t, pub.published, 1)

	// The same envelope arrives again (e.g. gossipsub retransmission) with an
	// unchanged message id; it must not be forwarded a second time.
	e.HandleEnvelope(env)
	assert.Len(t, pub.published, 1)
	assert.Equal(t, int64(1), e.Stats().MessagesDropped)
}

func TestRetryPendingSendsOnceResolvable(t *testing.T) {
	ident := newTestIdentity(t)
	peerIdent := newTestIdentity(t)
	require.NoError(t, ident.RememberPublicKey("peer1", peerIdent.BoxPublicKey()))

	pub := &fakePublisher{}
	conn := &fakeConnectivity{connected: map[string]bool{}}
	e := New(testConfig(), ident, pub, conn, &fakeDelivery{}, &fakeRecorder{})

	unresolvable := func(string) (string, bool) { return "", false }
	require.NoError(t, e.Send(unresolvable, "alice", "hi"))
	assert.Equal(t, 1, e.PendingCount())

	conn.connected["peer1"] = true
	resolvable := func(string) (string, bool) { return "peer1", true }
	e.RetryPending(resolvable)

	assert.Equal(t, 0, e.PendingCount())
	assert.Len(t, pub.published, 1)
}


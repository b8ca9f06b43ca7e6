package composition

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storynode/core/internal/breaker"
	"github.com/storynode/core/internal/config"
	"github.com/storynode/core/internal/identity"
	"github.com/storynode/core/internal/roster"
	"github.com/storynode/core/internal/storage"
	"github.com/storynode/core/internal/wire"
)

func newTestComposition(t *testing.T) (*Composition, *storage.DB) {
	t.Helper()
	dir := t.TempDir()

	ident, err := identity.LoadOrGenerate(filepath.Join(dir, "id.key"))
	require.NoError(t, err)

	store, err := storage.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	rost := roster.New(nil)
	breakers := breaker.NewSet(breaker.Config{})

	c := New(nil, ident, rost, nil, store, breakers, config.Network{}, func() string { return "local" })
	return c, store
}

func drainEvent(t *testing.T, c *Composition) Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	default:
		t.Fatal("expected an event but none was emitted")
		return nil
	}
}

func TestHandleListRequestEnqueuesResponseForAll(t *testing.T) {
	c, store := newTestComposition(t)
	_, err := store.InsertStory(storage.Story{Name: "n", Header: "h", Body: "b", Public: true, Channel: "general"})
	require.NoError(t, err)

	c.dispatchEnvelope(wire.Envelope{
		Type:        wire.TypeListRequest,
		ListRequest: &wire.ListRequest{Mode: wire.ListRequestMode{All: true}, From: "peerX"},
	})

	select {
	case resp := <-c.OutgoingListResponses():
		assert.Equal(t, "peerX", resp.Receiver)
		require.Len(t, resp.Data, 1)
		assert.Equal(t, "n", resp.Data[0].Name)
	default:
		t.Fatal("expected a queued list response")
	}

	ev, ok := drainEvent(t, c).(ListRequestReceived)
	require.True(t, ok)
	assert.Equal(t, "peerX", ev.FromPeerID)
}

func TestHandleListRequestIgnoredWhenAddressedToOtherPeer(t *testing.T) {
	c, _ := newTestComposition(t)

	c.dispatchEnvelope(wire.Envelope{
		Type:        wire.TypeListRequest,
		ListRequest: &wire.ListRequest{Mode: wire.ListRequestMode{One: "someone-else"}, From: "peerX"},
	})

	select {
	case <-c.OutgoingListResponses():
		t.Fatal("should not have queued a response")
	default:
	}
	select {
	case <-c.Events():
		t.Fatal("should not have emitted an event")
	default:
	}
}

func TestHandlePublishedStoryInsertsAndEmits(t *testing.T) {
	c, store := newTestComposition(t)

	c.dispatchEnvelope(wire.Envelope{
		Type: wire.TypeStory,
		Story: &wire.PublishedStory{
			Story:     wire.Story{Name: "n", Header: "h", Body: "b", Public: true},
			Publisher: "peerX",
		},
	})

	ev, ok := drainEvent(t, c).(StoryReceived)
	require.True(t, ok)
	assert.Equal(t, "n", ev.Story.Name)

	stories, err := store.ListAllLocalStories()
	require.NoError(t, err)
	assert.Len(t, stories, 1)
}

func TestHandlePublishedStoryIgnoresPrivate(t *testing.T) {
	c, store := newTestComposition(t)

	c.dispatchEnvelope(wire.Envelope{
		Type: wire.TypeStory,
		Story: &wire.PublishedStory{
			Story:     wire.Story{Name: "n", Header: "h", Body: "b", Public: false},
			Publisher: "peerX",
		},
	})

	select {
	case <-c.Events():
		t.Fatal("private story must not be emitted")
	default:
	}
	stories, err := store.ListAllLocalStories()
	require.NoError(t, err)
	assert.Empty(t, stories)
}

func TestHandlePublishedStoryDropsDuplicate(t *testing.T) {
	c, store := newTestComposition(t)
	env := wire.Envelope{
		Type: wire.TypeStory,
		Story: &wire.PublishedStory{
			Story:     wire.Story{Name: "n", Header: "h", Body: "b", Public: true},
			Publisher: "peerX",
		},
	}
	c.dispatchEnvelope(env)
	drainEvent(t, c)

	c.dispatchEnvelope(env)
	select {
	case <-c.Events():
		t.Fatal("duplicate story must not re-emit")
	default:
	}

	stories, err := store.ListAllLocalStories()
	require.NoError(t, err)
	assert.Len(t, stories, 1)
}

func TestHandleListResponseInsertsOnlyPublicStories(t *testing.T) {
	c, store := newTestComposition(t)

	c.dispatchEnvelope(wire.Envelope{
		Type: wire.TypeListResponse,
		ListResponse: &wire.ListResponse{
			Mode:     wire.ListRequestMode{One: c.localPeerID()},
			Receiver: "peerX",
			Data: []wire.Story{
				{Name: "pub", Header: "h", Body: "b", Public: true},
				{Name: "priv", Header: "h2", Body: "b2", Public: false},
			},
		},
	})

	ev, ok := drainEvent(t, c).(ListResponseReceived)
	require.True(t, ok)
	assert.Equal(t, 1, ev.Count)

	stories, err := store.ListAllLocalStories()
	require.NoError(t, err)
	assert.Len(t, stories, 1)
	assert.Equal(t, "pub", stories[0].Name)
}

func TestHandlePeerNameUpdatesRosterAndPersists(t *testing.T) {
	c, store := newTestComposition(t)

	c.dispatchEnvelope(wire.Envelope{
		Type:     wire.TypePeerName,
		PeerName: &wire.PeerName{PeerID: "peerX", Name: "alice"},
	})

	ev, ok := drainEvent(t, c).(PeerNameReceived)
	require.True(t, ok)
	assert.Equal(t, "alice", ev.Name)

	id, ok := c.roster.Resolve("alice")
	require.True(t, ok)
	assert.Equal(t, "peerX", id)

	names, err := store.LoadPeerNames()
	require.NoError(t, err)
	assert.Equal(t, "alice", names["peerX"])
}

func TestHandleChannelAnnounceUpsertsAndEmits(t *testing.T) {
	c, store := newTestComposition(t)

	c.dispatchEnvelope(wire.Envelope{
		Type:    wire.TypeChannel,
		Channel: &wire.Channel{Name: "general", Description: "desc", CreatedBy: "peerX"},
	})

	ev, ok := drainEvent(t, c).(ChannelAnnounced)
	require.True(t, ok)
	assert.Equal(t, "general", ev.Name)

	ch, found, err := store.GetChannel("general")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "desc", ch.Description)
}

func TestSetDescriptionTruncatesTo1024Bytes(t *testing.T) {
	c, _ := newTestComposition(t)
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	c.SetDescription(string(long))

	d := c.Description()
	require.NotNil(t, d)
	assert.Len(t, *d, 1024)
}

func TestDispatchEnvelopeUnknownTypeIsDropped(t *testing.T) {
	c, _ := newTestComposition(t)
	c.dispatchEnvelope(wire.Envelope{Type: wire.BroadcastType("made-up")})

	select {
	case <-c.Events():
		t.Fatal("unknown envelope type must not emit")
	default:
	}
}

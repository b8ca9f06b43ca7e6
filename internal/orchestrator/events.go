package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/storynode/core/internal/composition"
)

const lastSyncTimestampDoc = "last_sync_timestamp"

// dispatchEvent routes one swarm/protocol event from the composition's
// tagged stream (spec.md §4.2 demultiplexing).
func (l *Loop) dispatchEvent(ctx context.Context, ev composition.Event) {
	switch e := ev.(type) {
	case composition.ConnectionEstablished:
		l.roster.EnsurePlaceholder(e.PeerID)
		l.comp.AnnouncePeerName(*l.localName)
		l.comp.AnnouncePublicKey()
		if name, ok := l.roster.Name(e.PeerID); ok {
			l.relayEng.RetryForPeer(name, l.roster.Resolve)
		}
		go l.requestStorySync(ctx, e.PeerID)

	case composition.ConnectionClosed:
		l.roster.Remove(e.PeerID)

	case composition.RoutingUpdated:
		l.bootstrap.OnRoutingUpdated(e.IsNewPeer)

	case composition.StoryReceived:
		l.view.storiesDirty = true
		l.view.channelsDirty = true

	case composition.ListRequestReceived:
		// handled entirely inside composition/the outgoing-list-response
		// channel; nothing further to reflect.

	case composition.ListResponseReceived:
		if e.Count > 0 {
			l.view.storiesDirty = true
			l.ui.Log(fmt.Sprintf("received %d new stories from %s", e.Count, e.FromPeerID))
		}

	case composition.PeerNameReceived:
		l.roster.Set(e.PeerID, e.Name)

	case composition.ChannelAnnounced:
		l.view.channelsDirty = true

	case composition.RelayEnvelopeReceived:
		l.view.conversationsDirty = true

	case composition.StorySyncCompleted:
		l.view.storiesDirty = true
		l.view.channelsDirty = true
		l.saveLastSyncTimestamp(time.Now().Unix())
		if e.NewChannels > 0 {
			l.ui.Log(fmt.Sprintf("story sync with %s added %d channels", e.PeerID, e.NewChannels))
		}
	}
}

// requestStorySync drives the Story Sync Engine's request-on-connect path
// (spec.md §4.4), gated by the story_sync circuit breaker inside
// composition.RequestStorySync.
func (l *Loop) requestStorySync(ctx context.Context, peerID string) {
	channels, err := l.store.SubscribedChannels(l.comp.LocalPeerID())
	if err != nil {
		log.Warnf("load subscribed channels for story sync: %v", err)
	}
	syncCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := l.comp.RequestStorySync(syncCtx, peerID, l.loadLastSyncTimestamp(), channels); err != nil {
		log.Warnf("story sync with %s failed: %v", peerID, err)
	}
}

func (l *Loop) loadLastSyncTimestamp() int64 {
	raw, found, err := l.store.LoadConfigDoc(lastSyncTimestampDoc)
	if err != nil || !found {
		return 0
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return ts
}

func (l *Loop) saveLastSyncTimestamp(ts int64) {
	if err := l.store.SaveConfigDoc(lastSyncTimestampDoc, strconv.FormatInt(ts, 10)); err != nil {
		log.Warnf("persist last sync timestamp: %v", err)
	}
}

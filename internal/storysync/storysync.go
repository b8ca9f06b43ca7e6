// Package storysync implements the Story Sync Engine (spec.md §4.4):
// request generation on connect, response generation against stored public
// stories, and reconciliation of a peer's response into local storage.
package storysync

import (
	"fmt"

	"github.com/storynode/core/internal/logging"
	"github.com/storynode/core/internal/metrics"
	"github.com/storynode/core/internal/storage"
	"github.com/storynode/core/internal/wire"
)

var log = logging.For("storysync")

// Storage is the subset of internal/storage.DB the sync engine drives.
type Storage interface {
	ListPublicStoriesInChannels(channels []string, afterTS int64) ([]storage.Story, error)
	GetChannel(name string) (storage.Channel, bool, error)
	FindDuplicateStory(name, header, body string) (int64, bool, error)
	InsertStory(s storage.Story) (int64, error)
	UpsertChannel(c storage.Channel) (bool, error)
}

// Engine owns no state of its own — it's pure request/response/reconcile
// logic over the shared storage adapter. BuildResponse runs in the sync
// stream handler and Reconcile in the requesting goroutine.
type Engine struct {
	store Storage
}

func New(store Storage) *Engine {
	return &Engine{store: store}
}

// BuildRequest constructs the outbound StorySyncRequest sent on
// ConnectionEstablished (spec.md §4.4 request generation).
func (e *Engine) BuildRequest(localPeerID, localName string, lastSyncTimestamp int64, subscribedChannels []string, now int64) wire.StorySyncRequest {
	return wire.StorySyncRequest{
		FromPeerID:         localPeerID,
		FromName:           localName,
		LastSyncTimestamp:  lastSyncTimestamp,
		SubscribedChannels: subscribedChannels,
		Timestamp:          now,
	}
}

// BuildResponse answers a StorySyncRequest with this node's matching public
// stories plus synthesized/stored metadata for every referenced channel
// (spec.md §4.4 response generation).
func (e *Engine) BuildResponse(req wire.StorySyncRequest, localPeerID, localName string, now int64) (wire.StorySyncResponse, error) {
	stories, err := e.store.ListPublicStoriesInChannels(req.SubscribedChannels, req.LastSyncTimestamp)
	if err != nil {
		return wire.StorySyncResponse{}, fmt.Errorf("list public stories: %w", err)
	}

	seen := map[string]bool{}
	var channels []wire.Channel
	for _, s := range stories {
		if seen[s.Channel] {
			continue
		}
		seen[s.Channel] = true

		stored, ok, err := e.store.GetChannel(s.Channel)
		if err != nil {
			return wire.StorySyncResponse{}, fmt.Errorf("get channel %q: %w", s.Channel, err)
		}
		if ok {
			channels = append(channels, wire.Channel{
				Name: stored.Name, Description: stored.Description,
				CreatedBy: stored.CreatedBy, CreatedAt: stored.CreatedAt,
			})
			continue
		}
		channels = append(channels, wire.Channel{
			Name:        s.Channel,
			Description: "Channel: " + s.Channel,
			CreatedBy:   "unknown",
			CreatedAt:   0,
		})
	}

	return wire.StorySyncResponse{
		Stories:       toWireStories(stories),
		Channels:      channels,
		FromPeerID:    localPeerID,
		FromName:      localName,
		SyncTimestamp: now,
	}, nil
}

// Reconcile applies a StorySyncResponse to local storage, inserting channels
// with INSERT OR IGNORE first (so stories in new channels satisfy the
// channel foreign key) and then stories, skipping duplicates by
// (name, header, body) (spec.md §4.4 reconciliation). Returns the count of newly inserted
// channels for UI notification.
func (e *Engine) Reconcile(resp wire.StorySyncResponse) (newChannels int, err error) {
	for _, c := range resp.Channels {
		inserted, cerr := e.store.UpsertChannel(storage.Channel{
			Name: c.Name, Description: c.Description, CreatedBy: c.CreatedBy, CreatedAt: c.CreatedAt,
		})
		if cerr != nil {
			return newChannels, fmt.Errorf("upsert channel %q: %w", c.Name, cerr)
		}
		if inserted {
			newChannels++
		}
	}

	for _, s := range resp.Stories {
		if _, dup, derr := e.store.FindDuplicateStory(s.Name, s.Header, s.Body); derr != nil {
			return newChannels, fmt.Errorf("find duplicate story: %w", derr)
		} else if dup {
			continue
		}
		if _, ierr := e.store.InsertStory(storage.Story{
			Name: s.Name, Header: s.Header, Body: s.Body,
			Public: true, Channel: s.Channel, CreatedAt: s.CreatedAt,
		}); ierr != nil {
			return newChannels, fmt.Errorf("insert synced story: %w", ierr)
		}
	}

	metrics.SyncEvent("stories_received")
	if newChannels > 0 {
		metrics.SyncEvent("channels_inserted")
	}
	log.Debugf("storysync: reconciled %d stories, %d new channels", len(resp.Stories), newChannels)
	return newChannels, nil
}

func toWireStories(in []storage.Story) []wire.Story {
	out := make([]wire.Story, 0, len(in))
	for _, s := range in {
		out = append(out, wire.Story{
			ID: s.ID, Name: s.Name, Header: s.Header, Body: s.Body,
			Public: s.Public, Channel: s.Channel, CreatedAt: s.CreatedAt, AutoShare: s.AutoShare,
		})
	}
	return out
}

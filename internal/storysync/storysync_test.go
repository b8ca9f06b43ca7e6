package storysync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storynode/core/internal/storage"
	"github.com/storynode/core/internal/wire"
)

type fakeStorage struct {
	stories  []storage.Story
	channels map[string]storage.Channel
	nextID   int64
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{channels: map[string]storage.Channel{}}
}

func (f *fakeStorage) ListPublicStoriesInChannels(channels []string, afterTS int64) ([]storage.Story, error) {
	set := map[string]bool{}
	for _, c := range channels {
		set[c] = true
	}
	var out []storage.Story
	for _, s := range f.stories {
		if !s.Public || s.CreatedAt <= afterTS {
			continue
		}
		if len(set) > 0 && !set[s.Channel] {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStorage) GetChannel(name string) (storage.Channel, bool, error) {
	c, ok := f.channels[name]
	return c, ok, nil
}

func (f *fakeStorage) FindDuplicateStory(name, header, body string) (int64, bool, error) {
	for _, s := range f.stories {
		if s.Name == name && s.Header == header && s.Body == body {
			return s.ID, true, nil
		}
	}
	return 0, false, nil
}

func (f *fakeStorage) InsertStory(s storage.Story) (int64, error) {
	f.nextID++
	s.ID = f.nextID
	f.stories = append(f.stories, s)
	return s.ID, nil
}

func (f *fakeStorage) UpsertChannel(c storage.Channel) (bool, error) {
	if _, ok := f.channels[c.Name]; ok {
		return false, nil
	}
	f.channels[c.Name] = c
	return true, nil
}

func TestBuildResponseSynthesizesUnknownChannel(t *testing.T) {
	store := newFakeStorage()
	store.stories = []storage.Story{
		{ID: 1, Name: "a", Header: "h", Body: "b", Public: true, Channel: "news", CreatedAt: 10},
	}
	e := New(store)

	resp, err := e.BuildResponse(wire.StorySyncRequest{LastSyncTimestamp: 0}, "peer1", "peer1-name", 100)
	require.NoError(t, err)
	require.Len(t, resp.Stories, 1)
	require.Len(t, resp.Channels, 1)
	assert.Equal(t, "news", resp.Channels[0].Name)
	assert.Equal(t, "Channel: news", resp.Channels[0].Description)
	assert.Equal(t, "unknown", resp.Channels[0].CreatedBy)
}

func TestBuildResponseUsesStoredChannelWhenPresent(t *testing.T) {
	store := newFakeStorage()
	store.stories = []storage.Story{
		{ID: 1, Name: "a", Header: "h", Body: "b", Public: true, Channel: "news", CreatedAt: 10},
	}
	store.channels["news"] = storage.Channel{Name: "news", Description: "Daily news", CreatedBy: "alice", CreatedAt: 1}
	e := New(store)

	resp, err := e.BuildResponse(wire.StorySyncRequest{LastSyncTimestamp: 0}, "peer1", "peer1-name", 100)
	require.NoError(t, err)
	require.Len(t, resp.Channels, 1)
	assert.Equal(t, "Daily news", resp.Channels[0].Description)
	assert.Equal(t, "alice", resp.Channels[0].CreatedBy)
}

func TestBuildResponseFiltersByTimestampAndChannel(t *testing.T) {
	store := newFakeStorage()
	store.stories = []storage.Story{
		{ID: 1, Name: "old", Header: "h", Body: "b", Public: true, Channel: "news", CreatedAt: 5},
		{ID: 2, Name: "new", Header: "h", Body: "b", Public: true, Channel: "news", CreatedAt: 50},
		{ID: 3, Name: "other-chan", Header: "h", Body: "b", Public: true, Channel: "other", CreatedAt: 50},
		{ID: 4, Name: "private", Header: "h", Body: "b", Public: false, Channel: "news", CreatedAt: 50},
	}
	e := New(store)

	resp, err := e.BuildResponse(wire.StorySyncRequest{LastSyncTimestamp: 10, SubscribedChannels: []string{"news"}}, "p", "p", 100)
	require.NoError(t, err)
	require.Len(t, resp.Stories, 1)
	assert.Equal(t, "new", resp.Stories[0].Name)
}

func TestReconcileSkipsDuplicatesAndCountsNewChannels(t *testing.T) {
	store := newFakeStorage()
	store.stories = []storage.Story{
		{ID: 1, Name: "dup", Header: "h", Body: "b", Public: true, Channel: "news", CreatedAt: 5},
	}
	store.channels["news"] = storage.Channel{Name: "news"}
	e := New(store)

	resp := wire.StorySyncResponse{
		Stories: []wire.Story{
			{Name: "dup", Header: "h", Body: "b", Channel: "news", CreatedAt: 5},
			{Name: "fresh", Header: "h2", Body: "b2", Channel: "news", CreatedAt: 9},
		},
		Channels: []wire.Channel{
			{Name: "news", Description: "Channel: news", CreatedBy: "unknown"},
			{Name: "sports", Description: "Channel: sports", CreatedBy: "unknown"},
		},
	}

	newChannels, err := e.Reconcile(resp)
	require.NoError(t, err)
	assert.Equal(t, 1, newChannels)
	assert.Len(t, store.stories, 2)
}

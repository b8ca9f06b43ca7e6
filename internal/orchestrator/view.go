package orchestrator

import "github.com/storynode/core/internal/uiproto"

// viewCache holds the last computed UI-facing slices plus dirty flags so the
// 100ms-bounded loop iteration doesn't re-read storage on every tick — only
// when an event or command actually changed the underlying data (spec.md
// §4.1 ActionResult RefreshStories/RefreshChannels).
type viewCache struct {
	storiesDirty       bool
	channelsDirty      bool
	conversationsDirty bool

	stories       []uiproto.StoryView
	channels      []uiproto.ChannelView
	conversations []uiproto.ConversationView
}

func newViewCache() viewCache {
	return viewCache{storiesDirty: true, channelsDirty: true, conversationsDirty: true}
}

// snapshot recomputes whichever slices are dirty and returns the full View
// for the UI collaborator. Storage read errors are logged and the prior
// cached value is kept (spec.md §4.1 failure semantics, §7).
func (l *Loop) snapshot() uiproto.View {
	if l.view.storiesDirty {
		if stories, err := l.refreshStories(); err != nil {
			log.Warnf("refresh stories: %v", err)
		} else {
			l.view.stories = stories
			l.view.storiesDirty = false
		}
	}

	if l.view.channelsDirty {
		if channels, err := l.refreshChannels(); err != nil {
			log.Warnf("refresh channels: %v", err)
		} else {
			l.view.channels = channels
			l.view.channelsDirty = false
		}
	}

	if l.view.conversationsDirty {
		if convos, err := l.refreshConversations(); err != nil {
			log.Warnf("refresh conversations: %v", err)
		} else {
			l.view.conversations = convos
			l.view.conversationsDirty = false
		}
	}

	health := l.breakers.Summary()
	boot := l.bootstrap.Status()

	connected := l.sw.Host.Network().Peers()
	connectedIDs := make([]string, 0, len(connected))
	for _, p := range connected {
		connectedIDs = append(connectedIDs, p.String())
	}
	discovered := l.sw.Host.Peerstore().Peers()
	discoveredIDs := make([]string, 0, len(discovered))
	localID := l.comp.LocalPeerID()
	for _, p := range discovered {
		if p.String() == localID {
			continue
		}
		discoveredIDs = append(discoveredIDs, p.String())
	}

	return uiproto.View{
		LocalName:       *l.localName,
		LocalPeerID:     localID,
		DiscoveredPeers: discoveredIDs,
		ConnectedPeers:  connectedIDs,
		Stories:         l.view.stories,
		Channels:        l.view.channels,
		Conversations:   l.view.conversations,
		Description:     l.comp.Description(),
		Bootstrap: uiproto.BootstrapView{
			Phase: boot.Phase.String(), Attempts: boot.Attempts, PeerCount: boot.PeerCount, LastError: boot.LastError,
		},
		NetworkHealth: uiproto.NetworkHealthView{
			HealthyOps: health.HealthyOps, FailedOps: health.FailedOps, Total: health.Total,
		},
	}
}

func (l *Loop) refreshStories() ([]uiproto.StoryView, error) {
	stories, err := l.store.ListAllLocalStories()
	if err != nil {
		return nil, err
	}
	out := make([]uiproto.StoryView, 0, len(stories))
	for _, s := range stories {
		out = append(out, uiproto.StoryView{
			ID: s.ID, Name: s.Name, Header: s.Header, Body: s.Body,
			Public: s.Public, Channel: s.Channel, CreatedAt: s.CreatedAt,
		})
	}
	return out, nil
}

func (l *Loop) refreshChannels() ([]uiproto.ChannelView, error) {
	channels, err := l.store.ListChannels()
	if err != nil {
		return nil, err
	}
	localID := l.comp.LocalPeerID()
	out := make([]uiproto.ChannelView, 0, len(channels))
	for _, c := range channels {
		unread, err := l.store.UnreadCount(localID, c.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, uiproto.ChannelView{Name: c.Name, Description: c.Description, Unread: unread})
	}
	return out, nil
}

func (l *Loop) refreshConversations() ([]uiproto.ConversationView, error) {
	convos, err := l.store.Conversations(l.comp.LocalPeerID())
	if err != nil {
		return nil, err
	}
	out := make([]uiproto.ConversationView, 0, len(convos))
	for _, c := range convos {
		out = append(out, uiproto.ConversationView{
			PeerID: c.PeerID, PeerName: c.PeerName, LastActivity: c.LastActivity, Unread: c.Unread,
		})
	}
	return out, nil
}

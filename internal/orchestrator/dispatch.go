package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/storynode/core/internal/breaker"
	"github.com/storynode/core/internal/storage"
	"github.com/storynode/core/internal/uiproto"
	"github.com/storynode/core/internal/util"
	"github.com/storynode/core/internal/wire"
)

// dispatchUI routes one parsed Command to its handler (spec.md §6). A
// creation prompt in progress intercepts every line regardless of how it
// parsed, since free-form story text would otherwise be rejected as unknown.
func (l *Loop) dispatchUI(ctx context.Context, cmd uiproto.Command) {
	if l.creation != nil {
		l.advanceCreation(cmd.Line)
		return
	}

	switch cmd.Kind {
	case uiproto.KindQuit:
		l.quit = true

	case uiproto.KindListDiscovered, uiproto.KindListConnected:
		// Reflected via the next Draw; nothing to dispatch.

	case uiproto.KindListStories:
		l.handleListStories(cmd.ListTarget)

	case uiproto.KindCreateStory:
		l.creation = &creationPrompt{}
		l.ui.Log(fmt.Sprintf("creating story — enter %s:", creationSteps[0]))

	case uiproto.KindCreateStoryOneShot:
		l.createStory(cmd.Name, cmd.Header, cmd.Body, cmd.Channel)

	case uiproto.KindPublishStory:
		l.publishStory(cmd.StoryID)

	case uiproto.KindShowStory:
		l.showStory(cmd.StoryID)

	case uiproto.KindSetName:
		name, err := util.ValidatePeerName(cmd.DisplayName)
		if err != nil {
			l.ui.Log(fmt.Sprintf("invalid name: %v", err))
			return
		}
		*l.localName = name
		if err := l.store.SavePeerName(l.comp.LocalPeerID(), name); err != nil {
			log.Warnf("persist local display name: %v", err)
		}
		if err := l.store.SaveConfigDoc("display_name", name); err != nil {
			log.Warnf("persist local display name doc: %v", err)
		}
		l.comp.AnnouncePeerName(name)

	case uiproto.KindConnect:
		l.connect(ctx, cmd.Multiaddr)

	case uiproto.KindMessage:
		l.sendMessage(cmd.Raw)

	case uiproto.KindSetDescription:
		l.comp.SetDescription(cmd.Description)

	case uiproto.KindShowDescription:
		if d := l.comp.Description(); d != nil {
			l.ui.Log(*d)
		} else {
			l.ui.Log("(no description set)")
		}

	case uiproto.KindDHTBootstrap:
		l.runBootstrapRetry(ctx)
		l.ui.Log("bootstrap attempt triggered")

	case uiproto.KindDHTPeers:
		st := l.bootstrap.Status()
		l.ui.Log(fmt.Sprintf("phase=%s attempts=%d peers=%d last_error=%q", st.Phase, st.Attempts, st.PeerCount, st.LastError))

	case uiproto.KindUnknown:
		l.ui.Log(fmt.Sprintf("unrecognized command: %q", cmd.Raw))
	}
}

func (l *Loop) advanceCreation(line string) {
	c := l.creation
	switch c.step {
	case 0:
		c.name = line
	case 1:
		c.header = line
	case 2:
		c.body = line
	case 3:
		c.channel = line
	}
	c.step++
	if c.step >= len(creationSteps) {
		l.createStory(c.name, c.header, c.body, c.channel)
		l.creation = nil
		return
	}
	l.ui.Log(fmt.Sprintf("enter %s:", creationSteps[c.step]))
}

func (l *Loop) createStory(name, header, body, channel string) {
	if _, dup, err := l.store.FindDuplicateStory(name, header, body); err != nil {
		l.ui.Log(fmt.Sprintf("story lookup failed: %v", err))
		return
	} else if dup {
		l.ui.Log("a story with this name/header/body already exists")
		return
	}
	id, err := l.store.InsertStory(storage.Story{
		Name: name, Header: header, Body: body, Public: false, Channel: channel, CreatedAt: time.Now().Unix(),
	})
	if err != nil {
		l.ui.Log(fmt.Sprintf("create story failed: %v", err))
		return
	}
	l.view.storiesDirty = true
	l.ui.Log(fmt.Sprintf("story %d created (not yet public — use 'publish s %d')", id, id))
}

func (l *Loop) publishStory(id int64) {
	s, err := l.store.GetStory(id)
	if err != nil {
		l.ui.Log(fmt.Sprintf("no such story %d", id))
		return
	}
	if err := l.store.SetStoryPublic(id, true); err != nil {
		l.ui.Log(fmt.Sprintf("publish failed: %v", err))
		return
	}
	s.Public = true
	l.view.storiesDirty = true

	select {
	case l.outgoingStories <- toWireStory(s):
	default:
		l.ui.Log("outgoing story queue full, will retry on next publish")
	}
}

func (l *Loop) showStory(id int64) {
	s, err := l.store.GetStory(id)
	if err != nil {
		l.ui.Log(fmt.Sprintf("no such story %d", id))
		return
	}
	l.ui.Log(fmt.Sprintf("[%d] %s — %s\n%s", s.ID, s.Name, s.Header, s.Body))
}

func (l *Loop) handleListStories(target string) {
	switch target {
	case "":
		l.view.storiesDirty = true
	case "all":
		l.comp.PublishListRequest(wire.ListRequestMode{All: true})
		l.ui.Log("list request broadcast to all peers")
	default:
		l.comp.PublishListRequest(wire.ListRequestMode{One: target})
		l.ui.Log(fmt.Sprintf("list request sent to %s", target))
	}
}

func (l *Loop) connect(ctx context.Context, addr string) {
	pi, err := parseConnectTarget(addr)
	if err != nil {
		l.ui.Log(fmt.Sprintf("connect failed: %v", err))
		return
	}
	go func() {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		err := l.breakers.Execute(dialCtx, breaker.OpPeerConnection, func(opCtx context.Context) error {
			return l.sw.Connect(opCtx, pi)
		})
		if err != nil {
			l.ui.Log(fmt.Sprintf("connect to %s failed: %v", pi.ID, err))
		}
	}()
}

func (l *Loop) sendMessage(arg string) {
	_, name, body, ok := l.roster.ParseCommand(arg)
	if !ok {
		l.ui.Log("usage: msg <name> <text> (name must match a known peer)")
		return
	}
	if err := l.relayEng.Send(l.roster.Resolve, name, body); err != nil {
		l.ui.Log(fmt.Sprintf("send to %s failed: %v", name, err))
	}
}

func toWireStory(s storage.Story) wire.Story {
	return wire.Story{
		ID: s.ID, Name: s.Name, Header: s.Header, Body: s.Body,
		Public: s.Public, Channel: s.Channel, CreatedAt: s.CreatedAt, AutoShare: s.AutoShare,
	}
}

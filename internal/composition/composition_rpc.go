package composition

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/storynode/core/internal/breaker"
	"github.com/storynode/core/internal/storage"
	"github.com/storynode/core/internal/swarm"
	"github.com/storynode/core/internal/wire"
)

// handleDirectMessageStream serves the Direct Message RPC (spec.md §6):
// a directly-connected peer delivering a DirectMessage outside the relay
// broadcast path. Accepted as already-authenticated by the transport-level
// connection; recorded and surfaced like a relay-delivered message.
func (c *Composition) handleDirectMessageStream(s network.Stream) {
	defer s.Close()
	_ = s.SetDeadline(time.Now().Add(c.requestTimeout()))

	var req wire.DirectMessageRequest
	if err := readFrame(s, &req); err != nil {
		log.Warnf("direct message rpc: read request: %v", err)
		return
	}

	remote := s.Conn().RemotePeer().String()
	if _, err := c.store.InsertDirectMessage(storage.DirectMessage{
		FromPeerID: remote, FromName: req.FromName,
		ToPeerID: c.localPeerID(), ToName: req.ToName,
		Message: req.Message, Timestamp: req.Timestamp, IsOutgoing: false, Read: false,
	}); err != nil {
		log.Warnf("record direct message rpc: %v", err)
	}
	c.emit(RelayEnvelopeReceived{})

	resp := wire.DirectMessageResponse{Received: true, Timestamp: time.Now().Unix()}
	if err := writeFrame(s, resp); err != nil {
		log.Warnf("direct message rpc: write response: %v", err)
	}
}

// handleNodeDescriptionStream serves the Node Description RPC.
func (c *Composition) handleNodeDescriptionStream(s network.Stream) {
	defer s.Close()
	_ = s.SetDeadline(time.Now().Add(c.requestTimeout()))

	var req wire.NodeDescriptionRequest
	if err := readFrame(s, &req); err != nil {
		log.Warnf("node description rpc: read request: %v", err)
		return
	}

	resp := wire.NodeDescriptionResponse{
		Description: c.currentDescription(),
		FromPeerID:  c.localPeerID(),
		FromName:    c.localName(),
		Timestamp:   time.Now().Unix(),
	}
	if err := writeFrame(s, resp); err != nil {
		log.Warnf("node description rpc: write response: %v", err)
	}
}

// handleStorySyncStream serves the Story Sync RPC (spec.md §4.4 response
// generation).
func (c *Composition) handleStorySyncStream(s network.Stream) {
	defer s.Close()
	_ = s.SetDeadline(time.Now().Add(c.requestTimeout()))

	var req wire.StorySyncRequest
	if err := readFrame(s, &req); err != nil {
		log.Warnf("story sync rpc: read request: %v", err)
		return
	}

	resp, err := c.sync.BuildResponse(req, c.localPeerID(), c.localName(), time.Now().Unix())
	if err != nil {
		log.Warnf("story sync rpc: build response: %v", err)
		return
	}
	if err := writeFrame(s, resp); err != nil {
		log.Warnf("story sync rpc: write response: %v", err)
	}
}

// RequestStorySync dials peerID over the Story Sync RPC, sends a request
// built from lastSyncTimestamp/subscribedChannels, and reconciles the
// response into local storage (spec.md §4.4 request generation), gated by
// the story_sync circuit breaker (spec.md §4.7).
func (c *Composition) RequestStorySync(ctx context.Context, peerID string, lastSyncTimestamp int64, subscribedChannels []string) (newChannels int, err error) {
	runErr := c.breakers.Execute(ctx, breaker.OpStorySync, func(opCtx context.Context) error {
		resp, rerr := c.storySyncRoundTrip(opCtx, peerID, lastSyncTimestamp, subscribedChannels)
		if rerr != nil {
			return rerr
		}
		n, rerr := c.sync.Reconcile(resp)
		if rerr != nil {
			return rerr
		}
		newChannels = n
		c.emit(StorySyncCompleted{PeerID: peerID, NewChannels: newChannels})
		return nil
	})
	return newChannels, runErr
}

func (c *Composition) storySyncRoundTrip(ctx context.Context, peerID string, lastSyncTimestamp int64, subscribedChannels []string) (wire.StorySyncResponse, error) {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return wire.StorySyncResponse{}, fmt.Errorf("decode peer id: %w", err)
	}
	s, err := c.sw.Host.NewStream(ctx, pid, swarm.ProtoStorySync)
	if err != nil {
		return wire.StorySyncResponse{}, fmt.Errorf("open story sync stream: %w", err)
	}
	defer s.Close()
	_ = s.SetDeadline(time.Now().Add(c.requestTimeout()))

	req := c.sync.BuildRequest(c.localPeerID(), c.localName(), lastSyncTimestamp, subscribedChannels, time.Now().Unix())
	if err := writeFrame(s, req); err != nil {
		return wire.StorySyncResponse{}, fmt.Errorf("write story sync request: %w", err)
	}

	var resp wire.StorySyncResponse
	if err := readFrame(s, &resp); err != nil {
		return wire.StorySyncResponse{}, fmt.Errorf("read story sync response: %w", err)
	}
	return resp, nil
}

// RequestNodeDescription dials peerID over the Node Description RPC.
func (c *Composition) RequestNodeDescription(ctx context.Context, peerID string) (wire.NodeDescriptionResponse, error) {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return wire.NodeDescriptionResponse{}, fmt.Errorf("decode peer id: %w", err)
	}
	s, err := c.sw.Host.NewStream(ctx, pid, swarm.ProtoNodeDescription)
	if err != nil {
		return wire.NodeDescriptionResponse{}, fmt.Errorf("open node description stream: %w", err)
	}
	defer s.Close()
	_ = s.SetDeadline(time.Now().Add(c.requestTimeout()))

	req := wire.NodeDescriptionRequest{FromPeerID: c.localPeerID(), FromName: c.localName(), Timestamp: time.Now().Unix()}
	if err := writeFrame(s, req); err != nil {
		return wire.NodeDescriptionResponse{}, fmt.Errorf("write node description request: %w", err)
	}

	var resp wire.NodeDescriptionResponse
	if err := readFrame(s, &resp); err != nil {
		return wire.NodeDescriptionResponse{}, fmt.Errorf("read node description response: %w", err)
	}
	return resp, nil
}

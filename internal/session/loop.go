package session

import (
	"context"
	"log/slog"

	"github.com/theautomat/crewsync/internal/signaling"
	"github.com/theautomat/crewsync/internal/webrtc"
)

// loop is the only goroutine that touches rt. Everything else posts events.
func (s *Session) loop(ctx context.Context, rt *runtime, loopDone chan struct{}) {
	defer close(loopDone)
	defer s.teardown(rt)

	signals := rt.handler.Events()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return

		case ev, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			s.handleSignal(ctx, rt, ev)

		case res := <-rt.rejoin:
			s.finishRejoin(ctx, rt, res)

		case ev := <-rt.manager.Events():
			s.handlePeer(rt, ev)

		case <-rt.tick():
			rt.broadcaster.Tick()
		}

		s.publishLinks(rt.manager)
	}
}

func (s *Session) handleSignal(ctx context.Context, rt *runtime, ev signaling.Event) {
	if rt.rejoin != nil && heldDuringRejoin(ev.Type) {
		rt.deferred = append(rt.deferred, ev)
		return
	}

	m := rt.manager
	primary := rt.role.IsPrimary

	switch ev.Type {
	case signaling.EventPeerJoined:
		if !primary {
			slog.Debug("ignoring peer join on crew session", "peer", ev.PeerID)
			return
		}
		_ = m.Connect(ev.PeerID)

	case signaling.EventOfferReceived:
		if primary {
			slog.Warn("captain ignoring offer", "peer", ev.PeerID)
			return
		}
		_ = m.AcceptOffer(ev.PeerID, ev.SDP)

	case signaling.EventAnswerReceived:
		_ = m.AcceptAnswer(ev.PeerID, ev.SDP)

	case signaling.EventICECandidateReceived:
		_ = m.AddRemoteCandidate(ev.PeerID, ev.Candidate)

	case signaling.EventPeerDisconnected:
		slog.Info("peer left", "peer", ev.PeerID, "room", rt.role.RoomID)
		m.Close(ev.PeerID)

	case signaling.EventPrimaryDisconnected:
		if primary {
			return
		}
		slog.Info("captain left the room", "room", rt.role.RoomID)
		closeLinks(m)

	case signaling.EventRelayError:
		slog.Warn("relay error", "err", ev.Err)

	case signaling.EventConnected:
		rt.connects++
		if rt.connects == 1 {
			return
		}
		s.startRejoin(ctx, rt)

	case signaling.EventConnectionError:
		s.setStatus(StatusReconnecting, ev.Err)

	case signaling.EventDisconnected:
		s.abandonRejoin(rt)
		if ev.Terminal {
			s.setStatus(StatusUnavailable, ev.Err)
			return
		}
		s.setStatus(StatusReconnecting, ev.Err)
	}
}

// heldDuringRejoin reports whether ev depends on the role the pending join
// will assign.
func heldDuringRejoin(t signaling.EventType) bool {
	switch t {
	case signaling.EventPeerJoined,
		signaling.EventOfferReceived,
		signaling.EventAnswerReceived,
		signaling.EventICECandidateReceived,
		signaling.EventPeerDisconnected,
		signaling.EventPrimaryDisconnected:
		return true
	}
	return false
}

// startRejoin joins the room again after a relay reconnect. The relay gave
// the new socket a new id and told the room the old one left, so links
// negotiated under the old id are already gone on the other side.
func (s *Session) startRejoin(ctx context.Context, rt *runtime) {
	s.abandonRejoin(rt)
	slog.Info("relay reconnected, rejoining room", "room", s.opts.RoomID)
	s.setStatus(StatusReconnecting, nil)
	closeLinks(rt.manager)

	joinCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	result := make(chan rejoinResult, 1)
	rt.rejoin = result
	rt.cancelRejoin = cancel

	handler := rt.handler
	room, requestPrimary := s.opts.RoomID, s.opts.RequestPrimary
	go func() {
		role, err := signaling.NewResolver(handler).Resolve(joinCtx, room, requestPrimary)
		result <- rejoinResult{role: role, err: err}
	}()
}

func (s *Session) finishRejoin(ctx context.Context, rt *runtime, res rejoinResult) {
	rt.cancelRejoin()
	rt.rejoin, rt.cancelRejoin = nil, nil
	deferred := rt.deferred
	rt.deferred = nil

	if res.err != nil {
		slog.Warn("failed to rejoin room", "room", s.opts.RoomID, "err", res.err)
		s.setStatus(StatusRoomLost, res.err)
		return
	}

	s.assignRole(rt, res.role)
	s.setStatus(StatusConnected, nil)
	slog.Info("rejoined room", "room", res.role.RoomID, "role", res.role.Role())

	for _, ev := range deferred {
		s.handleSignal(ctx, rt, ev)
	}
}

// abandonRejoin drops a join in flight. Its result, if any, is discarded.
func (s *Session) abandonRejoin(rt *runtime) {
	if rt.rejoin == nil {
		return
	}
	rt.cancelRejoin()
	rt.rejoin, rt.cancelRejoin = nil, nil
	rt.deferred = nil
}

func (s *Session) handlePeer(rt *runtime, ev webrtc.Event) {
	if !rt.manager.Handle(ev) {
		return
	}
	if ev.Type == webrtc.EventMessage && !rt.role.IsPrimary {
		_ = s.receiver.HandleMessage(ev.Data, ev.IsString)
	}
}

func closeLinks(m *webrtc.Manager) {
	for _, info := range m.Links() {
		m.Close(info.PeerID)
	}
}

func (s *Session) teardown(rt *runtime) {
	s.abandonRejoin(rt)
	rt.stopTicker()
	rt.manager.CloseAll()
	rt.handler.Close()
	if err := rt.client.Close(); err != nil {
		slog.Debug("signaling close", "err", err)
	}
	s.publishLinks(rt.manager)
	s.setStatus(StatusClosed, nil)
	slog.Info("session closed", "room", rt.role.RoomID)
}

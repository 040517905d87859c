package signaling

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	pion "github.com/pion/webrtc/v4"

	"github.com/theautomat/crewsync/internal/protocol"
	"github.com/theautomat/crewsync/internal/syncerr"
)

// EventType identifies what an Event carries.
type EventType int

const (
	EventPeerJoined EventType = iota
	EventOfferReceived
	EventAnswerReceived
	EventICECandidateReceived
	EventPeerDisconnected
	EventPrimaryDisconnected
	EventRelayError
	EventConnected
	EventConnectionError
	EventDisconnected
)

var eventNames = map[EventType]string{
	EventPeerJoined:           "peer-joined",
	EventOfferReceived:        "offer-received",
	EventAnswerReceived:       "answer-received",
	EventICECandidateReceived: "ice-candidate-received",
	EventPeerDisconnected:     "peer-disconnected",
	EventPrimaryDisconnected:  "primary-disconnected",
	EventRelayError:           "relay-error",
	EventConnected:            "connected",
	EventConnectionError:      "connection-error",
	EventDisconnected:         "disconnected",
}

func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return "unknown"
}

// Event is one decoded relay message or transport change. Only the fields
// relevant to Type are set.
type Event struct {
	Type EventType

	// PeerID is the remote peer for peer and signal events.
	PeerID string

	// SDP is set for EventOfferReceived and EventAnswerReceived.
	SDP pion.SessionDescription

	// Candidate is set for EventICECandidateReceived.
	Candidate pion.ICECandidateInit

	// Err is set for EventRelayError and transport failures.
	Err error

	// Terminal marks the last EventDisconnected; the client will not reconnect.
	Terminal bool
}

// RoleAssignment is the relay's answer to one join.
type RoleAssignment struct {
	RoomID    string
	IsPrimary bool
}

// Role returns the user-facing role name.
func (r RoleAssignment) Role() string {
	if r.IsPrimary {
		return "captain"
	}
	return "crew"
}

type joinResult struct {
	isPrimary bool
	err       error
}

// Handler routes relay messages onto a single ordered event channel and
// resolves pending joins.
type Handler struct {
	client *Client
	events chan Event
	done   chan struct{}

	mu      sync.Mutex
	pending chan joinResult

	closeOnce sync.Once
}

// NewHandler creates a new message handler for client.
func NewHandler(client *Client) *Handler {
	return &Handler{
		client: client,
		events: make(chan Event, bufferSize),
		done:   make(chan struct{}),
	}
}

// Events returns the event channel. It is closed when Start returns.
func (h *Handler) Events() <-chan Event {
	return h.events
}

// Start routes messages until the client stops or Close is called.
func (h *Handler) Start() {
	defer close(h.events)
	defer h.failPending(syncerr.New("join room", syncerr.ErrSignalingUnavailable))

	incoming := h.client.Incoming()
	status := h.client.Status()

	for incoming != nil || status != nil {
		select {
		case <-h.done:
			return

		case msg, ok := <-incoming:
			if !ok {
				incoming = nil
				continue
			}
			h.route(msg)

		case s, ok := <-status:
			if !ok {
				status = nil
				continue
			}
			h.routeStatus(s)
		}
	}
}

// JoinRoom sends join-room and waits for exactly one role-assigned.
func (h *Handler) JoinRoom(ctx context.Context, roomID string, requestPrimary bool) (RoleAssignment, error) {
	wait := make(chan joinResult, 1)

	h.mu.Lock()
	if h.pending != nil {
		h.mu.Unlock()
		return RoleAssignment{}, syncerr.Wrap("join room", syncerr.ErrAlreadyJoined, "join already in flight")
	}
	h.pending = wait
	h.mu.Unlock()

	msg := protocol.MustNew(protocol.TypeJoinRoom, protocol.JoinRoomPayload{RoomID: roomID, RequestPrimary: requestPrimary})
	if err := h.client.Send(msg); err != nil {
		h.clearPending(wait)
		return RoleAssignment{}, err
	}

	select {
	case res := <-wait:
		if res.err != nil {
			return RoleAssignment{}, res.err
		}
		slog.Info("role assigned", "room", roomID, "primary", res.isPrimary)
		return RoleAssignment{RoomID: roomID, IsPrimary: res.isPrimary}, nil

	case <-ctx.Done():
		h.clearPending(wait)
		return RoleAssignment{}, ctx.Err()

	case <-h.done:
		h.clearPending(wait)
		return RoleAssignment{}, syncerr.New("join room", syncerr.ErrClosed)
	}
}

// Close stops Start. The underlying client is closed by its owner.
func (h *Handler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Handler) route(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeRoleAssigned:
		var p protocol.RoleAssignedPayload
		if err := msg.Decode(&p); err != nil {
			h.resolvePending(joinResult{err: syncerr.New("join room", err)})
			return
		}
		h.resolvePending(joinResult{isPrimary: p.IsPrimary})

	case protocol.TypeNewPeer:
		var p protocol.NewPeerPayload
		if err := msg.Decode(&p); err != nil || p.PeerID == "" {
			slog.Warn("invalid new-peer payload", "err", err)
			return
		}
		h.emit(Event{Type: EventPeerJoined, PeerID: p.PeerID})

	case protocol.TypeOffer:
		var p protocol.OfferPayload
		if err := msg.Decode(&p); err != nil {
			slog.Warn("invalid offer payload", "err", err)
			return
		}
		var sdp pion.SessionDescription
		if err := json.Unmarshal(p.Offer, &sdp); err != nil {
			slog.Warn("invalid offer sdp", "peer", p.OffererID, "err", err)
			return
		}
		h.emit(Event{Type: EventOfferReceived, PeerID: p.OffererID, SDP: sdp})

	case protocol.TypeAnswer:
		var p protocol.AnswerPayload
		if err := msg.Decode(&p); err != nil {
			slog.Warn("invalid answer payload", "err", err)
			return
		}
		var sdp pion.SessionDescription
		if err := json.Unmarshal(p.Answer, &sdp); err != nil {
			slog.Warn("invalid answer sdp", "peer", p.AnswererID, "err", err)
			return
		}
		h.emit(Event{Type: EventAnswerReceived, PeerID: p.AnswererID, SDP: sdp})

	case protocol.TypeICECandidate:
		var p protocol.ICECandidatePayload
		if err := msg.Decode(&p); err != nil {
			slog.Warn("invalid ice-candidate payload", "err", err)
			return
		}
		var candidate pion.ICECandidateInit
		if err := json.Unmarshal(p.Candidate, &candidate); err != nil {
			slog.Warn("invalid ice candidate", "peer", p.SenderID, "err", err)
			return
		}
		h.emit(Event{Type: EventICECandidateReceived, PeerID: p.SenderID, Candidate: candidate})

	case protocol.TypePeerDisconnected:
		var p protocol.PeerDisconnectedPayload
		if err := msg.Decode(&p); err != nil {
			slog.Warn("invalid peer-disconnected payload", "err", err)
			return
		}
		h.emit(Event{Type: EventPeerDisconnected, PeerID: p.PeerID})

	case protocol.TypePrimaryDisconnected:
		h.emit(Event{Type: EventPrimaryDisconnected})

	case protocol.TypeError:
		var p protocol.ErrorPayload
		reason := "unknown error from relay"
		if err := msg.Decode(&p); err == nil && p.Error != "" {
			reason = p.Error
		}
		err := syncerr.Wrap("relay", syncerr.ErrRelayRejected, reason)

		// A rejection during a join answers that join.
		if h.resolvePending(joinResult{err: err}) {
			return
		}
		h.emit(Event{Type: EventRelayError, Err: err})

	default:
		slog.Debug("ignoring relay message", "type", msg.Type)
	}
}

func (h *Handler) routeStatus(s Status) {
	switch s.State {
	case StateConnected:
		h.emit(Event{Type: EventConnected})
	case StateConnectionError:
		h.emit(Event{Type: EventConnectionError, Err: s.Err})
	case StateDisconnected:
		// A join sent on the lost socket will never be answered.
		h.failPending(syncerr.New("join room", syncerr.ErrSignalingUnavailable))
		h.emit(Event{Type: EventDisconnected, Err: s.Err, Terminal: s.Terminal})
	}
}

func (h *Handler) emit(ev Event) {
	select {
	case h.events <- ev:
	case <-h.done:
	}
}

func (h *Handler) resolvePending(res joinResult) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending == nil {
		if res.err == nil {
			slog.Warn("role-assigned without a pending join")
		}
		return false
	}
	h.pending <- res
	h.pending = nil
	return true
}

func (h *Handler) clearPending(wait chan joinResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending == wait {
		h.pending = nil
	}
}

func (h *Handler) failPending(err error) {
	h.resolvePending(joinResult{err: err})
}

package relay

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/theautomat/crewsync/internal/protocol"
)

// Envelope is an inbound message tagged with the client that sent it.
type Envelope struct {
	Client  *Client
	Message *protocol.Message
}

// Hub is the central brain of the relay.
// It owns every room and is the only goroutine that touches them.
type Hub struct {
	// Rooms maps room IDs to Room instances.
	Rooms map[string]*Room

	// Register is a channel for registering new clients.
	Register chan *Client

	// Unregister is a channel for unregistering clients.
	Unregister chan *Client

	// Inbound carries every message read from a client.
	Inbound chan *Envelope

	roomQueries chan chan []RoomInfo
	done        chan struct{}
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		Rooms:       make(map[string]*Room),
		Register:    make(chan *Client),
		Unregister:  make(chan *Client),
		Inbound:     make(chan *Envelope),
		roomQueries: make(chan chan []RoomInfo),
		done:        make(chan struct{}),
	}
}

// Run processes hub events until ctx is cancelled.
// This is the single goroutine that safely manages all state (rooms, clients).
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			slog.Info("relay hub stopped")
			return

		case client := <-h.Register:
			slog.Info("client registered", "peer", client.ID, "addr", client.Conn.RemoteAddr())

		case client := <-h.Unregister:
			h.handleUnregister(client)

		case env := <-h.Inbound:
			h.handleMessage(env.Client, env.Message)

		case reply := <-h.roomQueries:
			infos := make([]RoomInfo, 0, len(h.Rooms))
			for _, room := range h.Rooms {
				infos = append(infos, room.info())
			}
			reply <- infos
		}
	}
}

// RoomInfos returns a copy of the current rooms. It is safe to call from any goroutine.
func (h *Hub) RoomInfos(ctx context.Context) ([]RoomInfo, error) {
	reply := make(chan []RoomInfo, 1)
	select {
	case h.roomQueries <- reply:
	case <-h.done:
		return nil, context.Canceled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case infos := <-reply:
		return infos, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) register(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) dispatch(env *Envelope) bool {
	select {
	case h.Inbound <- env:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) handleUnregister(client *Client) {
	slog.Info("client unregistered", "peer", client.ID)

	if room, ok := h.Rooms[client.RoomID]; ok {
		delete(room.Peers, client.ID)

		wasPrimary := room.PrimaryID == client.ID
		if wasPrimary {
			room.PrimaryID = ""
		}

		if len(room.Peers) == 0 {
			delete(h.Rooms, room.ID)
			slog.Info("room deleted", "room", room.ID)
		} else {
			var notice *protocol.Message
			if wasPrimary {
				notice = protocol.MustNew(protocol.TypePrimaryDisconnected, nil)
			} else {
				notice = protocol.MustNew(protocol.TypePeerDisconnected, protocol.PeerDisconnectedPayload{PeerID: client.ID})
			}
			for _, peer := range room.Peers {
				peer.deliver(notice)
			}
		}
	}

	// Closing Send stops the client's WritePump.
	close(client.Send)
}

func (h *Hub) handleMessage(client *Client, msg *protocol.Message) {
	slog.Debug("relay message", "type", msg.Type, "peer", client.ID)

	switch msg.Type {
	case protocol.TypeJoinRoom:
		h.handleJoin(client, msg)

	case protocol.TypeOffer:
		var p protocol.OfferPayload
		if err := msg.Decode(&p); err != nil {
			h.reject(client, "invalid offer payload")
			return
		}
		target := p.TargetID
		p.TargetID, p.OffererID = "", client.ID
		h.forward(client, target, protocol.TypeOffer, p)

	case protocol.TypeAnswer:
		var p protocol.AnswerPayload
		if err := msg.Decode(&p); err != nil {
			h.reject(client, "invalid answer payload")
			return
		}
		target := p.TargetID
		p.TargetID, p.AnswererID = "", client.ID
		h.forward(client, target, protocol.TypeAnswer, p)

	case protocol.TypeICECandidate:
		var p protocol.ICECandidatePayload
		if err := msg.Decode(&p); err != nil {
			h.reject(client, "invalid ice-candidate payload")
			return
		}
		target := p.TargetID
		p.TargetID, p.SenderID = "", client.ID
		h.forward(client, target, protocol.TypeICECandidate, p)

	default:
		slog.Warn("unknown message type", "type", msg.Type, "peer", client.ID)
	}
}

// handleJoin implements first-primary-wins: the first accepted join that asks
// for the primary slot of a room without a primary gets it.
func (h *Hub) handleJoin(client *Client, msg *protocol.Message) {
	var p protocol.JoinRoomPayload
	if err := msg.Decode(&p); err != nil || p.RoomID == "" {
		h.reject(client, "invalid join-room payload")
		return
	}
	if client.RoomID != "" {
		h.reject(client, "already in a room")
		return
	}

	room, ok := h.Rooms[p.RoomID]
	if !ok {
		room = newRoom(p.RoomID)
		h.Rooms[p.RoomID] = room
		slog.Info("room created", "room", room.ID)
	}
	room.Peers[client.ID] = client
	client.RoomID = room.ID

	isPrimary := p.RequestPrimary && room.PrimaryID == ""
	if isPrimary {
		room.PrimaryID = client.ID
	}
	slog.Info("client joined room", "peer", client.ID, "room", room.ID, "primary", isPrimary)

	client.deliver(protocol.MustNew(protocol.TypeRoleAssigned, protocol.RoleAssignedPayload{IsPrimary: isPrimary}))

	if isPrimary {
		// A primary that arrives late still has to reach the crew already waiting.
		for id := range room.Peers {
			if id != client.ID {
				client.deliver(protocol.MustNew(protocol.TypeNewPeer, protocol.NewPeerPayload{PeerID: id}))
			}
		}
		return
	}
	if primary := room.Primary(); primary != nil {
		primary.deliver(protocol.MustNew(protocol.TypeNewPeer, protocol.NewPeerPayload{PeerID: client.ID}))
	}
}

// forward relays a signal to another peer of the sender's room. The SDP and
// candidate bodies stay opaque.
func (h *Hub) forward(from *Client, targetID, msgType string, payload any) {
	room, ok := h.Rooms[from.RoomID]
	if !ok {
		h.reject(from, "you must join a room first")
		return
	}
	target, ok := room.Peers[targetID]
	if !ok || target == from {
		slog.Warn("signal target not in room", "type", msgType, "from", from.ID, "target", targetID, "room", room.ID)
		h.reject(from, "peer not found")
		return
	}

	out, err := protocol.New(msgType, payload)
	if err != nil {
		slog.Error("re-encode signal", "type", msgType, "err", err)
		return
	}
	target.deliver(out)
}

func (h *Hub) reject(client *Client, reason string) {
	slog.Warn("request rejected", "peer", client.ID, "reason", reason)
	b, _ := json.Marshal(protocol.ErrorPayload{Error: reason})
	client.deliver(&protocol.Message{Type: protocol.TypeError, Payload: b})
}

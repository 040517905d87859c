package protocol

import (
	"encoding/json"
	"fmt"
)

// Message is the envelope for every websocket frame exchanged with the relay.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message type constants. The names are shared with browser clients and must not change.
const (
	TypeJoinRoom            = "join-room"
	TypeRoleAssigned        = "role-assigned"
	TypeNewPeer             = "new-peer"
	TypeOffer               = "offer"
	TypeAnswer              = "answer"
	TypeICECandidate        = "ice-candidate"
	TypePeerDisconnected    = "peer-disconnected"
	TypePrimaryDisconnected = "primary-disconnected"
	TypeError               = "error"
)

// JoinRoomPayload is sent by a client to enter a room.
type JoinRoomPayload struct {
	RoomID         string `json:"roomId"`
	RequestPrimary bool   `json:"requestPrimary"`
}

// RoleAssignedPayload answers exactly one join-room.
type RoleAssignedPayload struct {
	IsPrimary bool `json:"isPrimary"`
}

// NewPeerPayload tells the primary that a secondary is ready for an offer.
type NewPeerPayload struct {
	PeerID string `json:"peerId"`
}

// OfferPayload carries an SDP offer. Clients fill TargetID; the relay
// replaces it with OffererID on delivery.
type OfferPayload struct {
	TargetID  string          `json:"targetId,omitempty"`
	Offer     json.RawMessage `json:"offer"`
	OffererID string          `json:"offererId,omitempty"`
}

// AnswerPayload carries an SDP answer.
type AnswerPayload struct {
	TargetID   string          `json:"targetId,omitempty"`
	Answer     json.RawMessage `json:"answer"`
	AnswererID string          `json:"answererId,omitempty"`
}

// ICECandidatePayload carries one trickled candidate.
type ICECandidatePayload struct {
	TargetID  string          `json:"targetId,omitempty"`
	Candidate json.RawMessage `json:"candidate"`
	SenderID  string          `json:"senderId,omitempty"`
}

// PeerDisconnectedPayload names the peer that left the room.
type PeerDisconnectedPayload struct {
	PeerID string `json:"peerId"`
}

// ErrorPayload is returned by the relay for rejected requests.
type ErrorPayload struct {
	Error string `json:"error"`
}

// New builds a message with the payload marshaled as JSON.
func New(t string, payload any) (*Message, error) {
	if payload == nil {
		return &Message{Type: t, Payload: json.RawMessage(`{}`)}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return &Message{Type: t, Payload: b}, nil
}

// MustNew is New for payloads that cannot fail to marshal.
func MustNew(t string, payload any) *Message {
	msg, err := New(t, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

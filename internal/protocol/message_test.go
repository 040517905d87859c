package protocol

import (
	"encoding/json"
	"testing"
)

func TestMessageWireShapes(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
		want string
	}{
		{
			name: "join-room",
			msg:  MustNew(TypeJoinRoom, JoinRoomPayload{RoomID: "room1", RequestPrimary: true}),
			want: `{"type":"join-room","payload":{"roomId":"room1","requestPrimary":true}}`,
		},
		{
			name: "role-assigned",
			msg:  MustNew(TypeRoleAssigned, RoleAssignedPayload{IsPrimary: false}),
			want: `{"type":"role-assigned","payload":{"isPrimary":false}}`,
		},
		{
			name: "new-peer",
			msg:  MustNew(TypeNewPeer, NewPeerPayload{PeerID: "p2"}),
			want: `{"type":"new-peer","payload":{"peerId":"p2"}}`,
		},
		{
			name: "offer outbound",
			msg:  MustNew(TypeOffer, OfferPayload{TargetID: "p2", Offer: json.RawMessage(`{"type":"offer","sdp":"v=0"}`)}),
			want: `{"type":"offer","payload":{"targetId":"p2","offer":{"type":"offer","sdp":"v=0"}}}`,
		},
		{
			name: "offer delivered",
			msg:  MustNew(TypeOffer, OfferPayload{Offer: json.RawMessage(`{"type":"offer","sdp":"v=0"}`), OffererID: "p1"}),
			want: `{"type":"offer","payload":{"offer":{"type":"offer","sdp":"v=0"},"offererId":"p1"}}`,
		},
		{
			name: "answer delivered",
			msg:  MustNew(TypeAnswer, AnswerPayload{Answer: json.RawMessage(`{"type":"answer","sdp":"v=0"}`), AnswererID: "p2"}),
			want: `{"type":"answer","payload":{"answer":{"type":"answer","sdp":"v=0"},"answererId":"p2"}}`,
		},
		{
			name: "ice-candidate delivered",
			msg:  MustNew(TypeICECandidate, ICECandidatePayload{Candidate: json.RawMessage(`{"candidate":"c"}`), SenderID: "p1"}),
			want: `{"type":"ice-candidate","payload":{"candidate":{"candidate":"c"},"senderId":"p1"}}`,
		},
		{
			name: "peer-disconnected",
			msg:  MustNew(TypePeerDisconnected, PeerDisconnectedPayload{PeerID: "p2"}),
			want: `{"type":"peer-disconnected","payload":{"peerId":"p2"}}`,
		},
		{
			name: "primary-disconnected",
			msg:  MustNew(TypePrimaryDisconnected, nil),
			want: `{"type":"primary-disconnected","payload":{}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("wire=%s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecodeRejectsMissingPayload(t *testing.T) {
	msg := &Message{Type: TypeNewPeer}
	var p NewPeerPayload
	if err := msg.Decode(&p); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	raw := []byte(`{"type":"offer","payload":{"offer":{"type":"offer","sdp":"x"},"offererId":"abc"}}`)
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	var p OfferPayload
	if err := msg.Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.OffererID != "abc" {
		t.Fatalf("OffererID=%q, want abc", p.OffererID)
	}
	if string(p.Offer) != `{"type":"offer","sdp":"x"}` {
		t.Fatalf("Offer=%s", p.Offer)
	}
}

package relay

// Room groups the peers that share one game session. At most one of them holds
// the primary slot.
type Room struct {
	// ID is the opaque identifier chosen by the clients.
	ID string

	// Peers maps peer IDs to connected clients.
	Peers map[string]*Client

	// PrimaryID is the peer holding the primary slot, or "" when vacant.
	PrimaryID string
}

func newRoom(id string) *Room {
	return &Room{
		ID:    id,
		Peers: make(map[string]*Client),
	}
}

// Primary returns the client holding the primary slot, if any.
func (r *Room) Primary() *Client {
	if r.PrimaryID == "" {
		return nil
	}
	return r.Peers[r.PrimaryID]
}

// RoomInfo is a point-in-time view of a room, safe to hand out of the hub loop.
type RoomInfo struct {
	ID        string
	PrimaryID string
	PeerIDs   []string
}

func (r *Room) info() RoomInfo {
	ids := make([]string, 0, len(r.Peers))
	for id := range r.Peers {
		ids = append(ids, id)
	}
	return RoomInfo{ID: r.ID, PrimaryID: r.PrimaryID, PeerIDs: ids}
}

package signaling

import (
	"context"
	"sync"

	"github.com/theautomat/crewsync/internal/syncerr"
)

// Joiner sends one join request and waits for the relay's decision.
type Joiner interface {
	JoinRoom(ctx context.Context, roomID string, requestPrimary bool) (RoleAssignment, error)
}

// Resolver decides the local role for a room. The relay arbitrates; the
// resolver only guarantees a single join per room.
type Resolver struct {
	joiner Joiner

	mu    sync.Mutex
	rooms map[string]*RoleAssignment // nil value: join in flight
}

// NewResolver returns a Resolver joining through j.
func NewResolver(j Joiner) *Resolver {
	return &Resolver{
		joiner: j,
		rooms:  make(map[string]*RoleAssignment),
	}
}

// Resolve joins roomID once and returns the relay's assignment. A second call
// for the same room fails with syncerr.ErrAlreadyJoined. A failed join can be
// retried.
func (r *Resolver) Resolve(ctx context.Context, roomID string, requestPrimary bool) (RoleAssignment, error) {
	r.mu.Lock()
	if _, ok := r.rooms[roomID]; ok {
		r.mu.Unlock()
		return RoleAssignment{}, syncerr.Wrap("resolve role", syncerr.ErrAlreadyJoined, roomID)
	}
	r.rooms[roomID] = nil
	r.mu.Unlock()

	ra, err := r.joiner.JoinRoom(ctx, roomID, requestPrimary)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		delete(r.rooms, roomID)
		return RoleAssignment{}, err
	}
	r.rooms[roomID] = &ra
	return ra, nil
}

// Assignment returns the resolved role for roomID, if any.
func (r *Resolver) Assignment(roomID string) (RoleAssignment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ra := r.rooms[roomID]
	if ra == nil {
		return RoleAssignment{}, false
	}
	return *ra, true
}

package game

import (
	"sync"

	"github.com/theautomat/crewsync/internal/state"
)

// Summary is what the crew view shows of the mirrored world.
type Summary struct {
	Phase     state.Phase
	Player    state.Vec3
	HasPlayer bool
	Asteroids int
	Enemies   int
	Ores      int
	Bullets   int

	Applied   uint64
	LatencyMs int64
	Timestamp int64
}

// Mirror holds the latest snapshot received from the captain. Snapshots
// replace each other wholesale; nothing is interpolated.
type Mirror struct {
	mu      sync.RWMutex
	current *state.Snapshot
	applied uint64
	latency int64
}

func NewMirror() *Mirror {
	return &Mirror{}
}

// Apply has the signature of a state handler so it can be registered with
// Session.OnStateReceived directly.
func (m *Mirror) Apply(snap *state.Snapshot, count uint64, latencyMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = snap
	m.applied = count
	m.latency = latencyMs
}

// Snapshot returns the current snapshot, if any has arrived.
func (m *Mirror) Snapshot() (*state.Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.current != nil
}

func (m *Mirror) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Summary{Applied: m.applied, LatencyMs: m.latency}
	if m.current == nil {
		return s
	}
	snap := m.current
	s.Phase = snap.CurrentState
	s.Timestamp = snap.Timestamp
	if snap.PlayerPosition != nil {
		s.Player = *snap.PlayerPosition
		s.HasPlayer = true
	}
	s.Asteroids = len(snap.Asteroids)
	s.Enemies = len(snap.Enemies)
	s.Ores = len(snap.Ores)
	s.Bullets = len(snap.Bullets)
	return s
}

// Package game is a small stand-in for the real game: a World the captain
// simulates and a Mirror the crew renders from.
package game

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/theautomat/crewsync/internal/state"
)

const (
	fieldRadius   = 200.0
	playerOrbit   = 40.0
	playerSpeed   = 0.5 // radians per second
	bulletSpeed   = 120.0
	bulletRange   = 150.0
	asteroidDrift = 4.0
	enemySpeed    = 10.0

	defaultAsteroids = 24
	defaultEnemies   = 4
	defaultOres      = 8
)

var asteroidTypes = []string{"small", "medium", "large"}
var enemyTypes = []string{"drone", "fighter"}

// WorldOptions size the initial field.
type WorldOptions struct {
	Seed      uint64
	Asteroids int
	Enemies   int
	Ores      int
}

// World is an authoritative simulation. It is safe for concurrent use:
// Run steps it while a session collects from it.
type World struct {
	clock clockwork.Clock
	opts  WorldOptions

	mu      sync.Mutex
	rng     *rand.Rand
	phase   state.Phase
	elapsed float64
	nextID  int
	fired   float64

	player    state.Vec3
	rotation  state.Quat
	asteroids []state.Asteroid
	drift     []state.Vec3
	enemies   []state.Enemy
	ores      []state.Ore
	bullets   []bullet
}

type bullet struct {
	pos, vel state.Vec3
	travel   float64
}

func NewWorld(clock clockwork.Clock, opts WorldOptions) *World {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if opts.Asteroids <= 0 {
		opts.Asteroids = defaultAsteroids
	}
	if opts.Enemies < 0 {
		opts.Enemies = 0
	} else if opts.Enemies == 0 {
		opts.Enemies = defaultEnemies
	}
	if opts.Ores <= 0 {
		opts.Ores = defaultOres
	}
	return &World{
		clock:    clock,
		opts:     opts,
		rng:      rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		phase:    state.PhaseMenu,
		rotation: state.Quat{0, 0, 0, 1},
	}
}

// Phase returns the current game phase.
func (w *World) Phase() state.Phase {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.phase
}

// Start populates the field and begins play. Starting a running game resets it.
func (w *World) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.phase = state.PhasePlaying
	w.elapsed = 0
	w.fired = 0
	w.player = state.Vec3{playerOrbit, 0, 0}
	w.rotation = state.Quat{0, 0, 0, 1}
	w.bullets = nil

	w.asteroids = make([]state.Asteroid, w.opts.Asteroids)
	w.drift = make([]state.Vec3, w.opts.Asteroids)
	for i := range w.asteroids {
		w.asteroids[i] = state.Asteroid{
			ID:       w.newID("a"),
			Position: w.randomPoint(),
			Type:     asteroidTypes[w.rng.IntN(len(asteroidTypes))],
		}
		w.drift[i] = w.randomDirection(asteroidDrift)
	}

	w.enemies = make([]state.Enemy, w.opts.Enemies)
	for i := range w.enemies {
		w.enemies[i] = state.Enemy{
			ID:       w.newID("e"),
			Position: w.randomPoint(),
			Type:     enemyTypes[w.rng.IntN(len(enemyTypes))],
		}
	}

	w.ores = make([]state.Ore, w.opts.Ores)
	for i := range w.ores {
		w.ores[i] = state.Ore{ID: w.newID("o"), Position: w.randomPoint()}
	}
}

// End moves the game to game over. The field stays as it was.
func (w *World) End() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.phase == state.PhasePlaying {
		w.phase = state.PhaseGameOver
	}
}

// Step advances the simulation by dt. It does nothing unless playing.
func (w *World) Step(dt time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.phase != state.PhasePlaying || dt <= 0 {
		return
	}
	sec := dt.Seconds()
	w.elapsed += sec

	// The ship circles the origin, facing along its path.
	angle := w.elapsed * playerSpeed
	w.player = state.Vec3{playerOrbit * math.Cos(angle), 0, playerOrbit * math.Sin(angle)}
	half := -(angle + math.Pi/2) / 2
	w.rotation = state.Quat{0, math.Sin(half), 0, math.Cos(half)}

	for i := range w.asteroids {
		w.asteroids[i].Position = wrap(add(w.asteroids[i].Position, scale(w.drift[i], sec)))
	}
	for i := range w.enemies {
		w.enemies[i].Position = approach(w.enemies[i].Position, w.player, enemySpeed*sec)
	}

	w.bullets = slices.DeleteFunc(w.bullets, func(b bullet) bool { return b.travel >= bulletRange })
	for i := range w.bullets {
		w.bullets[i].pos = add(w.bullets[i].pos, scale(w.bullets[i].vel, sec))
		w.bullets[i].travel += bulletSpeed * sec
	}

	// One shot per second along the heading.
	if w.elapsed-w.fired >= 1 {
		w.fired = w.elapsed
		heading := state.Vec3{-math.Sin(angle), 0, math.Cos(angle)}
		w.bullets = append(w.bullets, bullet{pos: w.player, vel: scale(heading, bulletSpeed)})
	}
}

// CollectState returns the current world. ok is false outside of play.
func (w *World) CollectState() (state.Snapshot, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.phase != state.PhasePlaying {
		return state.Snapshot{}, false
	}

	player := w.player
	rotation := w.rotation
	bullets := make([]state.Bullet, len(w.bullets))
	for i, b := range w.bullets {
		bullets[i] = state.Bullet{Position: b.pos}
	}

	return state.Snapshot{
		Version:        state.SnapshotVersion,
		Timestamp:      w.clock.Now().UnixMilli(),
		PlayerPosition: &player,
		PlayerRotation: &rotation,
		CurrentState:   w.phase,
		Asteroids:      slices.Clone(w.asteroids),
		Enemies:        slices.Clone(w.enemies),
		Ores:           slices.Clone(w.ores),
		Bullets:        bullets,
	}, true
}

// Run steps the world every interval until ctx ends.
func (w *World) Run(ctx context.Context, interval time.Duration) {
	ticker := w.clock.NewTicker(interval)
	defer ticker.Stop()

	last := w.clock.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.Chan():
			w.Step(now.Sub(last))
			last = now
		}
	}
}

func (w *World) newID(prefix string) state.EntityID {
	w.nextID++
	return state.EntityID(fmt.Sprintf("%s%d", prefix, w.nextID))
}

func (w *World) randomPoint() state.Vec3 {
	return state.Vec3{
		(w.rng.Float64()*2 - 1) * fieldRadius,
		(w.rng.Float64()*2 - 1) * fieldRadius / 4,
		(w.rng.Float64()*2 - 1) * fieldRadius,
	}
}

func (w *World) randomDirection(speed float64) state.Vec3 {
	theta := w.rng.Float64() * 2 * math.Pi
	return state.Vec3{speed * math.Cos(theta), 0, speed * math.Sin(theta)}
}

func add(a, b state.Vec3) state.Vec3 {
	return state.Vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

func scale(v state.Vec3, k float64) state.Vec3 {
	return state.Vec3{v[0] * k, v[1] * k, v[2] * k}
}

func approach(from, to state.Vec3, step float64) state.Vec3 {
	d := state.Vec3{to[0] - from[0], to[1] - from[1], to[2] - from[2]}
	dist := math.Sqrt(d[0]*d[0] + d[1]*d[1] + d[2]*d[2])
	if dist <= step || dist == 0 {
		return to
	}
	return add(from, scale(d, step/dist))
}

// wrap keeps positions inside the field by folding them to the other side.
func wrap(v state.Vec3) state.Vec3 {
	for _, i := range []int{0, 2} {
		switch {
		case v[i] > fieldRadius:
			v[i] -= 2 * fieldRadius
		case v[i] < -fieldRadius:
			v[i] += 2 * fieldRadius
		}
	}
	return v
}

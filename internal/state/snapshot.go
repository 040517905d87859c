package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/theautomat/crewsync/internal/syncerr"
)

// SnapshotVersion is the current snapshot layout.
const SnapshotVersion = 1

// Vec3 is an [x, y, z] position.
type Vec3 [3]float64

// Quat is an [x, y, z, w] rotation.
type Quat [4]float64

// Phase is the game's top-level state label.
type Phase string

const (
	PhaseMenu     Phase = "menu"
	PhasePlaying  Phase = "playing"
	PhaseGameOver Phase = "gameOver"
)

// EntityID identifies an entity within one snapshot. Browser peers send
// numeric ids; they are kept as their decimal text.
type EntityID string

// UnmarshalJSON accepts both strings and numbers.
func (id *EntityID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = EntityID(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("entity id must be a string or number: %w", err)
		}
		*id = EntityID(n.String())
		return nil
	}
}

// DecodeMsgpack accepts both strings and integers.
func (id *EntityID) DecodeMsgpack(dec *msgpack.Decoder) error {
	v, err := dec.DecodeInterfaceLoose()
	if err != nil {
		return err
	}
	switch v := v.(type) {
	case nil:
		*id = ""
	case string:
		*id = EntityID(v)
	case int64:
		*id = EntityID(strconv.FormatInt(v, 10))
	case uint64:
		*id = EntityID(strconv.FormatUint(v, 10))
	case float64:
		*id = EntityID(strconv.FormatFloat(v, 'f', -1, 64))
	default:
		return fmt.Errorf("entity id must be a string or number, got %T", v)
	}
	return nil
}

// Asteroid is a drifting rock. Type is optional.
type Asteroid struct {
	ID       EntityID `json:"id"`
	Position Vec3     `json:"position"`
	Type     string   `json:"type,omitempty"`
}

// Enemy is a hostile ship.
type Enemy struct {
	ID       EntityID `json:"id"`
	Position Vec3     `json:"position"`
	Type     string   `json:"type"`
}

// Ore is a collectible.
type Ore struct {
	ID       EntityID `json:"id"`
	Position Vec3     `json:"position"`
}

// Bullet is a projectile in flight.
type Bullet struct {
	Position Vec3 `json:"position"`
}

// Snapshot is one complete picture of the captain's world. It always
// replaces the previous one; it is never patched.
type Snapshot struct {
	Version        int        `json:"version,omitempty"`
	Timestamp      int64      `json:"timestamp"`
	PlayerPosition *Vec3      `json:"playerPosition,omitempty"`
	PlayerRotation *Quat      `json:"playerRotation,omitempty"`
	CurrentState   Phase      `json:"currentState,omitempty"`
	Asteroids      []Asteroid `json:"asteroids"`
	Enemies        []Enemy    `json:"enemies"`
	Ores           []Ore      `json:"ores"`
	Bullets        []Bullet   `json:"bullets"`
}

// wire returns a shallow copy with every entity list present, so peers
// always see arrays and never null.
func (s *Snapshot) wire() *Snapshot {
	out := *s
	if out.Asteroids == nil {
		out.Asteroids = []Asteroid{}
	}
	if out.Enemies == nil {
		out.Enemies = []Enemy{}
	}
	if out.Ores == nil {
		out.Ores = []Ore{}
	}
	if out.Bullets == nil {
		out.Bullets = []Bullet{}
	}
	return &out
}

// Validate reports missing fields peers expect. The result is a warning:
// the snapshot is still usable.
func (s *Snapshot) Validate() error {
	var errs []error
	if s.PlayerPosition == nil {
		errs = append(errs, fmt.Errorf("%w: missing playerPosition", syncerr.ErrValidation))
	}
	if s.Asteroids == nil {
		errs = append(errs, fmt.Errorf("%w: missing asteroids", syncerr.ErrValidation))
	}
	return errors.Join(errs...)
}

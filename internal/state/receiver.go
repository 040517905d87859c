package state

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
)

// Handler is called for every accepted snapshot with the running receive
// count and the one-way latency estimate in milliseconds.
type Handler func(snap *Snapshot, count uint64, latencyMs int64)

// Record is the receiver's view of the stream so far. LastSnapshot is
// shared and must not be modified.
type Record struct {
	ReceivedCount uint64
	LatencyMs     int64
	LastSnapshot  *Snapshot
}

// Receiver decodes incoming snapshots and keeps the latest one.
//
// Latency is the local clock minus the sender's timestamp. It assumes both
// clocks agree and may be negative when they do not.
type Receiver struct {
	clock clockwork.Clock

	mu       sync.Mutex
	record   Record
	handlers []Handler

	// dropped counts undecodable messages. It lives outside Record, which a
	// bad message never touches.
	dropped atomic.Uint64
}

func NewReceiver(clock clockwork.Clock) *Receiver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Receiver{clock: clock}
}

// OnStateReceived registers fn for every accepted snapshot.
func (r *Receiver) OnStateReceived(fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, fn)
}

// HandleMessage decodes one data channel message: text as JSON, binary as
// msgpack. Messages that fail to decode are dropped and not counted.
func (r *Receiver) HandleMessage(data []byte, isString bool) error {
	codec := DecoderFor(isString)
	snap, err := codec.Decode(data)
	if err != nil {
		r.dropped.Add(1)
		slog.Warn("dropping undecodable snapshot", "codec", codec.Name(), "bytes", len(data), "err", err)
		return err
	}
	if err := snap.Validate(); err != nil {
		slog.Debug("received incomplete snapshot", "err", err)
	}

	latency := r.clock.Now().UnixMilli() - snap.Timestamp

	r.mu.Lock()
	r.record.ReceivedCount++
	r.record.LatencyMs = latency
	r.record.LastSnapshot = snap
	count := r.record.ReceivedCount
	handlers := slices.Clone(r.handlers)
	r.mu.Unlock()

	for _, fn := range handlers {
		fn(snap, count, latency)
	}
	return nil
}

// Record returns a copy of the current receive statistics.
func (r *Receiver) Record() Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record
}

// Dropped returns the number of messages that could not be decoded.
func (r *Receiver) Dropped() uint64 {
	return r.dropped.Load()
}

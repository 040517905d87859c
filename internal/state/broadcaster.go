package state

import (
	"log/slog"
	"sync/atomic"
)

// Collector produces the captain's current world. ok is false when there
// is nothing worth sending, e.g. before the game has started.
type Collector interface {
	CollectState() (snap Snapshot, ok bool)
}

// CollectorFunc adapts a function to a Collector.
type CollectorFunc func() (Snapshot, bool)

func (f CollectorFunc) CollectState() (Snapshot, bool) { return f() }

// Channel is an open snapshot channel to one peer.
type Channel interface {
	PeerID() string
	Send(data []byte) error
	SendText(text string) error
}

// ChannelSource lists the channels currently open.
type ChannelSource interface {
	OpenChannels() []Channel
}

// ChannelSourceFunc adapts a function to a ChannelSource.
type ChannelSourceFunc func() []Channel

func (f ChannelSourceFunc) OpenChannels() []Channel { return f() }

// Broadcaster sends one snapshot per tick to every open channel.
type Broadcaster struct {
	collector Collector
	channels  ChannelSource
	codec     Codec

	sent  atomic.Uint64
	ticks atomic.Uint64
}

func NewBroadcaster(collector Collector, channels ChannelSource, codec Codec) *Broadcaster {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &Broadcaster{
		collector: collector,
		channels:  channels,
		codec:     codec,
	}
}

// Tick collects and sends one snapshot, returning how many peers it reached.
// The collector is not consulted when no channel is open. A failing peer
// does not stop delivery to the others.
func (b *Broadcaster) Tick() int {
	channels := b.channels.OpenChannels()
	if len(channels) == 0 {
		return 0
	}

	snap, ok := b.collector.CollectState()
	if !ok {
		return 0
	}
	b.ticks.Add(1)

	if err := snap.Validate(); err != nil {
		slog.Warn("broadcasting incomplete snapshot", "err", err)
	}

	payload, err := b.codec.Encode(&snap)
	if err != nil {
		slog.Error("failed to encode snapshot", "codec", b.codec.Name(), "err", err)
		return 0
	}

	delivered := 0
	for _, ch := range channels {
		if b.codec.Binary() {
			err = ch.Send(payload)
		} else {
			err = ch.SendText(string(payload))
		}
		if err != nil {
			slog.Warn("failed to send snapshot", "peer", ch.PeerID(), "err", err)
			continue
		}
		delivered++
	}

	b.sent.Add(uint64(delivered))
	return delivered
}

// Sent is the total number of per-peer deliveries.
func (b *Broadcaster) Sent() uint64 { return b.sent.Load() }

// Ticks is the number of snapshots collected and broadcast.
func (b *Broadcaster) Ticks() uint64 { return b.ticks.Load() }

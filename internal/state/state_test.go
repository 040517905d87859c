package state

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/theautomat/crewsync/internal/syncerr"
)

func sampleSnapshot() Snapshot {
	pos := Vec3{1, 2, 3}
	rot := Quat{0, 0, 0, 1}
	return Snapshot{
		Version:        SnapshotVersion,
		Timestamp:      1000,
		PlayerPosition: &pos,
		PlayerRotation: &rot,
		CurrentState:   PhasePlaying,
		Asteroids:      []Asteroid{{ID: "a1", Position: Vec3{5, 0, -2}, Type: "large"}},
		Enemies:        []Enemy{{ID: "e1", Position: Vec3{0, 1, 0}, Type: "fighter"}},
		Ores:           []Ore{{ID: "o1", Position: Vec3{3, 3, 3}}},
		Bullets:        []Bullet{{Position: Vec3{0.5, 0.25, 0}}},
	}
}

func TestCodecs_RoundTrip(t *testing.T) {
	for _, codec := range []Codec{JSONCodec{}, MsgpackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			in := sampleSnapshot()
			data, err := codec.Encode(&in)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			out, err := codec.Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !reflect.DeepEqual(&in, out) {
				t.Fatalf("round trip mismatch:\n in=%+v\nout=%+v", in, *out)
			}
		})
	}
}

func TestJSONCodec_WireShape(t *testing.T) {
	pos := Vec3{1, 2, 3}
	s := Snapshot{Timestamp: 1000, PlayerPosition: &pos, Asteroids: []Asteroid{}}
	data, err := JSONCodec{}.Encode(&s)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `{"timestamp":1000,"playerPosition":[1,2,3],"asteroids":[],"enemies":[],"ores":[],"bullets":[]}`
	if string(data) != want {
		t.Fatalf("got  %s\nwant %s", data, want)
	}
}

func TestCodecs_NilListsEncodeEmpty(t *testing.T) {
	pos := Vec3{0, 0, 0}
	s := Snapshot{Timestamp: 7, PlayerPosition: &pos}

	data, err := JSONCodec{}.Encode(&s)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if strings.Contains(string(data), "null") {
		t.Fatalf("nil lists leaked as null: %s", data)
	}
	if s.Asteroids != nil || s.Enemies != nil {
		t.Fatalf("Encode modified the caller's snapshot")
	}

	for _, codec := range []Codec{JSONCodec{}, MsgpackCodec{}} {
		data, err := codec.Encode(&s)
		if err != nil {
			t.Fatalf("%s Encode: %v", codec.Name(), err)
		}
		out, err := codec.Decode(data)
		if err != nil {
			t.Fatalf("%s Decode: %v", codec.Name(), err)
		}
		if len(out.Asteroids)+len(out.Enemies)+len(out.Ores)+len(out.Bullets) != 0 {
			t.Fatalf("%s: lists should be empty: %+v", codec.Name(), out)
		}
	}
}

func TestJSONCodec_AcceptsNumericIDs(t *testing.T) {
	data := []byte(`{"timestamp":5,"playerPosition":[0,0,0],"asteroids":[{"id":42,"position":[1,1,1]}],"enemies":[{"id":"x","position":[0,0,0],"type":"drone"}]}`)
	s, err := JSONCodec{}.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if s.Asteroids[0].ID != "42" || s.Enemies[0].ID != "x" {
		t.Fatalf("ids=%q,%q", s.Asteroids[0].ID, s.Enemies[0].ID)
	}
	if s.Asteroids[0].Type != "" {
		t.Fatalf("absent asteroid type should stay empty")
	}
}

func TestMsgpackCodec_AcceptsNumericIDs(t *testing.T) {
	raw := map[string]any{
		"timestamp":      int64(7),
		"playerPosition": []float64{1, 2, 3},
		"asteroids": []map[string]any{
			{"id": 9, "position": []float64{0, 0, 0}},
		},
	}
	data, err := msgpack.Marshal(raw)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s, err := MsgpackCodec{}.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(s.Asteroids) != 1 || s.Asteroids[0].ID != "9" {
		t.Fatalf("asteroids=%+v", s.Asteroids)
	}
}

func TestCodecs_RejectGarbage(t *testing.T) {
	for _, tc := range []struct {
		codec Codec
		data  string
	}{
		{JSONCodec{}, "not json"},
		{JSONCodec{}, "null"},
		{JSONCodec{}, "[1,2,3]"},
		{JSONCodec{}, `{"timestamp":"soon"}`},
		{MsgpackCodec{}, "\xc1"},
	} {
		if _, err := tc.codec.Decode([]byte(tc.data)); !errors.Is(err, syncerr.ErrSerialization) {
			t.Errorf("%s Decode(%q) err=%v, want ErrSerialization", tc.codec.Name(), tc.data, err)
		}
	}
}

func TestCodecByName(t *testing.T) {
	for name, want := range map[string]string{"": "json", "json": "json", "msgpack": "msgpack"} {
		c, err := CodecByName(name)
		if err != nil || c.Name() != want {
			t.Errorf("CodecByName(%q)=%v,%v", name, c, err)
		}
	}
	if _, err := CodecByName("protobuf"); err == nil {
		t.Errorf("expected error for unknown codec")
	}
}

func TestSnapshot_Validate(t *testing.T) {
	s := sampleSnapshot()
	if err := s.Validate(); err != nil {
		t.Fatalf("complete snapshot: %v", err)
	}

	var empty Snapshot
	err := empty.Validate()
	if !errors.Is(err, syncerr.ErrValidation) {
		t.Fatalf("empty snapshot err=%v", err)
	}

	s.Asteroids = []Asteroid{}
	if err := s.Validate(); err != nil {
		t.Fatalf("an empty asteroid list is present: %v", err)
	}
}

type fakeChannel struct {
	id    string
	fail  bool
	texts []string
	bins  [][]byte
}

func (f *fakeChannel) PeerID() string { return f.id }

func (f *fakeChannel) Send(data []byte) error {
	if f.fail {
		return errors.New("boom")
	}
	f.bins = append(f.bins, data)
	return nil
}

func (f *fakeChannel) SendText(text string) error {
	if f.fail {
		return errors.New("boom")
	}
	f.texts = append(f.texts, text)
	return nil
}

func channels(chs ...*fakeChannel) ChannelSource {
	return ChannelSourceFunc(func() []Channel {
		out := make([]Channel, len(chs))
		for i, c := range chs {
			out[i] = c
		}
		return out
	})
}

func TestBroadcaster_NoChannelsSkipsCollector(t *testing.T) {
	calls := 0
	b := NewBroadcaster(CollectorFunc(func() (Snapshot, bool) {
		calls++
		return sampleSnapshot(), true
	}), channels(), JSONCodec{})

	if n := b.Tick(); n != 0 {
		t.Fatalf("Tick=%d", n)
	}
	if calls != 0 {
		t.Fatalf("collector called %d times with no open channels", calls)
	}
}

func TestBroadcaster_CollectorNotReady(t *testing.T) {
	ch := &fakeChannel{id: "p1"}
	b := NewBroadcaster(CollectorFunc(func() (Snapshot, bool) {
		return Snapshot{}, false
	}), channels(ch), JSONCodec{})

	if n := b.Tick(); n != 0 || len(ch.texts) != 0 {
		t.Fatalf("Tick=%d texts=%d", n, len(ch.texts))
	}
	if b.Ticks() != 0 {
		t.Fatalf("Ticks=%d", b.Ticks())
	}
}

func TestBroadcaster_FailingPeerDoesNotStopOthers(t *testing.T) {
	good1 := &fakeChannel{id: "p1"}
	bad := &fakeChannel{id: "p2", fail: true}
	good2 := &fakeChannel{id: "p3"}

	b := NewBroadcaster(CollectorFunc(func() (Snapshot, bool) {
		return sampleSnapshot(), true
	}), channels(good1, bad, good2), JSONCodec{})

	if n := b.Tick(); n != 2 {
		t.Fatalf("Tick=%d, want 2", n)
	}
	if len(good1.texts) != 1 || len(good2.texts) != 1 || good1.texts[0] != good2.texts[0] {
		t.Fatalf("good peers should get the same text payload")
	}
	if b.Sent() != 2 || b.Ticks() != 1 {
		t.Fatalf("Sent=%d Ticks=%d", b.Sent(), b.Ticks())
	}
}

func TestBroadcaster_BinaryCodecSendsBinary(t *testing.T) {
	ch := &fakeChannel{id: "p1"}
	b := NewBroadcaster(CollectorFunc(func() (Snapshot, bool) {
		return sampleSnapshot(), true
	}), channels(ch), MsgpackCodec{})

	b.Tick()
	if len(ch.bins) != 1 || len(ch.texts) != 0 {
		t.Fatalf("bins=%d texts=%d", len(ch.bins), len(ch.texts))
	}
	s, err := MsgpackCodec{}.Decode(ch.bins[0])
	if err != nil || s.Timestamp != 1000 {
		t.Fatalf("decode sent payload: %v %+v", err, s)
	}
}

func TestBroadcaster_IncompleteSnapshotStillSent(t *testing.T) {
	ch := &fakeChannel{id: "p1"}
	b := NewBroadcaster(CollectorFunc(func() (Snapshot, bool) {
		return Snapshot{Timestamp: 1}, true
	}), channels(ch), nil)

	if n := b.Tick(); n != 1 {
		t.Fatalf("Tick=%d, want 1", n)
	}
}

func TestReceiver_TracksCountAndLatency(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1250))
	r := NewReceiver(clock)

	var gotCount uint64
	var gotLatency int64
	r.OnStateReceived(func(snap *Snapshot, count uint64, latencyMs int64) {
		gotCount, gotLatency = count, latencyMs
	})

	if err := r.HandleMessage([]byte(`{"timestamp":1000,"playerPosition":[1,2,3],"asteroids":[]}`), true); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if gotCount != 1 || gotLatency != 250 {
		t.Fatalf("handler got count=%d latency=%d", gotCount, gotLatency)
	}

	clock.Advance(10 * time.Millisecond)
	s := sampleSnapshot()
	s.Timestamp = 1200
	data, err := MsgpackCodec{}.Encode(&s)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := r.HandleMessage(data, false); err != nil {
		t.Fatalf("HandleMessage binary: %v", err)
	}

	rec := r.Record()
	if rec.ReceivedCount != 2 || rec.LatencyMs != 60 {
		t.Fatalf("record=%+v", rec)
	}
	if !reflect.DeepEqual(rec.LastSnapshot, &s) {
		t.Fatalf("last snapshot mismatch: %+v", rec.LastSnapshot)
	}
}

func TestReceiver_DropsUndecodable(t *testing.T) {
	r := NewReceiver(clockwork.NewFakeClock())
	called := false
	r.OnStateReceived(func(*Snapshot, uint64, int64) { called = true })

	if err := r.HandleMessage([]byte("{oops"), true); !errors.Is(err, syncerr.ErrSerialization) {
		t.Fatalf("err=%v", err)
	}
	// Text is always JSON, even when the bytes happen to be msgpack.
	s := sampleSnapshot()
	bin, _ := MsgpackCodec{}.Encode(&s)
	if err := r.HandleMessage(bin, true); err == nil {
		t.Fatalf("msgpack delivered as text should not decode")
	}

	if rec := r.Record(); rec != (Record{}) {
		t.Fatalf("a dropped message changed the record: %+v", rec)
	}
	if r.Dropped() != 2 {
		t.Fatalf("dropped=%d, want 2", r.Dropped())
	}
	if called {
		t.Fatalf("handler called for a dropped message")
	}
}

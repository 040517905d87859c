package state

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/theautomat/crewsync/internal/syncerr"
)

// Codec turns snapshots into data channel payloads.
type Codec interface {
	Name() string

	// Binary reports whether payloads go out as binary messages rather than text.
	Binary() bool

	Encode(s *Snapshot) ([]byte, error)
	Decode(data []byte) (*Snapshot, error)
}

// JSONCodec is the default wire format, understood by browser peers.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }
func (JSONCodec) Binary() bool { return false }

func (JSONCodec) Encode(s *Snapshot) ([]byte, error) {
	b, err := json.Marshal(s.wire())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", syncerr.ErrSerialization, err)
	}
	return b, nil
}

func (JSONCodec) Decode(data []byte) (*Snapshot, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: payload is not a JSON object", syncerr.ErrSerialization)
	}
	var s Snapshot
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", syncerr.ErrSerialization, err)
	}
	return &s, nil
}

// MsgpackCodec is a compact binary format for Go-to-Go sessions. Field
// names match the JSON layout.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }
func (MsgpackCodec) Binary() bool { return true }

func (MsgpackCodec) Encode(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.UseCompactInts(true)
	if err := enc.Encode(s.wire()); err != nil {
		return nil, fmt.Errorf("%w: %w", syncerr.ErrSerialization, err)
	}
	return buf.Bytes(), nil
}

func (MsgpackCodec) Decode(data []byte) (*Snapshot, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	var s Snapshot
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %w", syncerr.ErrSerialization, err)
	}
	return &s, nil
}

// CodecByName returns the codec for a configuration value.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// DecoderFor picks the decoder by message kind: text is JSON, binary is msgpack.
func DecoderFor(isString bool) Codec {
	if isString {
		return JSONCodec{}
	}
	return MsgpackCodec{}
}

package engine

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MarshalSnapshot encodes a snapshot as msgpack, reusing the json field names.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalSnapshot decodes a snapshot produced by MarshalSnapshot.
func UnmarshalSnapshot(b []byte) (*Snapshot, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	var s Snapshot
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}

// cloneSnapshot deep-copies a snapshot so a step never mutates its base.
func cloneSnapshot(s *Snapshot) (*Snapshot, error) {
	if s == nil {
		return &Snapshot{}, nil
	}
	b, err := MarshalSnapshot(s)
	if err != nil {
		return nil, err
	}
	return UnmarshalSnapshot(b)
}

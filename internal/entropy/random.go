// Package entropy provides the seeded random source threaded through a simulation step.
// Its state is saved with the world so a step can be replayed from its snapshot and inputs.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	mrand "math/rand/v2"
)

// Source is a deterministic, serializable random number generator.
// Not safe for concurrent use; each world owns one.
type Source struct {
	pcg *mrand.PCG
	rng *mrand.Rand
}

// New creates a source from a seed.
func New(seed uint64) *Source {
	pcg := mrand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	return &Source{pcg: pcg, rng: mrand.New(pcg)}
}

// Restore rebuilds a source from state produced by MarshalBinary.
// Empty state yields a source seeded from crypto/rand.
func Restore(state []byte) (*Source, error) {
	if len(state) == 0 {
		return New(NewSeed()), nil
	}
	pcg := &mrand.PCG{}
	if err := pcg.UnmarshalBinary(state); err != nil {
		return nil, fmt.Errorf("restore entropy: %w", err)
	}
	return &Source{pcg: pcg, rng: mrand.New(pcg)}, nil
}

// MarshalBinary returns the generator state.
func (s *Source) MarshalBinary() ([]byte, error) {
	return s.pcg.MarshalBinary()
}

// Float returns a random float64 in [0, 1).
func (s *Source) Float() float64 {
	return s.rng.Float64()
}

// IntN returns a random int in [0, n).
func (s *Source) IntN(n int) int {
	return s.rng.IntN(n)
}

// Chance returns true with probability p.
func (s *Source) Chance(p float64) bool {
	return s.rng.Float64() < p
}

// Read fills p with random bytes so the source can back uuid generation.
func (s *Source) Read(p []byte) (int, error) {
	for i := 0; i < len(p); i += 8 {
		var word [8]byte
		binary.LittleEndian.PutUint64(word[:], s.rng.Uint64())
		copy(p[i:], word[:])
	}
	return len(p), nil
}

// NewSeed returns a seed from crypto/rand, for worlds created without one.
func NewSeed() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// This should never happen; a fixed seed still yields a working world.
		return 0x5eed
	}
	return binary.LittleEndian.Uint64(buf[:])
}

package remd

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
)

// Stream names. Each consumer of randomness draws from its own named
// stream so that adding draws in one place never shifts another.
const (
	StreamSetup  = "setup" // initial states; seeded with the run seed itself
	StreamLadder = "ladder"
	StreamJitter = "ensemble_jitter"
)

// RankStream names the dynamics stream of one rank's engine.
func RankStream(rank int) string {
	return fmt.Sprintf("rank_%d", rank)
}

// Streams hands out reproducible random sources derived from one run seed.
// The setup stream uses the seed unchanged; every other stream uses the
// seed XOR the 64-bit FNV-1a hash of its name.
//
// Streams itself is safe for concurrent use. The returned *rand.Rand is
// not, so each stream should have a single consumer.
type Streams struct {
	seed int64

	mu      sync.Mutex
	sources map[string]*rand.Rand
}

// NewStreams returns the stream set for seed.
func NewStreams(seed int64) *Streams {
	return &Streams{seed: seed, sources: make(map[string]*rand.Rand)}
}

// Seed returns the run seed the streams derive from.
func (s *Streams) Seed() int64 { return s.seed }

// Stream returns the source for name, creating it on first use. Repeated
// calls with the same name return the same source.
func (s *Streams) Stream(name string) *rand.Rand {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.sources[name]; ok {
		return r
	}
	r := rand.New(rand.NewSource(deriveSeed(s.seed, name)))
	s.sources[name] = r
	return r
}

func deriveSeed(seed int64, name string) int64 {
	if name == StreamSetup {
		return seed
	}
	h := fnv.New64a()
	h.Write([]byte(name))
	return seed ^ int64(h.Sum64())
}

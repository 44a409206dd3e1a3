package remd

import (
	"github.com/sirupsen/logrus"
)

// Assignment maps process ranks to the replica indices they own.
// Replicas are assigned in contiguous blocks starting at rank 0, so the
// assigned replicas are always 0..NumAssigned()-1.
type Assignment struct {
	TotalReplicas   int
	WorldSize       int
	MultiplexFactor int
	ExpectedRanks   int
	Ranks           [][]int // one entry per active rank
}

// MapRanks computes the rank assignment for a group.
//
// With multiplexFactor 1 each rank owns one replica. With a larger factor
// each rank owns multiplexFactor replicas; a replica count that does not
// divide evenly is a configuration error unless allowPartial is set, in
// which case the last rank owns the remainder. Ranks beyond the expected
// count are idle. Too few ranks is a degraded run: a warning is logged and
// trailing replicas stay unassigned.
func MapRanks(totalReplicas, worldSize, multiplexFactor int, allowPartial bool) (*Assignment, error) {
	if totalReplicas <= 0 {
		return nil, configErrorf("replica count must be positive, got %d", totalReplicas)
	}
	if worldSize <= 0 {
		return nil, configErrorf("world size must be positive, got %d", worldSize)
	}
	if multiplexFactor < 1 {
		return nil, configErrorf("multiplex factor must be >= 1, got %d", multiplexFactor)
	}

	expected := totalReplicas
	if multiplexFactor > 1 {
		if totalReplicas%multiplexFactor != 0 && !allowPartial {
			return nil, configErrorf("%d replicas not divisible by multiplex factor %d (set allow_partial to permit a short last rank)",
				totalReplicas, multiplexFactor)
		}
		expected = (totalReplicas + multiplexFactor - 1) / multiplexFactor
	}

	active := expected
	if worldSize < expected {
		active = worldSize
		logrus.Warnf("world size %d below the %d ranks needed for %d replicas; replicas %d..%d will not be advanced",
			worldSize, expected, totalReplicas, worldSize*multiplexFactor, totalReplicas-1)
	}

	ranks := make([][]int, active)
	for r := range ranks {
		lo := r * multiplexFactor
		hi := min(lo+multiplexFactor, totalReplicas)
		owned := make([]int, 0, hi-lo)
		for i := lo; i < hi; i++ {
			owned = append(owned, i)
		}
		ranks[r] = owned
	}

	return &Assignment{
		TotalReplicas:   totalReplicas,
		WorldSize:       worldSize,
		MultiplexFactor: multiplexFactor,
		ExpectedRanks:   expected,
		Ranks:           ranks,
	}, nil
}

// ActiveRanks returns the number of ranks that own at least one replica.
func (a *Assignment) ActiveRanks() int {
	return len(a.Ranks)
}

// IsActive reports whether rank owns any replica.
func (a *Assignment) IsActive(rank int) bool {
	return rank >= 0 && rank < len(a.Ranks)
}

// Owned returns the replica indices owned by rank (nil for idle ranks).
func (a *Assignment) Owned(rank int) []int {
	if !a.IsActive(rank) {
		return nil
	}
	return a.Ranks[rank]
}

// NumAssigned returns how many replicas are owned by some rank.
func (a *Assignment) NumAssigned() int {
	n := 0
	for _, owned := range a.Ranks {
		n += len(owned)
	}
	return n
}

// Unassigned returns the replica indices no rank owns.
func (a *Assignment) Unassigned() []int {
	var out []int
	for i := a.NumAssigned(); i < a.TotalReplicas; i++ {
		out = append(out, i)
	}
	return out
}

// Block returns the half-open replica range [lo, hi) owned by rank.
func (a *Assignment) Block(rank int) (lo, hi int) {
	owned := a.Owned(rank)
	if len(owned) == 0 {
		return 0, 0
	}
	return owned[0], owned[len(owned)-1] + 1
}

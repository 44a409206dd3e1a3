// Package ladder decides replica exchanges on the leader from the gathered
// energy matrix.
package ladder

import (
	"math"
	"math/rand"

	"github.com/remd-sim/remd-sim/remd"
	"github.com/remd-sim/remd-sim/remd/trace"
)

// NearestNeighbor attempts Trials Metropolis swaps between adjacent slots.
// energies[i][j] is the reduced energy of replica j under Hamiltonian i.
type NearestNeighbor struct {
	Trials int
	rng    *rand.Rand
}

var _ remd.Ladder = (*NearestNeighbor)(nil)

// NewNearestNeighbor creates a ladder drawing from rng.
func NewNearestNeighbor(trials int, rng *rand.Rand) *NearestNeighbor {
	return &NearestNeighbor{Trials: trials, rng: rng}
}

// Exchange returns perm (slot i receives the state from slot perm[i]) and
// one record per attempt. The matrix is expected to be square; a missing
// entry counts as NaN, and pairs touching a NaN energy are never accepted.
func (n *NearestNeighbor) Exchange(step int, energies remd.EnergyMatrix, active int) ([]int, []trace.ExchangeRecord) {
	size := len(energies)
	perm := make([]int, size)
	for i := range perm {
		perm[i] = i
	}
	active = min(active, size)
	if active < 2 || n.Trials <= 0 {
		return perm, nil
	}

	records := make([]trace.ExchangeRecord, 0, n.Trials)
	for t := 0; t < n.Trials; t++ {
		i := n.rng.Intn(active - 1)
		j := i + 1
		a, b := perm[i], perm[j]
		delta := at(energies, i, b) + at(energies, j, a) - at(energies, i, a) - at(energies, j, b)
		accepted := false
		if !math.IsNaN(delta) {
			accepted = delta <= 0 || n.rng.Float64() < math.Exp(-delta)
		}
		if accepted {
			perm[i], perm[j] = b, a
		}
		records = append(records, trace.ExchangeRecord{Step: step, I: i, J: j, Delta: delta, Accepted: accepted})
	}
	return perm, records
}

func at(m remd.EnergyMatrix, i, j int) float64 {
	if j >= len(m[i]) {
		return math.NaN()
	}
	return m[i][j]
}

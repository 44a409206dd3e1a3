package remd

import (
	"fmt"
	"math"
)

// ComputeEnergies evaluates every state in all under each Hamiltonian in
// hamiltonians (the owned states, carrying their bias factors). The engine
// is prepared with the configuration of the evaluated state and the bias
// factor of the Hamiltonian before each evaluation.
func ComputeEnergies(engine Engine, hamiltonians, all []*State, step int) (EnergyMatrix, error) {
	energies := make(EnergyMatrix, len(hamiltonians))
	for h, ham := range hamiltonians {
		row := make([]float64, len(all))
		for r, state := range all {
			if err := engine.PrepareForStep(state, ham.Alpha, step); err != nil {
				return nil, fmt.Errorf("preparing energy[%d][%d]: %w", h, r, err)
			}
			e, err := engine.ComputeEnergy(state)
			if err != nil {
				return nil, fmt.Errorf("energy[%d][%d]: %w", h, r, err)
			}
			row[r] = e
		}
		energies[h] = row
	}
	return energies, nil
}

// PadEnergies extends a gathered matrix to one row per replica. Rows for
// unassigned replicas are filled with NaN.
func PadEnergies(m EnergyMatrix, totalReplicas int) EnergyMatrix {
	if len(m) >= totalReplicas {
		return m
	}
	out := make(EnergyMatrix, totalReplicas)
	copy(out, m)
	for i := len(m); i < totalReplicas; i++ {
		row := make([]float64, totalReplicas)
		for j := range row {
			row[j] = math.NaN()
		}
		out[i] = row
	}
	return out
}

const fieldEnergies = "energies"

// ValidateEnergyBlock checks the energy rows received from rank: exactly
// rows rows, each width columns wide. first is the index of the block's
// first row in the gathered matrix. A negative rank means the sender is
// not known.
func ValidateEnergyBlock(role Role, rank, first int, block EnergyMatrix, rows, width int) error {
	if len(block) != rows {
		return &ProtocolShapeError{Role: role, Field: fieldEnergies, Rank: rank, Index: first,
			Reason: fmt.Sprintf("got %d rows, want %d (one per owned replica)", len(block), rows)}
	}
	for i, row := range block {
		if len(row) != width {
			return &ProtocolShapeError{Role: role, Field: fieldEnergies, Rank: rank, Index: first + i,
				Reason: fmt.Sprintf("row has %d columns, want %d", len(row), width)}
		}
	}
	return nil
}

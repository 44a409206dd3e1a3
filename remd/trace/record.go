// Package trace records replica exchange decisions for post-hoc analysis.
// It imports nothing from remd and holds plain data only.
package trace

// ExchangeRecord captures a single exchange attempt between two adjacent
// Hamiltonians.
type ExchangeRecord struct {
	Step     int
	I        int     // lower Hamiltonian index
	J        int     // upper Hamiltonian index
	Delta    float64 // reduced energy change of the proposed swap
	Accepted bool
}

// PairKey identifies an adjacent Hamiltonian pair.
type PairKey struct {
	I, J int
}

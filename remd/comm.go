package remd

// EnergyMatrix holds energies[h][r]: replica r's configuration evaluated
// under Hamiltonian h. Rows are Hamiltonians, columns the full replica set.
type EnergyMatrix [][]float64

// Shape returns (rows, cols). Ragged matrices report the first row's width.
func (m EnergyMatrix) Shape() (int, int) {
	if len(m) == 0 {
		return 0, 0
	}
	return len(m), len(m[0])
}

// Communicator is the role-independent half of a process group channel.
// The role is fixed when the communicator is created.
type Communicator interface {
	Rank() int
	NumWorkers() int // ranks taking part in the exchange, leader included
	NumReplicas() int
	IsLeader() bool
	Close() error
}

// WorkerCommunicator is the worker side of the exchange protocol. Every
// receive blocks until the leader sends or the receive timeout expires.
type WorkerCommunicator interface {
	Communicator
	ReceiveStatesFromLeader() ([]Element, error)
	ReceiveAlphasFromLeader() ([]float64, error)
	SendStatesToLeader(states []*State) error
	ReceiveAllStatesFromLeader() ([]Element, error)
	SendEnergiesToLeader(energies EnergyMatrix) error
}

// LeaderCommunicator is the leader side of the exchange protocol.
//
// Distribute calls take values for every assigned replica and return the
// leader's own block. Gather calls take the leader's own block and return
// the assigned replicas in replica order.
type LeaderCommunicator interface {
	Communicator
	DistributeStatesToWorkers(states []*State) ([]Element, error)
	DistributeAlphasToWorkers(alphas []float64) ([]float64, error)
	GatherStatesFromWorkers(own []*State) ([]Element, error)
	BroadcastAllStatesToWorkers(states []*State) error
	GatherEnergiesFromWorkers(own EnergyMatrix) (EnergyMatrix, error)
}

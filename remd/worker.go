package remd

import (
	"context"
)

// WorkerRunner runs the exchange protocol on a worker rank.
type WorkerRunner struct {
	co   *coordinator
	comm WorkerCommunicator
}

// NewWorkerRunner creates a runner for a non-leader rank.
func NewWorkerRunner(cfg RunnerConfig, comm WorkerCommunicator, engine Engine) *WorkerRunner {
	return &WorkerRunner{
		co:   newCoordinator(Worker, cfg, comm, engine),
		comm: comm,
	}
}

// Run executes steps until the step counter passes MaxSteps, an error
// occurs, or ctx is cancelled between steps.
func (w *WorkerRunner) Run(ctx context.Context) error {
	return w.co.run(ctx, w)
}

// Step returns the next step to run.
func (w *WorkerRunner) Step() int { return w.co.step }

// LastEnergies returns this rank's energy rows from the last completed step.
func (w *WorkerRunner) LastEnergies() EnergyMatrix { return w.co.energies }

func (w *WorkerRunner) assignment(int) ([]Element, []float64, error) {
	states, err := w.comm.ReceiveStatesFromLeader()
	if err != nil {
		return nil, nil, err
	}
	alphas, err := w.comm.ReceiveAlphasFromLeader()
	if err != nil {
		return nil, nil, err
	}
	return states, alphas, nil
}

func (w *WorkerRunner) returnStates(_ int, owned []*State) error {
	return w.comm.SendStatesToLeader(owned)
}

func (w *WorkerRunner) fullSet(int) ([]Element, error) {
	return w.comm.ReceiveAllStatesFromLeader()
}

func (w *WorkerRunner) returnEnergies(_ int, energies EnergyMatrix) error {
	return w.comm.SendEnergiesToLeader(energies)
}

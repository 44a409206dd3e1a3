package remd

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// RunnerConfig holds the settings shared by leader and worker runners.
type RunnerConfig struct {
	Step     int // first step to run (1 for a fresh run, checkpoint+1 on resume)
	MaxSteps int
	Options  RunOptions
	Adjuster ThresholdAdjuster // optional
}

// roundTrip is the role-specific half of one exchange step. Workers
// receive and send; the leader originates, gathers and decides.
type roundTrip interface {
	assignment(step int) ([]Element, []float64, error)
	returnStates(step int, owned []*State) error
	fullSet(step int) ([]Element, error)
	returnEnergies(step int, energies EnergyMatrix) error
}

// coordinator drives one process through the per-step protocol.
// Single-threaded: every communicator call is a blocking point.
type coordinator struct {
	role     Role
	step     int
	maxSteps int
	engine   Engine
	comm     Communicator
	options  RunOptions
	adjuster ThresholdAdjuster
	minimize bool
	log      *logrus.Entry
	energies EnergyMatrix
}

func newCoordinator(role Role, cfg RunnerConfig, c Communicator, engine Engine) *coordinator {
	step := cfg.Step
	if step < 1 {
		step = 1
	}
	return &coordinator{
		role:     role,
		step:     step,
		maxSteps: cfg.MaxSteps,
		engine:   engine,
		comm:     c,
		options:  cfg.Options,
		adjuster: cfg.Adjuster,
		// always minimize on the first step of a run, fresh or resumed
		minimize: true,
		log:      logrus.WithFields(logrus.Fields{"role": role.String(), "rank": c.Rank()}),
	}
}

func (c *coordinator) run(ctx context.Context, rt roundTrip) error {
	for c.step <= c.maxSteps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.runStep(rt); err != nil {
			c.log.WithField("step", c.step).Errorf("step failed: %v", err)
			return err
		}
		c.step++
	}
	return nil
}

func (c *coordinator) runStep(rt roundTrip) error {
	log := c.log.WithField("step", c.step)
	log.Infof("Running replica exchange step %d of %d.", c.step, c.maxSteps)

	elems, alphas, err := rt.assignment(c.step)
	if err != nil {
		return fmt.Errorf("receiving assignment: %w", err)
	}
	states, err := ValidateStates(c.role, elems)
	if err != nil {
		return err
	}
	if err := ValidateAlphas(c.role, states, alphas); err != nil {
		return err
	}
	for i, s := range states {
		if err := s.SetAlpha(alphas[i]); err != nil {
			return &BiasAssignmentError{Role: c.role, Index: i, Step: c.step, Value: alphas[i],
				Type: fmt.Sprintf("%T", s), Err: err}
		}
	}

	for i, s := range states {
		log.Debugf("Running Hamiltonian %d of %d", i+1, len(states))
		if err := c.engine.PrepareForStep(s, s.Alpha, c.step); err != nil {
			return fmt.Errorf("preparing states[%d]: %w", i, err)
		}
		var next *State
		if c.minimize {
			log.Info("First step, minimizing and then running.")
			next, err = c.engine.MinimizeThenAdvance(s)
		} else {
			log.Debug("Running molecular dynamics.")
			next, err = c.engine.Advance(s)
		}
		if err != nil {
			return fmt.Errorf("advancing states[%d]: %w", i, err)
		}
		states[i] = next
	}
	c.minimize = false

	if err := rt.returnStates(c.step, states); err != nil {
		return fmt.Errorf("returning states: %w", err)
	}

	allElems, err := rt.fullSet(c.step)
	if err != nil {
		return fmt.Errorf("receiving full replica set: %w", err)
	}
	all, err := ValidateStates(c.role, allElems)
	if err != nil {
		return err
	}
	if n := c.comm.NumReplicas(); len(all) != n {
		return &ProtocolShapeError{Role: c.role, Index: min(len(all), n), Observed: "[]*remd.State",
			Reason: fmt.Sprintf("full replica set has %d states, want %d", len(all), n)}
	}

	energies, err := ComputeEnergies(c.engine, states, all, c.step)
	if err != nil {
		return err
	}
	c.energies = energies
	if err := rt.returnEnergies(c.step, energies); err != nil {
		return fmt.Errorf("returning energies: %w", err)
	}

	if c.adjuster != nil && c.options.AdaptiveThresholds() {
		if err := c.adjuster.ChangeThresholds(c.step, c.engine, c.comm, c.role == Leader); err != nil {
			log.Warnf("change_thresholds failed: %v", err)
		}
	}
	return nil
}

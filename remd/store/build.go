package store

import (
	"time"

	"github.com/remd-sim/remd-sim/remd"
	"github.com/remd-sim/remd-sim/remd/engine"
)

// initialJitter is the width (nm) of the noise added to the reference chain
// when generating initial states.
const initialJitter = 0.02

// Build generates a fresh setup: linearly spaced bias factors and one
// perturbed reference chain per replica, all derived from seed.
func Build(run remd.RunConfig, eng engine.Config, seed int64) (*Setup, error) {
	if err := run.Validate(); err != nil {
		return nil, err
	}
	rng := remd.NewStreams(seed)
	h, err := engine.NewHarmonic(eng, rng.Stream(remd.RankStream(0)))
	if err != nil {
		return nil, err
	}
	alphas := remd.LinearAlphas(run.NumReplicas)
	states := h.InitialStates(run.NumReplicas, initialJitter, rng.Stream(remd.StreamSetup))
	for i, s := range states {
		s.Alpha = alphas[i]
	}
	return &Setup{
		Seed:      seed,
		CreatedAt: time.Now().UTC(),
		Run:       run,
		Engine:    eng,
		Alphas:    alphas,
		States:    states,
	}, nil
}

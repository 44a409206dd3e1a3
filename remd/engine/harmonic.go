// Package engine provides a reference simulation engine: a bead chain with
// harmonic bonds and flat-bottom positional restraints whose strength fades
// with the bias factor, integrated with overdamped Langevin dynamics.
package engine

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/remd-sim/remd-sim/remd"
)

// Harmonic implements remd.Engine. It is not safe for concurrent use; each
// rank owns its own instance.
type Harmonic struct {
	cfg    Config
	rng    *rand.Rand
	cutoff float64

	alpha float64
	kT    float64
	step  int
}

var _ remd.Engine = (*Harmonic)(nil)

// NewHarmonic creates an engine drawing thermal noise from rng.
func NewHarmonic(cfg Config, rng *rand.Rand) (*Harmonic, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("engine needs a random source")
	}
	h := &Harmonic{cfg: cfg, rng: rng, cutoff: cfg.RestraintCutoff}
	h.setAlpha(0)
	return h, nil
}

// Reference returns the restraint target of atom i: a straight chain
// along x.
func (h *Harmonic) Reference(i int) remd.Vec3 {
	return remd.Vec3{float64(i) * h.cfg.BondLength, 0, 0}
}

// Cutoff returns the current flat-bottom half width.
func (h *Harmonic) Cutoff() float64 { return h.cutoff }

// SetCutoff changes the flat-bottom half width.
func (h *Harmonic) SetCutoff(c float64) error {
	if c < 0 || math.IsNaN(c) {
		return fmt.Errorf("restraint cutoff %v must be non-negative", c)
	}
	h.cutoff = c
	return nil
}

// Step returns the step passed to the last PrepareForStep.
func (h *Harmonic) Step() int { return h.step }

func (h *Harmonic) setAlpha(alpha float64) {
	h.alpha = alpha
	h.kT = boltzmann * h.cfg.Temperature(alpha)
}

// PrepareForStep switches the engine to the Hamiltonian of alpha.
func (h *Harmonic) PrepareForStep(state *remd.State, alpha float64, step int) error {
	if state.NumAtoms() != h.cfg.Atoms {
		return fmt.Errorf("state has %d atoms, engine expects %d", state.NumAtoms(), h.cfg.Atoms)
	}
	if math.IsNaN(alpha) || alpha < 0 || alpha > 1 {
		return fmt.Errorf("bias factor %v outside [0, 1]", alpha)
	}
	h.setAlpha(alpha)
	h.step = step
	return nil
}

// MinimizeThenAdvance relaxes the state by steepest descent and then runs
// dynamics.
func (h *Harmonic) MinimizeThenAdvance(state *remd.State) (*remd.State, error) {
	next := state.Clone()
	grad := make([]remd.Vec3, len(next.Coordinates))
	for it := 0; it < h.cfg.MinimizeSteps; it++ {
		h.gradient(next.Coordinates, grad)
		for i := range next.Coordinates {
			g := clampVec(grad[i], 0.1/h.cfg.MinimizeRate)
			for d := 0; d < 3; d++ {
				next.Coordinates[i][d] -= h.cfg.MinimizeRate * g[d]
			}
		}
	}
	return h.Advance(next)
}

// Advance runs StepsPerAdvance overdamped Langevin steps at the current
// temperature and returns the new state. The input is not modified.
func (h *Harmonic) Advance(state *remd.State) (*remd.State, error) {
	next := state.Clone()
	n := len(next.Coordinates)
	if len(next.Velocities) != n {
		next.Velocities = make([]remd.Vec3, n)
	}
	grad := make([]remd.Vec3, n)
	dt := h.cfg.Timestep
	drift := h.cfg.Diffusion * dt / h.kT
	noise := math.Sqrt(2 * h.cfg.Diffusion * dt)
	for it := 0; it < h.cfg.StepsPerAdvance; it++ {
		h.gradient(next.Coordinates, grad)
		for i := 0; i < n; i++ {
			for d := 0; d < 3; d++ {
				dx := -drift*grad[i][d] + noise*h.rng.NormFloat64()
				next.Coordinates[i][d] += dx
				next.Velocities[i][d] = dx / dt
			}
		}
	}
	for i := range next.Coordinates {
		for d := 0; d < 3; d++ {
			if math.IsNaN(next.Coordinates[i][d]) || math.IsInf(next.Coordinates[i][d], 0) {
				return nil, fmt.Errorf("dynamics diverged at atom %d (step %d, alpha %.3f)", i, h.step, h.alpha)
			}
		}
	}
	next.BoxVectors = remd.Vec3{h.cfg.BoxSize, h.cfg.BoxSize, h.cfg.BoxSize}
	next.PotentialEnergy = h.potential(next.Coordinates)
	return next, nil
}

// ComputeEnergy returns the reduced potential U/kT of state under the
// Hamiltonian selected by the last PrepareForStep.
func (h *Harmonic) ComputeEnergy(state *remd.State) (float64, error) {
	if state.NumAtoms() != h.cfg.Atoms {
		return 0, fmt.Errorf("state has %d atoms, engine expects %d", state.NumAtoms(), h.cfg.Atoms)
	}
	return h.potential(state.Coordinates) / h.kT, nil
}

func (h *Harmonic) restraintWeight() float64 {
	return (1 - h.alpha) * h.cfg.RestraintConstant
}

func (h *Harmonic) potential(x []remd.Vec3) float64 {
	u := 0.0
	for i := 0; i+1 < len(x); i++ {
		d := dist(x[i], x[i+1]) - h.cfg.BondLength
		u += 0.5 * h.cfg.SpringConstant * d * d
	}
	w := h.restraintWeight()
	for i := range x {
		if excess := dist(x[i], h.Reference(i)) - h.cutoff; excess > 0 {
			u += 0.5 * w * excess * excess
		}
	}
	return u
}

func (h *Harmonic) gradient(x []remd.Vec3, grad []remd.Vec3) {
	for i := range grad {
		grad[i] = remd.Vec3{}
	}
	for i := 0; i+1 < len(x); i++ {
		r := dist(x[i], x[i+1])
		if r == 0 {
			continue
		}
		f := h.cfg.SpringConstant * (r - h.cfg.BondLength) / r
		for d := 0; d < 3; d++ {
			g := f * (x[i][d] - x[i+1][d])
			grad[i][d] += g
			grad[i+1][d] -= g
		}
	}
	w := h.restraintWeight()
	if w == 0 {
		return
	}
	for i := range x {
		ref := h.Reference(i)
		r := dist(x[i], ref)
		excess := r - h.cutoff
		if excess <= 0 || r == 0 {
			continue
		}
		f := w * excess / r
		for d := 0; d < 3; d++ {
			grad[i][d] += f * (x[i][d] - ref[d])
		}
	}
}

// InitialStates builds n replicas on the reference chain perturbed by
// Gaussian noise of width jitter.
func (h *Harmonic) InitialStates(n int, jitter float64, rng *rand.Rand) []*remd.State {
	states := make([]*remd.State, n)
	for s := range states {
		st := remd.NewState(h.cfg.Atoms)
		for i := range st.Coordinates {
			ref := h.Reference(i)
			for d := 0; d < 3; d++ {
				st.Coordinates[i][d] = ref[d] + jitter*rng.NormFloat64()
			}
		}
		st.BoxVectors = remd.Vec3{h.cfg.BoxSize, h.cfg.BoxSize, h.cfg.BoxSize}
		st.PotentialEnergy = h.potential(st.Coordinates)
		states[s] = st
	}
	return states
}

func dist(a, b remd.Vec3) float64 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func clampVec(v remd.Vec3, limit float64) remd.Vec3 {
	n := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if n <= limit || n == 0 {
		return v
	}
	s := limit / n
	return remd.Vec3{v[0] * s, v[1] * s, v[2] * s}
}

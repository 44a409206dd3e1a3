package remd

import (
	"fmt"
	"math"
)

// Vec3 is a 3D vector (coordinates, velocities or a box edge).
type Vec3 [3]float64

// State is one replica's configuration. At any instant a State is owned by
// exactly one rank; communicators hand out clones, never shared pointers.
type State struct {
	Coordinates     []Vec3  `msgpack:"coordinates" yaml:"coordinates"`
	Velocities      []Vec3  `msgpack:"velocities" yaml:"velocities"`
	Alpha           float64 `msgpack:"alpha" yaml:"alpha"`
	PotentialEnergy float64 `msgpack:"energy" yaml:"energy"`
	BoxVectors      Vec3    `msgpack:"box" yaml:"box"`
}

// NewState returns a zeroed state for nAtoms atoms.
func NewState(nAtoms int) *State {
	return &State{
		Coordinates: make([]Vec3, nAtoms),
		Velocities:  make([]Vec3, nAtoms),
	}
}

// NumAtoms returns the atom count.
func (s *State) NumAtoms() int {
	return len(s.Coordinates)
}

// SetAlpha sets the bias factor. Values outside [0, 1] are rejected.
func (s *State) SetAlpha(alpha float64) error {
	if math.IsNaN(alpha) || alpha < 0 || alpha > 1 {
		return fmt.Errorf("bias factor %v outside [0, 1]", alpha)
	}
	s.Alpha = alpha
	return nil
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	c := *s
	c.Coordinates = append([]Vec3(nil), s.Coordinates...)
	c.Velocities = append([]Vec3(nil), s.Velocities...)
	return &c
}

// CloneStates deep-copies a replica set.
func CloneStates(states []*State) []*State {
	out := make([]*State, len(states))
	for i, s := range states {
		out[i] = s.Clone()
	}
	return out
}

// LinearAlphas spaces n bias factors evenly over [0, 1]: index 0 gets 0 and
// the last index gets 1. A single replica gets 0.
func LinearAlphas(n int) []float64 {
	alphas := make([]float64, n)
	if n < 2 {
		return alphas
	}
	for i := range alphas {
		alphas[i] = float64(i) / float64(n-1)
	}
	return alphas
}

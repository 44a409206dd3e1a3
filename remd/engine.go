package remd

// Engine advances and evaluates replica states. It is opaque to the core.
// PrepareForStep must be safe to call repeatedly with different states
// under the same bias factor.
type Engine interface {
	PrepareForStep(state *State, alpha float64, step int) error
	MinimizeThenAdvance(state *State) (*State, error)
	Advance(state *State) (*State, error)
	ComputeEnergy(state *State) (float64, error)
}

// ThresholdAdjuster is the optional adaptive-threshold collaborator,
// invoked once per step after energies have been exchanged.
type ThresholdAdjuster interface {
	ChangeThresholds(step int, engine Engine, comm Communicator, leader bool) error
}

// Checkpointer persists the full replica set. Called by the leader only.
type Checkpointer interface {
	SaveCheckpoint(step int, states []*State) error
}

// adaptiveOption is implemented by engine-native options that carry their
// own adaptive-threshold setting.
type adaptiveOption interface {
	AdaptiveThresholds() bool
}

// RunOptions wraps the engine's native run options with the settings the
// coordination loop reads. The native value is held, never modified.
type RunOptions struct {
	native   any
	adaptive *bool
}

// NewRunOptions wraps native engine options (may be nil).
func NewRunOptions(native any) RunOptions {
	return RunOptions{native: native}
}

// WithAdaptiveThresholds returns a copy with the adaptive setting pinned.
func (o RunOptions) WithAdaptiveThresholds(on bool) RunOptions {
	o.adaptive = &on
	return o
}

// Native returns the wrapped engine options.
func (o RunOptions) Native() any {
	return o.native
}

// AdaptiveThresholds reports whether the threshold hook should run. An
// explicit setting wins; otherwise the native options decide; otherwise false.
func (o RunOptions) AdaptiveThresholds() bool {
	if o.adaptive != nil {
		return *o.adaptive
	}
	if n, ok := o.native.(adaptiveOption); ok {
		return n.AdaptiveThresholds()
	}
	return false
}

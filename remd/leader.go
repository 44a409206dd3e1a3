package remd

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/remd-sim/remd-sim/remd/trace"
)

// Ladder decides replica exchanges from the gathered energy matrix. It
// returns perm, where slot i receives the state formerly in slot perm[i].
// Only slots below active take part.
type Ladder interface {
	Exchange(step int, energies EnergyMatrix, active int) ([]int, []trace.ExchangeRecord)
}

// LeaderConfig configures the leader rank.
type LeaderConfig struct {
	RunnerConfig
	States           []*State  // authoritative replica set, index = replica identity
	Alphas           []float64 // bias factor per Hamiltonian slot
	Ladder           Ladder    // optional; nil disables exchanges
	Trace            *trace.ExchangeTrace
	Checkpointer     Checkpointer // optional
	CheckpointEvery  int          // steps between checkpoints (0 disables)
	ProgressEvery    int          // steps between progress lines (0 disables)
	ProgressInterval time.Duration
}

// LeaderRunner runs the exchange protocol on the leader rank. It owns the
// authoritative replica set and performs the exchange decision each step.
type LeaderRunner struct {
	co       *coordinator
	comm     LeaderCommunicator
	cfg      LeaderConfig
	states   []*State
	assigned int
	energies EnergyMatrix
	swaps    int

	startStep  int
	started    time.Time
	lastReport time.Time
}

// NewLeaderRunner validates the configuration and creates the leader runner.
func NewLeaderRunner(cfg LeaderConfig, comm LeaderCommunicator, engine Engine) (*LeaderRunner, error) {
	if len(cfg.States) != comm.NumReplicas() {
		return nil, configErrorf("leader holds %d states for %d replicas", len(cfg.States), comm.NumReplicas())
	}
	if len(cfg.Alphas) != len(cfg.States) {
		return nil, configErrorf("%d bias factors for %d replicas", len(cfg.Alphas), len(cfg.States))
	}
	for i, a := range cfg.Alphas {
		if cfg.States[i] == nil {
			return nil, configErrorf("states[%d] is nil", i)
		}
		if err := cfg.States[i].SetAlpha(a); err != nil {
			return nil, configErrorf("alphas[%d]: %v", i, err)
		}
	}
	co := newCoordinator(Leader, cfg.RunnerConfig, comm, engine)
	return &LeaderRunner{
		co:        co,
		comm:      comm,
		cfg:       cfg,
		states:    cfg.States,
		startStep: co.step,
	}, nil
}

// Run executes steps until the step counter passes MaxSteps, an error
// occurs, or ctx is cancelled between steps.
func (l *LeaderRunner) Run(ctx context.Context) error {
	l.started = time.Now()
	l.lastReport = l.started
	err := l.co.run(ctx, l)
	if l.cfg.Trace.Enabled() {
		s := trace.Summarize(l.cfg.Trace)
		l.co.log.Infof("Exchange summary: %d attempts, %d accepted (%.1f%%)",
			s.TotalAttempts, s.AcceptedCount, 100*s.AcceptanceRate)
	}
	return err
}

// States returns the authoritative replica set.
func (l *LeaderRunner) States() []*State { return l.states }

// Energies returns the assembled energy matrix from the last completed
// step, one row per replica.
func (l *LeaderRunner) Energies() EnergyMatrix { return l.energies }

// LastEnergies returns the leader's own energy rows from the last step.
func (l *LeaderRunner) LastEnergies() EnergyMatrix { return l.co.energies }

// Step returns the next step to run.
func (l *LeaderRunner) Step() int { return l.co.step }

func (l *LeaderRunner) assignment(int) ([]Element, []float64, error) {
	own, err := l.comm.DistributeStatesToWorkers(l.states)
	if err != nil {
		return nil, nil, err
	}
	alphas, err := l.comm.DistributeAlphasToWorkers(l.cfg.Alphas)
	if err != nil {
		return nil, nil, err
	}
	return own, alphas, nil
}

func (l *LeaderRunner) returnStates(_ int, owned []*State) error {
	elems, err := l.comm.GatherStatesFromWorkers(owned)
	if err != nil {
		return err
	}
	gathered, err := ValidateStates(Leader, elems)
	if err != nil {
		return err
	}
	if len(gathered) > len(l.states) {
		return &ProtocolShapeError{Role: Leader, Index: len(l.states), Observed: "[]*remd.State",
			Reason: fmt.Sprintf("gathered %d states for %d replicas", len(gathered), len(l.states))}
	}
	copy(l.states, gathered)
	l.assigned = len(gathered)
	return nil
}

func (l *LeaderRunner) fullSet(int) ([]Element, error) {
	if err := l.comm.BroadcastAllStatesToWorkers(l.states); err != nil {
		return nil, err
	}
	return StateElements(l.states), nil
}

func (l *LeaderRunner) returnEnergies(step int, own EnergyMatrix) error {
	gathered, err := l.comm.GatherEnergiesFromWorkers(own)
	if err != nil {
		return err
	}
	if err := ValidateEnergyBlock(Leader, -1, 0, gathered, l.assigned, len(l.states)); err != nil {
		return err
	}
	l.energies = PadEnergies(gathered, len(l.states))
	l.exchange(step)

	if l.cfg.Checkpointer != nil && l.cfg.CheckpointEvery > 0 && step%l.cfg.CheckpointEvery == 0 {
		if err := l.cfg.Checkpointer.SaveCheckpoint(step, CloneStates(l.states)); err != nil {
			return fmt.Errorf("checkpoint at step %d: %w", step, err)
		}
		l.co.log.WithField("step", step).Debug("checkpoint saved")
	}
	l.reportProgress(step)
	return nil
}

func (l *LeaderRunner) exchange(step int) {
	if l.cfg.Ladder == nil || l.assigned < 2 {
		return
	}
	perm, records := l.cfg.Ladder.Exchange(step, l.energies, l.assigned)
	if len(perm) != len(l.states) {
		l.co.log.WithField("step", step).Errorf("ladder returned %d slots for %d replicas; exchange skipped", len(perm), len(l.states))
		return
	}
	l.cfg.Trace.RecordExchanges(records...)

	next := make([]*State, len(l.states))
	for i := range next {
		next[i] = l.states[perm[i]]
	}
	accepted := 0
	for _, r := range records {
		if r.Accepted {
			accepted++
		}
	}
	for i, s := range next {
		// bias factors belong to the slot, not the configuration
		s.Alpha = l.cfg.Alphas[i]
	}
	l.states = next
	l.swaps += accepted
	l.co.log.WithField("step", step).Debugf("Exchange: %d of %d attempts accepted", accepted, len(records))
}

func (l *LeaderRunner) reportProgress(step int) {
	now := time.Now()
	byStep := l.cfg.ProgressEvery > 0 && step%l.cfg.ProgressEvery == 0
	byTime := l.cfg.ProgressInterval > 0 && now.Sub(l.lastReport) >= l.cfg.ProgressInterval
	if !byStep && !byTime {
		return
	}
	l.lastReport = now

	done := step - l.startStep + 1
	elapsed := now.Sub(l.started)
	remaining := l.co.maxSteps - step
	eta := now.Add(time.Duration(float64(elapsed) / float64(done) * float64(remaining)))
	l.co.log.WithField("step", step).Infof("Progress: step %s of %s, elapsed %s, %s accepted swaps, finishing %s",
		humanize.Comma(int64(step)), humanize.Comma(int64(l.co.maxSteps)), elapsed.Round(time.Second),
		humanize.Comma(int64(l.swaps)), humanize.Time(eta))
}

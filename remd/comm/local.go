// Package comm provides Communicator implementations for a replica
// exchange group: an in-process group over channels and a TCP group using
// msgpack frames. Rank 0 is always the leader.
package comm

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/remd-sim/remd-sim/remd"
)

// ErrAborted is returned by a Local endpoint after its group was aborted.
var ErrAborted = errors.New("communicator group aborted")

const (
	kindStates    = "states"
	kindAlphas    = "alphas"
	kindAllStates = "all_states"
	kindEnergies  = "energies"
)

type message struct {
	kind     string
	elems    []remd.Element
	alphas   []float64
	energies remd.EnergyMatrix
}

type link struct {
	toWorker chan message
	toLeader chan message
}

// LocalGroup is an in-process group: one Local endpoint per active rank,
// each meant to be driven by its own goroutine.
type LocalGroup struct {
	Members []*Local
	done    chan struct{}
	once    sync.Once
}

// NewLocalGroup creates endpoints for every active rank of the assignment.
// A positive timeout bounds every send and receive.
func NewLocalGroup(a *remd.Assignment, timeout time.Duration) *LocalGroup {
	g := &LocalGroup{done: make(chan struct{})}
	links := make([]*link, a.ActiveRanks())
	for r := 1; r < len(links); r++ {
		links[r] = &link{toWorker: make(chan message, 2), toLeader: make(chan message, 2)}
	}
	g.Members = make([]*Local, a.ActiveRanks())
	for r := range g.Members {
		g.Members[r] = &Local{rank: r, a: a, links: links, timeout: timeout, done: g.done}
	}
	return g
}

// Abort unblocks every pending and future operation of the group.
func (g *LocalGroup) Abort() {
	g.once.Do(func() { close(g.done) })
}

// Local is one rank's endpoint in a LocalGroup. States are cloned on send
// so ranks never share a State.
type Local struct {
	rank    int
	a       *remd.Assignment
	links   []*link
	timeout time.Duration
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
}

func (l *Local) Rank() int        { return l.rank }
func (l *Local) NumWorkers() int  { return l.a.ActiveRanks() }
func (l *Local) NumReplicas() int { return l.a.TotalReplicas }
func (l *Local) IsLeader() bool   { return l.rank == 0 }

// Close marks the endpoint closed. Later operations fail.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *Local) check(leader bool) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return fmt.Errorf("rank %d: communicator closed", l.rank)
	}
	if l.IsLeader() != leader {
		return fmt.Errorf("rank %d: %w", l.rank, remd.ErrWrongRole)
	}
	return nil
}

func (l *Local) send(ch chan message, m message, peer int) error {
	var timer <-chan time.Time
	if l.timeout > 0 {
		t := time.NewTimer(l.timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case ch <- m:
		return nil
	case <-l.done:
		return ErrAborted
	case <-timer:
		return fmt.Errorf("rank %d: sending %s to rank %d after %s: %w", l.rank, m.kind, peer, l.timeout, remd.ErrTimeout)
	}
}

func (l *Local) recv(ch chan message, kind string, peer int) (message, error) {
	var timer <-chan time.Time
	if l.timeout > 0 {
		t := time.NewTimer(l.timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case m := <-ch:
		if m.kind != kind {
			return message{}, fmt.Errorf("rank %d: %w: expected %s from rank %d, got %s", l.rank, remd.ErrProtocol, kind, peer, m.kind)
		}
		return m, nil
	case <-l.done:
		return message{}, ErrAborted
	case <-timer:
		return message{}, fmt.Errorf("rank %d: waiting for %s from rank %d after %s: %w", l.rank, kind, peer, l.timeout, remd.ErrTimeout)
	}
}

// === worker side ===

func (l *Local) fromLeader(kind string) (message, error) {
	if err := l.check(false); err != nil {
		return message{}, err
	}
	return l.recv(l.links[l.rank].toWorker, kind, 0)
}

func (l *Local) toLeader(m message) error {
	if err := l.check(false); err != nil {
		return err
	}
	return l.send(l.links[l.rank].toLeader, m, 0)
}

func (l *Local) ReceiveStatesFromLeader() ([]remd.Element, error) {
	m, err := l.fromLeader(kindStates)
	return m.elems, err
}

func (l *Local) ReceiveAlphasFromLeader() ([]float64, error) {
	m, err := l.fromLeader(kindAlphas)
	return m.alphas, err
}

func (l *Local) SendStatesToLeader(states []*remd.State) error {
	return l.toLeader(message{kind: kindStates, elems: remd.StateElements(remd.CloneStates(states))})
}

func (l *Local) ReceiveAllStatesFromLeader() ([]remd.Element, error) {
	m, err := l.fromLeader(kindAllStates)
	return m.elems, err
}

func (l *Local) SendEnergiesToLeader(energies remd.EnergyMatrix) error {
	return l.toLeader(message{kind: kindEnergies, energies: cloneMatrix(energies)})
}

// === leader side ===

func (l *Local) DistributeStatesToWorkers(states []*remd.State) ([]remd.Element, error) {
	if err := l.leaderCheck(len(states)); err != nil {
		return nil, err
	}
	for r := 1; r < len(l.links); r++ {
		lo, hi := l.a.Block(r)
		m := message{kind: kindStates, elems: remd.StateElements(remd.CloneStates(states[lo:hi]))}
		if err := l.send(l.links[r].toWorker, m, r); err != nil {
			return nil, err
		}
	}
	lo, hi := l.a.Block(0)
	return remd.StateElements(states[lo:hi]), nil
}

func (l *Local) DistributeAlphasToWorkers(alphas []float64) ([]float64, error) {
	if err := l.leaderCheck(len(alphas)); err != nil {
		return nil, err
	}
	for r := 1; r < len(l.links); r++ {
		lo, hi := l.a.Block(r)
		m := message{kind: kindAlphas, alphas: append([]float64(nil), alphas[lo:hi]...)}
		if err := l.send(l.links[r].toWorker, m, r); err != nil {
			return nil, err
		}
	}
	lo, hi := l.a.Block(0)
	return append([]float64(nil), alphas[lo:hi]...), nil
}

func (l *Local) GatherStatesFromWorkers(own []*remd.State) ([]remd.Element, error) {
	if err := l.check(true); err != nil {
		return nil, err
	}
	out := remd.StateElements(own)
	for r := 1; r < len(l.links); r++ {
		m, err := l.recv(l.links[r].toLeader, kindStates, r)
		if err != nil {
			return nil, err
		}
		out = append(out, m.elems...)
	}
	return out, nil
}

func (l *Local) BroadcastAllStatesToWorkers(states []*remd.State) error {
	if err := l.leaderCheck(len(states)); err != nil {
		return err
	}
	for r := 1; r < len(l.links); r++ {
		m := message{kind: kindAllStates, elems: remd.StateElements(remd.CloneStates(states))}
		if err := l.send(l.links[r].toWorker, m, r); err != nil {
			return err
		}
	}
	return nil
}

func (l *Local) GatherEnergiesFromWorkers(own remd.EnergyMatrix) (remd.EnergyMatrix, error) {
	if err := l.check(true); err != nil {
		return nil, err
	}
	if err := remd.ValidateEnergyBlock(remd.Leader, 0, 0, own, len(l.a.Owned(0)), l.a.TotalReplicas); err != nil {
		return nil, err
	}
	out := cloneMatrix(own)
	for r := 1; r < len(l.links); r++ {
		m, err := l.recv(l.links[r].toLeader, kindEnergies, r)
		if err != nil {
			return nil, err
		}
		if err := remd.ValidateEnergyBlock(remd.Leader, r, len(out), m.energies, len(l.a.Owned(r)), l.a.TotalReplicas); err != nil {
			return nil, err
		}
		out = append(out, m.energies...)
	}
	return out, nil
}

func (l *Local) leaderCheck(n int) error {
	if err := l.check(true); err != nil {
		return err
	}
	if n != l.a.TotalReplicas {
		return fmt.Errorf("rank %d: %w: %d values for %d replicas", l.rank, remd.ErrProtocol, n, l.a.TotalReplicas)
	}
	return nil
}

func cloneMatrix(m remd.EnergyMatrix) remd.EnergyMatrix {
	out := make(remd.EnergyMatrix, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

package comm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/remd-sim/remd-sim/remd"
)

// TCPOptions configures a TCP group.
type TCPOptions struct {
	Timeout       time.Duration // per send/receive; 0 means no limit
	DialTimeout   time.Duration // how long a worker keeps retrying the leader (default 60s)
	AcceptTimeout time.Duration // how long the leader waits for all workers (default 5m)
	RetryInterval time.Duration // pause between dial attempts (default 200ms)
}

func (o TCPOptions) withDefaults() TCPOptions {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 60 * time.Second
	}
	if o.AcceptTimeout <= 0 {
		o.AcceptTimeout = 5 * time.Minute
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 200 * time.Millisecond
	}
	return o
}

type peer struct {
	rank int
	conn net.Conn
	enc  *msgpack.Encoder
	dec  *msgpack.Decoder
}

func newPeer(rank int, conn net.Conn) *peer {
	return &peer{rank: rank, conn: conn, enc: msgpack.NewEncoder(conn), dec: msgpack.NewDecoder(conn)}
}

// TCP is a communicator over one TCP connection per worker. The leader
// accepts a connection from every other active rank; workers connect only
// to the leader.
type TCP struct {
	rank     int
	a        *remd.Assignment
	opts     TCPOptions
	listener net.Listener
	peers    []*peer // leader: indexed by rank (0 unused); worker: peers[0] is the leader
}

var (
	_ remd.LeaderCommunicator = (*TCP)(nil)
	_ remd.WorkerCommunicator = (*TCP)(nil)
	_ remd.LeaderCommunicator = (*Local)(nil)
	_ remd.WorkerCommunicator = (*Local)(nil)
)

// ListenTCP listens on addr and waits for every worker of the assignment.
func ListenTCP(ctx context.Context, addr string, a *remd.Assignment, opts TCPOptions) (*TCP, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("leader listen %s: %w", addr, err)
	}
	t, err := AcceptTCP(ctx, ln, a, opts)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	return t, nil
}

// AcceptTCP waits on ln until every worker rank has connected and said hello.
func AcceptTCP(ctx context.Context, ln net.Listener, a *remd.Assignment, opts TCPOptions) (*TCP, error) {
	opts = opts.withDefaults()
	t := &TCP{rank: 0, a: a, opts: opts, listener: ln, peers: make([]*peer, a.ActiveRanks())}
	deadline := time.Now().Add(opts.AcceptTimeout)
	if tl, ok := ln.(*net.TCPListener); ok {
		_ = tl.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for missing := a.ActiveRanks() - 1; missing > 0; {
		conn, err := ln.Accept()
		if err != nil {
			t.closePeers()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("leader waiting for %d workers: %w", missing, asTimeout(err))
		}
		p := newPeer(-1, conn)
		var hello frame
		_ = conn.SetReadDeadline(deadline)
		if err := p.dec.Decode(&hello); err != nil || hello.Kind != kindHello {
			logrus.Warnf("leader: dropping connection from %s without hello", conn.RemoteAddr())
			_ = conn.Close()
			continue
		}
		if hello.Rank < 1 || hello.Rank >= len(t.peers) || t.peers[hello.Rank] != nil {
			logrus.Warnf("leader: rejecting hello from %s for rank %d", conn.RemoteAddr(), hello.Rank)
			_ = conn.Close()
			continue
		}
		p.rank = hello.Rank
		t.peers[hello.Rank] = p
		missing--
		logrus.Debugf("leader: rank %d connected from %s", hello.Rank, conn.RemoteAddr())
	}
	return t, nil
}

// DialTCP connects worker rank to the leader at addr, retrying until the
// dial timeout expires or ctx is cancelled.
func DialTCP(ctx context.Context, addr string, rank int, a *remd.Assignment, opts TCPOptions) (*TCP, error) {
	if rank < 1 || !a.IsActive(rank) {
		return nil, fmt.Errorf("rank %d: %w", rank, remd.ErrWrongRole)
	}
	opts = opts.withDefaults()
	deadline := time.Now().Add(opts.DialTimeout)
	var d net.Dialer
	for {
		dctx, cancel := context.WithDeadline(ctx, deadline)
		conn, err := d.DialContext(dctx, "tcp", addr)
		cancel()
		if err == nil {
			p := newPeer(0, conn)
			if err := p.enc.Encode(&frame{Kind: kindHello, Rank: rank}); err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("rank %d: hello: %w", rank, err)
			}
			return &TCP{rank: rank, a: a, opts: opts, peers: []*peer{p}}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("rank %d: dialing leader %s: %w", rank, addr, errors.Join(remd.ErrTimeout, err))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.RetryInterval):
		}
	}
}

func (t *TCP) Rank() int        { return t.rank }
func (t *TCP) NumWorkers() int  { return t.a.ActiveRanks() }
func (t *TCP) NumReplicas() int { return t.a.TotalReplicas }
func (t *TCP) IsLeader() bool   { return t.rank == 0 }

// Addr returns the leader's listening address (nil on workers).
func (t *TCP) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Close closes every connection and the listener.
func (t *TCP) Close() error {
	err := t.closePeers()
	if t.listener != nil {
		if lerr := t.listener.Close(); lerr != nil && !errors.Is(lerr, net.ErrClosed) {
			err = errors.Join(err, lerr)
		}
	}
	return err
}

func (t *TCP) closePeers() error {
	var errs []error
	for _, p := range t.peers {
		if p == nil {
			continue
		}
		if err := p.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *TCP) write(p *peer, f *frame) error {
	if t.opts.Timeout > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(t.opts.Timeout))
	}
	f.Rank = t.rank
	if err := p.enc.Encode(f); err != nil {
		return fmt.Errorf("rank %d: sending %s to rank %d: %w", t.rank, f.Kind, p.rank, asTimeout(err))
	}
	return nil
}

func (t *TCP) read(p *peer, kind string) (*frame, error) {
	if t.opts.Timeout > 0 {
		_ = p.conn.SetReadDeadline(time.Now().Add(t.opts.Timeout))
	} else {
		_ = p.conn.SetReadDeadline(time.Time{})
	}
	var f frame
	if err := p.dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("rank %d: waiting for %s from rank %d: %w", t.rank, kind, p.rank, asTimeout(err))
	}
	if f.Kind != kind {
		return nil, fmt.Errorf("rank %d: %w: expected %s from rank %d, got %s", t.rank, remd.ErrProtocol, kind, p.rank, f.Kind)
	}
	return &f, nil
}

func asTimeout(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return errors.Join(remd.ErrTimeout, err)
	}
	return err
}

func (t *TCP) roleCheck(leader bool) error {
	if t.IsLeader() != leader {
		return fmt.Errorf("rank %d: %w", t.rank, remd.ErrWrongRole)
	}
	return nil
}

// === worker side ===

func (t *TCP) receiveElements(kind string) ([]remd.Element, error) {
	if err := t.roleCheck(false); err != nil {
		return nil, err
	}
	f, err := t.read(t.peers[0], kind)
	if err != nil {
		return nil, err
	}
	return decodeElements(f.Elements)
}

func (t *TCP) ReceiveStatesFromLeader() ([]remd.Element, error) {
	return t.receiveElements(kindStates)
}

func (t *TCP) ReceiveAlphasFromLeader() ([]float64, error) {
	if err := t.roleCheck(false); err != nil {
		return nil, err
	}
	f, err := t.read(t.peers[0], kindAlphas)
	if err != nil {
		return nil, err
	}
	return f.Alphas, nil
}

func (t *TCP) SendStatesToLeader(states []*remd.State) error {
	if err := t.roleCheck(false); err != nil {
		return err
	}
	elems, err := encodeStates(states)
	if err != nil {
		return err
	}
	return t.write(t.peers[0], &frame{Kind: kindStates, Elements: elems})
}

func (t *TCP) ReceiveAllStatesFromLeader() ([]remd.Element, error) {
	return t.receiveElements(kindAllStates)
}

func (t *TCP) SendEnergiesToLeader(energies remd.EnergyMatrix) error {
	if err := t.roleCheck(false); err != nil {
		return err
	}
	return t.write(t.peers[0], &frame{Kind: kindEnergies, Energies: energies})
}

// === leader side ===

func (t *TCP) leaderCheck(n int) error {
	if err := t.roleCheck(true); err != nil {
		return err
	}
	if n != t.a.TotalReplicas {
		return fmt.Errorf("rank %d: %w: %d values for %d replicas", t.rank, remd.ErrProtocol, n, t.a.TotalReplicas)
	}
	return nil
}

func (t *TCP) DistributeStatesToWorkers(states []*remd.State) ([]remd.Element, error) {
	if err := t.leaderCheck(len(states)); err != nil {
		return nil, err
	}
	for r := 1; r < len(t.peers); r++ {
		lo, hi := t.a.Block(r)
		elems, err := encodeStates(states[lo:hi])
		if err != nil {
			return nil, err
		}
		if err := t.write(t.peers[r], &frame{Kind: kindStates, Elements: elems}); err != nil {
			return nil, err
		}
	}
	lo, hi := t.a.Block(0)
	return remd.StateElements(states[lo:hi]), nil
}

func (t *TCP) DistributeAlphasToWorkers(alphas []float64) ([]float64, error) {
	if err := t.leaderCheck(len(alphas)); err != nil {
		return nil, err
	}
	for r := 1; r < len(t.peers); r++ {
		lo, hi := t.a.Block(r)
		if err := t.write(t.peers[r], &frame{Kind: kindAlphas, Alphas: alphas[lo:hi]}); err != nil {
			return nil, err
		}
	}
	lo, hi := t.a.Block(0)
	return append([]float64(nil), alphas[lo:hi]...), nil
}

func (t *TCP) GatherStatesFromWorkers(own []*remd.State) ([]remd.Element, error) {
	if err := t.roleCheck(true); err != nil {
		return nil, err
	}
	out := remd.StateElements(own)
	for r := 1; r < len(t.peers); r++ {
		f, err := t.read(t.peers[r], kindStates)
		if err != nil {
			return nil, err
		}
		elems, err := decodeElements(f.Elements)
		if err != nil {
			return nil, fmt.Errorf("states from rank %d: %w", r, err)
		}
		out = append(out, elems...)
	}
	return out, nil
}

func (t *TCP) BroadcastAllStatesToWorkers(states []*remd.State) error {
	if err := t.leaderCheck(len(states)); err != nil {
		return err
	}
	elems, err := encodeStates(states)
	if err != nil {
		return err
	}
	for r := 1; r < len(t.peers); r++ {
		if err := t.write(t.peers[r], &frame{Kind: kindAllStates, Elements: elems}); err != nil {
			return err
		}
	}
	return nil
}

func (t *TCP) GatherEnergiesFromWorkers(own remd.EnergyMatrix) (remd.EnergyMatrix, error) {
	if err := t.roleCheck(true); err != nil {
		return nil, err
	}
	if err := remd.ValidateEnergyBlock(remd.Leader, 0, 0, own, len(t.a.Owned(0)), t.a.TotalReplicas); err != nil {
		return nil, err
	}
	out := cloneMatrix(own)
	for r := 1; r < len(t.peers); r++ {
		f, err := t.read(t.peers[r], kindEnergies)
		if err != nil {
			return nil, err
		}
		if err := remd.ValidateEnergyBlock(remd.Leader, r, len(out), f.Energies, len(t.a.Owned(r)), t.a.TotalReplicas); err != nil {
			return nil, err
		}
		out = append(out, f.Energies...)
	}
	return out, nil
}

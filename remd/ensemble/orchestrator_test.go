package ensemble

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProc struct {
	pid        int
	ignoreTerm bool

	mu         sync.Mutex
	exited     bool
	code       int
	terminated int
	killed     int
}

func (p *fakeProc) PID() int { return p.pid }

func (p *fakeProc) Exited() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code, p.exited
}

func (p *fakeProc) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated++
	if !p.ignoreTerm {
		p.exited, p.code = true, 143
	}
	return nil
}

func (p *fakeProc) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed++
	p.exited, p.code = true, 137
	return nil
}

func (p *fakeProc) exit(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exited, p.code = true, code
}

type fakeLauncher struct {
	ignoreTerm bool
	failAt     int // start index that fails; -1 never
	exitCodes  map[int]int
	specs      []LaunchSpec
	procs      []*fakeProc
}

func (l *fakeLauncher) Start(spec LaunchSpec) (Process, error) {
	i := len(l.specs)
	l.specs = append(l.specs, spec)
	if i == l.failAt {
		return nil, errors.New("no such device")
	}
	f, err := os.OpenFile(spec.LogPath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(f, "child %d says hello\n", i)
	f.Close()

	p := &fakeProc{pid: 1000 + i, ignoreTerm: l.ignoreTerm}
	if code, ok := l.exitCodes[i]; ok {
		p.exit(code)
	}
	l.procs = append(l.procs, p)
	return p, nil
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Devices = []string{"0", "1"}
	cfg.RunsPerDevice = 2
	cfg.BaseDir = t.TempDir()
	cfg.Command = []string{"remd-sim", "run"}
	cfg.PollInterval = 5 * time.Millisecond
	cfg.ShutdownPoll = 5 * time.Millisecond
	cfg.GracePeriod = 50 * time.Millisecond
	cfg.MonitorInterval = 0
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg Config, l Launcher, out *bytes.Buffer) *Orchestrator {
	t.Helper()
	o, err := New(cfg, l, out)
	require.NoError(t, err)
	return o.WithSeedSource(rand.New(rand.NewSource(1)))
}

func envValue(spec LaunchSpec, key string) string {
	for _, kv := range spec.Env {
		if v, ok := strings.CutPrefix(kv, key+"="); ok {
			return v
		}
	}
	return ""
}

func TestLaunch_TwoDevicesTwoRuns(t *testing.T) {
	// GIVEN --gpus 0,1 --runs-per-gpu 2
	cfg := testConfig(t)
	l := &fakeLauncher{failAt: -1}
	o := newTestOrchestrator(t, cfg, l, &bytes.Buffer{})

	// WHEN the ensemble is launched
	require.NoError(t, o.Launch(context.Background()))

	// THEN 4 run directories exist with distinct seeds and one device each
	runs := o.Runs()
	require.Len(t, runs, 4)
	seeds := make(map[int64]bool)
	dirs := make(map[string]bool)
	for i, r := range runs {
		seeds[r.Seed] = true
		dirs[r.Dir] = true
		assert.DirExists(t, r.Dir)
		assert.FileExists(t, filepath.Join(r.Dir, runFile))
		assert.Equal(t, "device"+r.Device, filepath.Base(filepath.Dir(r.Dir)))
		assert.Equal(t, fmt.Sprintf("run%d", i%2), filepath.Base(r.Dir))

		spec := l.specs[i]
		assert.Equal(t, r.Device, envValue(spec, "CUDA_VISIBLE_DEVICES"))
		assert.Equal(t, fmt.Sprint(r.Seed), envValue(spec, "REMD_RANDOM_SEED"))
		assert.NotEmpty(t, envValue(spec, "REMD_RUN_DIR"))
		assert.Equal(t, []string{"remd-sim", "run"}, spec.Args)

		data, err := os.ReadFile(r.LogPath)
		require.NoError(t, err)
		first := strings.SplitN(string(data), "\n", 2)[0]
		assert.Equal(t, fmt.Sprintf("[orchestrator] device=%s run_index=%d seed=%d", r.Device, r.RunIndex, r.Seed), first)
	}
	assert.Len(t, seeds, 4)
	assert.Len(t, dirs, 4)

	m, err := ReadManifest(o.Root())
	require.NoError(t, err)
	assert.Len(t, m.Runs, 4)
	assert.NotEmpty(t, m.ID)
}

func TestMonitor_InterruptTerminatesThenKills(t *testing.T) {
	// GIVEN 4 children that ignore the terminate request
	cfg := testConfig(t)
	l := &fakeLauncher{failAt: -1, ignoreTerm: true}
	o := newTestOrchestrator(t, cfg, l, &bytes.Buffer{})
	require.NoError(t, o.Launch(context.Background()))

	// WHEN the orchestrator is interrupted
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := o.Monitor(ctx)

	// THEN every child got one terminate, then one kill after the grace period
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), cfg.GracePeriod)
	for _, p := range l.procs {
		assert.Equal(t, 1, p.terminated, "pid %d", p.pid)
		assert.Equal(t, 1, p.killed, "pid %d", p.pid)
	}
	for _, r := range o.Runs() {
		assert.True(t, r.Killed)
	}
}

func TestMonitor_InterruptCooperativeChildrenNotKilled(t *testing.T) {
	cfg := testConfig(t)
	l := &fakeLauncher{failAt: -1}
	o := newTestOrchestrator(t, cfg, l, &bytes.Buffer{})
	require.NoError(t, o.Launch(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, o.Monitor(ctx))

	for _, p := range l.procs {
		assert.Equal(t, 1, p.terminated)
		assert.Equal(t, 0, p.killed)
	}
	for _, r := range o.Runs() {
		assert.False(t, r.Killed)
		require.NotNil(t, r.ExitCode)
		assert.Equal(t, 143, *r.ExitCode)
	}
}

func TestMonitor_TailsEachByteOnceAndRecordsExits(t *testing.T) {
	// GIVEN children that already exited, one of them with a failure
	cfg := testConfig(t)
	l := &fakeLauncher{failAt: -1, exitCodes: map[int]int{0: 0, 1: 0, 2: 1, 3: 0}}
	out := &bytes.Buffer{}
	o := newTestOrchestrator(t, cfg, l, out)
	require.NoError(t, o.Launch(context.Background()))

	// WHEN monitored
	require.NoError(t, o.Monitor(context.Background()))

	// THEN each log was forwarded exactly once
	for i, r := range o.Runs() {
		header := fmt.Sprintf("[orchestrator] device=%s run_index=%d seed=%d\n", r.Device, r.RunIndex, r.Seed)
		assert.Equal(t, 1, strings.Count(out.String(), header))
		assert.Equal(t, 1, strings.Count(out.String(), fmt.Sprintf("child %d says hello\n", i)))
		require.NotNil(t, r.ExitCode)
		assert.Equal(t, l.exitCodes[i], *r.ExitCode)
	}
	// AND the sibling failure did not stop anyone
	for _, p := range l.procs {
		assert.Equal(t, 0, p.terminated)
	}
}

func TestMonitor_ExitBetweenPollsIsRecorded(t *testing.T) {
	cfg := testConfig(t)
	cfg.Devices = []string{"0"}
	cfg.RunsPerDevice = 1
	l := &fakeLauncher{failAt: -1}
	o := newTestOrchestrator(t, cfg, l, &bytes.Buffer{})
	require.NoError(t, o.Launch(context.Background()))

	done := make(chan error, 1)
	go func() { done <- o.Monitor(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	l.procs[0].exit(2)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not notice the exit")
	}
	require.NotNil(t, o.Runs()[0].ExitCode)
	assert.Equal(t, 2, *o.Runs()[0].ExitCode)
}

func TestLaunch_FailureStopsStartedChildren(t *testing.T) {
	cfg := testConfig(t)
	l := &fakeLauncher{failAt: 2}
	o := newTestOrchestrator(t, cfg, l, &bytes.Buffer{})

	err := o.Launch(context.Background())

	require.Error(t, err)
	require.Len(t, l.procs, 2)
	for _, p := range l.procs {
		assert.Equal(t, 1, p.terminated)
	}
}

func TestRun_NoTailReturnsImmediately(t *testing.T) {
	cfg := testConfig(t)
	cfg.NoTail = true
	l := &fakeLauncher{failAt: -1}
	out := &bytes.Buffer{}
	o := newTestOrchestrator(t, cfg, l, out)

	require.NoError(t, o.Run(context.Background()))

	assert.Len(t, l.procs, 4)
	assert.Empty(t, out.String())
	for _, p := range l.procs {
		assert.Equal(t, 0, p.terminated)
	}
}

func TestRun_DebugPassedToChild(t *testing.T) {
	cfg := testConfig(t)
	cfg.NoTail = true
	cfg.Debug = true
	l := &fakeLauncher{failAt: -1}
	require.NoError(t, newTestOrchestrator(t, cfg, l, &bytes.Buffer{}).Run(context.Background()))
	assert.Equal(t, []string{"remd-sim", "run", "--debug"}, l.specs[0].Args)
}

type fakeStore struct {
	exists bool
	calls  int
}

func (s *fakeStore) Exists() (bool, error) { return s.exists, nil }

func TestLaunch_CreatesMissingSetup(t *testing.T) {
	cfg := testConfig(t)
	l := &fakeLauncher{failAt: -1}
	store := &fakeStore{}
	o := newTestOrchestrator(t, cfg, l, &bytes.Buffer{}).WithSetup(store, func(context.Context) error {
		store.calls++
		store.exists = true
		return nil
	})

	require.NoError(t, o.Launch(context.Background()))
	assert.Equal(t, 1, store.calls)
	assert.Len(t, l.procs, 4)
}

func TestLaunch_SetupStillMissingFailsFast(t *testing.T) {
	cfg := testConfig(t)
	l := &fakeLauncher{failAt: -1}
	store := &fakeStore{}
	o := newTestOrchestrator(t, cfg, l, &bytes.Buffer{}).WithSetup(store, func(context.Context) error {
		store.calls++
		return nil
	})

	err := o.Launch(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, store.calls)
	assert.Empty(t, l.specs)
}

func TestNew_RejectsEmptyDeviceList(t *testing.T) {
	cfg := testConfig(t)
	cfg.Devices = ParseDevices(" , ")
	_, err := New(cfg, &fakeLauncher{}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestLaunch_RunDirsNamedByDeviceID(t *testing.T) {
	// GIVEN --gpus 2,5 with one run each
	cfg := testConfig(t)
	cfg.Devices = []string{"2", "5"}
	cfg.RunsPerDevice = 1
	o := newTestOrchestrator(t, cfg, &fakeLauncher{failAt: -1}, &bytes.Buffer{})

	// WHEN launched
	require.NoError(t, o.Launch(context.Background()))

	// THEN each run lives under its device id, not its list position
	runs := o.Runs()
	require.Len(t, runs, 2)
	assert.Equal(t, filepath.Join(o.Root(), "device2", "run0"), runs[0].Dir)
	assert.Equal(t, filepath.Join(o.Root(), "device5", "run0"), runs[1].Dir)
	assert.NoDirExists(t, filepath.Join(o.Root(), "device0"))
}

func TestLaunch_SameSecondGetsFreshRoot(t *testing.T) {
	// GIVEN two ensembles with the same tag launched at the same instant
	cfg := testConfig(t)
	cfg.RunsPerDevice = 1
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := newTestOrchestrator(t, cfg, &fakeLauncher{failAt: -1}, &bytes.Buffer{})
	first.now = func() time.Time { return fixed }
	second := newTestOrchestrator(t, cfg, &fakeLauncher{failAt: -1}, &bytes.Buffer{})
	second.now = func() time.Time { return fixed }

	// WHEN both launch
	require.NoError(t, first.Launch(context.Background()))
	require.NoError(t, second.Launch(context.Background()))

	// THEN the second uses its own root and the first's logs are untouched
	assert.NotEqual(t, first.Root(), second.Root())
	assert.Equal(t, filepath.Join(cfg.BaseDir, cfg.Tag, "20260301_120000_1"), second.Root())
	data, err := os.ReadFile(first.Runs()[0].LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "child 0 says hello")
}

func TestNew_RejectsUnsafeDeviceIDs(t *testing.T) {
	for _, d := range []string{"..", "a/b", `a\b`, "0 1"} {
		cfg := testConfig(t)
		cfg.Devices = []string{d}
		_, err := New(cfg, &fakeLauncher{}, &bytes.Buffer{})
		assert.Error(t, err, "device %q", d)
	}
}

func TestParseDevices(t *testing.T) {
	assert.Equal(t, []string{"0", "2", "3"}, ParseDevices("0, 2,,3 "))
	assert.Empty(t, ParseDevices(""))
}

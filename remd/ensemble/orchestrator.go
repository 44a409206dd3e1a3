package ensemble

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/remd-sim/remd-sim/remd"
)

// Orchestrator launches an ensemble and supervises it from a single
// goroutine: a non-blocking poll over every child followed by a short sleep.
type Orchestrator struct {
	cfg      Config
	launcher Launcher
	out      io.Writer
	store    SetupStore
	setup    SetupFunc
	rng      *rand.Rand
	now      func() time.Time
	log      *logrus.Entry

	root     string
	manifest *Manifest
	runs     []*run
	tailed   uint64
}

type run struct {
	rec    RunRecord
	proc   Process
	offset int64
	active bool
}

// New validates cfg and creates an orchestrator that forwards tailed log
// bytes to out.
func New(cfg Config, launcher Launcher, out io.Writer) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ensemble config: %w", err)
	}
	streams := remd.NewStreams(time.Now().UnixNano())
	return &Orchestrator{
		cfg:      cfg,
		launcher: launcher,
		out:      out,
		rng:      streams.Stream(remd.StreamJitter),
		now:      time.Now,
		log:      logrus.WithField("component", "orchestrator"),
	}, nil
}

// WithSetup makes Launch ensure the initial setup exists first, creating it
// with setup when store reports it missing.
func (o *Orchestrator) WithSetup(store SetupStore, setup SetupFunc) *Orchestrator {
	o.store = store
	o.setup = setup
	return o
}

// WithSeedSource replaces the jitter source.
func (o *Orchestrator) WithSeedSource(rng *rand.Rand) *Orchestrator {
	o.rng = rng
	return o
}

// Root returns the ensemble directory after Launch.
func (o *Orchestrator) Root() string { return o.root }

// Runs returns a snapshot of every run record.
func (o *Orchestrator) Runs() []RunRecord {
	out := make([]RunRecord, len(o.runs))
	for i, r := range o.runs {
		out[i] = r.rec
	}
	return out
}

// Run launches the ensemble and, unless tailing is disabled, supervises it
// until every child exits or ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Launch(ctx); err != nil {
		return err
	}
	if o.cfg.NoTail {
		o.log.Info("Launched all runs (no-tail mode).")
		return nil
	}
	return o.Monitor(ctx)
}

func (o *Orchestrator) ensureSetup(ctx context.Context) error {
	if o.store == nil {
		return nil
	}
	ok, err := o.store.Exists()
	if err != nil {
		return fmt.Errorf("checking setup: %w", err)
	}
	if ok {
		return nil
	}
	if o.setup == nil {
		return fmt.Errorf("initial setup missing and no setup step configured")
	}
	o.log.Info("Initial setup missing, creating it.")
	if err := o.setup(ctx); err != nil {
		return fmt.Errorf("creating initial setup: %w", err)
	}
	if ok, err = o.store.Exists(); err != nil || !ok {
		return fmt.Errorf("initial setup still missing after setup step (err=%v)", err)
	}
	return nil
}

// Launch starts every (device, run) child. If any start fails, children
// already started are stopped before the error is returned.
func (o *Orchestrator) Launch(ctx context.Context) error {
	if err := o.ensureSetup(ctx); err != nil {
		return err
	}
	launched := o.now().UTC()
	root, err := claimRoot(filepath.Join(o.cfg.BaseDir, o.cfg.Tag), launched.Format("20060102_150405"))
	if err != nil {
		return err
	}
	o.root = root
	o.manifest = &Manifest{
		ID:       uuid.NewString(),
		Tag:      o.cfg.Tag,
		Root:     o.root,
		Launched: launched,
		SeedBase: o.cfg.SeedBase,
		Command:  o.cfg.childArgs(),
	}
	o.log.Infof("Launching %d runs across devices %v -> base %s", o.cfg.TotalRuns(), o.cfg.Devices, o.root)

	seeds := newSeedPlanner(o.cfg.SeedBase, o.cfg.JitterMax, o.rng)
	for _, device := range o.cfg.Devices {
		for k := 0; k < o.cfg.RunsPerDevice; k++ {
			if err := ctx.Err(); err != nil {
				o.stopAll()
				return err
			}
			r, err := o.start(device, k, seeds.next())
			if err != nil {
				o.log.Errorf("launch failed, stopping %d started runs: %v", len(o.runs), err)
				o.stopAll()
				return err
			}
			o.runs = append(o.runs, r)
			o.log.Infof("PID %d -> device %s run %d seed %d log %s", r.rec.PID, device, k, r.rec.Seed, r.rec.LogPath)
		}
	}
	return o.writeManifest()
}

// claimRoot creates a fresh ensemble root named stamp under parent. A root
// left by an earlier launch in the same second gets a numeric suffix.
func claimRoot(parent, stamp string) (string, error) {
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("creating run base: %w", err)
	}
	for n := 0; ; n++ {
		root := filepath.Join(parent, stamp)
		if n > 0 {
			root = filepath.Join(parent, fmt.Sprintf("%s_%d", stamp, n))
		}
		err := os.Mkdir(root, 0o755)
		if err == nil {
			return root, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("creating ensemble root: %w", err)
		}
	}
}

func (o *Orchestrator) start(device string, k int, seed int64) (*run, error) {
	dir := filepath.Join(o.root, "device"+device, fmt.Sprintf("run%d", k))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating run dir: %w", err)
	}
	logPath := filepath.Join(dir, logFile)
	header := fmt.Sprintf("[orchestrator] device=%s run_index=%d seed=%d\n", device, k, seed)
	if err := os.WriteFile(logPath, []byte(header), 0o644); err != nil {
		return nil, fmt.Errorf("writing run log header: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	proc, err := o.launcher.Start(LaunchSpec{
		Args: o.cfg.childArgs(),
		Env: []string{
			o.cfg.DeviceEnv + "=" + device,
			fmt.Sprintf("%s=%d", o.cfg.SeedEnv, seed),
			o.cfg.RunDirEnv + "=" + absDir,
		},
		LogPath: logPath,
	})
	if err != nil {
		return nil, fmt.Errorf("device %s run %d: %w", device, k, err)
	}
	r := &run{
		rec: RunRecord{
			ID:        uuid.NewString(),
			Device:    device,
			RunIndex:  k,
			Seed:      seed,
			Dir:       dir,
			LogPath:   logPath,
			PID:       proc.PID(),
			StartedAt: o.now().UTC(),
		},
		proc:   proc,
		active: true,
	}
	if err := writeYAML(filepath.Join(dir, runFile), &r.rec); err != nil {
		o.log.Warnf("run record for PID %d: %v", r.rec.PID, err)
	}
	return r, nil
}

// Monitor tails every live child's log into the output stream, records
// exits and prints a periodic summary of active runs. Cancelling ctx
// triggers the shutdown sequence. Child failures are reported, not
// returned.
func (o *Orchestrator) Monitor(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()
	lastSummary := o.now()
	for {
		o.poll(true)
		if o.activeCount() == 0 {
			o.finish()
			return nil
		}
		if o.cfg.MonitorInterval > 0 && o.now().Sub(lastSummary) >= o.cfg.MonitorInterval {
			lastSummary = o.now()
			o.log.Infof("Active PIDs: %s", o.activeSummary())
		}
		select {
		case <-ctx.Done():
			o.log.Info("Interrupt received, terminating children...")
			o.stopAll()
			o.finish()
			o.log.Info("Shutdown complete.")
			return nil
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) poll(tail bool) {
	for _, r := range o.runs {
		if !r.active {
			continue
		}
		code, done := r.proc.Exited()
		if tail {
			o.tail(r)
		}
		if done {
			o.recordExit(r, code)
		}
	}
}

func (o *Orchestrator) recordExit(r *run, code int) {
	ended := o.now().UTC()
	r.active = false
	r.rec.EndedAt = &ended
	r.rec.ExitCode = &code
	if code == 0 {
		o.log.Infof("PID %d exited code %d", r.rec.PID, code)
	} else {
		o.log.Warnf("PID %d (device %s run %d) exited code %d", r.rec.PID, r.rec.Device, r.rec.RunIndex, code)
	}
	if err := writeYAML(filepath.Join(r.rec.Dir, runFile), &r.rec); err != nil {
		o.log.Warnf("run record for PID %d: %v", r.rec.PID, err)
	}
}

func (o *Orchestrator) tail(r *run) {
	f, err := os.Open(r.rec.LogPath)
	if err != nil {
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.Size() <= r.offset {
		return
	}
	if _, err := f.Seek(r.offset, io.SeekStart); err != nil {
		return
	}
	n, err := io.CopyN(o.out, f, info.Size()-r.offset)
	r.offset += n
	o.tailed += uint64(n)
	if err != nil && err != io.EOF {
		o.log.Debugf("tail %s: %v", r.rec.LogPath, err)
	}
}

// stopAll asks every active child to terminate, waits out the grace
// period, then kills survivors.
func (o *Orchestrator) stopAll() {
	for _, r := range o.runs {
		if !r.active {
			continue
		}
		if err := r.proc.Terminate(); err != nil {
			o.log.Warnf("terminating PID %d: %v", r.rec.PID, err)
		}
	}
	deadline := o.now().Add(o.cfg.GracePeriod)
	for o.activeCount() > 0 && o.now().Before(deadline) {
		time.Sleep(o.cfg.ShutdownPoll)
		o.poll(!o.cfg.NoTail)
	}
	for _, r := range o.runs {
		if !r.active {
			continue
		}
		o.log.Warnf("PID %d still alive after %s, killing", r.rec.PID, o.cfg.GracePeriod)
		if err := r.proc.Kill(); err != nil {
			o.log.Errorf("killing PID %d: %v", r.rec.PID, err)
		}
		ended := o.now().UTC()
		r.active = false
		r.rec.Killed = true
		r.rec.EndedAt = &ended
		if err := writeYAML(filepath.Join(r.rec.Dir, runFile), &r.rec); err != nil {
			o.log.Warnf("run record for PID %d: %v", r.rec.PID, err)
		}
	}
}

func (o *Orchestrator) finish() {
	if err := o.writeManifest(); err != nil {
		o.log.Warnf("manifest: %v", err)
	}
	var ok, failed, killed int
	for _, r := range o.runs {
		switch {
		case r.rec.Killed:
			killed++
		case r.rec.ExitCode != nil && *r.rec.ExitCode == 0:
			ok++
		default:
			failed++
			o.log.Warnf("run device=%s run_index=%d seed=%d failed (log %s)", r.rec.Device, r.rec.RunIndex, r.rec.Seed, r.rec.LogPath)
		}
	}
	o.log.Infof("Ensemble finished: %d runs, %d succeeded, %d failed, %d killed; %s of logs forwarded",
		len(o.runs), ok, failed, killed, humanize.Bytes(o.tailed))
}

func (o *Orchestrator) writeManifest() error {
	if o.manifest == nil {
		return nil
	}
	o.manifest.Runs = o.Runs()
	return writeYAML(filepath.Join(o.root, manifestFile), o.manifest)
}

func (o *Orchestrator) activeCount() int {
	n := 0
	for _, r := range o.runs {
		if r.active {
			n++
		}
	}
	return n
}

func (o *Orchestrator) activeSummary() string {
	var parts []string
	for _, r := range o.runs {
		if r.active {
			parts = append(parts, fmt.Sprintf("%d:%s", r.rec.PID, r.rec.Device))
		}
	}
	return strings.Join(parts, ", ")
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/remd-sim/remd-sim/remd"
	"github.com/remd-sim/remd-sim/remd/comm"
	"github.com/remd-sim/remd-sim/remd/engine"
	"github.com/remd-sim/remd-sim/remd/ladder"
	"github.com/remd-sim/remd-sim/remd/store"
	"github.com/remd-sim/remd-sim/remd/trace"
)

var (
	runConfigPath string        // Optional run parameter override file
	outputDir     string        // Checkpoint directory
	runMode       string        // local or tcp
	localRanks    int           // In-process rank count (0 = as many as needed)
	leaderAddr    string        // Leader address in tcp mode
	rankFlag      int           // This process's rank in tcp mode (-1 = from environment)
	worldSizeFlag int           // World size in tcp mode (-1 = from environment)
	runSeed       int64         // Seed override (0 = environment, then setup)
	recvTimeout   time.Duration // Receive timeout override
)

const (
	seedEnv   = "REMD_RANDOM_SEED"
	runDirEnv = "REMD_RUN_DIR"
)

// runPlan is everything a rank needs, resolved once per process.
type runPlan struct {
	setup      *store.Setup
	run        remd.RunConfig
	assignment *remd.Assignment
	start      int
	states     []*remd.State
	seed       int64
	out        *store.FileStore
}

// planRun loads the setup, applies overrides and resumes from the latest
// checkpoint in the output directory if there is one.
func planRun(setupDir, outDir, configPath string, worldSize int, seed int64) (*runPlan, error) {
	setup, err := store.NewFileStore(setupDir).LoadSetup()
	if err != nil {
		return nil, fmt.Errorf("loading setup from %s: %w", setupDir, err)
	}
	run := setup.Run
	if configPath != "" {
		cfg, err := remd.LoadRunConfig(configPath)
		if err != nil {
			return nil, err
		}
		if cfg.NumReplicas != setup.Run.NumReplicas {
			return nil, fmt.Errorf("%w: config has %d replicas, setup has %d", remd.ErrConfig, cfg.NumReplicas, setup.Run.NumReplicas)
		}
		run = *cfg
	}
	if recvTimeout > 0 {
		run.ReceiveTimeout = recvTimeout
	}
	if err := run.Validate(); err != nil {
		return nil, err
	}
	if worldSize <= 0 {
		worldSize = run.ExpectedRanks()
	}
	a, err := remd.MapRanks(run.NumReplicas, worldSize, run.MultiplexFactor, run.AllowPartial)
	if err != nil {
		return nil, err
	}
	if seed == 0 {
		seed = setup.Seed
	}

	p := &runPlan{
		setup:      setup,
		run:        run,
		assignment: a,
		start:      1,
		states:     setup.States,
		seed:       seed,
		out:        store.NewFileStore(outDir),
	}
	cp, err := p.out.LoadCheckpoint()
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}
	if cp != nil {
		if len(cp.States) != run.NumReplicas {
			return nil, fmt.Errorf("%w: checkpoint has %d states for %d replicas", remd.ErrConfig, len(cp.States), run.NumReplicas)
		}
		p.start = cp.Step + 1
		p.states = cp.States
		logrus.Infof("Resuming from checkpoint at step %d in %s", cp.Step, outDir)
	}
	return p, nil
}

func (p *runPlan) runnerConfig() remd.RunnerConfig {
	return remd.RunnerConfig{
		Step:     p.start,
		MaxSteps: p.run.MaxSteps,
		Options:  remd.NewRunOptions(engine.Options{Adaptive: p.run.AdaptiveThresholds}),
		Adjuster: engine.AdaptiveRestraints{
			Interval:  p.run.BlockSize,
			Growth:    1.1,
			MaxCutoff: 4 * p.setup.Engine.RestraintCutoff,
		},
	}
}

// rankFunc builds the engine for rank and runs the leader or worker loop
// depending on the communicator's role.
func (p *runPlan) rankFunc(rank int) remd.RankFunc {
	return func(ctx context.Context, c remd.Communicator) error {
		rng := remd.NewStreams(p.seed)
		eng, err := engine.NewHarmonic(p.setup.Engine, rng.Stream(remd.RankStream(rank)))
		if err != nil {
			return err
		}
		if !c.IsLeader() {
			wc, ok := c.(remd.WorkerCommunicator)
			if !ok {
				return fmt.Errorf("rank %d: %T is not a worker communicator", rank, c)
			}
			return remd.NewWorkerRunner(p.runnerConfig(), wc, eng).Run(ctx)
		}
		lc, ok := c.(remd.LeaderCommunicator)
		if !ok {
			return fmt.Errorf("rank %d: %T is not a leader communicator", rank, c)
		}
		leader, err := remd.NewLeaderRunner(remd.LeaderConfig{
			RunnerConfig:     p.runnerConfig(),
			States:           remd.CloneStates(p.states),
			Alphas:           p.setup.Alphas,
			Ladder:           ladder.NewNearestNeighbor(p.run.ExchangeTrials, rng.Stream(remd.StreamLadder)),
			Trace:            trace.NewExchangeTrace(trace.TraceLevel(p.run.TraceLevel)),
			Checkpointer:     p.out,
			CheckpointEvery:  p.run.BlockSize,
			ProgressEvery:    p.run.ProgressEvery,
			ProgressInterval: p.run.ProgressInterval,
		}, lc, eng)
		if err != nil {
			return err
		}
		return leader.Run(ctx)
	}
}

// runLocal drives every rank of the group as a goroutine in this process.
func runLocal(ctx context.Context, p *runPlan) error {
	a := p.assignment
	lg := comm.NewLocalGroup(a, p.run.ReceiveTimeout)
	eg, gctx := errgroup.WithContext(ctx)
	// unblock ranks waiting on a peer that failed or was cancelled
	stop := context.AfterFunc(gctx, lg.Abort)
	defer stop()
	for rank := 0; rank < a.WorldSize; rank++ {
		rank := rank
		eg.Go(func() error {
			open := func() (remd.Communicator, error) { return lg.Members[rank], nil }
			return remd.RunRank(gctx, rank, a, open, p.rankFunc(rank))
		})
	}
	return eg.Wait()
}

// runTCP runs one rank of a group spread over processes.
func runTCP(ctx context.Context, p *runPlan, rank int, addr string) error {
	opts := comm.TCPOptions{Timeout: p.run.ReceiveTimeout}
	open := func() (remd.Communicator, error) {
		if rank == 0 {
			return comm.ListenTCP(ctx, addr, p.assignment, opts)
		}
		return comm.DialTCP(ctx, addr, rank, p.assignment, opts)
	}
	return remd.RunRank(ctx, rank, p.assignment, open, p.rankFunc(rank))
}

func resolveSeed(flag int64) (int64, error) {
	if flag != 0 {
		return flag, nil
	}
	if v, ok := os.LookupEnv(seedEnv); ok && v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s=%q: %w", seedEnv, v, err)
		}
		return seed, nil
	}
	return 0, nil
}

func resolveOutputDir(flag, fallback string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(runDirEnv); v != "" {
		return v
	}
	return fallback
}

// runCmd runs one replica exchange group
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a replica exchange simulation from the initial setup",
	Run: func(cmd *cobra.Command, args []string) {
		configureLogging()

		seed, err := resolveSeed(runSeed)
		if err != nil {
			logrus.Fatalf("Invalid seed: %v", err)
		}
		out := resolveOutputDir(outputDir, setupDir)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		switch runMode {
		case "local":
			p, err := planRun(setupDir, out, runConfigPath, localRanks, seed)
			if err != nil {
				logrus.Fatalf("Run setup failed: %v", err)
			}
			logrus.Infof("Starting %d replicas on %d in-process ranks, steps %d..%d, seed %d",
				p.run.NumReplicas, p.assignment.ActiveRanks(), p.start, p.run.MaxSteps, p.seed)
			err = runLocal(ctx, p)
			if err != nil {
				logrus.Fatalf("Run failed: %v", err)
			}
		case "tcp":
			rank, world := rankFlag, worldSizeFlag
			if rank < 0 || world < 0 {
				envRank, envWorld, found, err := rankFromEnv(os.LookupEnv)
				if err != nil {
					logrus.Fatalf("Invalid rank environment: %v", err)
				}
				if !found {
					logrus.Fatalf("No rank given: pass --rank/--world-size or launch under MPI")
				}
				rank, world = envRank, envWorld
			}
			p, err := planRun(setupDir, out, runConfigPath, world, seed)
			if err != nil {
				logrus.Fatalf("Run setup failed: %v", err)
			}
			if err := runTCP(ctx, p, rank, leaderAddr); err != nil {
				logrus.Fatalf("Rank %d failed: %v", rank, err)
			}
		default:
			logrus.Fatalf("Unknown mode %q (want local or tcp)", runMode)
		}
		logrus.Info("Run complete.")
	},
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "Run parameter YAML overriding the setup's")
	runCmd.Flags().StringVar(&outputDir, "output-dir", "", "Checkpoint directory (default $"+runDirEnv+", then --setup-dir)")
	runCmd.Flags().StringVar(&runMode, "mode", "local", "Communicator: local (all ranks in-process) or tcp (one rank per process)")
	runCmd.Flags().IntVar(&localRanks, "ranks", 0, "In-process rank count for local mode (0 = as many as the replicas need)")
	runCmd.Flags().StringVar(&leaderAddr, "leader-addr", "127.0.0.1:47000", "Leader listen/dial address for tcp mode")
	runCmd.Flags().IntVar(&rankFlag, "rank", -1, "Rank of this process in tcp mode (-1 = from environment)")
	runCmd.Flags().IntVar(&worldSizeFlag, "world-size", -1, "World size in tcp mode (-1 = from environment)")
	runCmd.Flags().Int64Var(&runSeed, "seed", 0, "Random seed (0 = $"+seedEnv+", then the setup's seed)")
	runCmd.Flags().DurationVar(&recvTimeout, "timeout", 0, "Receive timeout override (0 = from config)")
}

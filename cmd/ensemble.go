package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/remd-sim/remd-sim/remd/ensemble"
	"github.com/remd-sim/remd-sim/remd/store"
)

var (
	gpus            string // Comma separated device list
	runsPerGPU      int    // Independent runs per device
	seedBase        int64  // Base added to the run counter for each seed
	monitorInterval int    // Seconds between active-run summaries
	tag             string // Top-level run grouping
	noTail          bool   // Launch and exit without supervising
	runsBaseDir     string // Root of all ensemble run directories
)

// ensembleConfig builds the orchestrator configuration from flags. The
// child is this binary's run command against the shared setup.
func ensembleConfig(exe string) ensemble.Config {
	cfg := ensemble.DefaultConfig()
	cfg.Devices = ensemble.ParseDevices(gpus)
	cfg.RunsPerDevice = runsPerGPU
	cfg.SeedBase = seedBase
	cfg.MonitorInterval = time.Duration(monitorInterval) * time.Second
	cfg.Tag = tag
	cfg.BaseDir = runsBaseDir
	cfg.NoTail = noTail
	cfg.Debug = debug
	cfg.Command = []string{exe, "run", "--setup-dir", setupDir, "--log", logLevel}
	return cfg
}

// ensembleCmd launches independent runs across devices
var ensembleCmd = &cobra.Command{
	Use:   "ensemble",
	Short: "Launch and supervise independent runs across accelerator devices",
	Run: func(cmd *cobra.Command, args []string) {
		configureLogging()

		exe, err := os.Executable()
		if err != nil {
			logrus.Fatalf("Cannot locate own executable: %v", err)
		}
		cfg := ensembleConfig(exe)
		if len(cfg.Devices) == 0 {
			logrus.Fatalf("No devices parsed from --gpus %q", gpus)
		}
		o, err := ensemble.New(cfg, ensemble.ExecLauncher{}, os.Stdout)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		o.WithSetup(store.NewFileStore(setupDir), func(context.Context) error {
			_, err := writeSetup(setupDir, "", "", 42, 0, 0, false)
			return err
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := o.Run(ctx); err != nil {
			logrus.Fatalf("Ensemble failed: %v", err)
		}
	},
}

func init() {
	ensembleCmd.Flags().StringVar(&gpus, "gpus", "", "Comma list of device indices, e.g. 0,1 or 0,2,3")
	ensembleCmd.Flags().IntVar(&runsPerGPU, "runs-per-gpu", 1, "Independent runs per listed device")
	ensembleCmd.Flags().Int64Var(&seedBase, "seed-base", 1000, "Base integer added to the run counter for each seed")
	ensembleCmd.Flags().IntVar(&monitorInterval, "monitor-interval", 60, "Seconds between status summaries while tailing")
	ensembleCmd.Flags().StringVar(&tag, "tag", "ensemble", "Top-level run grouping tag")
	ensembleCmd.Flags().BoolVar(&noTail, "no-tail", false, "Launch all runs and exit without tailing")
	ensembleCmd.Flags().StringVar(&runsBaseDir, "base-dir", "Runs", "Root directory for run outputs")
	_ = ensembleCmd.MarkFlagRequired("gpus")
}

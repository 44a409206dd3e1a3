package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/remd-sim/remd-sim/remd"
	"github.com/remd-sim/remd-sim/remd/engine"
	"github.com/remd-sim/remd-sim/remd/store"
)

var (
	setupConfigPath  string // Run parameter YAML
	engineConfigPath string // Engine parameter YAML
	setupSeed        int64  // Seed for initial states
	setupForce       bool   // Overwrite an existing setup
	setupReplicas    int    // Replica count override
	setupSteps       int    // Step count override
)

func loadEngineConfig(path string) (engine.Config, error) {
	cfg := engine.DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading engine config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing engine config: %w", err)
	}
	return cfg, nil
}

// writeSetup creates the initial setup in dir unless one exists and force
// is off. It reports whether a setup was written.
func writeSetup(dir, runPath, enginePath string, seed int64, replicas, steps int, force bool) (bool, error) {
	fs := store.NewFileStore(dir)
	exists, err := fs.Exists()
	if err != nil {
		return false, err
	}
	if exists && !force {
		logrus.Infof("Setup already present in %s; use --force to replace it", dir)
		return false, nil
	}

	run := remd.DefaultRunConfig()
	if runPath != "" {
		cfg, err := remd.LoadRunConfig(runPath)
		if err != nil {
			return false, err
		}
		run = *cfg
	}
	if replicas > 0 {
		run.NumReplicas = replicas
	}
	if steps > 0 {
		run.MaxSteps = steps
	}
	eng, err := loadEngineConfig(enginePath)
	if err != nil {
		return false, err
	}
	setup, err := store.Build(run, eng, seed)
	if err != nil {
		return false, err
	}
	if err := fs.SaveSetup(setup); err != nil {
		return false, err
	}
	logrus.Infof("Wrote setup for %d replicas x %d atoms (%d steps, checkpoint every %d) to %s",
		run.NumReplicas, eng.Atoms, run.MaxSteps, run.BlockSize, dir)
	return true, nil
}

// setupCmd writes the initial setup
var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the initial replica set and run parameters",
	Run: func(cmd *cobra.Command, args []string) {
		configureLogging()
		if _, err := writeSetup(setupDir, setupConfigPath, engineConfigPath, setupSeed, setupReplicas, setupSteps, setupForce); err != nil {
			logrus.Fatalf("Setup failed: %v", err)
		}
	},
}

func init() {
	setupCmd.Flags().StringVar(&setupConfigPath, "config", "", "Run parameter YAML (defaults apply to missing fields)")
	setupCmd.Flags().StringVar(&engineConfigPath, "engine-config", "", "Engine parameter YAML (defaults apply to missing fields)")
	setupCmd.Flags().Int64Var(&setupSeed, "seed", 42, "Seed for the initial states")
	setupCmd.Flags().BoolVar(&setupForce, "force", false, "Replace an existing setup")
	setupCmd.Flags().IntVar(&setupReplicas, "replicas", 0, "Replica count (0 = from config)")
	setupCmd.Flags().IntVar(&setupSteps, "steps", 0, "Step count (0 = from config)")
}

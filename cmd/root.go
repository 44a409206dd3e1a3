package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	logLevel string // Log verbosity level
	debug    bool   // Force debug logging
	setupDir string // Directory holding the initial setup
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "remd-sim",
	Short: "Replica exchange simulation runner and multi-device ensemble launcher",
}

// configureLogging applies --log, overridden by --debug.
func configureLogging() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	if debug {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&setupDir, "setup-dir", "Data", "Directory holding the initial setup")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(ensembleCmd)
}

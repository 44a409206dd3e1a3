// Package ensemble launches and supervises independent replica exchange
// runs across accelerator devices: one child process per (device, run)
// pair, each with its own seed, run directory and log.
package ensemble

import (
	"fmt"
	"strings"
	"time"
)

// Config configures an ensemble.
type Config struct {
	Devices       []string
	RunsPerDevice int
	SeedBase      int64
	JitterMax     int64 // seeds get a random jitter in [0, JitterMax]
	Tag           string
	BaseDir       string
	Command       []string // child argv; Debug appends --debug
	Debug         bool
	NoTail        bool

	DeviceEnv string // device visibility variable
	SeedEnv   string
	RunDirEnv string

	PollInterval    time.Duration
	MonitorInterval time.Duration // between active-run summaries (0 disables)
	GracePeriod     time.Duration
	ShutdownPoll    time.Duration
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		RunsPerDevice:   1,
		SeedBase:        1000,
		JitterMax:       9999,
		Tag:             "ensemble",
		BaseDir:         "Runs",
		DeviceEnv:       "CUDA_VISIBLE_DEVICES",
		SeedEnv:         "REMD_RANDOM_SEED",
		RunDirEnv:       "REMD_RUN_DIR",
		PollInterval:    2 * time.Second,
		MonitorInterval: 60 * time.Second,
		GracePeriod:     10 * time.Second,
		ShutdownPoll:    500 * time.Millisecond,
	}
}

// ParseDevices splits a comma separated device list, dropping blanks.
func ParseDevices(s string) []string {
	var out []string
	for _, d := range strings.Split(s, ",") {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if len(c.Devices) == 0 {
		return fmt.Errorf("no devices given")
	}
	seen := make(map[string]bool, len(c.Devices))
	for _, d := range c.Devices {
		if d == "" || d == "." || d == ".." || strings.ContainsAny(d, "/\\ \t") {
			return fmt.Errorf("device %q is not usable as a directory name", d)
		}
		if seen[d] {
			return fmt.Errorf("device %q listed twice", d)
		}
		seen[d] = true
	}
	if c.RunsPerDevice < 1 {
		return fmt.Errorf("runs per device must be >= 1, got %d", c.RunsPerDevice)
	}
	if c.JitterMax < 0 {
		return fmt.Errorf("seed jitter must be non-negative, got %d", c.JitterMax)
	}
	if len(c.Command) == 0 {
		return fmt.Errorf("no child command")
	}
	if c.Tag == "" || strings.ContainsAny(c.Tag, `/\`) {
		return fmt.Errorf("invalid tag %q", c.Tag)
	}
	if c.PollInterval <= 0 || c.ShutdownPoll <= 0 || c.GracePeriod < 0 {
		return fmt.Errorf("poll intervals must be positive and grace period non-negative")
	}
	return nil
}

// TotalRuns returns the number of children the ensemble launches.
func (c *Config) TotalRuns() int {
	return len(c.Devices) * c.RunsPerDevice
}

func (c *Config) childArgs() []string {
	args := append([]string(nil), c.Command...)
	if c.Debug {
		args = append(args, "--debug")
	}
	return args
}

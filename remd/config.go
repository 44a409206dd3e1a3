package remd

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/remd-sim/remd-sim/remd/trace"
)

// RunConfig holds the replica exchange run parameters, loadable from YAML.
type RunConfig struct {
	NumReplicas        int           `yaml:"num_replicas"`
	MaxSteps           int           `yaml:"max_steps"`
	MultiplexFactor    int           `yaml:"multiplex_factor"`
	AllowPartial       bool          `yaml:"allow_partial"`
	BlockSize          int           `yaml:"block_size"` // steps between checkpoints
	ReceiveTimeout     time.Duration `yaml:"receive_timeout"`
	ExchangeTrials     int           `yaml:"exchange_trials"`
	AdaptiveThresholds bool          `yaml:"adaptive_thresholds"`
	ProgressEvery      int           `yaml:"progress_every"`
	ProgressInterval   time.Duration `yaml:"progress_interval"`
	TraceLevel         string        `yaml:"trace_level"`
}

// DefaultRunConfig returns the defaults used by `remd-sim setup`.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		NumReplicas:      30,
		MaxSteps:         1500,
		MultiplexFactor:  1,
		BlockSize:        50,
		ReceiveTimeout:   60 * time.Second,
		ExchangeTrials:   48 * 48,
		ProgressEvery:    10,
		ProgressInterval: time.Minute,
		TraceLevel:       string(trace.TraceLevelExchanges),
	}
}

// LoadRunConfig reads a YAML run configuration over the defaults.
// Unknown fields are rejected so typos fail loudly.
func LoadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run config: %w", err)
	}
	cfg := DefaultRunConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing run config: %w", err)
	}
	return &cfg, nil
}

// Validate checks parameter ranges. All failures wrap ErrConfig.
func (c *RunConfig) Validate() error {
	if c.NumReplicas <= 0 {
		return configErrorf("num_replicas must be positive, got %d", c.NumReplicas)
	}
	if c.MaxSteps <= 0 {
		return configErrorf("max_steps must be positive, got %d", c.MaxSteps)
	}
	if c.MultiplexFactor < 1 {
		return configErrorf("multiplex_factor must be >= 1, got %d", c.MultiplexFactor)
	}
	if c.MultiplexFactor > 1 && c.NumReplicas%c.MultiplexFactor != 0 && !c.AllowPartial {
		return configErrorf("num_replicas %d not divisible by multiplex_factor %d", c.NumReplicas, c.MultiplexFactor)
	}
	if c.BlockSize < 0 {
		return configErrorf("block_size must be non-negative, got %d", c.BlockSize)
	}
	if c.ReceiveTimeout < 0 {
		return configErrorf("receive_timeout must be non-negative, got %s", c.ReceiveTimeout)
	}
	if c.ExchangeTrials < 0 {
		return configErrorf("exchange_trials must be non-negative, got %d", c.ExchangeTrials)
	}
	if !trace.IsValidTraceLevel(c.TraceLevel) {
		return configErrorf("unknown trace_level %q", c.TraceLevel)
	}
	return nil
}

// ExpectedRanks returns the rank count a fully-populated group needs.
func (c *RunConfig) ExpectedRanks() int {
	if c.MultiplexFactor <= 1 {
		return c.NumReplicas
	}
	return (c.NumReplicas + c.MultiplexFactor - 1) / c.MultiplexFactor
}

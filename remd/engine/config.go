package engine

import (
	"fmt"
	"math"
)

// Config parameterizes the Harmonic engine. Lengths are in nm, energies in
// kJ/mol, temperatures in K and times in ps.
type Config struct {
	Atoms             int     `yaml:"atoms"`
	BondLength        float64 `yaml:"bond_length"`
	SpringConstant    float64 `yaml:"spring_constant"`
	RestraintConstant float64 `yaml:"restraint_constant"`
	RestraintCutoff   float64 `yaml:"restraint_cutoff"` // flat-bottom half width
	MinTemperature    float64 `yaml:"min_temperature"`
	MaxTemperature    float64 `yaml:"max_temperature"`
	Timestep          float64 `yaml:"timestep"`
	Diffusion         float64 `yaml:"diffusion"`
	StepsPerAdvance   int     `yaml:"steps_per_advance"`
	MinimizeSteps     int     `yaml:"minimize_steps"`
	MinimizeRate      float64 `yaml:"minimize_rate"`
	BoxSize           float64 `yaml:"box_size"`
}

// DefaultConfig returns a small chain that equilibrates in well under a
// second per step.
func DefaultConfig() Config {
	return Config{
		Atoms:             16,
		BondLength:        0.38,
		SpringConstant:    1000,
		RestraintConstant: 250,
		RestraintCutoff:   0.1,
		MinTemperature:    300,
		MaxTemperature:    450,
		Timestep:          0.002,
		Diffusion:         0.05,
		StepsPerAdvance:   50,
		MinimizeSteps:     200,
		MinimizeRate:      1e-4,
		BoxSize:           10,
	}
}

// Validate checks parameter ranges.
func (c *Config) Validate() error {
	if c.Atoms <= 0 {
		return fmt.Errorf("engine atoms must be positive, got %d", c.Atoms)
	}
	if c.BondLength <= 0 || c.SpringConstant < 0 || c.RestraintConstant < 0 || c.RestraintCutoff < 0 {
		return fmt.Errorf("engine bond and restraint parameters must be non-negative (bond_length > 0)")
	}
	if c.MinTemperature <= 0 || c.MaxTemperature < c.MinTemperature {
		return fmt.Errorf("engine temperatures must satisfy 0 < min_temperature <= max_temperature, got %g..%g",
			c.MinTemperature, c.MaxTemperature)
	}
	if c.Timestep <= 0 || c.Diffusion <= 0 {
		return fmt.Errorf("engine timestep and diffusion must be positive")
	}
	if c.StepsPerAdvance <= 0 {
		return fmt.Errorf("engine steps_per_advance must be positive, got %d", c.StepsPerAdvance)
	}
	if c.MinimizeSteps < 0 || c.MinimizeRate < 0 {
		return fmt.Errorf("engine minimization parameters must be non-negative")
	}
	return nil
}

// kB in kJ/(mol K).
const boltzmann = 0.0083144626

// Temperature returns the temperature for a bias factor, scaled
// geometrically from MinTemperature at alpha 0 to MaxTemperature at alpha 1.
func (c *Config) Temperature(alpha float64) float64 {
	return c.MinTemperature * math.Pow(c.MaxTemperature/c.MinTemperature, alpha)
}

// Options are the engine-native run options.
type Options struct {
	Adaptive bool `yaml:"adaptive"`
}

// AdaptiveThresholds reports whether the adaptive restraint hook is enabled.
func (o Options) AdaptiveThresholds() bool { return o.Adaptive }

package ensemble

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// RunRecord describes one spawned run. The orchestrator's monitor loop is
// its only writer.
type RunRecord struct {
	ID        string     `yaml:"id"`
	Device    string     `yaml:"device"`
	RunIndex  int        `yaml:"run_index"`
	Seed      int64      `yaml:"seed"`
	Dir       string     `yaml:"dir"`
	LogPath   string     `yaml:"log"`
	PID       int        `yaml:"pid"`
	StartedAt time.Time  `yaml:"started_at"`
	EndedAt   *time.Time `yaml:"ended_at,omitempty"`
	ExitCode  *int       `yaml:"exit_code,omitempty"`
	Killed    bool       `yaml:"killed,omitempty"`
}

// Manifest lists every run of one ensemble launch.
type Manifest struct {
	ID       string      `yaml:"id"`
	Tag      string      `yaml:"tag"`
	Root     string      `yaml:"root"`
	Launched time.Time   `yaml:"launched"`
	SeedBase int64       `yaml:"seed_base"`
	Command  []string    `yaml:"command"`
	Runs     []RunRecord `yaml:"runs"`
}

const (
	runFile      = "run.yaml"
	manifestFile = "manifest.yaml"
	logFile      = "remd.log"
)

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadManifest loads the manifest written at an ensemble root.
func ReadManifest(root string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(root, manifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}

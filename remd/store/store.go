// Package store persists the initial setup of a run and its checkpoints as
// YAML documents in a data directory.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/remd-sim/remd-sim/remd"
	"github.com/remd-sim/remd-sim/remd/engine"
)

const (
	setupFile      = "setup.yaml"
	checkpointFile = "checkpoint.yaml"
)

// Setup is everything a run needs to start: parameters, the bias factor
// ladder and the initial replica set.
type Setup struct {
	Seed      int64          `yaml:"seed"`
	CreatedAt time.Time      `yaml:"created_at"`
	Run       remd.RunConfig `yaml:"run"`
	Engine    engine.Config  `yaml:"engine"`
	Alphas    []float64      `yaml:"alphas"`
	States    []*remd.State  `yaml:"states"`
}

// Validate checks that the setup is internally consistent.
func (s *Setup) Validate() error {
	if err := s.Run.Validate(); err != nil {
		return err
	}
	if err := s.Engine.Validate(); err != nil {
		return err
	}
	if len(s.Alphas) != s.Run.NumReplicas || len(s.States) != s.Run.NumReplicas {
		return fmt.Errorf("%w: setup has %d alphas and %d states for %d replicas",
			remd.ErrConfig, len(s.Alphas), len(s.States), s.Run.NumReplicas)
	}
	for i, st := range s.States {
		if st == nil || st.NumAtoms() != s.Engine.Atoms {
			return fmt.Errorf("%w: setup state %d does not have %d atoms", remd.ErrConfig, i, s.Engine.Atoms)
		}
	}
	return nil
}

// Checkpoint is the replica set after a completed step.
type Checkpoint struct {
	Step    int           `yaml:"step"`
	SavedAt time.Time     `yaml:"saved_at"`
	States  []*remd.State `yaml:"states"`
}

// FileStore keeps setup and checkpoint files under Dir.
type FileStore struct {
	Dir string
}

var _ remd.Checkpointer = (*FileStore)(nil)

// NewFileStore returns a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

// Exists reports whether a setup has been written.
func (f *FileStore) Exists() (bool, error) {
	_, err := os.Stat(filepath.Join(f.Dir, setupFile))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// SaveSetup writes the setup, replacing any previous one.
func (f *FileStore) SaveSetup(s *Setup) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return f.write(setupFile, s)
}

// LoadSetup reads and validates the setup.
func (f *FileStore) LoadSetup() (*Setup, error) {
	var s Setup
	if err := f.read(setupFile, &s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("setup in %s: %w", f.Dir, err)
	}
	return &s, nil
}

// SaveCheckpoint writes the replica set after step, replacing the previous
// checkpoint atomically.
func (f *FileStore) SaveCheckpoint(step int, states []*remd.State) error {
	return f.write(checkpointFile, &Checkpoint{Step: step, SavedAt: time.Now().UTC(), States: states})
}

// LoadCheckpoint returns the latest checkpoint, or nil if none was saved.
func (f *FileStore) LoadCheckpoint() (*Checkpoint, error) {
	var c Checkpoint
	err := f.read(checkpointFile, &c)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (f *FileStore) write(name string, v any) error {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(f.Dir, name+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return os.Rename(tmp.Name(), filepath.Join(f.Dir, name))
}

func (f *FileStore) read(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(f.Dir, name))
	if err != nil {
		return err
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	return nil
}

package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remd-sim/remd-sim/remd"
	"github.com/remd-sim/remd-sim/remd/engine"
)

func smallSetup(t *testing.T) *Setup {
	t.Helper()
	run := remd.DefaultRunConfig()
	run.NumReplicas = 3
	eng := engine.DefaultConfig()
	eng.Atoms = 2
	s, err := Build(run, eng, 42)
	require.NoError(t, err)
	return s
}

func TestBuild_LinearAlphasAndStates(t *testing.T) {
	s := smallSetup(t)
	assert.Equal(t, []float64{0, 0.5, 1}, s.Alphas)
	require.Len(t, s.States, 3)
	for i, st := range s.States {
		assert.Equal(t, 2, st.NumAtoms())
		assert.Equal(t, s.Alphas[i], st.Alpha)
	}
}

func TestBuild_SameSeedSameStates(t *testing.T) {
	a, b := smallSetup(t), smallSetup(t)
	assert.Equal(t, a.States, b.States)
}

func TestFileStore_SetupRoundTrip(t *testing.T) {
	// GIVEN an empty data dir
	fs := NewFileStore(filepath.Join(t.TempDir(), "Data"))
	exists, err := fs.Exists()
	require.NoError(t, err)
	assert.False(t, exists)

	// WHEN a setup is saved
	s := smallSetup(t)
	require.NoError(t, fs.SaveSetup(s))

	// THEN it exists and loads back identical parameters
	exists, err = fs.Exists()
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := fs.LoadSetup()
	require.NoError(t, err)
	assert.Equal(t, s.Run, got.Run)
	assert.Equal(t, s.Engine, got.Engine)
	assert.Equal(t, s.Alphas, got.Alphas)
	assert.Equal(t, s.States, got.States)
}

func TestFileStore_SaveSetup_RejectsInconsistentSetup(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	s := smallSetup(t)
	s.Alphas = s.Alphas[:2]
	err := fs.SaveSetup(s)
	assert.ErrorIs(t, err, remd.ErrConfig)
}

func TestFileStore_LoadSetup_UnknownFieldRejected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, setupFile), []byte("seed: 1\nbogus: true\n"), 0o644))
	_, err := NewFileStore(dir).LoadSetup()
	assert.Error(t, err)
}

func TestFileStore_Checkpoint(t *testing.T) {
	fs := NewFileStore(t.TempDir())

	// GIVEN no checkpoint yet
	c, err := fs.LoadCheckpoint()
	require.NoError(t, err)
	assert.Nil(t, c)

	// WHEN two checkpoints are saved
	s := smallSetup(t)
	require.NoError(t, fs.SaveCheckpoint(50, s.States))
	require.NoError(t, fs.SaveCheckpoint(100, s.States))

	// THEN the latest one wins and no temp files remain
	c, err = fs.LoadCheckpoint()
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, 100, c.Step)
	assert.Equal(t, s.States, c.States)

	entries, err := os.ReadDir(fs.Dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

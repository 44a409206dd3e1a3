package remd

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapRanks_OnePerRank(t *testing.T) {
	a, err := MapRanks(3, 3, 1, false)
	require.NoError(t, err)

	assert.Equal(t, 3, a.ExpectedRanks)
	assert.Equal(t, 3, a.ActiveRanks())
	for r := 0; r < 3; r++ {
		assert.Equal(t, []int{r}, a.Owned(r))
	}
	assert.Empty(t, a.Unassigned())
}

func TestMapRanks_MultiplexContiguousBlocks(t *testing.T) {
	a, err := MapRanks(6, 3, 2, false)
	require.NoError(t, err)

	assert.Equal(t, [][]int{{0, 1}, {2, 3}, {4, 5}}, a.Ranks)
	lo, hi := a.Block(1)
	assert.Equal(t, 2, lo)
	assert.Equal(t, 4, hi)
}

func TestMapRanks_NotDivisible(t *testing.T) {
	// GIVEN 5 replicas at 2 per rank
	_, err := MapRanks(5, 3, 2, false)

	// THEN it is a configuration error unless partial blocks are allowed
	assert.True(t, errors.Is(err, ErrConfig))

	a, err := MapRanks(5, 3, 2, true)
	require.NoError(t, err)
	assert.Equal(t, 3, a.ExpectedRanks)
	assert.Equal(t, []int{4}, a.Owned(2))
}

func TestMapRanks_ExtraRanksIdle(t *testing.T) {
	// GIVEN worldSize=4 and expectedRanks=2
	a, err := MapRanks(2, 4, 1, false)
	require.NoError(t, err)

	// THEN ranks 2 and 3 own nothing
	assert.Equal(t, 2, a.ActiveRanks())
	assert.True(t, a.IsActive(1))
	assert.False(t, a.IsActive(2))
	assert.False(t, a.IsActive(3))
	assert.Nil(t, a.Owned(3))
	lo, hi := a.Block(3)
	assert.Equal(t, lo, hi)
}

func TestMapRanks_TooFewRanksWarnsAndLeavesReplicasUnassigned(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	a, err := MapRanks(3, 2, 1, false)
	require.NoError(t, err)

	assert.Equal(t, 2, a.ActiveRanks())
	assert.Equal(t, 2, a.NumAssigned())
	assert.Equal(t, []int{2}, a.Unassigned())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.True(t, strings.Contains(hook.LastEntry().Message, "world size 2"))
}

func TestMapRanks_InvalidInputs(t *testing.T) {
	tests := []struct {
		name                string
		total, world, mplex int
	}{
		{"zero replicas", 0, 1, 1},
		{"zero world", 3, 0, 1},
		{"zero multiplex", 3, 3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MapRanks(tt.total, tt.world, tt.mplex, false)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestMapRanks_EveryReplicaOwnedAtMostOnce(t *testing.T) {
	for total := 1; total <= 12; total++ {
		for world := 1; world <= 8; world++ {
			for m := 1; m <= 4; m++ {
				a, err := MapRanks(total, world, m, true)
				require.NoError(t, err)

				next := 0
				for r := 0; r < a.ActiveRanks(); r++ {
					for _, idx := range a.Owned(r) {
						// contiguous, ascending, no repeats
						assert.Equal(t, next, idx, "total=%d world=%d m=%d", total, world, m)
						next++
					}
					assert.LessOrEqual(t, len(a.Owned(r)), m)
				}
				assert.Equal(t, next, a.NumAssigned())
				assert.LessOrEqual(t, a.ActiveRanks(), world)
			}
		}
	}
}

type countingComm struct{ closed int }

func (c *countingComm) Rank() int        { return 0 }
func (c *countingComm) NumWorkers() int  { return 1 }
func (c *countingComm) NumReplicas() int { return 1 }
func (c *countingComm) IsLeader() bool   { return true }
func (c *countingComm) Close() error     { c.closed++; return nil }

func TestRunRank_IdleRanksNeverOpen(t *testing.T) {
	// GIVEN worldSize=4, expectedRanks=2
	a, err := MapRanks(2, 4, 1, false)
	require.NoError(t, err)

	for _, rank := range []int{2, 3} {
		opened, ran := 0, 0
		// WHEN an idle rank starts
		err := RunRank(context.Background(), rank, a,
			func() (Communicator, error) { opened++; return &countingComm{}, nil },
			func(context.Context, Communicator) error { ran++; return nil })

		// THEN it exits cleanly without touching a communicator
		assert.NoError(t, err)
		assert.Zero(t, opened)
		assert.Zero(t, ran)
	}
}

func TestRunRank_ActiveRankOpensRunsCloses(t *testing.T) {
	a, err := MapRanks(2, 2, 1, false)
	require.NoError(t, err)
	c := &countingComm{}
	runErr := errors.New("boom")

	err = RunRank(context.Background(), 0, a,
		func() (Communicator, error) { return c, nil },
		func(context.Context, Communicator) error { return runErr })

	assert.ErrorIs(t, err, runErr)
	assert.Equal(t, 1, c.closed)
}

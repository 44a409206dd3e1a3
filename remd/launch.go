package remd

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Opener creates the communicator for an active rank.
type Opener func() (Communicator, error)

// RankFunc runs the coordination loop for an active rank.
type RankFunc func(ctx context.Context, c Communicator) error

// RunRank is the per-process entry gate. Idle ranks (those the assignment
// gives no replicas) log their inactivity and return nil without touching
// a communicator. Active ranks open one, run, and close it.
func RunRank(ctx context.Context, rank int, a *Assignment, open Opener, run RankFunc) (err error) {
	if !a.IsActive(rank) {
		logrus.WithField("rank", rank).Infof("Rank %d idle: %d ranks cover %d replicas; exiting.",
			rank, a.ActiveRanks(), a.TotalReplicas)
		return nil
	}
	c, err := open()
	if err != nil {
		return fmt.Errorf("rank %d: opening communicator: %w", rank, err)
	}
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return run(ctx, c)
}

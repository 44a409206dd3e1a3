package engine

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/remd-sim/remd-sim/remd"
)

// AdaptiveRestraints widens the flat-bottom restraint every Interval steps
// by Growth, up to MaxCutoff. It implements remd.ThresholdAdjuster.
type AdaptiveRestraints struct {
	Interval  int
	Growth    float64
	MaxCutoff float64
}

var _ remd.ThresholdAdjuster = AdaptiveRestraints{}

// ChangeThresholds adjusts the cutoff of a *Harmonic engine. Every rank
// applies the same schedule, so no communication is needed.
func (a AdaptiveRestraints) ChangeThresholds(step int, e remd.Engine, _ remd.Communicator, leader bool) error {
	h, ok := e.(*Harmonic)
	if !ok {
		return fmt.Errorf("engine %T has no adjustable restraints", e)
	}
	if a.Interval <= 0 || step%a.Interval != 0 {
		return nil
	}
	next := min(h.Cutoff()*a.Growth, a.MaxCutoff)
	if next == h.Cutoff() {
		return nil
	}
	if err := h.SetCutoff(next); err != nil {
		return err
	}
	if leader {
		logrus.WithField("step", step).Infof("restraint cutoff now %.3f nm", next)
	}
	return nil
}

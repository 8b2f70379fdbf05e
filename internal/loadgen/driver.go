// Package loadgen drives performance runs: a load pattern driver
// turns elapsed time into a concurrency target, a pacer optionally
// caps dispatch rate, and the runner feeds the suite's test cases
// through the shared execution pool while aggregating samples.
package loadgen

import (
	"math"
	"time"

	"github.com/volleyhq/volley/internal/config"
)

// Phase is the load driver's lifecycle state.
type Phase string

const (
	// PhaseIdle is before the run starts.
	PhaseIdle Phase = "idle"
	// PhaseRamping is the linear climb toward the target.
	PhaseRamping Phase = "ramping"
	// PhaseSteady holds the target (or the spike baseline).
	PhaseSteady Phase = "steady"
	// PhaseSpiking is the burst window of a spike cycle.
	PhaseSpiking Phase = "spiking"
	// PhaseDraining is past the run duration: no new dispatch,
	// in-flight work finishing.
	PhaseDraining Phase = "draining"
	// PhaseDone is after the drain completes.
	PhaseDone Phase = "done"
)

// Driver turns elapsed wall-clock time into a concurrency target.
// TargetAt is a pure function of the plan and the elapsed time, so a
// late tick or a skewed clock yields a clamped, well-defined target
// instead of accumulated drift. The plan must be normalized.
type Driver struct {
	plan *config.LoadPlan
}

// NewDriver creates a driver for the plan.
func NewDriver(plan *config.LoadPlan) *Driver {
	return &Driver{plan: plan}
}

// Max is the ceiling every target is clamped to.
func (d *Driver) Max() int {
	return d.plan.MaxConcurrency()
}

// TargetAt reports the concurrency target and phase at the given
// elapsed time.
func (d *Driver) TargetAt(elapsed time.Duration) (int, Phase) {
	if elapsed < 0 {
		return 0, PhaseIdle
	}
	if elapsed >= d.plan.Duration.GetDuration(0) {
		return 0, PhaseDraining
	}

	switch d.plan.Pattern {
	case config.PatternRampUp:
		ramp := d.plan.Ramp.GetDuration(0)
		if ramp > 0 && elapsed < ramp {
			target := int(math.Round(float64(d.plan.Users) * float64(elapsed) / float64(ramp)))
			if target < 1 {
				target = 1
			}
			return d.clamp(target), PhaseRamping
		}
		return d.clamp(d.plan.Users), PhaseSteady

	case config.PatternSpike:
		every := d.plan.SpikeEvery.GetDuration(config.DefaultSpikeEvery)
		burst := d.plan.SpikeFor.GetDuration(config.DefaultSpikeFor)
		// The burst sits at the end of each cycle, so a run always
		// opens at the baseline.
		if every > 0 && burst > 0 && elapsed%every >= every-burst {
			return d.clamp(d.plan.SpikePeak), PhaseSpiking
		}
		return d.clamp(d.plan.Users), PhaseSteady

	default:
		return d.clamp(d.plan.Users), PhaseSteady
	}
}

func (d *Driver) clamp(target int) int {
	if target < 0 {
		return 0
	}
	if ceiling := d.Max(); target > ceiling {
		return ceiling
	}
	return target
}

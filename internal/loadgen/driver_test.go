package loadgen

import (
	"testing"
	"time"

	"github.com/volleyhq/volley/internal/config"
)

func normalized(plan config.LoadPlan) *config.LoadPlan {
	p := plan
	return p.Normalize()
}

type targetCase struct {
	name    string
	elapsed time.Duration
	target  int
	phase   Phase
}

func checkTargets(t *testing.T, d *Driver, cases []targetCase) {
	t.Helper()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			target, phase := d.TargetAt(tc.elapsed)
			if target != tc.target {
				t.Errorf("Expected target %d at %v, got %d", tc.target, tc.elapsed, target)
			}
			if phase != tc.phase {
				t.Errorf("Expected phase %q at %v, got %q", tc.phase, tc.elapsed, phase)
			}
		})
	}
}

func TestDriverConstant(t *testing.T) {
	d := NewDriver(normalized(config.LoadPlan{
		Pattern:  config.PatternConstant,
		Users:    10,
		Duration: config.Duration(30 * time.Second),
	}))

	checkTargets(t, d, []targetCase{
		{"before start", -time.Second, 0, PhaseIdle},
		{"at start", 0, 10, PhaseSteady},
		{"mid run", 15 * time.Second, 10, PhaseSteady},
		{"just before end", 30*time.Second - time.Millisecond, 10, PhaseSteady},
		{"at end", 30 * time.Second, 0, PhaseDraining},
		{"past end", time.Minute, 0, PhaseDraining},
	})
}

func TestDriverRampUp(t *testing.T) {
	d := NewDriver(normalized(config.LoadPlan{
		Pattern:  config.PatternRampUp,
		Users:    10,
		Duration: config.Duration(60 * time.Second),
		Ramp:     config.Duration(10 * time.Second),
	}))

	checkTargets(t, d, []targetCase{
		{"ramp opens at one", 0, 1, PhaseRamping},
		{"quarter rounds up", 2500 * time.Millisecond, 3, PhaseRamping},
		{"midpoint", 5 * time.Second, 5, PhaseRamping},
		{"near the top", 9 * time.Second, 9, PhaseRamping},
		{"ramp end holds the target", 10 * time.Second, 10, PhaseSteady},
		{"steady", 30 * time.Second, 10, PhaseSteady},
		{"draining", 60 * time.Second, 0, PhaseDraining},
	})
}

func TestDriverSpike(t *testing.T) {
	// Default cycle: 30s with a 5s burst at the end, so baseline for
	// 0-25s and burst for 25-30s of every cycle.
	d := NewDriver(normalized(config.LoadPlan{
		Pattern:   config.PatternSpike,
		Users:     5,
		SpikePeak: 20,
		Duration:  config.Duration(90 * time.Second),
	}))

	checkTargets(t, d, []targetCase{
		{"run opens at baseline", 0, 5, PhaseSteady},
		{"baseline mid cycle", 10 * time.Second, 5, PhaseSteady},
		{"last instant of baseline", 25*time.Second - time.Millisecond, 5, PhaseSteady},
		{"burst opens", 25 * time.Second, 20, PhaseSpiking},
		{"burst tail", 30*time.Second - time.Millisecond, 20, PhaseSpiking},
		{"second cycle back to baseline", 30 * time.Second, 5, PhaseSteady},
		{"second cycle burst", 56 * time.Second, 20, PhaseSpiking},
		{"draining", 90 * time.Second, 0, PhaseDraining},
	})
}

func TestDriverSpikePeakDefaultsToTwiceBaseline(t *testing.T) {
	d := NewDriver(normalized(config.LoadPlan{
		Pattern:  config.PatternSpike,
		Users:    5,
		Duration: config.Duration(time.Minute),
	}))

	target, phase := d.TargetAt(26 * time.Second)
	if phase != PhaseSpiking {
		t.Fatalf("Expected spiking phase at 26s, got %q", phase)
	}
	if target != 10 {
		t.Errorf("Expected default peak of twice the baseline (10), got %d", target)
	}
}

func TestDriverMax(t *testing.T) {
	cases := []struct {
		name string
		plan config.LoadPlan
		max  int
	}{
		{
			"constant caps at users",
			config.LoadPlan{Pattern: config.PatternConstant, Users: 10, Duration: config.Duration(time.Minute)},
			10,
		},
		{
			"spike caps at the peak",
			config.LoadPlan{Pattern: config.PatternSpike, Users: 5, SpikePeak: 20, Duration: config.Duration(time.Minute)},
			20,
		},
		{
			"spike peak below baseline caps at users",
			config.LoadPlan{Pattern: config.PatternSpike, Users: 10, SpikePeak: 4, Duration: config.Duration(time.Minute)},
			10,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NewDriver(normalized(tc.plan)).Max(); got != tc.max {
				t.Errorf("Expected max %d, got %d", tc.max, got)
			}
		})
	}
}

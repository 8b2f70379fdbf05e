package config

import "time"

// Load pattern names accepted by LoadPlan.Pattern.
const (
	// PatternConstant holds the target concurrency for the whole run.
	PatternConstant = "constant"

	// PatternRampUp grows concurrency linearly from 0 to the target
	// over the ramp duration, then holds it.
	PatternRampUp = "ramp-up"

	// PatternSpike holds a baseline and bursts to a peak for a short
	// window once per cycle.
	PatternSpike = "spike"
)

// Defaults applied by LoadPlan.Normalize.
const (
	DefaultPerfTimeout      = 60 * time.Second
	DefaultSnapshotInterval = 1 * time.Second
	DefaultDrainTimeout     = 30 * time.Second
	DefaultSpikeEvery       = 30 * time.Second
	DefaultSpikeFor         = 5 * time.Second

	// DefaultSampleCap bounds exact percentile storage; past it the
	// aggregator switches to an approximate estimator.
	DefaultSampleCap = 65536
)

// LoadPlan configures a performance run. Immutable once the run starts.
type LoadPlan struct {
	// Pattern selects the load shape: constant, ramp-up or spike
	Pattern string `json:"pattern" yaml:"pattern"`

	// Users is the target (constant, ramp-up) or baseline (spike)
	// concurrency
	Users int `json:"users" yaml:"users"`

	// Duration is the total run length, draining excluded
	Duration Duration `json:"duration" yaml:"duration"`

	// Ramp is the ramp-up window (ramp-up pattern only)
	Ramp Duration `json:"ramp,omitempty" yaml:"ramp,omitempty"`

	// SpikePeak is the burst concurrency; defaults to twice Users
	SpikePeak int `json:"spike_peak,omitempty" yaml:"spike_peak,omitempty"`

	// SpikeEvery is the cycle length between bursts (default 30s)
	SpikeEvery Duration `json:"spike_every,omitempty" yaml:"spike_every,omitempty"`

	// SpikeFor is the burst length at the end of each cycle (default 5s)
	SpikeFor Duration `json:"spike_for,omitempty" yaml:"spike_for,omitempty"`

	// Rate optionally caps dispatch at N requests/second; 0 = unpaced
	Rate float64 `json:"rate,omitempty" yaml:"rate,omitempty"`

	// Interval is the live snapshot emit period (default 1s)
	Interval Duration `json:"interval,omitempty" yaml:"interval,omitempty"`

	// DrainTimeout bounds the wait for in-flight requests after the
	// run duration elapses (default 30s)
	DrainTimeout Duration `json:"drain_timeout,omitempty" yaml:"drain_timeout,omitempty"`

	// Timeout is the per-request timeout (default 60s; performance
	// runs tolerate slower responses than test runs)
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Thresholds are pass/fail expressions over the final statistics,
	// e.g. "p95 < 500ms" or "error_rate < 0.01"
	Thresholds []string `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// SampleCap bounds exact latency retention (default 65536)
	SampleCap int `json:"sample_cap,omitempty" yaml:"sample_cap,omitempty"`
}

// Normalize fills unset fields with their defaults. It returns the
// plan for chaining and never modifies set values.
func (p *LoadPlan) Normalize() *LoadPlan {
	if p.Pattern == "" {
		p.Pattern = PatternConstant
	}
	if p.SpikePeak == 0 {
		p.SpikePeak = p.Users * 2
	}
	if p.SpikeEvery == 0 {
		p.SpikeEvery = Duration(DefaultSpikeEvery)
	}
	if p.SpikeFor == 0 {
		p.SpikeFor = Duration(DefaultSpikeFor)
	}
	if p.Interval == 0 {
		p.Interval = Duration(DefaultSnapshotInterval)
	}
	if p.DrainTimeout == 0 {
		p.DrainTimeout = Duration(DefaultDrainTimeout)
	}
	if p.Timeout == 0 {
		p.Timeout = Duration(DefaultPerfTimeout)
	}
	if p.SampleCap == 0 {
		p.SampleCap = DefaultSampleCap
	}
	return p
}

// MaxConcurrency is the highest target the plan can ever request; load
// driver outputs clamp to it.
func (p *LoadPlan) MaxConcurrency() int {
	if p.Pattern == PatternSpike && p.SpikePeak > p.Users {
		return p.SpikePeak
	}
	return p.Users
}

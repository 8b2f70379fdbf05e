package loadgen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/volleyhq/volley/internal/config"
	"github.com/volleyhq/volley/internal/metrics"
	"github.com/volleyhq/volley/internal/runner"
)

// controlTick is how often the pool bound is reconciled with the
// driver's target.
const controlTick = 100 * time.Millisecond

// Snapshot is one live view of a performance run: the aggregated
// metrics plus the driver's phase and concurrency target at emit
// time.
type Snapshot struct {
	metrics.Snapshot `yaml:",inline"`

	Phase  Phase `json:"phase" yaml:"phase"`
	Target int   `json:"target" yaml:"target"`
}

// PhaseChange records one driver transition with the target in
// effect as the phase was entered.
type PhaseChange struct {
	At     time.Duration `json:"at" yaml:"at"`
	Phase  Phase         `json:"phase" yaml:"phase"`
	Target int           `json:"target" yaml:"target"`
}

// PerformanceResult is the final report of a performance run.
type PerformanceResult struct {
	ID       string           `json:"id" yaml:"id"`
	Suite    string           `json:"suite" yaml:"suite"`
	Env      string           `json:"env,omitempty" yaml:"env,omitempty"`
	Plan     *config.LoadPlan `json:"plan" yaml:"plan"`
	Start    time.Time        `json:"start" yaml:"start"`
	Duration time.Duration    `json:"duration" yaml:"duration"`

	Final      metrics.Snapshot  `json:"final" yaml:"final"`
	Phases     []PhaseChange     `json:"phases" yaml:"phases"`
	Thresholds []ThresholdResult `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Drained reports whether every in-flight request finished within
	// the drain window; Interrupted whether the run context was
	// cancelled before the plan duration elapsed.
	Drained     bool `json:"drained" yaml:"drained"`
	Interrupted bool `json:"interrupted" yaml:"interrupted"`

	// Passed is the AND over the thresholds. Interruption is reported
	// separately.
	Passed bool `json:"passed" yaml:"passed"`
}

// Options configures one performance run.
type Options struct {
	// Env selects the suite environment by name. Empty picks the
	// suite default, or the only environment when just one exists.
	Env string

	// OnSnapshot is invoked once per interval with the live view.
	// Calls are serialized.
	OnSnapshot func(Snapshot)

	// OnPhase is invoked on every driver transition. Calls are
	// serialized.
	OnPhase func(PhaseChange)
}

// Runner drives load against a suite's test cases. It shares the
// execution engine with test runs, so templating, retries and
// assertions behave identically under load.
type Runner struct {
	exec *runner.Runner
	log  *logrus.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the diagnostic logger.
func WithLogger(log *logrus.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// New creates a load runner on the given transport.
func New(transport runner.Transport, opts ...Option) *Runner {
	r := &Runner{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(r)
	}
	r.exec = runner.New(transport, runner.WithLogger(r.log))
	return r
}

// Run executes the plan against the suite's test cases. A nil plan
// uses the suite's load block. Setup and teardown cases do not run;
// a performance target is expected to be prepared out of band.
//
// Configuration problems (invalid plan, bad thresholds, unresolvable
// suite) return an error before any request is sent. Once load starts
// the run always produces a result: cancelling ctx stops dispatch,
// aborts in-flight requests and marks the result interrupted.
func (r *Runner) Run(ctx context.Context, suite *config.Suite, plan *config.LoadPlan, opts Options) (*PerformanceResult, error) {
	if plan == nil {
		plan = suite.Load
	}
	if plan == nil {
		return nil, fmt.Errorf("suite %q has no load block and no plan was given", suite.Name)
	}
	if errs := config.ValidateLoadPlan(plan); len(errs) > 0 {
		return nil, fmt.Errorf("invalid load plan: %s", errs[0].Error())
	}

	// The run owns a normalized copy; the caller's plan stays as
	// declared.
	normalized := *plan
	plan = normalized.Normalize()

	thresholds, err := ParseThresholds(plan.Thresholds)
	if err != nil {
		return nil, err
	}

	units, err := r.exec.BuildUnits(suite, opts.Env, plan.Timeout.GetDuration(config.DefaultPerfTimeout))
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("suite %q has no test cases to drive", suite.Name)
	}

	driver := NewDriver(plan)
	agg := metrics.New(plan.SampleCap)
	var pacer *Pacer
	if plan.Rate > 0 {
		pacer = NewPacer(plan.Rate, 1)
	}

	start := time.Now()
	target, phase := driver.TargetAt(0)
	pool := runner.NewPool(target)

	r.log.WithFields(logrus.Fields{
		"suite":    suite.Name,
		"pattern":  plan.Pattern,
		"users":    plan.Users,
		"duration": plan.Duration.String(),
		"rate":     plan.Rate,
	}).Debug("performance run starting")

	// In-flight requests abort when the caller cancels or the drain
	// window expires.
	unitCtx, abandon := context.WithCancel(ctx)
	defer abandon()

	tracker := &phaseTracker{
		changes: []PhaseChange{{At: 0, Phase: phase, Target: target}},
		onPhase: opts.OnPhase,
	}

	// Controller: reconcile the pool bound with the driver's target
	// every tick, and stop dispatch once the plan duration elapses.
	controllerExited := make(chan struct{})
	go func() {
		defer close(controllerExited)
		ticker := time.NewTicker(controlTick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				pool.Stop()
				return
			case now := <-ticker.C:
				elapsed := now.Sub(start)
				t, ph := driver.TargetAt(elapsed)
				if ph == PhaseDraining {
					tracker.observe(elapsed, ph, 0)
					pool.Stop()
					return
				}
				pool.SetBound(t)
				tracker.observe(elapsed, ph, t)
			}
		}
	}()

	// Snapshotter: emit a live view every interval.
	snapDone := make(chan struct{})
	var snapWG sync.WaitGroup
	if opts.OnSnapshot != nil {
		snapWG.Add(1)
		go func() {
			defer snapWG.Done()
			ticker := time.NewTicker(plan.Interval.GetDuration(config.DefaultSnapshotInterval))
			defer ticker.Stop()
			for {
				select {
				case <-snapDone:
					return
				case <-ticker.C:
					t, ph := driver.TargetAt(time.Since(start))
					opts.OnSnapshot(Snapshot{Snapshot: agg.Snapshot(), Phase: ph, Target: t})
				}
			}
		}()
	}

	// Feeder: round-robin the units through the pool until dispatch
	// stops. Workers record a sample per completed request; abandoned
	// requests yield cancelled outcomes, which are not samples.
	var wg sync.WaitGroup
	for i := 0; ; i++ {
		if pacer != nil {
			if err := pacer.Wait(ctx); err != nil {
				break
			}
		}
		if !pool.Acquire() {
			break
		}
		unit := units[i%len(units)]
		wg.Add(1)
		go func(u *runner.ExecutionUnit) {
			defer wg.Done()
			defer pool.Release()
			outcome := r.exec.RunUnit(unitCtx, u)
			if outcome.Status != runner.StatusCancelled {
				agg.Record(runner.SampleOf(outcome))
			}
		}(unit)
	}

	// Dispatch is over. Give in-flight requests the drain window,
	// then cut loose whatever remains.
	drained := pool.Drain(plan.DrainTimeout.GetDuration(config.DefaultDrainTimeout))
	if !drained {
		r.log.WithField("timeout", plan.DrainTimeout.String()).Warn("drain window expired, abandoning in-flight requests")
		abandon()
	}
	wg.Wait()
	<-controllerExited
	if opts.OnSnapshot != nil {
		close(snapDone)
		snapWG.Wait()
	}

	elapsed := time.Since(start)
	interrupted := ctx.Err() != nil
	tracker.observe(elapsed, PhaseDone, 0)

	final := agg.Final()
	results := Evaluate(thresholds, final)
	passed := true
	for _, res := range results {
		if !res.Passed {
			passed = false
		}
	}

	r.log.WithFields(logrus.Fields{
		"count":  final.Count,
		"errors": final.Errors,
		"p95":    final.Latency.P95.String(),
	}).Debug("performance run finished")

	return &PerformanceResult{
		ID:          uuid.NewString(),
		Suite:       suite.Name,
		Env:         opts.Env,
		Plan:        plan,
		Start:       start,
		Duration:    elapsed,
		Final:       final,
		Phases:      tracker.snapshot(),
		Thresholds:  results,
		Drained:     drained,
		Interrupted: interrupted,
		Passed:      passed,
	}, nil
}

// phaseTracker records driver transitions. Target adjustments within
// a phase are not transitions; a ramp is one entry, not one per tick.
type phaseTracker struct {
	mu      sync.Mutex
	changes []PhaseChange
	onPhase func(PhaseChange)
}

func (pt *phaseTracker) observe(at time.Duration, phase Phase, target int) {
	pt.mu.Lock()
	if pt.changes[len(pt.changes)-1].Phase == phase {
		pt.mu.Unlock()
		return
	}
	change := PhaseChange{At: at, Phase: phase, Target: target}
	pt.changes = append(pt.changes, change)
	pt.mu.Unlock()
	if pt.onPhase != nil {
		pt.onPhase(change)
	}
}

func (pt *phaseTracker) snapshot() []PhaseChange {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	out := make([]PhaseChange, len(pt.changes))
	copy(out, pt.changes)
	return out
}

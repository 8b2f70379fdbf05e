// Package runner is the execution engine: it turns a parsed suite
// into an ordered plan of execution units, dispatches them through a
// bounded worker pool, applies retry policies and assertions per
// unit, and collates the out-of-order completions back into a
// deterministic RunResult.
//
// The engine performs no file I/O and renders nothing; suites and
// dataset rows arrive parsed, and results leave as a data model.
package runner

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/volleyhq/volley/internal/assert"
	"github.com/volleyhq/volley/internal/config"
	"github.com/volleyhq/volley/internal/coverage"
	"github.com/volleyhq/volley/internal/http"
	"github.com/volleyhq/volley/internal/metrics"
	"github.com/volleyhq/volley/internal/vars"
)

// Transport sends one request and returns the response. A non-2xx
// response is a successful transport call with a nil error; errors
// are reserved for connection, timeout, protocol, and cancellation
// failures, classified so the retry layer can act on them.
type Transport interface {
	Send(ctx context.Context, req *http.Request) (*http.Response, error)
}

// HTTPTransport adapts the HTTP client to the Transport interface.
type HTTPTransport struct {
	Client *http.Client
}

// Send implements Transport.
func (t HTTPTransport) Send(ctx context.Context, req *http.Request) (*http.Response, error) {
	return t.Client.Do(ctx, req)
}

// CancelMode picks what happens to in-flight units when the run
// context is cancelled.
type CancelMode int

const (
	// CancelGraceful stops dispatch and lets in-flight attempts
	// finish; their outcomes are real.
	CancelGraceful CancelMode = iota
	// CancelAbandon aborts in-flight attempts immediately; each
	// abandoned unit reports an explicit cancelled outcome.
	CancelAbandon
)

// DefaultBodyLimit caps the response body captured on snapshots.
const DefaultBodyLimit = 2 * 1024

// Options configures one run.
type Options struct {
	// Env selects the suite environment by name. Empty picks the
	// suite default, or the only environment when just one exists.
	Env string

	// Dataset supplies pre-loaded rows. When set, every test case
	// runs once per row, row-major.
	Dataset []config.DatasetRow

	// Concurrency bounds in-flight test units. Must be at least 1.
	Concurrency int

	// Bail stops dispatching new units after the first failure.
	Bail bool

	// Grep keeps only test cases whose name contains the substring,
	// case-insensitively. Filtered cases are not part of the plan.
	Grep string

	// Timeout overrides every per-request timeout when positive,
	// including per-case declarations.
	Timeout time.Duration

	// CancelMode picks graceful or abandoning cancellation.
	CancelMode CancelMode

	// Abort escalates a graceful cancellation: closing the channel
	// stops dispatch and cancels in-flight attempts, which publish
	// explicit cancelled outcomes exactly as CancelAbandon does from
	// the start. Ignored under CancelAbandon, where the run context
	// already aborts attempts.
	Abort <-chan struct{}

	// Catalog, when set, adds coverage evaluation to the result.
	Catalog *coverage.Catalog

	// OnOutcome is invoked for every terminal outcome as it happens,
	// serialized, in completion order.
	OnOutcome func(Outcome)

	// SampleCap overrides the latency sample retention cap.
	SampleCap int
}

// Runner executes suites against a transport.
type Runner struct {
	transport Transport
	log       *logrus.Logger
	redactor  *Redactor
	bodyLimit int

	cbMu sync.Mutex
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the diagnostic logger.
func WithLogger(log *logrus.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// WithRedactor replaces the snapshot redaction policy.
func WithRedactor(redactor *Redactor) Option {
	return func(r *Runner) { r.redactor = redactor }
}

// WithBodyLimit caps captured response bodies at n bytes.
func WithBodyLimit(n int) Option {
	return func(r *Runner) { r.bodyLimit = n }
}

// New creates a runner.
func New(transport Transport, opts ...Option) *Runner {
	r := &Runner{
		transport: transport,
		log:       logrus.StandardLogger(),
		redactor:  NewRedactor(),
		bodyLimit: DefaultBodyLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// runPlan is the ordered set of units for one run.
type runPlan struct {
	setup    []*ExecutionUnit
	tests    []*ExecutionUnit
	teardown []*ExecutionUnit
}

func (p *runPlan) total() int {
	return len(p.setup) + len(p.tests) + len(p.teardown)
}

// Execute runs the suite and returns its result. It returns an error
// only for configuration failures, which abort before any dispatch;
// once dispatch begins the caller always receives a RunResult.
func (r *Runner) Execute(ctx context.Context, suite *config.Suite, opts Options) (*RunResult, error) {
	if errs := config.ValidateSuite(suite); len(errs) > 0 {
		return nil, fmt.Errorf("invalid suite: %s", errs[0].Error())
	}
	if opts.Concurrency < 1 {
		return nil, fmt.Errorf("concurrency bound must be at least 1, got %d", opts.Concurrency)
	}

	binding, err := bindEnv(suite, opts.Env)
	if err != nil {
		return nil, err
	}

	plan, err := r.plan(suite, binding, opts, opts.Timeout)
	if err != nil {
		return nil, err
	}

	r.log.WithFields(logrus.Fields{
		"suite":       suite.Name,
		"env":         binding.name,
		"units":       plan.total(),
		"concurrency": opts.Concurrency,
	}).Debug("plan built")

	start := time.Now()
	collator := NewCollator(plan.total())
	agg := metrics.New(opts.SampleCap)
	attemptCtx, stopAttempts := attemptParent(ctx, opts)
	defer stopAttempts()

	// Setup runs sequentially, before any test dispatch.
	setupFailed := false
	for _, unit := range plan.setup {
		if ctx.Err() != nil {
			r.publish(collator, agg, opts, skippedOutcome(unit, "not started: run cancelled"))
			continue
		}
		outcome := r.runUnit(attemptCtx, ctx, unit)
		r.publish(collator, agg, opts, outcome)
		if outcome.Failed() {
			setupFailed = true
		}
	}

	pool := NewPool(opts.Concurrency)
	var bailed atomic.Bool
	if opts.Bail && setupFailed {
		bailed.Store(true)
		pool.Stop()
	}

	// The watcher turns a context cancellation or an abort into a
	// dispatch stop; in-flight units are governed by attemptCtx, not
	// the pool. A nil Abort channel never fires.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			pool.Stop()
		case <-opts.Abort:
			pool.Stop()
		case <-watchDone:
		}
	}()

	var wg sync.WaitGroup
	for _, unit := range plan.tests {
		if !pool.Acquire() {
			reason := "not started: run cancelled"
			if bailed.Load() {
				reason = "not started: bailed after earlier failure"
			}
			r.publish(collator, agg, opts, skippedOutcome(unit, reason))
			continue
		}
		wg.Add(1)
		go func(u *ExecutionUnit) {
			defer wg.Done()
			defer pool.Release()
			outcome := r.runUnit(attemptCtx, ctx, u)
			if outcome.Failed() && opts.Bail {
				bailed.Store(true)
				pool.Stop()
			}
			r.publish(collator, agg, opts, outcome)
		}(unit)
	}
	wg.Wait()
	close(watchDone)

	// Teardown always runs, even after a bail, unless the run itself
	// was cancelled.
	for _, unit := range plan.teardown {
		if ctx.Err() != nil {
			r.publish(collator, agg, opts, skippedOutcome(unit, "not started: run cancelled"))
			continue
		}
		outcome := r.runUnit(attemptCtx, ctx, unit)
		r.publish(collator, agg, opts, outcome)
	}

	return r.finalize(suite, binding.name, start, ctx, collator, agg, opts), nil
}

// envBinding is a selected environment with its variable context
// built: environment vars first, then base_url and VOLLEY_ENV, then
// suite vars.
type envBinding struct {
	name    string
	env     config.Environment
	baseURL string
	vars    *vars.Context
}

func bindEnv(suite *config.Suite, name string) (envBinding, error) {
	envName, env, err := selectEnv(suite, name)
	if err != nil {
		return envBinding{}, err
	}
	base := vars.NewContext()
	base.WithVars(env.Vars)
	baseURL := base.Resolve(env.BaseURL)
	if baseURL != "" {
		base.Set("base_url", baseURL)
	}
	if envName != "" {
		base.Set("VOLLEY_ENV", envName)
	}
	base.WithVars(suite.Vars)
	return envBinding{name: envName, env: env, baseURL: baseURL, vars: base}, nil
}

// selectEnv resolves the environment to run against.
func selectEnv(suite *config.Suite, name string) (string, config.Environment, error) {
	if name == "" {
		name = suite.DefaultEnv
	}
	if name == "" {
		switch len(suite.Env) {
		case 0:
			return "", config.Environment{}, nil
		case 1:
			for n, env := range suite.Env {
				return n, env, nil
			}
		}
		return "", config.Environment{}, fmt.Errorf("suite declares %d environments and no default; pick one", len(suite.Env))
	}
	env, ok := suite.Env[name]
	if !ok {
		return "", config.Environment{}, fmt.Errorf("unknown environment %q", name)
	}
	return name, env, nil
}

// plan expands the suite into execution units: setup first, then each
// test case per dataset row in row-major order, then teardown. All
// variable resolution and check building happens here, so any
// configuration failure surfaces before dispatch.
func (r *Runner) plan(suite *config.Suite, binding envBinding, opts Options, timeoutOverride time.Duration) (*runPlan, error) {
	plan := &runPlan{}
	seq := 0

	build := func(tc *config.TestCase, phase Phase, rctx *vars.Context, rowIndex int) (*ExecutionUnit, error) {
		req := rctx.ResolveRequest(tc.Request)
		req.URL = joinURL(binding.baseURL, req.URL)
		if parsed, err := url.Parse(req.URL); err != nil || !parsed.IsAbs() {
			return nil, fmt.Errorf("case %q: URL %q is not absolute after resolution", tc.Name, req.URL)
		}
		for name, value := range binding.env.Headers {
			if req.Headers == nil {
				req.Headers = make(map[string]string)
			}
			if _, ok := req.Headers[name]; !ok {
				req.Headers[name] = rctx.Resolve(value)
			}
		}

		checks, err := assert.BuildChecks(tc.Expect, rctx.Resolve, func(ref *config.SchemaRef) ([]byte, error) {
			return config.SchemaJSON(suite, ref)
		})
		if err != nil {
			return nil, fmt.Errorf("case %q: %w", tc.Name, err)
		}

		unit := &ExecutionUnit{
			Seq:      seq,
			Phase:    phase,
			Name:     tc.Name,
			RowIndex: rowIndex,
			request:  req,
			checks:   checks,
			policy:   policyFrom(config.EffectiveRetry(suite, tc)),
			timeout:  effectiveTimeout(suite, tc, timeoutOverride),
		}
		seq++
		return unit, nil
	}

	for i := range suite.Setup {
		unit, err := build(&suite.Setup[i], PhaseSetup, binding.vars, -1)
		if err != nil {
			return nil, err
		}
		plan.setup = append(plan.setup, unit)
	}

	cases := filterCases(suite.Tests, opts.Grep)
	rows := opts.Dataset
	if len(rows) == 0 {
		for i := range cases {
			unit, err := build(&cases[i], PhaseTest, binding.vars, -1)
			if err != nil {
				return nil, err
			}
			plan.tests = append(plan.tests, unit)
		}
	} else {
		for ri, row := range rows {
			rctx := binding.vars.WithRow(row)
			for i := range cases {
				unit, err := build(&cases[i], PhaseTest, rctx, ri)
				if err != nil {
					return nil, err
				}
				plan.tests = append(plan.tests, unit)
			}
		}
	}

	for i := range suite.Teardown {
		unit, err := build(&suite.Teardown[i], PhaseTeardown, binding.vars, -1)
		if err != nil {
			return nil, err
		}
		plan.teardown = append(plan.teardown, unit)
	}

	return plan, nil
}

// filterCases applies the grep filter; filtered cases never enter the
// plan at all.
func filterCases(cases []config.TestCase, grep string) []config.TestCase {
	if grep == "" {
		return cases
	}
	needle := strings.ToLower(grep)
	var kept []config.TestCase
	for _, tc := range cases {
		if strings.Contains(strings.ToLower(tc.Name), needle) {
			kept = append(kept, tc)
		}
	}
	return kept
}

// joinURL prefixes a relative target with the environment base URL.
// Absolute targets pass through.
func joinURL(baseURL, target string) string {
	if target == "" {
		return baseURL
	}
	if parsed, err := url.Parse(target); err == nil && parsed.IsAbs() {
		return target
	}
	if baseURL == "" {
		return target
	}
	return strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(target, "/")
}

// effectiveTimeout resolves the per-attempt timeout: a caller override
// beats everything, then the case's own declaration, then the suite
// default.
func effectiveTimeout(suite *config.Suite, tc *config.TestCase, override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	if d := tc.Timeout.GetDuration(0); d > 0 {
		return d
	}
	return suite.Timeout.GetDuration(config.DefaultTimeout)
}

// attemptParent picks the context governing network attempts. Under
// graceful cancellation attempts run detached from the run context so
// cancelling the run never tears down an attempt in flight; closing
// opts.Abort cancels them after all. The returned stop func releases
// the bridge goroutine once the run is over.
func attemptParent(ctx context.Context, opts Options) (context.Context, context.CancelFunc) {
	if opts.CancelMode == CancelAbandon {
		return ctx, func() {}
	}
	if opts.Abort == nil {
		return context.Background(), func() {}
	}
	actx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-opts.Abort:
			cancel()
		case <-actx.Done():
		}
	}()
	return actx, cancel
}

func skippedOutcome(unit *ExecutionUnit, reason string) Outcome {
	return Outcome{
		Seq:        unit.Seq,
		Name:       unit.Name,
		Phase:      unit.Phase,
		RowIndex:   unit.RowIndex,
		Status:     StatusSkipped,
		SkipReason: reason,
	}
}

// publish records one terminal outcome: into the collator, into the
// metrics stream, and out through the caller's callback. Exactly one
// publication per unit; a duplicate is logged and dropped.
func (r *Runner) publish(collator *Collator, agg *metrics.Aggregator, opts Options, outcome Outcome) {
	if !collator.Put(outcome) {
		r.log.WithField("seq", outcome.Seq).Warn("duplicate outcome dropped")
		return
	}

	if outcome.Status != StatusSkipped && outcome.Status != StatusCancelled {
		agg.Record(SampleOf(outcome))
	}

	if opts.OnOutcome != nil {
		r.cbMu.Lock()
		opts.OnOutcome(outcome)
		r.cbMu.Unlock()
	}
}

// requestSnapshot captures the redacted request for an outcome. Query
// parameters merge into the URL so the snapshot shows the effective
// target.
func (r *Runner) requestSnapshot(unit *ExecutionUnit) *RequestSnapshot {
	rawURL := unit.request.URL
	if len(unit.request.Params) > 0 {
		if parsed, err := url.Parse(rawURL); err == nil {
			query := parsed.Query()
			for name, value := range unit.request.Params {
				query.Set(name, value)
			}
			parsed.RawQuery = query.Encode()
			rawURL = parsed.String()
		}
	}
	return &RequestSnapshot{
		Method:   unit.request.Method,
		URL:      r.redactor.URL(rawURL),
		Headers:  r.redactor.Headers(unit.request.Headers),
		BytesOut: int64(len(unit.request.Body)),
	}
}

// attachDetail fills the outcome with the redacted response snapshot
// and failure detail from the last attempt.
func (r *Runner) attachDetail(outcome *Outcome, last attemptResult) {
	if last.err != nil {
		outcome.Err = r.redactor.Text(last.err.Error())
		return
	}
	if last.resp == nil {
		return
	}

	body := last.resp.BodyString()
	if r.bodyLimit > 0 && len(body) > r.bodyLimit {
		body = body[:r.bodyLimit]
	}
	outcome.Response = &ResponseSnapshot{
		StatusCode: last.resp.StatusCode,
		Headers:    r.redactor.HeaderMap(last.resp.Headers),
		Body:       r.redactor.Body(body),
		BytesIn:    last.resp.BytesIn,
		Latency:    last.resp.ResponseTime,
	}
	outcome.Mismatches = last.verdict.Mismatches
}

// finalize folds the collated outcomes into the RunResult.
func (r *Runner) finalize(suite *config.Suite, envName string, start time.Time, ctx context.Context, collator *Collator, agg *metrics.Aggregator, opts Options) *RunResult {
	outcomes := collator.Snapshot()

	result := &RunResult{
		ID:       uuid.NewString(),
		Suite:    suite.Name,
		Env:      envName,
		Start:    start,
		Duration: time.Since(start),
		Outcomes: outcomes,
		Latency:  agg.Final().Latency,
	}

	caseIndex := make(map[string]int)
	for _, outcome := range outcomes {
		result.Counts.add(outcome.Status)
		if outcome.Phase != PhaseTest {
			continue
		}
		idx, ok := caseIndex[outcome.Name]
		if !ok {
			idx = len(result.Cases)
			caseIndex[outcome.Name] = idx
			result.Cases = append(result.Cases, CaseSummary{Name: outcome.Name})
		}
		summary := &result.Cases[idx]
		summary.Counts.add(outcome.Status)
		summary.Duration += outcome.Duration
	}
	for i := range result.Cases {
		result.Cases[i].Status = foldStatus(result.Cases[i].Counts)
	}

	if opts.Catalog != nil {
		var calls []coverage.Call
		for _, outcome := range outcomes {
			if outcome.Request == nil || outcome.Response == nil {
				continue
			}
			calls = append(calls, coverage.NewCall(outcome.Request.Method, outcome.Request.URL, outcome.Response.StatusCode))
		}
		result.Coverage = coverage.Evaluate(calls, opts.Catalog)
	}

	// Skipped and cancelled outcomes are excluded from the pass
	// verdict; the Cancelled flag reports the interruption on its own.
	result.Cancelled = ctx.Err() != nil || result.Counts.Cancelled > 0
	result.Passed = result.Counts.Failed == 0

	return result
}

// SampleOf converts a terminal outcome into a metrics sample. A flaky
// outcome samples as a success; its latency is the passing attempt's.
func SampleOf(outcome Outcome) metrics.Sample {
	sample := metrics.Sample{
		Time:    time.Now(),
		Latency: outcome.Duration,
		Failed:  outcome.Failed(),
	}
	if outcome.Request != nil {
		sample.BytesOut = outcome.Request.BytesOut
	}
	if outcome.Response != nil {
		sample.Latency = outcome.Response.Latency
		sample.Status = outcome.Response.StatusCode
		sample.BytesIn = outcome.Response.BytesIn
	}
	return sample
}

// BuildUnits expands the suite's test cases into execution units
// bound to the selected environment, without dispatching anything.
// A positive timeout replaces every per-unit timeout; a performance
// run times its requests uniformly. The load generator drives these
// units through RunUnit so both run kinds share one execution path.
func (r *Runner) BuildUnits(suite *config.Suite, envName string, timeout time.Duration) ([]*ExecutionUnit, error) {
	if errs := config.ValidateSuite(suite); len(errs) > 0 {
		return nil, fmt.Errorf("invalid suite: %s", errs[0].Error())
	}
	binding, err := bindEnv(suite, envName)
	if err != nil {
		return nil, err
	}
	plan, err := r.plan(suite, binding, Options{}, timeout)
	if err != nil {
		return nil, err
	}
	return plan.tests, nil
}

// RunUnit executes one unit to its terminal outcome. Cancelling ctx
// aborts the attempt in flight.
func (r *Runner) RunUnit(ctx context.Context, unit *ExecutionUnit) Outcome {
	return r.runUnit(ctx, ctx, unit)
}

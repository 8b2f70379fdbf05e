package runner

import (
	"context"
	"time"

	"github.com/volleyhq/volley/internal/assert"
	"github.com/volleyhq/volley/internal/config"
	"github.com/volleyhq/volley/internal/http"
)

// RetryPolicy governs how a unit's attempts are repeated. Only
// transient failures retry: transport timeouts, dials, and resets,
// plus any response status the policy explicitly lists. Assertion
// mismatches are deterministic and do not retry unless the policy
// opts them in.
type RetryPolicy struct {
	MaxAttempts     int
	Backoff         time.Duration
	Multiplier      float64
	RetryStatuses   []int
	RetryAssertions bool
}

// policyFrom fills a policy from suite configuration. A nil config
// means a single attempt.
func policyFrom(rc *config.RetryConfig) RetryPolicy {
	policy := RetryPolicy{
		MaxAttempts: 1,
		Backoff:     config.DefaultBackoff,
		Multiplier:  config.DefaultMultiplier,
	}
	if rc == nil {
		return policy
	}
	if rc.MaxAttempts > 1 {
		policy.MaxAttempts = rc.MaxAttempts
	}
	if d := rc.Backoff.GetDuration(0); d > 0 {
		policy.Backoff = d
	}
	if rc.Multiplier > 0 {
		policy.Multiplier = rc.Multiplier
	}
	policy.RetryStatuses = rc.OnStatus
	policy.RetryAssertions = rc.Assertions
	return policy
}

// attemptResult is what a single attempt produced: either a transport
// error, or a response with its verdict.
type attemptResult struct {
	resp     *http.Response
	verdict  assert.Verdict
	err      error
	duration time.Duration
}

func (a attemptResult) passed() bool {
	return a.err == nil && a.verdict.Passed()
}

// retryable reports whether the policy permits another attempt after
// this result. Cancellation is never retryable.
func (p RetryPolicy) retryable(a attemptResult) bool {
	if a.err != nil {
		return http.IsTransient(a.err)
	}
	if a.verdict.Passed() {
		return false
	}
	if a.resp != nil {
		for _, code := range p.RetryStatuses {
			if a.resp.StatusCode == code {
				return true
			}
		}
	}
	return p.RetryAssertions
}

// runUnit executes one unit through its retry policy, producing its
// single terminal outcome. attemptCtx bounds each attempt's network
// call (the per-attempt timeout is layered on top of it); retryCtx
// gates backoff waits, so a run-level cancellation stops further
// attempts without tearing down the attempt in flight.
func (r *Runner) runUnit(attemptCtx, retryCtx context.Context, unit *ExecutionUnit) Outcome {
	outcome := Outcome{
		Seq:      unit.Seq,
		Name:     unit.Name,
		Phase:    unit.Phase,
		RowIndex: unit.RowIndex,
		Request:  r.requestSnapshot(unit),
	}

	start := time.Now()
	backoff := unit.policy.Backoff
	var last attemptResult

	for attempt := 1; ; attempt++ {
		outcome.Attempts = attempt
		last = r.attempt(attemptCtx, unit)

		if last.passed() {
			if attempt > 1 {
				outcome.Status = StatusFlaky
			} else {
				outcome.Status = StatusPassed
			}
			break
		}
		if last.err != nil && http.IsCanceled(last.err) {
			outcome.Status = StatusCancelled
			break
		}
		if attempt >= unit.policy.MaxAttempts || !unit.policy.retryable(last) {
			outcome.Status = StatusFailed
			break
		}
		r.log.WithField("unit", unit.Name).WithField("attempt", attempt).
			Debugf("transient failure, retrying in %s", backoff)
		if !waitBackoff(retryCtx, backoff) {
			// Cancelled during backoff; the last attempt stands.
			outcome.Status = StatusFailed
			break
		}
		backoff = time.Duration(float64(backoff) * unit.policy.Multiplier)
	}

	outcome.Duration = time.Since(start)
	r.attachDetail(&outcome, last)
	return outcome
}

// attempt performs one request/evaluate cycle.
func (r *Runner) attempt(ctx context.Context, unit *ExecutionUnit) attemptResult {
	if unit.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, unit.timeout)
		defer cancel()
	}

	req := http.NewRequest(unit.request.Method, unit.request.URL)
	for key, value := range unit.request.Headers {
		req.WithHeader(key, value)
	}
	for key, value := range unit.request.Params {
		req.WithParam(key, value)
	}
	if unit.request.Body != "" {
		req.WithBody(unit.request.Body)
	}

	start := time.Now()
	resp, err := r.transport.Send(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		return attemptResult{err: err, duration: elapsed}
	}
	return attemptResult{
		resp:     resp,
		verdict:  assert.Evaluate(resp, unit.checks),
		duration: elapsed,
	}
}

// waitBackoff sleeps between attempts, abandoning the wait if the
// context is cancelled. Returns false on cancellation.
func waitBackoff(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

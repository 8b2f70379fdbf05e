package runner

import (
	"time"

	"github.com/volleyhq/volley/internal/assert"
	"github.com/volleyhq/volley/internal/config"
	"github.com/volleyhq/volley/internal/coverage"
	"github.com/volleyhq/volley/internal/metrics"
)

// Status is the terminal state of one execution unit.
type Status string

const (
	// StatusPassed means every check held on the first attempt.
	StatusPassed Status = "passed"
	// StatusFailed means the unit exhausted its attempts without a pass.
	StatusFailed Status = "failed"
	// StatusSkipped means the unit was never dispatched.
	StatusSkipped Status = "skipped"
	// StatusFlaky means the unit passed, but only on a retry attempt.
	StatusFlaky Status = "flaky"
	// StatusCancelled means the unit was abandoned mid-flight.
	StatusCancelled Status = "cancelled"
)

// Phase places a unit in the suite lifecycle.
type Phase string

const (
	PhaseSetup    Phase = "setup"
	PhaseTest     Phase = "test"
	PhaseTeardown Phase = "teardown"
)

// ExecutionUnit is the minimal schedulable item: one test case,
// optionally bound to one dataset row, with its request fully
// resolved and its checks built. Units are immutable once planned.
type ExecutionUnit struct {
	// Seq is assigned at plan time and never reassigned; final report
	// order is by Seq regardless of completion order.
	Seq      int
	Phase    Phase
	Name     string
	RowIndex int // -1 when no dataset row applies

	request config.Request
	checks  []assert.Check
	policy  RetryPolicy
	timeout time.Duration
}

// RequestSnapshot is the redacted request captured on an Outcome.
type RequestSnapshot struct {
	Method   string            `json:"method" yaml:"method"`
	URL      string            `json:"url" yaml:"url"`
	Headers  map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	BytesOut int64             `json:"bytesOut" yaml:"bytesOut"`
}

// ResponseSnapshot is the redacted response captured on an Outcome.
type ResponseSnapshot struct {
	StatusCode int               `json:"statusCode" yaml:"statusCode"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body       string            `json:"body,omitempty" yaml:"body,omitempty"`
	BytesIn    int64             `json:"bytesIn" yaml:"bytesIn"`
	Latency    time.Duration     `json:"latency" yaml:"latency"`
}

// Outcome is the single terminal result of one ExecutionUnit.
type Outcome struct {
	Seq        int               `json:"seq" yaml:"seq"`
	Name       string            `json:"name" yaml:"name"`
	Phase      Phase             `json:"phase" yaml:"phase"`
	RowIndex   int               `json:"rowIndex" yaml:"rowIndex"`
	Status     Status            `json:"status" yaml:"status"`
	Attempts   int               `json:"attempts" yaml:"attempts"`
	Duration   time.Duration     `json:"duration" yaml:"duration"`
	Request    *RequestSnapshot  `json:"request,omitempty" yaml:"request,omitempty"`
	Response   *ResponseSnapshot `json:"response,omitempty" yaml:"response,omitempty"`
	Mismatches []assert.Mismatch `json:"mismatches,omitempty" yaml:"mismatches,omitempty"`
	Err        string            `json:"error,omitempty" yaml:"error,omitempty"`
	SkipReason string            `json:"skipReason,omitempty" yaml:"skipReason,omitempty"`
}

// Failed reports whether the outcome is a terminal failure.
func (o Outcome) Failed() bool {
	return o.Status == StatusFailed
}

// Counts tallies outcomes by status.
type Counts struct {
	Total     int `json:"total" yaml:"total"`
	Passed    int `json:"passed" yaml:"passed"`
	Failed    int `json:"failed" yaml:"failed"`
	Skipped   int `json:"skipped" yaml:"skipped"`
	Flaky     int `json:"flaky" yaml:"flaky"`
	Cancelled int `json:"cancelled" yaml:"cancelled"`
}

func (c *Counts) add(status Status) {
	c.Total++
	switch status {
	case StatusPassed:
		c.Passed++
	case StatusFailed:
		c.Failed++
	case StatusSkipped:
		c.Skipped++
	case StatusFlaky:
		c.Flaky++
	case StatusCancelled:
		c.Cancelled++
	}
}

// CaseSummary folds one test case's outcomes across dataset rows.
type CaseSummary struct {
	Name     string        `json:"name" yaml:"name"`
	Status   Status        `json:"status" yaml:"status"`
	Counts   Counts        `json:"counts" yaml:"counts"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// RunResult is the aggregated result of one suite run, ordered by
// sequence index.
type RunResult struct {
	ID        string               `json:"id" yaml:"id"`
	Suite     string               `json:"suite" yaml:"suite"`
	Env       string               `json:"env,omitempty" yaml:"env,omitempty"`
	Start     time.Time            `json:"start" yaml:"start"`
	Duration  time.Duration        `json:"duration" yaml:"duration"`
	Counts    Counts               `json:"counts" yaml:"counts"`
	Outcomes  []Outcome            `json:"outcomes" yaml:"outcomes"`
	Cases     []CaseSummary        `json:"cases" yaml:"cases"`
	Latency   metrics.LatencyStats `json:"latency" yaml:"latency"`
	Coverage  *coverage.Report     `json:"coverage,omitempty" yaml:"coverage,omitempty"`
	Cancelled bool                 `json:"cancelled" yaml:"cancelled"`
	Passed    bool                 `json:"passed" yaml:"passed"`
}

// foldStatus collapses a set of row-level statuses into one
// case-level status. Any failure dominates; cancellation beats
// flakiness; a case is skipped only when every row was.
func foldStatus(counts Counts) Status {
	switch {
	case counts.Failed > 0:
		return StatusFailed
	case counts.Cancelled > 0:
		return StatusCancelled
	case counts.Flaky > 0:
		return StatusFlaky
	case counts.Skipped == counts.Total && counts.Total > 0:
		return StatusSkipped
	default:
		return StatusPassed
	}
}

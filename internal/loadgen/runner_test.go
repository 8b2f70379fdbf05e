package loadgen

import (
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/volleyhq/volley/internal/config"
	"github.com/volleyhq/volley/internal/http"
	"github.com/volleyhq/volley/internal/runner"
)

// countingTransport answers every request with a canned response
// after an optional delay, honoring cancellation the way the real
// client would.
type countingTransport struct {
	delay  time.Duration
	status func(call int64) int
	calls  atomic.Int64
}

func (ct *countingTransport) Send(ctx context.Context, req *http.Request) (*http.Response, error) {
	call := ct.calls.Add(1)
	if ct.delay > 0 {
		timer := time.NewTimer(ct.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, http.Classify(ctx.Err())
		case <-timer.C:
		}
	}

	status := 200
	if ct.status != nil {
		status = ct.status(call)
	}
	rt := ct.delay
	if rt == 0 {
		rt = 2 * time.Millisecond
	}
	headers := nethttp.Header{}
	headers.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode:   status,
		Status:       fmt.Sprintf("%d status", status),
		Headers:      headers,
		Body:         []byte(`{"ok":true}`),
		BytesIn:      11,
		ResponseTime: rt,
	}, nil
}

func perfSuite() *config.Suite {
	return &config.Suite{
		Name: "checkout api",
		Env: map[string]config.Environment{
			"load": {BaseURL: "https://api.test"},
		},
		DefaultEnv: "load",
		Tests: []config.TestCase{
			{Name: "list products", Request: config.Request{Method: "GET", URL: "/products"}},
			{Name: "product detail", Request: config.Request{Method: "GET", URL: "/products/1"}},
		},
	}
}

func shortPlan(mutate func(*config.LoadPlan)) *config.LoadPlan {
	plan := &config.LoadPlan{
		Pattern:      config.PatternConstant,
		Users:        4,
		Duration:     config.Duration(300 * time.Millisecond),
		Interval:     config.Duration(100 * time.Millisecond),
		DrainTimeout: config.Duration(2 * time.Second),
	}
	if mutate != nil {
		mutate(plan)
	}
	return plan
}

func perfRunner(transport runner.Transport) *Runner {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(transport, WithLogger(log))
}

func TestRunConstantLoad(t *testing.T) {
	transport := &countingTransport{delay: 5 * time.Millisecond}
	var snapshots []Snapshot

	result, err := perfRunner(transport).Run(context.Background(), perfSuite(), shortPlan(nil), Options{
		OnSnapshot: func(s Snapshot) { snapshots = append(snapshots, s) },
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if result.ID == "" {
		t.Error("Expected a run ID")
	}
	if result.Suite != "checkout api" {
		t.Errorf("Expected suite name carried onto the result, got %q", result.Suite)
	}
	if result.Final.Count == 0 {
		t.Fatal("Expected completed requests")
	}
	if got := transport.calls.Load(); got != result.Final.Count {
		t.Errorf("Expected every call sampled: %d calls, %d samples", got, result.Final.Count)
	}
	if result.Final.Errors != 0 {
		t.Errorf("Expected no errors, got %d", result.Final.Errors)
	}
	if !result.Passed {
		t.Error("Expected a run without thresholds to pass")
	}
	if !result.Drained {
		t.Error("Expected the run to drain cleanly")
	}
	if result.Interrupted {
		t.Error("Expected an uninterrupted run")
	}
	if result.Duration < 300*time.Millisecond {
		t.Errorf("Expected the run to span the plan duration, got %v", result.Duration)
	}

	if len(snapshots) == 0 {
		t.Fatal("Expected live snapshots")
	}
	sawSteady := false
	for _, s := range snapshots {
		if s.Phase == PhaseSteady && s.Target == 4 {
			sawSteady = true
		}
	}
	if !sawSteady {
		t.Error("Expected a snapshot taken at the steady target")
	}

	if len(result.Phases) < 2 {
		t.Fatalf("Expected phase history, got %+v", result.Phases)
	}
	if first := result.Phases[0]; first.Phase != PhaseSteady || first.Target != 4 {
		t.Errorf("Expected the run to open steady at 4, got %+v", first)
	}
	if last := result.Phases[len(result.Phases)-1]; last.Phase != PhaseDone {
		t.Errorf("Expected the history to close with done, got %+v", last)
	}
}

func TestRunThresholdVerdict(t *testing.T) {
	// Every fifth call returns a server error, so the error rate is
	// far from zero and the second threshold must fail the run.
	transport := &countingTransport{
		delay: 5 * time.Millisecond,
		status: func(call int64) int {
			if call%5 == 0 {
				return 500
			}
			return 200
		},
	}
	plan := shortPlan(func(p *config.LoadPlan) {
		p.Thresholds = []string{"p95 < 5s", "error_rate == 0"}
	})

	result, err := perfRunner(transport).Run(context.Background(), perfSuite(), plan, Options{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if result.Final.Errors == 0 {
		t.Fatal("Expected injected errors to be sampled")
	}
	if len(result.Thresholds) != 2 {
		t.Fatalf("Expected 2 threshold results, got %+v", result.Thresholds)
	}
	if !result.Thresholds[0].Passed {
		t.Errorf("Expected %q to pass, observed %s", result.Thresholds[0].Expr, result.Thresholds[0].Value)
	}
	if result.Thresholds[1].Passed {
		t.Errorf("Expected %q to fail, observed %s", result.Thresholds[1].Expr, result.Thresholds[1].Value)
	}
	if result.Passed {
		t.Error("Expected a failed threshold to fail the run")
	}
}

func TestRunPacedDispatch(t *testing.T) {
	transport := &countingTransport{delay: time.Millisecond}
	plan := shortPlan(func(p *config.LoadPlan) {
		p.Duration = config.Duration(500 * time.Millisecond)
		p.Rate = 20
		p.Interval = config.Duration(time.Second)
	})

	result, err := perfRunner(transport).Run(context.Background(), perfSuite(), plan, Options{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// 20/s over 500ms is ten dispatches give or take scheduling slop;
	// an unpaced run with 4 workers would make hundreds.
	calls := transport.calls.Load()
	if calls < 5 || calls > 16 {
		t.Errorf("Expected roughly 10 paced calls, got %d", calls)
	}
	if !result.Drained {
		t.Error("Expected the run to drain cleanly")
	}
}

func TestRunRampPhaseHistory(t *testing.T) {
	transport := &countingTransport{delay: 2 * time.Millisecond}
	plan := shortPlan(func(p *config.LoadPlan) {
		p.Pattern = config.PatternRampUp
		p.Duration = config.Duration(500 * time.Millisecond)
		p.Ramp = config.Duration(200 * time.Millisecond)
		p.Interval = config.Duration(time.Second)
	})

	result, err := perfRunner(transport).Run(context.Background(), perfSuite(), plan, Options{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var seq []Phase
	for _, change := range result.Phases {
		seq = append(seq, change.Phase)
	}
	want := []Phase{PhaseRamping, PhaseSteady, PhaseDraining, PhaseDone}
	if len(seq) != len(want) {
		t.Fatalf("Expected phases %v, got %v", want, seq)
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("Expected phases %v, got %v", want, seq)
		}
	}
	if result.Phases[1].Target != 4 {
		t.Errorf("Expected the steady phase to enter at the full target, got %+v", result.Phases[1])
	}
}

func TestRunInterrupted(t *testing.T) {
	transport := &countingTransport{delay: 30 * time.Millisecond}
	plan := shortPlan(func(p *config.LoadPlan) {
		p.Duration = config.Duration(5 * time.Second)
		p.Interval = config.Duration(time.Second)
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result, err := perfRunner(transport).Run(ctx, perfSuite(), plan, Options{})
	if err != nil {
		t.Fatalf("Expected a result from an interrupted run, got error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Expected cancellation to end the run promptly, took %v", elapsed)
	}

	if !result.Interrupted {
		t.Error("Expected the result to be marked interrupted")
	}
	if !result.Passed {
		t.Error("Expected thresholds alone to decide the verdict")
	}
	if result.Final.Count > transport.calls.Load() {
		t.Errorf("Expected at most %d samples, got %d", transport.calls.Load(), result.Final.Count)
	}
}

func TestRunUsesSuiteLoadBlock(t *testing.T) {
	transport := &countingTransport{delay: 2 * time.Millisecond}
	suite := perfSuite()
	suite.Load = shortPlan(nil)

	result, err := perfRunner(transport).Run(context.Background(), suite, nil, Options{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if result.Final.Count == 0 {
		t.Error("Expected the suite's load block to drive requests")
	}
	if result.Plan.SampleCap != config.DefaultSampleCap {
		t.Errorf("Expected the run to use a normalized copy, got cap %d", result.Plan.SampleCap)
	}
	if suite.Load.SampleCap != 0 {
		t.Errorf("Expected the declared plan to stay untouched, got cap %d", suite.Load.SampleCap)
	}
}

func TestRunConfigurationErrors(t *testing.T) {
	cases := []struct {
		name    string
		suite   *config.Suite
		plan    *config.LoadPlan
		opts    Options
		wantErr string
	}{
		{
			name:    "no plan anywhere",
			suite:   perfSuite(),
			plan:    nil,
			wantErr: "no load block",
		},
		{
			name:    "invalid plan",
			suite:   perfSuite(),
			plan:    shortPlan(func(p *config.LoadPlan) { p.Users = 0 }),
			wantErr: "invalid load plan",
		},
		{
			name:    "bad threshold",
			suite:   perfSuite(),
			plan:    shortPlan(func(p *config.LoadPlan) { p.Thresholds = []string{"p95 ! 500ms"} }),
			wantErr: "threshold",
		},
		{
			name:    "unknown environment",
			suite:   perfSuite(),
			plan:    shortPlan(nil),
			opts:    Options{Env: "prod"},
			wantErr: "unknown environment",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			transport := &countingTransport{}
			result, err := perfRunner(transport).Run(context.Background(), tc.suite, tc.plan, tc.opts)
			if err == nil {
				t.Fatalf("Expected an error, got %+v", result)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Expected error mentioning %q, got %q", tc.wantErr, err.Error())
			}
			if got := transport.calls.Load(); got != 0 {
				t.Errorf("Expected no requests before the run starts, got %d", got)
			}
		})
	}
}

package report

import (
	"bytes"
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/volleyhq/volley/internal/assert"
	"github.com/volleyhq/volley/internal/config"
	"github.com/volleyhq/volley/internal/loadgen"
	"github.com/volleyhq/volley/internal/metrics"
	"github.com/volleyhq/volley/internal/runner"
)

func sampleRunResult() *runner.RunResult {
	start := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	return &runner.RunResult{
		ID:       "run-1234",
		Suite:    "orders api",
		Env:      "staging",
		Start:    start,
		Duration: 1400 * time.Millisecond,
		Counts:   runner.Counts{Total: 5, Passed: 1, Failed: 1, Skipped: 1, Flaky: 1, Cancelled: 1},
		Outcomes: []runner.Outcome{
			{
				Seq: 0, Name: "list orders", Phase: runner.PhaseTest, RowIndex: -1,
				Status: runner.StatusPassed, Attempts: 1, Duration: 120 * time.Millisecond,
			},
			{
				Seq: 1, Name: "get order", Phase: runner.PhaseTest, RowIndex: -1,
				Status: runner.StatusFailed, Attempts: 1, Duration: 80 * time.Millisecond,
				Request:  &runner.RequestSnapshot{Method: "GET", URL: "https://api.test/orders/7"},
				Response: &runner.ResponseSnapshot{StatusCode: 404, Body: `{"error":"missing"}`},
				Mismatches: []assert.Mismatch{
					{Locator: "status", Kind: assert.KindNotEqual, Want: "200", Got: "404"},
					{Locator: "$.id", Kind: assert.KindMissing, Want: "a value"},
				},
			},
			{
				Seq: 2, Name: "create order", Phase: runner.PhaseTest, RowIndex: 0,
				Status: runner.StatusFlaky, Attempts: 2, Duration: 200 * time.Millisecond,
			},
			{
				Seq: 3, Name: "delete order", Phase: runner.PhaseTest, RowIndex: -1,
				Status: runner.StatusSkipped, SkipReason: "not started: bailed after earlier failure",
			},
			{
				Seq: 4, Name: "cleanup", Phase: runner.PhaseTeardown, RowIndex: -1,
				Status: runner.StatusCancelled, Attempts: 1, Duration: 40 * time.Millisecond,
			},
		},
		Cases: []runner.CaseSummary{
			{Name: "list orders", Status: runner.StatusPassed, Counts: runner.Counts{Total: 1, Passed: 1}},
		},
		Latency: metrics.LatencyStats{Count: 3, P50: 100 * time.Millisecond},
		Passed:  false,
	}
}

func samplePerfResult() *loadgen.PerformanceResult {
	return &loadgen.PerformanceResult{
		ID:       "perf-5678",
		Suite:    "orders api",
		Plan:     (&config.LoadPlan{Pattern: config.PatternConstant, Users: 4, Duration: config.Duration(30 * time.Second)}).Normalize(),
		Start:    time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC),
		Duration: 30 * time.Second,
		Final: metrics.Snapshot{
			Count:      1200,
			Errors:     6,
			ConnErrors: 2,
			ErrorRate:  0.005,
			Throughput: 40,
			BytesIn:    4 << 20,
			BytesOut:   96 << 10,
			Latency:    metrics.LatencyStats{P95: 320 * time.Millisecond},
		},
		Thresholds: []loadgen.ThresholdResult{
			{Expr: "p95 < 500ms", Value: "320ms", Passed: true},
			{Expr: "error_rate == 0", Value: "0.005", Passed: false},
		},
		Drained: true,
		Passed:  false,
	}
}

func TestParseFormat(t *testing.T) {
	cases := []struct {
		in        string
		want      Format
		expectErr bool
	}{
		{"json", FormatJSON, false},
		{"JSON", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"junit", FormatJUnit, false},
		{"xml", FormatJUnit, false},
		{"html", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		got, err := ParseFormat(tc.in)
		if tc.expectErr {
			if err == nil {
				t.Errorf("Expected an error for %q, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Unexpected error for %q: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Expected %q for %q, got %q", tc.want, tc.in, got)
		}
	}
}

func TestRunReportJSONRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRun(&buf, FormatJSON, sampleRunResult()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	got, err := ReadRun(&buf)
	if err != nil {
		t.Fatalf("Unexpected read error: %v", err)
	}

	if got.ID != "run-1234" || got.Suite != "orders api" {
		t.Errorf("Expected identity to survive the round trip, got %q/%q", got.ID, got.Suite)
	}
	if len(got.Outcomes) != 5 {
		t.Fatalf("Expected 5 outcomes, got %d", len(got.Outcomes))
	}
	if got.Outcomes[1].Response == nil || got.Outcomes[1].Response.StatusCode != 404 {
		t.Error("Expected the failure's response snapshot to survive")
	}
	if got.Outcomes[1].Mismatches[0].Kind != assert.KindNotEqual {
		t.Errorf("Expected mismatch kinds to survive, got %q", got.Outcomes[1].Mismatches[0].Kind)
	}
	if got.Outcomes[0].RowIndex != -1 || got.Outcomes[2].RowIndex != 0 {
		t.Errorf("Expected row indexes to survive, got %d and %d",
			got.Outcomes[0].RowIndex, got.Outcomes[2].RowIndex)
	}
}

func TestReadRunRejectsForeignJSON(t *testing.T) {
	_, err := ReadRun(strings.NewReader(`{"hello": "world"}`))
	if err == nil {
		t.Fatal("Expected an error for JSON that is not a run report")
	}
}

func TestRunReportJUnit(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRun(&buf, FormatJUnit, sampleRunResult()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	out := buf.String()

	if !strings.HasPrefix(out, "<?xml") {
		t.Error("Expected an XML declaration")
	}

	var parsed junitTestSuites
	if err := xml.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("Expected well-formed XML: %v", err)
	}
	if len(parsed.Suites) != 1 {
		t.Fatalf("Expected one testsuite, got %d", len(parsed.Suites))
	}

	suite := parsed.Suites[0]
	if suite.Name != "orders api" {
		t.Errorf("Expected suite name carried over, got %q", suite.Name)
	}
	if suite.Tests != 5 || suite.Failures != 1 || suite.Skipped != 2 {
		t.Errorf("Expected tests=5 failures=1 skipped=2, got %+v", suite)
	}
	if len(suite.Cases) != 5 {
		t.Fatalf("Expected one testcase per outcome, got %d", len(suite.Cases))
	}

	failed := suite.Cases[1]
	if failed.Failure == nil {
		t.Fatal("Expected the failed outcome to carry a failure element")
	}
	if !strings.Contains(failed.Failure.Message, "expected 200, got 404") {
		t.Errorf("Expected the first mismatch as the failure message, got %q", failed.Failure.Message)
	}
	if !strings.Contains(failed.Failure.Content, "missing") {
		t.Errorf("Expected the full mismatch list in the failure body, got %q", failed.Failure.Content)
	}

	if suite.Cases[2].SystemOut == "" || !strings.Contains(suite.Cases[2].SystemOut, "flaky") {
		t.Errorf("Expected a flaky note, got %q", suite.Cases[2].SystemOut)
	}
	if !strings.Contains(suite.Cases[2].Name, "[row 1]") {
		t.Errorf("Expected the dataset row in the case name, got %q", suite.Cases[2].Name)
	}

	if suite.Cases[3].Skipped == nil || !strings.Contains(suite.Cases[3].Skipped.Message, "bailed") {
		t.Error("Expected the skipped outcome marked with its reason")
	}
	if suite.Cases[4].Skipped == nil {
		t.Error("Expected the cancelled outcome marked skipped")
	}
	if !strings.Contains(suite.Cases[4].Name, "teardown") {
		t.Errorf("Expected the phase in the teardown case name, got %q", suite.Cases[4].Name)
	}
}

func TestRunReportYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRun(&buf, FormatYAML, sampleRunResult()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("Expected well-formed YAML: %v", err)
	}
	if doc["suite"] != "orders api" {
		t.Errorf("Expected the suite name in the document, got %v", doc["suite"])
	}
	if _, ok := doc["outcomes"]; !ok {
		t.Error("Expected outcomes in the document")
	}
}

func TestPerformanceReportJUnit(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePerformance(&buf, FormatJUnit, samplePerfResult()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var parsed junitTestSuites
	if err := xml.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("Expected well-formed XML: %v", err)
	}
	suite := parsed.Suites[0]
	if suite.Tests != 2 || suite.Failures != 1 {
		t.Errorf("Expected one testcase per threshold with one failure, got %+v", suite)
	}
	if suite.Cases[0].Name != "p95 < 500ms" || suite.Cases[0].Failure != nil {
		t.Errorf("Expected the passing threshold clean, got %+v", suite.Cases[0])
	}
	if suite.Cases[1].Failure == nil || !strings.Contains(suite.Cases[1].Failure.Message, "0.005") {
		t.Errorf("Expected the failing threshold to carry the observed value, got %+v", suite.Cases[1])
	}
}

func TestPerformanceReportJUnitInterrupted(t *testing.T) {
	result := samplePerfResult()
	result.Thresholds = nil
	result.Interrupted = true

	var buf bytes.Buffer
	if err := WritePerformance(&buf, FormatJUnit, result); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var parsed junitTestSuites
	if err := xml.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("Expected well-formed XML: %v", err)
	}
	suite := parsed.Suites[0]
	if suite.Tests != 1 || suite.Failures != 1 {
		t.Errorf("Expected a single failing completion case, got %+v", suite)
	}
	if suite.Cases[0].Failure == nil || !strings.Contains(suite.Cases[0].Failure.Message, "interrupted") {
		t.Errorf("Expected an interruption failure, got %+v", suite.Cases[0])
	}
}

func TestPerformanceReportJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePerformance(&buf, FormatJSON, samplePerfResult()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"perf-5678"`) || !strings.Contains(out, `"thresholds"`) {
		t.Errorf("Expected the performance result serialized, got %s", out)
	}
	if !strings.Contains(out, `"connErrors": 2`) {
		t.Errorf("Expected the connection error count serialized, got %s", out)
	}
}

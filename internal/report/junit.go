package report

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/volleyhq/volley/internal/loadgen"
	"github.com/volleyhq/volley/internal/runner"
)

// JUnit XML shapes as CI servers ingest them: a testsuites root, one
// testsuite per run, one testcase per outcome.
type junitTestSuites struct {
	XMLName xml.Name         `xml:"testsuites"`
	Suites  []junitTestSuite `xml:"testsuite"`
}

type junitTestSuite struct {
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Skipped   int             `xml:"skipped,attr"`
	Time      float64         `xml:"time,attr"`
	Timestamp string          `xml:"timestamp,attr"`
	Cases     []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Skipped   *junitSkipped `xml:"skipped,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Content string `xml:",chardata"`
}

type junitSkipped struct {
	Message string `xml:"message,attr"`
}

func writeJUnit(w io.Writer, suites junitTestSuites) error {
	out, err := xml.MarshalIndent(suites, "", "  ")
	if err != nil {
		return fmt.Errorf("rendering junit report: %w", err)
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	if _, err := w.Write(out); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}

// runJUnit maps a run result onto JUnit semantics: failures keep the
// full mismatch list, skipped and cancelled outcomes are marked
// skipped, flaky outcomes pass with a note.
func runJUnit(result *runner.RunResult) junitTestSuites {
	suite := junitTestSuite{
		Name:      result.Suite,
		Tests:     result.Counts.Total,
		Failures:  result.Counts.Failed,
		Skipped:   result.Counts.Skipped + result.Counts.Cancelled,
		Time:      result.Duration.Seconds(),
		Timestamp: result.Start.Format(time.RFC3339),
	}

	for _, outcome := range result.Outcomes {
		tc := junitTestCase{
			Name:      caseName(outcome),
			Classname: result.Suite,
			Time:      outcome.Duration.Seconds(),
		}

		switch outcome.Status {
		case runner.StatusFailed:
			tc.Failure = failureOf(outcome)
		case runner.StatusSkipped:
			tc.Skipped = &junitSkipped{Message: outcome.SkipReason}
		case runner.StatusCancelled:
			tc.Skipped = &junitSkipped{Message: "cancelled mid-flight"}
		case runner.StatusFlaky:
			tc.SystemOut = fmt.Sprintf("flaky: passed on attempt %d", outcome.Attempts)
		}

		suite.Cases = append(suite.Cases, tc)
	}

	return junitTestSuites{Suites: []junitTestSuite{suite}}
}

func caseName(outcome runner.Outcome) string {
	name := outcome.Name
	if outcome.RowIndex >= 0 {
		name = fmt.Sprintf("%s [row %d]", name, outcome.RowIndex+1)
	}
	if outcome.Phase != runner.PhaseTest {
		name = fmt.Sprintf("%s (%s)", name, outcome.Phase)
	}
	return name
}

func failureOf(outcome runner.Outcome) *junitFailure {
	if outcome.Err != "" {
		return &junitFailure{
			Message: outcome.Err,
			Type:    "transport",
		}
	}

	lines := make([]string, 0, len(outcome.Mismatches))
	for _, m := range outcome.Mismatches {
		lines = append(lines, m.String())
	}
	failure := &junitFailure{
		Message: "assertions failed",
		Type:    "assertion",
		Content: strings.Join(lines, "\n"),
	}
	if len(lines) > 0 {
		failure.Message = lines[0]
	}
	return failure
}

// performanceJUnit maps a performance result to one testcase per
// threshold, so CI shows exactly which criterion broke. A run with no
// thresholds reports a single completion case.
func performanceJUnit(result *loadgen.PerformanceResult) junitTestSuites {
	suite := junitTestSuite{
		Name:      result.Suite,
		Time:      result.Duration.Seconds(),
		Timestamp: result.Start.Format(time.RFC3339),
	}

	if result.Interrupted || len(result.Thresholds) == 0 {
		tc := junitTestCase{
			Name:      "run completed",
			Classname: result.Suite,
			Time:      result.Duration.Seconds(),
		}
		if result.Interrupted {
			tc.Failure = &junitFailure{
				Message: "interrupted before the plan duration elapsed",
				Type:    "interrupted",
			}
			suite.Failures++
		}
		suite.Tests++
		suite.Cases = append(suite.Cases, tc)
	}

	for _, th := range result.Thresholds {
		tc := junitTestCase{
			Name:      th.Expr,
			Classname: result.Suite,
		}
		if !th.Passed {
			tc.Failure = &junitFailure{
				Message: fmt.Sprintf("observed %s", th.Value),
				Type:    "threshold",
			}
			suite.Failures++
		}
		suite.Tests++
		suite.Cases = append(suite.Cases, tc)
	}

	return junitTestSuites{Suites: []junitTestSuite{suite}}
}

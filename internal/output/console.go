package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/volleyhq/volley/internal/config"
	"github.com/volleyhq/volley/internal/coverage"
	"github.com/volleyhq/volley/internal/loadgen"
	"github.com/volleyhq/volley/internal/runner"
)

// Console renders run progress and summaries as plain lines. It is
// not safe for concurrent use; the engine already serializes outcome
// and snapshot callbacks.
type Console struct {
	w       io.Writer
	scheme  *ColorScheme
	ci      bool
	verbose bool
}

// ConsoleOption configures a Console.
type ConsoleOption func(*Console)

// WithScheme overrides the color scheme.
func WithScheme(scheme *ColorScheme) ConsoleOption {
	return func(c *Console) { c.scheme = scheme }
}

// WithCI switches to stable plain-ASCII lines for CI logs.
func WithCI() ConsoleOption {
	return func(c *Console) { c.ci = true }
}

// WithVerbose adds per-outcome detail that is normally elided.
func WithVerbose() ConsoleOption {
	return func(c *Console) { c.verbose = true }
}

// NewConsole creates a console writing to w. Color is enabled when w
// is a terminal, NO_COLOR is unset, and CI mode is off.
func NewConsole(w io.Writer, opts ...ConsoleOption) *Console {
	c := &Console{w: w}
	for _, opt := range opts {
		opt(c)
	}
	if c.ci {
		c.scheme = NoColorScheme()
	}
	if c.scheme == nil {
		if ColorEnabled(w) {
			c.scheme = DefaultColorScheme()
		} else {
			c.scheme = NoColorScheme()
		}
	}
	return c
}

// RunHeader announces a test run.
func (c *Console) RunHeader(suite, env string, cases int) {
	where := ""
	if env != "" {
		where = fmt.Sprintf("env %s, ", env)
	}
	fmt.Fprintf(c.w, "%s  %s (%s%d cases)\n",
		c.scheme.Header.Sprint("RUN"), suite, where, cases)
}

// Outcome prints one result line as it lands, with failure detail
// beneath it.
func (c *Console) Outcome(o runner.Outcome) {
	icon, label, col := c.statusParts(o.Status)

	name := o.Name
	if o.RowIndex >= 0 {
		name = fmt.Sprintf("%s [row %d]", name, o.RowIndex+1)
	}
	if o.Phase != runner.PhaseTest {
		name = fmt.Sprintf("%s (%s)", name, o.Phase)
	}

	detail := ""
	switch o.Status {
	case runner.StatusSkipped:
		detail = " " + c.scheme.Dim.Sprint(o.SkipReason)
	case runner.StatusFlaky:
		detail = fmt.Sprintf(" %s", c.scheme.Dim.Sprintf("(passed on attempt %d)", o.Attempts))
	}

	if c.ci {
		fmt.Fprintf(c.w, "%s %s (%s)%s\n", label, name, fmtDuration(o.Duration), detail)
	} else {
		fmt.Fprintf(c.w, "%s %s %s %s%s\n",
			col.Sprint(icon), col.Sprintf("%-6s", label), name,
			c.scheme.Dim.Sprintf("(%s)", fmtDuration(o.Duration)), detail)
	}

	if o.Status == runner.StatusFailed {
		for _, m := range o.Mismatches {
			fmt.Fprintf(c.w, "         %s\n", m.String())
		}
		if o.Err != "" {
			fmt.Fprintf(c.w, "         %s\n", o.Err)
		}
		if c.verbose && o.Response != nil && o.Response.Body != "" {
			fmt.Fprintf(c.w, "         body: %s\n", o.Response.Body)
		}
	}
}

// RunSummary prints the final counts, latency line, optional coverage
// line, and the verdict.
func (c *Console) RunSummary(result *runner.RunResult) {
	counts := result.Counts
	parts := []string{fmt.Sprintf("%d passed", counts.Passed)}
	if counts.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", counts.Failed))
	}
	if counts.Flaky > 0 {
		parts = append(parts, fmt.Sprintf("%d flaky", counts.Flaky))
	}
	if counts.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", counts.Skipped))
	}
	if counts.Cancelled > 0 {
		parts = append(parts, fmt.Sprintf("%d cancelled", counts.Cancelled))
	}

	fmt.Fprintf(c.w, "\n%d cases: %s (%s)\n",
		counts.Total, strings.Join(parts, ", "), fmtDuration(result.Duration))

	if result.Latency.Count > 0 {
		fmt.Fprintf(c.w, "latency p50 %s  p95 %s  p99 %s\n",
			fmtDuration(result.Latency.P50),
			fmtDuration(result.Latency.P95),
			fmtDuration(result.Latency.P99))
	}

	if result.Coverage != nil {
		fmt.Fprintf(c.w, "coverage %d/%d (%.1f%%)\n",
			result.Coverage.Covered, result.Coverage.Total, result.Coverage.Percent)
	}

	c.verdict(result.Passed, result.Cancelled)
}

// PerfHeader announces a performance run.
func (c *Console) PerfHeader(suite string, plan *config.LoadPlan) {
	desc := fmt.Sprintf("%s, %d users for %s", plan.Pattern, plan.Users, plan.Duration)
	if plan.Pattern == config.PatternRampUp {
		desc += fmt.Sprintf(", ramp %s", plan.Ramp)
	}
	if plan.Pattern == config.PatternSpike {
		desc += fmt.Sprintf(", peak %d every %s", plan.SpikePeak, plan.SpikeEvery)
	}
	if plan.Rate > 0 {
		desc += fmt.Sprintf(", %.0f req/s", plan.Rate)
	}
	fmt.Fprintf(c.w, "%s %s (%s)\n", c.scheme.Header.Sprint("PERF"), suite, desc)
}

// PerfSnapshot prints one live statistics line per interval.
func (c *Console) PerfSnapshot(s loadgen.Snapshot) {
	errPct := s.ErrorRate * 100
	errStr := fmt.Sprintf("err %.1f%%", errPct)
	if errPct > 1 {
		errStr = c.scheme.Caution.Sprint(errStr)
	}
	fmt.Fprintf(c.w, "%8s  %-8s target %-4d rps %-7.1f p95 %-8s %s  %d reqs\n",
		fmtDuration(s.Elapsed), s.Phase, s.Target, s.Throughput,
		fmtDuration(s.Latency.P95), errStr, s.Count)
}

// PerfSummary prints the final statistics, threshold verdicts, and
// the overall verdict.
func (c *Console) PerfSummary(result *loadgen.PerformanceResult) {
	final := result.Final
	fmt.Fprintf(c.w, "\n%d requests in %s (%.1f rps), %d errors (%.2f%%)\n",
		final.Count, fmtDuration(result.Duration), final.Throughput,
		final.Errors, final.ErrorRate*100)

	if final.Count > 0 {
		approx := ""
		if final.Latency.Approximate {
			approx = " (approximate percentiles)"
		}
		fmt.Fprintf(c.w, "latency min %s  mean %s  p50 %s  p95 %s  p99 %s  max %s%s\n",
			fmtDuration(final.Latency.Min),
			fmtDuration(final.Latency.Mean),
			fmtDuration(final.Latency.P50),
			fmtDuration(final.Latency.P95),
			fmtDuration(final.Latency.P99),
			fmtDuration(final.Latency.Max),
			approx)
	}

	if len(final.StatusCodes) > 0 {
		fmt.Fprintf(c.w, "status %s\n", fmtStatusCodes(final.StatusCodes))
	}
	if final.ConnErrors > 0 {
		fmt.Fprintln(c.w, c.scheme.Caution.Sprintf("connection errors %d", final.ConnErrors))
	}
	if final.BytesIn > 0 || final.BytesOut > 0 {
		fmt.Fprintf(c.w, "bytes in %s, out %s\n", fmtBytes(final.BytesIn), fmtBytes(final.BytesOut))
	}

	for _, th := range result.Thresholds {
		if th.Passed {
			fmt.Fprintf(c.w, "  %s %s (%s)\n", c.scheme.Pass.Sprint("✓"), th.Expr, th.Value)
		} else {
			fmt.Fprintf(c.w, "  %s %s (%s)\n", c.scheme.Fail.Sprint("✗"), th.Expr, th.Value)
		}
	}

	if !result.Drained {
		fmt.Fprintln(c.w, c.scheme.Caution.Sprint("drain window expired before all requests finished"))
	}

	c.verdict(result.Passed, result.Interrupted)
}

// CoverageSummary prints per-operation coverage and the tuple
// percentage.
func (c *Console) CoverageSummary(rep *coverage.Report) {
	for _, entry := range rep.Entries {
		mark := c.scheme.Fail.Sprint("✗")
		if entry.Hit && len(entry.Missing) == 0 {
			mark = c.scheme.Pass.Sprint("✓")
		}
		line := fmt.Sprintf("  %s %s %s", mark,
			c.scheme.Method.Sprint(entry.Operation.Method), entry.Operation.Path)
		if len(entry.Statuses) > 0 {
			line += fmt.Sprintf(" %v", entry.Statuses)
		}
		if len(entry.Missing) > 0 {
			line += " " + c.scheme.Caution.Sprintf("missing %v", entry.Missing)
		}
		if len(entry.Unexpected) > 0 {
			line += " " + c.scheme.Dim.Sprintf("unexpected %v", entry.Unexpected)
		}
		fmt.Fprintln(c.w, line)
	}

	for _, call := range rep.Uncatalogued {
		fmt.Fprintf(c.w, "  %s %s %s (%d)\n",
			c.scheme.Caution.Sprint("?"), call.Method, call.Path, call.Status)
	}

	fmt.Fprintf(c.w, "coverage %d/%d (%.1f%%)\n", rep.Covered, rep.Total, rep.Percent)
}

func (c *Console) verdict(passed, interrupted bool) {
	note := ""
	if interrupted {
		note = " (interrupted)"
	}
	if passed {
		fmt.Fprintf(c.w, "%s%s\n", c.scheme.Pass.Sprint("PASS"), note)
	} else {
		fmt.Fprintf(c.w, "%s%s\n", c.scheme.Fail.Sprint("FAIL"), note)
	}
}

func (c *Console) statusParts(status runner.Status) (string, string, *color.Color) {
	switch status {
	case runner.StatusPassed:
		return "✓", "PASS", c.scheme.Pass
	case runner.StatusFailed:
		return "✗", "FAIL", c.scheme.Fail
	case runner.StatusSkipped:
		return "•", "SKIP", c.scheme.Skip
	case runner.StatusFlaky:
		return "⚠", "FLAKY", c.scheme.Flaky
	case runner.StatusCancelled:
		return "✗", "CANCEL", c.scheme.Cancel
	}
	return "?", strings.ToUpper(string(status)), c.scheme.Dim
}

// fmtDuration renders a duration compactly: sub-second values in
// milliseconds, the rest with one decimal.
func fmtDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func fmtBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}

func fmtStatusCodes(codes map[int]int64) string {
	keys := make([]int, 0, len(codes))
	for code := range codes {
		keys = append(keys, code)
	}
	sort.Ints(keys)
	parts := make([]string, 0, len(keys))
	for _, code := range keys {
		parts = append(parts, fmt.Sprintf("%d×%d", code, codes[code]))
	}
	return strings.Join(parts, "  ")
}

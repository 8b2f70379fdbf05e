package loadgen

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/volleyhq/volley/internal/metrics"
)

// Threshold is one parsed pass/fail criterion over the final
// statistics, such as "p95 < 500ms" or "error_rate < 0.01".
type Threshold struct {
	Expr   string
	Metric string
	Op     string
	// Bound is the numeric limit: nanoseconds for latency metrics, a
	// plain float for error_rate and rps.
	Bound float64
}

// ThresholdResult is the verdict for one threshold.
type ThresholdResult struct {
	Expr   string `json:"expr" yaml:"expr"`
	Value  string `json:"value" yaml:"value"`
	Passed bool   `json:"passed" yaml:"passed"`
}

var latencyMetrics = map[string]bool{
	"p50":  true,
	"p95":  true,
	"p99":  true,
	"mean": true,
	"min":  true,
	"max":  true,
}

var thresholdOps = map[string]bool{
	"<":  true,
	"<=": true,
	">":  true,
	">=": true,
	"==": true,
}

// ParseThreshold parses a "metric op value" expression. Latency
// metrics (p50, p95, p99, mean, min, max) take a duration value; a
// bare number is read as milliseconds. error_rate and rps take a
// plain number.
func ParseThreshold(expr string) (Threshold, error) {
	fields := strings.Fields(expr)
	if len(fields) != 3 {
		return Threshold{}, fmt.Errorf("threshold %q: want \"metric op value\", e.g. \"p95 < 500ms\"", expr)
	}

	metric := strings.ToLower(fields[0])
	op := fields[1]
	raw := fields[2]

	if !thresholdOps[op] {
		return Threshold{}, fmt.Errorf("threshold %q: unknown operator %q", expr, op)
	}

	t := Threshold{Expr: expr, Metric: metric, Op: op}
	switch {
	case latencyMetrics[metric]:
		d, err := time.ParseDuration(raw)
		if err != nil {
			ms, ferr := strconv.ParseFloat(raw, 64)
			if ferr != nil {
				return Threshold{}, fmt.Errorf("threshold %q: %q is not a duration", expr, raw)
			}
			d = time.Duration(ms * float64(time.Millisecond))
		}
		t.Bound = float64(d)
	case metric == "error_rate", metric == "rps":
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Threshold{}, fmt.Errorf("threshold %q: %q is not a number", expr, raw)
		}
		t.Bound = v
	default:
		return Threshold{}, fmt.Errorf("threshold %q: unknown metric %q (want p50, p95, p99, mean, min, max, error_rate or rps)", expr, metric)
	}
	return t, nil
}

// ParseThresholds parses every expression, failing on the first bad
// one so a misconfigured plan aborts before any load is generated.
func ParseThresholds(exprs []string) ([]Threshold, error) {
	out := make([]Threshold, 0, len(exprs))
	for _, expr := range exprs {
		t, err := ParseThreshold(expr)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Evaluate checks every threshold against the final snapshot.
func Evaluate(thresholds []Threshold, final metrics.Snapshot) []ThresholdResult {
	results := make([]ThresholdResult, 0, len(thresholds))
	for _, t := range thresholds {
		actual := t.observe(final)
		results = append(results, ThresholdResult{
			Expr:   t.Expr,
			Value:  t.render(actual),
			Passed: compare(actual, t.Op, t.Bound),
		})
	}
	return results
}

// observe extracts the metric's value from the snapshot, in the same
// unit as Bound.
func (t Threshold) observe(s metrics.Snapshot) float64 {
	switch t.Metric {
	case "p50":
		return float64(s.Latency.P50)
	case "p95":
		return float64(s.Latency.P95)
	case "p99":
		return float64(s.Latency.P99)
	case "mean":
		return float64(s.Latency.Mean)
	case "min":
		return float64(s.Latency.Min)
	case "max":
		return float64(s.Latency.Max)
	case "error_rate":
		return s.ErrorRate
	case "rps":
		return s.Throughput
	}
	return 0
}

func (t Threshold) render(actual float64) string {
	if latencyMetrics[t.Metric] {
		return time.Duration(actual).Round(time.Microsecond).String()
	}
	return strconv.FormatFloat(actual, 'f', -1, 64)
}

func compare(actual float64, op string, bound float64) bool {
	switch op {
	case "<":
		return actual < bound
	case "<=":
		return actual <= bound
	case ">":
		return actual > bound
	case ">=":
		return actual >= bound
	case "==":
		return actual == bound
	}
	return false
}

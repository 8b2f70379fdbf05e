package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volleyhq/volley/internal/report"
	"github.com/volleyhq/volley/internal/runner"
)

// writeRunReport persists a minimal run report and returns its path.
func writeRunReport(t *testing.T, dir string, outcomes []runner.Outcome) string {
	t.Helper()
	result := &runner.RunResult{
		ID:       "run-1",
		Suite:    "orders-api",
		Outcomes: outcomes,
		Passed:   true,
	}
	path := filepath.Join(dir, "results.json")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, report.WriteRun(f, report.FormatJSON, result))
	require.NoError(t, f.Close())
	return path
}

func hitOutcome(method, url string, status int) runner.Outcome {
	return runner.Outcome{
		Name:     "case",
		Phase:    runner.PhaseTest,
		RowIndex: -1,
		Status:   runner.StatusPassed,
		Request:  &runner.RequestSnapshot{Method: method, URL: url},
		Response: &runner.ResponseSnapshot{StatusCode: status},
	}
}

func TestCoverageCommand(t *testing.T) {
	dir := t.TempDir()
	reportPath := writeRunReport(t, dir, []runner.Outcome{
		hitOutcome("GET", "http://api.test/orders", 200),
		hitOutcome("GET", "http://api.test/orders/42", 200),
	})
	catalogPath := writeFile(t, dir, "catalog.yaml", `operations:
  - method: GET
    path: /orders
  - method: GET
    path: /orders/{id}
`)

	var stdout, stderr bytes.Buffer
	code := runCoverage(coverageOptions{
		CatalogPath: catalogPath,
		FromPath:    reportPath,
		Stdout:      &stdout,
		Stderr:      &stderr,
	})

	require.Equal(t, 0, code, "stderr: %s", stderr.String())
	out := stdout.String()
	assert.Contains(t, out, "GET /orders")
	assert.Contains(t, out, "GET /orders/{id}")
	assert.Contains(t, out, "coverage 2/2 (100.0%)")
}

func TestCoverageCommandFailUnder(t *testing.T) {
	dir := t.TempDir()
	reportPath := writeRunReport(t, dir, []runner.Outcome{
		hitOutcome("GET", "http://api.test/orders", 200),
	})
	catalogPath := writeFile(t, dir, "catalog.yaml", `operations:
  - method: GET
    path: /orders
  - method: GET
    path: /health
`)

	var stdout, stderr bytes.Buffer
	opts := coverageOptions{
		CatalogPath: catalogPath,
		FromPath:    reportPath,
		FailUnder:   80,
		Stdout:      &stdout,
		Stderr:      &stderr,
	}
	code := runCoverage(opts)

	assert.Equal(t, 1, code)
	assert.Contains(t, stdout.String(), "coverage 1/2 (50.0%)")
	assert.Contains(t, stderr.String(), "below the required 80.0%")

	// The same audit clears a lower bar.
	stdout.Reset()
	stderr.Reset()
	opts.FailUnder = 50
	assert.Equal(t, 0, runCoverage(opts))
}

func TestCoverageCommandUncatalogued(t *testing.T) {
	dir := t.TempDir()
	reportPath := writeRunReport(t, dir, []runner.Outcome{
		hitOutcome("GET", "http://api.test/orders", 200),
		hitOutcome("DELETE", "http://api.test/sessions/9", 204),
	})
	catalogPath := writeFile(t, dir, "catalog.yaml", `operations:
  - method: GET
    path: /orders
`)

	var stdout, stderr bytes.Buffer
	code := runCoverage(coverageOptions{
		CatalogPath: catalogPath,
		FromPath:    reportPath,
		Stdout:      &stdout,
		Stderr:      &stderr,
	})

	require.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "DELETE /sessions/9 (204)")
}

func TestCoverageCommandRejectsForeignJSON(t *testing.T) {
	dir := t.TempDir()
	fromPath := writeFile(t, dir, "other.json", `{"kind":"something-else"}`)
	catalogPath := writeFile(t, dir, "catalog.yaml", `operations:
  - method: GET
    path: /orders
`)

	var stdout, stderr bytes.Buffer
	code := runCoverage(coverageOptions{
		CatalogPath: catalogPath,
		FromPath:    fromPath,
		Stdout:      &stdout,
		Stderr:      &stderr,
	})

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "not a run report")
}

func TestCoverageCommandMissingReport(t *testing.T) {
	dir := t.TempDir()
	catalogPath := writeFile(t, dir, "catalog.yaml", `operations:
  - method: GET
    path: /orders
`)

	var stdout, stderr bytes.Buffer
	code := runCoverage(coverageOptions{
		CatalogPath: catalogPath,
		FromPath:    filepath.Join(dir, "absent.json"),
		Stdout:      &stdout,
		Stderr:      &stderr,
	})

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "failed to open report")
}

package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/volleyhq/volley/internal/coverage"
	"github.com/volleyhq/volley/internal/report"
	"github.com/volleyhq/volley/internal/runner"
)

var coverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Audit a run report against an endpoint catalog",
	Long: `Coverage matches the calls recorded in a run report against a catalog
of API operations and reports which operations, and which of their
declared statuses, the run actually exercised.

Examples:
  volley coverage --catalog api.yaml --from results.json
  volley coverage --catalog api.yaml --from results.json --fail-under 80`,
	Run: func(cmd *cobra.Command, args []string) {
		opts := coverageOptions{Stdout: os.Stdout, Stderr: os.Stderr}
		opts.CatalogPath, _ = cmd.Flags().GetString("catalog")
		opts.FromPath, _ = cmd.Flags().GetString("from")
		opts.FailUnder, _ = cmd.Flags().GetFloat64("fail-under")
		opts.CI, _ = cmd.Flags().GetBool("ci")
		opts.NoColor, _ = cmd.Flags().GetBool("no-color")
		opts.Verbose, _ = cmd.Flags().GetBool("verbose")

		if code := runCoverage(opts); code != 0 {
			os.Exit(code)
		}
	},
}

func init() {
	coverageCmd.Flags().String("catalog", "", "Endpoint catalog file (required)")
	coverageCmd.Flags().String("from", "", "JSON run report to audit (required)")
	coverageCmd.Flags().Float64("fail-under", 0, "Exit 1 when coverage falls below this percentage")
	coverageCmd.MarkFlagRequired("catalog")
	coverageCmd.MarkFlagRequired("from")
}

// coverageOptions carries the resolved coverage flags.
type coverageOptions struct {
	CatalogPath string
	FromPath    string
	FailUnder   float64
	CI          bool
	NoColor     bool
	Verbose     bool

	Stdout io.Writer
	Stderr io.Writer
}

// runCoverage evaluates the report against the catalog and returns the
// process exit code.
func runCoverage(opts coverageOptions) int {
	catalog, err := coverage.LoadCatalog(opts.CatalogPath)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
		return 1
	}

	f, err := os.Open(opts.FromPath)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "Error: failed to open report: %v\n", err)
		return 1
	}
	result, err := report.ReadRun(f)
	f.Close()
	if err != nil {
		fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
		return 1
	}

	rep := coverage.Evaluate(callsOf(result), catalog)

	console := buildConsole(opts.Stdout, opts.CI, opts.NoColor, opts.Verbose)
	console.CoverageSummary(rep)

	if opts.FailUnder > 0 && rep.Percent < opts.FailUnder {
		fmt.Fprintf(opts.Stderr, "coverage %.1f%% is below the required %.1f%%\n",
			rep.Percent, opts.FailUnder)
		return 1
	}
	return 0
}

// callsOf extracts the executed calls a report recorded. Outcomes that
// never reached the wire carry no response and contribute nothing.
func callsOf(result *runner.RunResult) []coverage.Call {
	var calls []coverage.Call
	for _, outcome := range result.Outcomes {
		if outcome.Request == nil || outcome.Response == nil {
			continue
		}
		calls = append(calls, coverage.NewCall(
			outcome.Request.Method, outcome.Request.URL, outcome.Response.StatusCode))
	}
	return calls
}

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/volleyhq/volley/internal/config"
	"github.com/volleyhq/volley/internal/coverage"
	"github.com/volleyhq/volley/internal/http"
	"github.com/volleyhq/volley/internal/output"
	"github.com/volleyhq/volley/internal/report"
	"github.com/volleyhq/volley/internal/runner"
)

var runCmd = &cobra.Command{
	Use:   "run SUITE",
	Short: "Run a test suite and report pass/fail per case",
	Long: `Run executes every test case in a suite file against the selected
environment, streaming one line per outcome and a summary at the end.

Examples:
  volley run suite.yaml
  volley run suite.yaml --env staging --parallel 8
  volley run suite.yaml --data users.csv --grep login
  volley run suite.yaml --coverage api.yaml --report results.json`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		opts := runOptions{SuitePath: args[0], Stdout: os.Stdout, Stderr: os.Stderr}
		opts.Env, _ = cmd.Flags().GetString("env")
		opts.DataPath, _ = cmd.Flags().GetString("data")
		opts.Parallel, _ = cmd.Flags().GetInt("parallel")
		opts.Bail, _ = cmd.Flags().GetBool("bail")
		opts.Grep, _ = cmd.Flags().GetString("grep")
		opts.Timeout, _ = cmd.Flags().GetDuration("timeout")
		opts.CatalogPath, _ = cmd.Flags().GetString("coverage")
		opts.ReportPath, _ = cmd.Flags().GetString("report")
		opts.Format, _ = cmd.Flags().GetString("format")
		opts.CI, _ = cmd.Flags().GetBool("ci")
		opts.NoColor, _ = cmd.Flags().GetBool("no-color")
		opts.Verbose, _ = cmd.Flags().GetBool("verbose")

		if code := runSuite(opts); code != 0 {
			os.Exit(code)
		}
	},
}

func init() {
	runCmd.Flags().StringP("env", "e", "", "Environment to run against (default: the suite's default_env)")
	runCmd.Flags().String("data", "", "CSV dataset driving the tests once per row")
	runCmd.Flags().IntP("parallel", "p", 0, "Concurrent test cases (default: the suite's dataset parallel, else 1)")
	runCmd.Flags().Bool("bail", false, "Stop dispatching new cases after the first failure")
	runCmd.Flags().String("grep", "", "Run only cases whose name contains the pattern")
	runCmd.Flags().DurationP("timeout", "T", 0, "Override every per-request timeout")
	runCmd.Flags().String("coverage", "", "Endpoint catalog to evaluate coverage against")
	runCmd.Flags().StringP("report", "r", "", "Write a report file")
	runCmd.Flags().StringP("format", "f", "", "Report format: json, yaml or junit (default: by report extension)")
}

// runOptions carries the resolved run flags. Stdout and Stderr are
// injected so tests can capture output.
type runOptions struct {
	SuitePath   string
	Env         string
	DataPath    string
	Parallel    int
	Bail        bool
	Grep        string
	Timeout     time.Duration
	CatalogPath string
	ReportPath  string
	Format      string
	CI          bool
	NoColor     bool
	Verbose     bool

	Stdout io.Writer
	Stderr io.Writer
}

// runSuite executes the suite and returns the process exit code.
func runSuite(opts runOptions) int {
	suite, err := config.LoadSuite(opts.SuitePath)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
		return 1
	}

	rows, err := loadRows(suite, opts)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
		return 1
	}

	var catalog *coverage.Catalog
	if opts.CatalogPath != "" {
		catalog, err = coverage.LoadCatalog(opts.CatalogPath)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	// A machine format on stdout replaces the human lines entirely, so
	// piped output stays parseable.
	machineOnly := opts.Format != "" && opts.ReportPath == ""
	console := buildConsole(opts.Stdout, opts.CI, opts.NoColor, opts.Verbose)

	client := http.NewClient(http.WithTimeout(0))
	exec := runner.New(runner.HTTPTransport{Client: client},
		runner.WithLogger(newLogger(opts.Verbose)))

	ctx, abort, stop := interruptContext(context.Background(), opts.Stderr,
		"interrupted, letting in-flight requests finish (interrupt again to abort)",
		"aborting in-flight requests")
	defer stop()

	runnerOpts := runner.Options{
		Env:         opts.Env,
		Dataset:     rows,
		Concurrency: resolveParallel(suite, opts.Parallel),
		Bail:        opts.Bail,
		Grep:        opts.Grep,
		Timeout:     opts.Timeout,
		Abort:       abort,
		Catalog:     catalog,
	}
	if !machineOnly {
		console.RunHeader(suite.Name, displayEnv(suite, opts.Env), len(suite.Tests))
		runnerOpts.OnOutcome = console.Outcome
	}

	result, err := exec.Execute(ctx, suite, runnerOpts)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
		return 1
	}

	if machineOnly {
		format, ferr := resolveFormat(opts.Format, "")
		if ferr != nil {
			fmt.Fprintf(opts.Stderr, "Error: %v\n", ferr)
			return 1
		}
		if werr := report.WriteRun(opts.Stdout, format, result); werr != nil {
			fmt.Fprintf(opts.Stderr, "Error: %v\n", werr)
			return 1
		}
	} else {
		console.RunSummary(result)
		if opts.Verbose && result.Coverage != nil {
			console.CoverageSummary(result.Coverage)
		}
	}

	if opts.ReportPath != "" {
		format, ferr := resolveFormat(opts.Format, opts.ReportPath)
		if ferr != nil {
			fmt.Fprintf(opts.Stderr, "Error: %v\n", ferr)
			return 1
		}
		werr := writeReportFile(opts.ReportPath, func(w io.Writer) error {
			return report.WriteRun(w, format, result)
		})
		if werr != nil {
			fmt.Fprintf(opts.Stderr, "Error: %v\n", werr)
			return 1
		}
		if !machineOnly {
			fmt.Fprintf(opts.Stdout, "report written to %s\n", opts.ReportPath)
		}
	}

	if !result.Passed || result.Cancelled {
		return 1
	}
	return 0
}

// loadRows resolves the dataset: an explicit --data path wins, then the
// suite's dataset file, relative paths resolving against the suite dir.
func loadRows(suite *config.Suite, opts runOptions) ([]config.DatasetRow, error) {
	path := opts.DataPath
	if path == "" && suite.Dataset != nil && suite.Dataset.File != "" {
		path = suite.Dataset.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(config.GetSuiteDir(opts.SuitePath), path)
		}
	}
	if path == "" {
		return nil, nil
	}
	return config.LoadDataset(path)
}

// resolveParallel picks the concurrency bound: the flag wins, then the
// suite's dataset parallel, then serial execution.
func resolveParallel(suite *config.Suite, flag int) int {
	if flag > 0 {
		return flag
	}
	if suite.Dataset != nil && suite.Dataset.Parallel > 0 {
		return suite.Dataset.Parallel
	}
	return 1
}

// displayEnv names the environment for the run banner before the
// runner has resolved it.
func displayEnv(suite *config.Suite, flag string) string {
	if flag != "" {
		return flag
	}
	return suite.DefaultEnv
}

// buildConsole assembles a console from the shared presentation flags.
func buildConsole(w io.Writer, ci, noColor, verbose bool) *output.Console {
	var opts []output.ConsoleOption
	if ci {
		opts = append(opts, output.WithCI())
	}
	if noColor {
		opts = append(opts, output.WithScheme(output.NoColorScheme()))
	}
	if verbose {
		opts = append(opts, output.WithVerbose())
	}
	return output.NewConsole(w, opts...)
}

// resolveFormat picks the report format: an explicit --format wins,
// otherwise the report path extension decides, defaulting to JSON.
func resolveFormat(explicit, path string) (report.Format, error) {
	if explicit != "" {
		return report.ParseFormat(explicit)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return report.FormatYAML, nil
	case ".xml":
		return report.FormatJUnit, nil
	default:
		return report.FormatJSON, nil
	}
}

// writeReportFile renders a report into a freshly created file.
func writeReportFile(path string, render func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := render(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

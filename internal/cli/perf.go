package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/volleyhq/volley/internal/config"
	"github.com/volleyhq/volley/internal/http"
	"github.com/volleyhq/volley/internal/loadgen"
	"github.com/volleyhq/volley/internal/report"
	"github.com/volleyhq/volley/internal/runner"
)

var perfCmd = &cobra.Command{
	Use:   "perf SUITE",
	Short: "Drive a suite as load and judge it against thresholds",
	Long: `Perf replays the suite's test cases continuously under a load pattern,
prints one statistics line per interval, and judges the final numbers
against the suite's thresholds. Flags override the suite's load block.

Examples:
  volley perf suite.yaml
  volley perf suite.yaml --users 50 --duration 2m
  volley perf suite.yaml --pattern ramp-up --users 100 --ramp 30s
  volley perf suite.yaml --rate 200 --report perf.json`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		opts := perfOptions{SuitePath: args[0], Stdout: os.Stdout, Stderr: os.Stderr}
		opts.Env, _ = cmd.Flags().GetString("env")
		opts.Pattern, _ = cmd.Flags().GetString("pattern")
		opts.Users, _ = cmd.Flags().GetInt("users")
		opts.Duration, _ = cmd.Flags().GetDuration("duration")
		opts.Ramp, _ = cmd.Flags().GetDuration("ramp")
		opts.Rate, _ = cmd.Flags().GetFloat64("rate")
		opts.Interval, _ = cmd.Flags().GetDuration("interval")
		opts.Thresholds, _ = cmd.Flags().GetStringArray("threshold")
		opts.ReportPath, _ = cmd.Flags().GetString("report")
		opts.Format, _ = cmd.Flags().GetString("format")
		opts.CI, _ = cmd.Flags().GetBool("ci")
		opts.NoColor, _ = cmd.Flags().GetBool("no-color")
		opts.Verbose, _ = cmd.Flags().GetBool("verbose")

		if code := runPerf(opts); code != 0 {
			os.Exit(code)
		}
	},
}

func init() {
	perfCmd.Flags().StringP("env", "e", "", "Environment to run against (default: the suite's default_env)")
	perfCmd.Flags().String("pattern", "", "Load pattern: constant, ramp-up or spike")
	perfCmd.Flags().IntP("users", "u", 0, "Target concurrency (baseline for spike)")
	perfCmd.Flags().DurationP("duration", "d", 0, "Run length, draining excluded")
	perfCmd.Flags().Duration("ramp", 0, "Ramp-up window for the ramp-up pattern")
	perfCmd.Flags().Float64("rate", 0, "Cap dispatch at N requests/second (0 keeps the suite's rate)")
	perfCmd.Flags().Duration("interval", 0, "Live statistics interval (default 1s)")
	perfCmd.Flags().StringArray("threshold", nil, `Pass/fail expression like "p95 < 500ms" (replaces the suite's)`)
	perfCmd.Flags().StringP("report", "r", "", "Write a report file")
	perfCmd.Flags().StringP("format", "f", "", "Report format: json, yaml or junit (default: by report extension)")
}

// perfOptions carries the resolved perf flags. Zero values keep the
// suite's load block settings.
type perfOptions struct {
	SuitePath  string
	Env        string
	Pattern    string
	Users      int
	Duration   time.Duration
	Ramp       time.Duration
	Rate       float64
	Interval   time.Duration
	Thresholds []string
	ReportPath string
	Format     string
	CI         bool
	NoColor    bool
	Verbose    bool

	Stdout io.Writer
	Stderr io.Writer
}

// runPerf executes the performance run and returns the process exit
// code.
func runPerf(opts perfOptions) int {
	suite, err := config.LoadSuite(opts.SuitePath)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
		return 1
	}

	if suite.Load == nil && opts.Users == 0 {
		fmt.Fprintf(opts.Stderr, "Error: suite %q has no load block; declare one or pass --users and --duration\n", suite.Name)
		return 1
	}
	plan := mergePlan(suite.Load, opts)

	console := buildConsole(opts.Stdout, opts.CI, opts.NoColor, opts.Verbose)
	log := newLogger(opts.Verbose)

	// Workers churn through connections as the driver scales; sizing
	// the pool to the peak keeps ramps from thrashing dials.
	shape := *plan
	shape.Normalize()
	clientOpts := []http.ClientOption{http.WithTimeout(0)}
	if peak := shape.MaxConcurrency(); peak > 0 {
		clientOpts = append(clientOpts, http.WithMaxConnsPerHost(peak))
	}
	client := http.NewClient(clientOpts...)

	perf := loadgen.New(runner.HTTPTransport{Client: client}, loadgen.WithLogger(log))

	// Load requests are synthetic, so the first interrupt already
	// aborts them; there is no second stage to escalate to.
	ctx, _, stop := interruptContext(context.Background(), opts.Stderr,
		"interrupted, stopping load", "")
	defer stop()

	console.PerfHeader(suite.Name, &shape)
	result, err := perf.Run(ctx, suite, plan, loadgen.Options{
		Env:        opts.Env,
		OnSnapshot: console.PerfSnapshot,
		OnPhase: func(ch loadgen.PhaseChange) {
			log.WithFields(logrus.Fields{
				"phase":  ch.Phase,
				"target": ch.Target,
			}).Debug("load phase change")
		},
	})
	if err != nil {
		fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
		return 1
	}

	console.PerfSummary(result)

	if opts.ReportPath != "" {
		format, ferr := resolveFormat(opts.Format, opts.ReportPath)
		if ferr != nil {
			fmt.Fprintf(opts.Stderr, "Error: %v\n", ferr)
			return 1
		}
		werr := writeReportFile(opts.ReportPath, func(w io.Writer) error {
			return report.WritePerformance(w, format, result)
		})
		if werr != nil {
			fmt.Fprintf(opts.Stderr, "Error: %v\n", werr)
			return 1
		}
		fmt.Fprintf(opts.Stdout, "report written to %s\n", opts.ReportPath)
	}

	if !result.Passed || result.Interrupted {
		return 1
	}
	return 0
}

// mergePlan lays the perf flags over the suite's load block. Zero
// values keep the block's settings; a flag rate of zero cannot unpace
// a suite that declares one.
func mergePlan(base *config.LoadPlan, opts perfOptions) *config.LoadPlan {
	plan := config.LoadPlan{}
	if base != nil {
		plan = *base
	}
	if opts.Pattern != "" {
		plan.Pattern = opts.Pattern
	}
	if opts.Users > 0 {
		plan.Users = opts.Users
	}
	if opts.Duration > 0 {
		plan.Duration = config.Duration(opts.Duration)
	}
	if opts.Ramp > 0 {
		plan.Ramp = config.Duration(opts.Ramp)
	}
	if opts.Rate > 0 {
		plan.Rate = opts.Rate
	}
	if opts.Interval > 0 {
		plan.Interval = config.Duration(opts.Interval)
	}
	if len(opts.Thresholds) > 0 {
		plan.Thresholds = opts.Thresholds
	}
	return &plan
}

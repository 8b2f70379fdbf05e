// Package cli wires the commands: suite runs, performance runs,
// coverage audits and one-off requests. Commands parse flags and
// delegate to the engine packages; everything they print goes through
// internal/output so machine formats stay in internal/report.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:     "volley",
	Short:   "API testing and load generation for HTTP services",
	Version: version,
	Long: `Volley executes declarative HTTP test suites: YAML or JSON files
describing requests, expected responses and load shapes. One suite file
drives functional runs (volley run), performance runs (volley perf) and
endpoint coverage audits (volley coverage); volley send fires a single
request with a timing breakdown.`,
	Run: func(cmd *cobra.Command, args []string) {
		// If no subcommand is provided, print help
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
// Cobra has already printed the error by the time it is returned; main
// only turns it into the exit code.
func Execute() error {
	return RootCmd.Execute()
}

func init() {
	RootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	RootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
	RootCmd.PersistentFlags().Bool("ci", false, "Stable plain-ASCII lines for CI logs (implies --no-color)")

	// Add subcommands to root command
	RootCmd.AddCommand(runCmd)
	RootCmd.AddCommand(perfCmd)
	RootCmd.AddCommand(coverageCmd)
	RootCmd.AddCommand(sendCmd)
}

// newLogger builds the engine's diagnostic logger. Warnings always
// surface; verbose opens the Debug stream used for dispatch, retry and
// scaling events.
func newLogger(verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}
	return log
}

// interruptContext returns a context cancelled on the first interrupt
// and a channel closed on the second, printing the matching notice for
// each stage. An empty second notice skips the second stage. Once the
// handler has run its stages it detaches, so one more interrupt falls
// through to the default disposition and kills the process. The stop
// func releases the handler and must be called exactly once.
func interruptContext(parent context.Context, stderr io.Writer, first, second string) (context.Context, <-chan struct{}, func()) {
	ctx, cancel := context.WithCancel(parent)
	abort := make(chan struct{})
	quit := make(chan struct{})

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			fmt.Fprintf(stderr, "\n%s\n", first)
			cancel()
		case <-quit:
			return
		}
		if second == "" {
			return
		}
		select {
		case <-sigCh:
			fmt.Fprintln(stderr, second)
			close(abort)
		case <-quit:
		}
	}()

	stop := func() {
		cancel()
		close(quit)
	}
	return ctx, abort, stop
}

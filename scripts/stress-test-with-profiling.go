//go:build ignore

// Drives the load engine in-process against a suite, with resource
// monitoring and optional pprof capture. Meant for chasing goroutine
// leaks and allocation regressions in the engine itself; running
// in-process keeps the profiles pointed at the engine rather than a
// wrapper.
//
//	go run scripts/stress-test-with-profiling.go -cpuprofile cpu.out suite.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/volleyhq/volley/internal/config"
	"github.com/volleyhq/volley/internal/http"
	"github.com/volleyhq/volley/internal/loadgen"
	"github.com/volleyhq/volley/internal/output"
	"github.com/volleyhq/volley/internal/runner"
)

func main() {
	env := flag.String("env", "", "suite environment to run against")
	cpuProfile := flag.String("cpuprofile", "", "write cpu profile to file")
	memProfile := flag.String("memprofile", "", "write memory profile to file")
	goroutineProfile := flag.String("goroutineprofile", "", "write goroutine profile to file")
	monitorInterval := flag.Duration("monitor-interval", 10*time.Second, "interval for monitoring stats")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: stress-test-with-profiling [flags] SUITE")
		os.Exit(2)
	}

	suite, err := config.LoadSuite(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	if suite.Load == nil {
		log.Fatalf("suite %q has no load block", suite.Name)
	}

	fmt.Println("========================================")
	fmt.Println("Load Engine Stress Run with Profiling")
	fmt.Println("========================================")
	fmt.Println()

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
		fmt.Printf("cpu profiling enabled: %s\n", *cpuProfile)
	}

	stopMonitor := make(chan struct{})
	monitorDone := make(chan struct{})

	go func() {
		defer close(monitorDone)
		ticker := time.NewTicker(*monitorInterval)
		defer ticker.Stop()

		fmt.Println("time\t\tgoroutines\talloc(MB)\tsys(MB)\t\tGC runs")

		for {
			select {
			case <-ticker.C:
				var m runtime.MemStats
				runtime.ReadMemStats(&m)
				fmt.Printf("%s\t%d\t\t%.2f\t\t%.2f\t\t%d\n",
					time.Now().Format("15:04:05"),
					runtime.NumGoroutine(),
					float64(m.Alloc)/1024/1024,
					float64(m.Sys)/1024/1024,
					m.NumGC,
				)
			case <-stopMonitor:
				return
			}
		}
	}()

	var initialStats runtime.MemStats
	runtime.ReadMemStats(&initialStats)
	initialGoroutines := runtime.NumGoroutine()

	shape := *suite.Load
	shape.Normalize()
	clientOpts := []http.ClientOption{http.WithTimeout(0)}
	if max := shape.MaxConcurrency(); max > 0 {
		clientOpts = append(clientOpts, http.WithMaxConnsPerHost(max))
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)

	console := output.NewConsole(os.Stdout)
	console.PerfHeader(suite.Name, &shape)

	eng := loadgen.New(
		runner.HTTPTransport{Client: http.NewClient(clientOpts...)},
		loadgen.WithLogger(logger),
	)

	startTime := time.Now()
	result, err := eng.Run(context.Background(), suite, suite.Load, loadgen.Options{
		Env:        *env,
		OnSnapshot: console.PerfSnapshot,
	})
	elapsed := time.Since(startTime)

	close(stopMonitor)
	<-monitorDone

	if err != nil {
		log.Fatal(err)
	}
	console.PerfSummary(result)

	var finalStats runtime.MemStats
	runtime.ReadMemStats(&finalStats)
	finalGoroutines := runtime.NumGoroutine()

	fmt.Println()
	fmt.Println("========================================")
	fmt.Printf("run finished in %s\n", elapsed)
	fmt.Printf("goroutines: %d (delta %+d)\n", finalGoroutines, finalGoroutines-initialGoroutines)
	fmt.Printf("alloc: %.2f MB (delta %+.2f MB)\n",
		float64(finalStats.Alloc)/1024/1024,
		(float64(finalStats.Alloc)-float64(initialStats.Alloc))/1024/1024)
	fmt.Printf("GC runs: %d\n", finalStats.NumGC-initialStats.NumGC)

	// The monitor goroutine and idle transport conns account for the slack.
	if finalGoroutines > initialGoroutines+5 {
		fmt.Printf("WARNING: possible goroutine leak (+%d goroutines)\n", finalGoroutines-initialGoroutines)
	}

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			log.Fatal("could not create memory profile: ", err)
		}
		defer f.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal("could not write memory profile: ", err)
		}
		fmt.Printf("memory profile written to %s\n", *memProfile)
	}

	if *goroutineProfile != "" {
		f, err := os.Create(*goroutineProfile)
		if err != nil {
			log.Fatal("could not create goroutine profile: ", err)
		}
		defer f.Close()
		if err := pprof.Lookup("goroutine").WriteTo(f, 0); err != nil {
			log.Fatal("could not write goroutine profile: ", err)
		}
		fmt.Printf("goroutine profile written to %s\n", *goroutineProfile)
	}

	if !result.Passed {
		os.Exit(1)
	}
}

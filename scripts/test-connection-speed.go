//go:build ignore

// Raw throughput baseline against the local test server, bypassing the
// engine entirely. When a load run looks slow, compare its RPS against
// this number to tell engine overhead from environment limits.
//
//	go run scripts/test-server/main.go &
//	go run scripts/test-connection-speed.go -url http://localhost:8080/status/200
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

func main() {
	url := flag.String("url", "http://localhost:8080/status/200", "target URL")
	duration := flag.Duration("duration", 10*time.Second, "how long to hammer")
	concurrency := flag.Int("concurrency", 100, "concurrent workers")
	flag.Parse()

	fmt.Printf("baseline throughput against %s\n", *url)
	fmt.Printf("duration %v, %d workers\n\n", *duration, *concurrency)

	transport := &http.Transport{
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 1000,
		IdleConnTimeout:     90 * time.Second,
	}
	client := &http.Client{
		Timeout:   5 * time.Second,
		Transport: transport,
	}

	var (
		total    atomic.Int64
		success  atomic.Int64
		failures atomic.Int64
		wg       sync.WaitGroup
	)

	startTime := time.Now()
	endTime := startTime.Add(*duration)

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(endTime) {
				total.Add(1)
				resp, err := client.Get(*url)
				if err != nil {
					failures.Add(1)
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				if resp.StatusCode < 400 {
					success.Add(1)
				} else {
					failures.Add(1)
				}
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		lastCount := int64(0)

		for range ticker.C {
			if time.Now().After(endTime) {
				return
			}
			currentCount := total.Load()
			fmt.Printf("current RPS %d, total %d, ok %d, failed %d\n",
				currentCount-lastCount, currentCount, success.Load(), failures.Load())
			lastCount = currentCount
		}
	}()

	wg.Wait()
	actual := time.Since(startTime)

	sent := total.Load()
	fmt.Printf("\n=== baseline ===\n")
	fmt.Printf("requests: %d\n", sent)
	fmt.Printf("ok: %d (%.2f%%)\n", success.Load(), pct(success.Load(), sent))
	fmt.Printf("failed: %d (%.2f%%)\n", failures.Load(), pct(failures.Load(), sent))
	fmt.Printf("duration: %v\n", actual)
	fmt.Printf("average RPS: %.2f\n", float64(sent)/actual.Seconds())
}

func pct(n, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// Package metrics aggregates per-operation samples into live and
// final statistics.
//
// Latencies are retained exactly, as raw microsecond values, up to a
// configurable cap; beyond the cap the aggregator transparently
// replays the retained values into an HDR histogram and continues
// there, flagging the resulting percentiles as approximate. Exact
// percentiles use the nearest-rank method on the sorted retained
// values. Mean, standard deviation, min, and max always cover every
// sample in either mode.
//
// Throughput in live snapshots is computed over a trailing window of
// one-second buckets; the final snapshot reports overall throughput
// across the whole run.
package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// DefaultSampleCap is the number of raw latency values retained
	// before downgrading to the approximate estimator.
	DefaultSampleCap = 65536

	// windowSeconds is the trailing throughput window.
	windowSeconds = 10

	// Histogram range: 1 microsecond to 10 minutes, 3 significant
	// figures.
	histogramMin     = 1
	histogramMax     = 600_000_000
	histogramSigFigs = 3
)

// Sample is one completed operation. A failed sample with a zero
// Status never received a response; the failure was at the transport
// rather than the HTTP layer.
type Sample struct {
	Time     time.Time
	Latency  time.Duration
	Failed   bool
	Status   int
	BytesIn  int64
	BytesOut int64
}

// LatencyStats describes the latency distribution. Approximate is set
// once the aggregator has downgraded to the histogram estimator.
type LatencyStats struct {
	Min         time.Duration `json:"min" yaml:"min"`
	Max         time.Duration `json:"max" yaml:"max"`
	Mean        time.Duration `json:"mean" yaml:"mean"`
	StdDev      time.Duration `json:"stdDev" yaml:"stdDev"`
	P50         time.Duration `json:"p50" yaml:"p50"`
	P95         time.Duration `json:"p95" yaml:"p95"`
	P99         time.Duration `json:"p99" yaml:"p99"`
	Count       int64         `json:"count" yaml:"count"`
	Approximate bool          `json:"approximate" yaml:"approximate"`
}

// Snapshot is a point-in-time view of the aggregated metrics. Live
// snapshots report trailing-window throughput; the final snapshot
// reports overall throughput.
type Snapshot struct {
	Time    time.Time     `json:"timestamp" yaml:"timestamp"`
	Elapsed time.Duration `json:"elapsed" yaml:"elapsed"`
	Count   int64         `json:"count" yaml:"count"`
	Errors  int64         `json:"errors" yaml:"errors"`
	// ConnErrors is the subset of Errors where no response arrived.
	ConnErrors  int64         `json:"connErrors" yaml:"connErrors"`
	ErrorRate   float64       `json:"errorRate" yaml:"errorRate"`
	Throughput  float64       `json:"throughput" yaml:"throughput"`
	BytesIn     int64         `json:"bytesIn" yaml:"bytesIn"`
	BytesOut    int64         `json:"bytesOut" yaml:"bytesOut"`
	StatusCodes map[int]int64 `json:"statusCodes" yaml:"statusCodes"`
	Latency     LatencyStats  `json:"latency" yaml:"latency"`
}

type secondBucket struct {
	second int64
	count  int64
}

// Aggregator is the single ingestion point for samples. It is safe
// for concurrent use: counters are atomic, the distribution is
// mutex-protected.
type Aggregator struct {
	sampleCap int
	start     time.Time

	errors     atomic.Int64
	connErrors atomic.Int64
	bytesIn    atomic.Int64
	bytesOut   atomic.Int64

	mu          sync.Mutex
	n           int64
	exact       []int64
	hist        *hdrhistogram.Histogram
	statusCodes map[int]int64
	minUS       int64
	maxUS       int64
	meanUS      float64
	m2          float64
	window      [windowSeconds]secondBucket
}

// New creates an aggregator retaining up to sampleCap raw latencies.
// A non-positive cap uses DefaultSampleCap.
func New(sampleCap int) *Aggregator {
	if sampleCap <= 0 {
		sampleCap = DefaultSampleCap
	}
	return &Aggregator{
		sampleCap:   sampleCap,
		start:       time.Now(),
		exact:       make([]int64, 0, min(sampleCap, 4096)),
		statusCodes: make(map[int]int64),
	}
}

// Record ingests one sample.
func (a *Aggregator) Record(s Sample) {
	if s.Time.IsZero() {
		s.Time = time.Now()
	}
	us := s.Latency.Microseconds()
	if us < histogramMin {
		us = histogramMin
	}
	if us > histogramMax {
		us = histogramMax
	}

	if s.Failed {
		a.errors.Add(1)
		if s.Status == 0 {
			a.connErrors.Add(1)
		}
	}
	a.bytesIn.Add(s.BytesIn)
	a.bytesOut.Add(s.BytesOut)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.n++
	if s.Status != 0 {
		a.statusCodes[s.Status]++
	}
	if a.minUS == 0 || us < a.minUS {
		a.minUS = us
	}
	if us > a.maxUS {
		a.maxUS = us
	}

	delta := float64(us) - a.meanUS
	a.meanUS += delta / float64(a.n)
	a.m2 += delta * (float64(us) - a.meanUS)

	a.recordWindow(s.Time)

	if a.hist != nil {
		a.hist.RecordValue(us)
		return
	}
	if len(a.exact) < a.sampleCap {
		a.exact = append(a.exact, us)
		return
	}
	a.downgrade()
	a.hist.RecordValue(us)
}

// downgrade replays the retained values into an HDR histogram and
// drops the raw slice. Called with the lock held.
func (a *Aggregator) downgrade() {
	a.hist = hdrhistogram.New(histogramMin, histogramMax, histogramSigFigs)
	for _, v := range a.exact {
		a.hist.RecordValue(v)
	}
	a.exact = nil
}

func (a *Aggregator) recordWindow(t time.Time) {
	sec := t.Unix()
	b := &a.window[sec%windowSeconds]
	if b.second != sec {
		b.second = sec
		b.count = 0
	}
	b.count++
}

// windowThroughput sums the trailing one-second buckets. Early in a
// run the divisor is the elapsed time rather than the full window,
// clamped to one second so a burst in the first instant does not
// report an absurd rate.
func (a *Aggregator) windowThroughput(now time.Time) float64 {
	nowSec := now.Unix()
	var total int64
	for _, b := range a.window {
		if b.second > nowSec-windowSeconds && b.second <= nowSec {
			total += b.count
		}
	}

	span := float64(windowSeconds)
	if elapsed := now.Sub(a.start).Seconds(); elapsed < span {
		span = elapsed
	}
	if span < 1 {
		span = 1
	}
	return float64(total) / span
}

// Snapshot returns the current live view. Safe to call at any time,
// including while samples are still arriving; the result reflects
// some consistent subset of the work completed so far.
func (a *Aggregator) Snapshot() Snapshot {
	return a.snapshot(time.Now(), false)
}

// Final returns the end-of-run view, with percentiles computed from
// the full retained (or approximated) distribution and throughput
// measured across the whole run.
func (a *Aggregator) Final() Snapshot {
	return a.snapshot(time.Now(), true)
}

func (a *Aggregator) snapshot(now time.Time, overall bool) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	elapsed := now.Sub(a.start)
	errors := a.errors.Load()

	snap := Snapshot{
		Time:        now,
		Elapsed:     elapsed,
		Count:       a.n,
		Errors:      errors,
		ConnErrors:  a.connErrors.Load(),
		BytesIn:     a.bytesIn.Load(),
		BytesOut:    a.bytesOut.Load(),
		StatusCodes: make(map[int]int64, len(a.statusCodes)),
		Latency:     a.latencyStats(),
	}
	for code, count := range a.statusCodes {
		snap.StatusCodes[code] = count
	}
	if a.n > 0 {
		snap.ErrorRate = float64(errors) / float64(a.n)
	}

	if overall {
		if secs := elapsed.Seconds(); secs > 0 {
			snap.Throughput = float64(a.n) / secs
		}
	} else {
		snap.Throughput = a.windowThroughput(now)
	}
	return snap
}

// latencyStats computes the distribution view. Called with the lock
// held.
func (a *Aggregator) latencyStats() LatencyStats {
	stats := LatencyStats{Count: a.n}
	if a.n == 0 {
		return stats
	}

	stats.Min = time.Duration(a.minUS) * time.Microsecond
	stats.Max = time.Duration(a.maxUS) * time.Microsecond
	stats.Mean = time.Duration(a.meanUS) * time.Microsecond
	stats.StdDev = time.Duration(math.Sqrt(a.m2/float64(a.n))) * time.Microsecond

	if a.hist != nil {
		stats.Approximate = true
		stats.P50 = time.Duration(a.hist.ValueAtQuantile(50)) * time.Microsecond
		stats.P95 = time.Duration(a.hist.ValueAtQuantile(95)) * time.Microsecond
		stats.P99 = time.Duration(a.hist.ValueAtQuantile(99)) * time.Microsecond
		return stats
	}

	sorted := make([]int64, len(a.exact))
	copy(sorted, a.exact)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	stats.P50 = time.Duration(nearestRank(sorted, 50)) * time.Microsecond
	stats.P95 = time.Duration(nearestRank(sorted, 95)) * time.Microsecond
	stats.P99 = time.Duration(nearestRank(sorted, 99)) * time.Microsecond
	return stats
}

// nearestRank returns the value at percentile p of the sorted slice:
// the smallest value with at least ceil(p/100*n) values at or below
// it. For 100 samples, p50 is the 50th value.
func nearestRank(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

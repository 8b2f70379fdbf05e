package loadgen

import (
	"context"
	"sync"
	"time"
)

// Pacer spaces dispatch at a fixed rate. Elapsed time earns allowance
// at rate units per second, capped at the burst ceiling, and every
// Next spends one unit. When the allowance runs dry Next returns the
// future instant the next unit is due and advances the drip clock to
// that instant, so a caller waking late is not credited twice for the
// same wait.
type Pacer struct {
	mu        sync.Mutex
	rate      float64
	burst     float64
	allowance float64
	lastDrip  time.Time
}

// NewPacer creates a pacer emitting rate units per second. A burst of
// 1 gives strict spacing; larger bursts let allowance pile up while
// callers are slow and be spent at once when they return.
func NewPacer(rate, burst float64) *Pacer {
	if rate <= 0 {
		rate = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &Pacer{
		rate:     rate,
		burst:    burst,
		lastDrip: time.Now(),
	}
}

// Next returns when the next unit may start. A time not after now
// means immediately.
func (p *Pacer) Next() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if elapsed := now.Sub(p.lastDrip).Seconds(); elapsed > 0 {
		p.allowance += elapsed * p.rate
	}
	if p.allowance > p.burst {
		p.allowance = p.burst
	}

	if p.allowance >= 1 {
		p.allowance--
		p.lastDrip = now
		return now
	}

	wait := time.Duration((1 - p.allowance) / p.rate * float64(time.Second))
	next := now.Add(wait)
	p.allowance = 0
	p.lastDrip = next
	return next
}

// Wait blocks until the next unit may start or the context ends.
func (p *Pacer) Wait(ctx context.Context) error {
	wait := time.Until(p.Next())
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetRate changes the emit rate. Accumulated allowance resets, so
// lowering the rate never releases a burst earned at the old one.
func (p *Pacer) SetRate(rate float64) {
	if rate <= 0 {
		rate = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rate = rate
	p.allowance = 0
	p.lastDrip = time.Now()
}

// Rate reports the current emit rate.
func (p *Pacer) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

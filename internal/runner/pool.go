package runner

import (
	"sync"
	"time"
)

// Pool bounds the number of concurrently in-flight units. The bound
// may be raised or lowered while the pool is in use; lowering it never
// preempts work already in flight, it only holds back new acquisitions
// until enough slots free up.
//
// Stop flips a latch that makes every current and future Acquire
// return false. In-flight work is unaffected; callers decide what
// stopping means for it.
type Pool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	bound    int
	inFlight int
	stopped  bool
}

// NewPool creates a pool with the given concurrency bound.
func NewPool(bound int) *Pool {
	if bound < 0 {
		bound = 0
	}
	p := &Pool{bound: bound}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Acquire blocks until a slot is free and claims it, returning true.
// It returns false once the pool is stopped; a dispatch loop seeing
// false records its remaining units as skipped rather than silently
// dropping them.
func (p *Pool) Acquire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.stopped {
			return false
		}
		if p.inFlight < p.bound {
			p.inFlight++
			return true
		}
		p.cond.Wait()
	}
}

// Release frees a slot claimed by Acquire.
func (p *Pool) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight--
	p.cond.Broadcast()
}

// SetBound adjusts the concurrency bound. Raising it wakes blocked
// acquirers immediately; lowering it lets excess in-flight work
// finish without replacement.
func (p *Pool) SetBound(bound int) {
	if bound < 0 {
		bound = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bound = bound
	p.cond.Broadcast()
}

// Bound returns the current concurrency bound.
func (p *Pool) Bound() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bound
}

// InFlight returns the number of currently claimed slots.
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// Stop makes every current and future Acquire return false.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	p.cond.Broadcast()
}

// Stopped reports whether Stop has been called.
func (p *Pool) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Drain waits until nothing is in flight or the timeout elapses,
// reporting whether the pool fully drained.
func (p *Pool) Drain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	// The waker breaks cond.Wait out periodically so the deadline is
	// honored even if no Release ever arrives.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				p.cond.Broadcast()
			}
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()
	for p.inFlight > 0 {
		if time.Now().After(deadline) {
			return false
		}
		p.cond.Wait()
	}
	return true
}

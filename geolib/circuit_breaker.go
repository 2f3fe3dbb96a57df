package geolib

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

type circuitBreakerCallback func(context.Context) (*http.Response, error)

const (
	circuitBreakerStateClosed uint32 = iota
	circuitBreakerStateHalfOpened
	circuitBreakerStateOpened
)

// circuitBreaker protects remote providers from being hammered when
// they are down.
//
// CLOSED: all calls pass, failures are counted. Counter is reset
// every resetFailuresTimeout. If counter reaches openThreshold, breaker
// becomes OPENED.
//
// OPENED: all calls are rejected with ErrCircuitBreakerOpened. After
// halfOpenTimeout it becomes HALF_OPENED.
//
// HALF_OPENED: exactly one call is allowed. Its outcome decides if
// breaker goes to CLOSED or back to OPENED.
type circuitBreaker struct {
	state          atomic.Uint32
	stateMutexChan chan bool
	clock          clock.Clock

	halfOpenTimer        *clock.Timer
	failuresCleanupTimer *clock.Timer

	halfOpenAttempts atomic.Uint32
	failuresCount    uint32

	openThreshold        uint32
	halfOpenTimeout      time.Duration
	resetFailuresTimeout time.Duration
}

func (c *circuitBreaker) Do(ctx context.Context, callback circuitBreakerCallback) (*http.Response, error) {
	switch c.state.Load() {
	case circuitBreakerStateClosed:
		return c.doClosed(ctx, callback)
	case circuitBreakerStateHalfOpened:
		return c.doHalfOpened(ctx, callback)
	}

	return nil, ErrCircuitBreakerOpened
}

func (c *circuitBreaker) doClosed(ctx context.Context, callback circuitBreakerCallback) (*http.Response, error) {
	resp, err := callback(ctx)

	if !c.lock(ctx) {
		flushResponse(resp)

		return nil, ctx.Err()
	}
	defer c.unlock()

	switch {
	case err == nil:
		c.switchState(circuitBreakerStateClosed)
	case errors.Is(err, ErrCircuitBreakerIgnore):
	default:
		c.failuresCount++

		if c.state.Load() == circuitBreakerStateClosed && c.failuresCount >= c.openThreshold {
			c.switchState(circuitBreakerStateOpened)
		}
	}

	return resp, err
}

func (c *circuitBreaker) doHalfOpened(ctx context.Context, callback circuitBreakerCallback) (*http.Response, error) {
	if !c.halfOpenAttempts.CompareAndSwap(0, 1) {
		return nil, ErrCircuitBreakerOpened
	}

	resp, err := callback(ctx)

	if !c.lock(ctx) {
		flushResponse(resp)

		return nil, ctx.Err()
	}
	defer c.unlock()

	if c.state.Load() != circuitBreakerStateHalfOpened {
		return resp, err
	}

	switch {
	case err == nil:
		c.switchState(circuitBreakerStateClosed)
	case errors.Is(err, ErrCircuitBreakerIgnore):
		c.halfOpenAttempts.Store(0)
	default:
		c.switchState(circuitBreakerStateOpened)
	}

	return resp, err
}

func (c *circuitBreaker) lock(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case c.stateMutexChan <- true:
		return true
	}
}

func (c *circuitBreaker) unlock() {
	<-c.stateMutexChan
}

// switchState has to be called under a lock.
func (c *circuitBreaker) switchState(state uint32) {
	switch state {
	case circuitBreakerStateClosed:
		c.stopTimer(&c.halfOpenTimer)
		c.ensureTimer(&c.failuresCleanupTimer, c.resetFailuresTimeout, c.resetFailures)
	case circuitBreakerStateHalfOpened:
		c.stopTimer(&c.failuresCleanupTimer)
		c.stopTimer(&c.halfOpenTimer)
	case circuitBreakerStateOpened:
		c.stopTimer(&c.failuresCleanupTimer)
		c.ensureTimer(&c.halfOpenTimer, c.halfOpenTimeout, c.tryHalfOpen)
	}

	c.failuresCount = 0

	c.halfOpenAttempts.Store(0)
	c.state.Store(state)
}

func (c *circuitBreaker) resetFailures() {
	c.stateMutexChan <- true
	defer c.unlock()

	c.failuresCleanupTimer = nil

	if c.state.Load() == circuitBreakerStateClosed {
		c.switchState(circuitBreakerStateClosed)
	}
}

func (c *circuitBreaker) tryHalfOpen() {
	c.stateMutexChan <- true
	defer c.unlock()

	c.halfOpenTimer = nil

	if c.state.Load() == circuitBreakerStateOpened {
		c.switchState(circuitBreakerStateHalfOpened)
	}
}

func (c *circuitBreaker) stopTimer(timerRef **clock.Timer) {
	if timer := *timerRef; timer != nil {
		timer.Stop()
	}

	*timerRef = nil
}

func (c *circuitBreaker) ensureTimer(timerRef **clock.Timer, timeout time.Duration, callback func()) {
	if *timerRef == nil {
		*timerRef = c.clock.AfterFunc(timeout, callback)
	}
}

func newCircuitBreaker(clk clock.Clock,
	openThreshold uint32,
	halfOpenTimeout, resetFailuresTimeout time.Duration) *circuitBreaker {
	cb := &circuitBreaker{
		stateMutexChan:       make(chan bool, 1),
		clock:                clk,
		openThreshold:        openThreshold,
		halfOpenTimeout:      halfOpenTimeout,
		resetFailuresTimeout: resetFailuresTimeout,
	}

	cb.switchState(circuitBreakerStateClosed)

	return cb
}

package client

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int, timeout time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := NewCircuitBreaker(maxFailures, timeout)
	cb.now = clock.Now
	return cb, clock
}

func TestCircuitBreaker(t *testing.T) {
	cb, clock := newTestBreaker(3, 100*time.Millisecond)

	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.Allow(), "closed circuit allows requests")

	cb.Failure()
	cb.Failure()
	assert.Equal(t, StateClosed, cb.State())

	cb.Failure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow(), "open circuit rejects requests")

	clock.Advance(150 * time.Millisecond)
	assert.True(t, cb.Allow(), "probe allowed after timeout")
	assert.Equal(t, StateHalfOpen, cb.State())

	// Probe fails: open again.
	cb.Failure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())

	clock.Advance(150 * time.Millisecond)
	assert.True(t, cb.Allow())

	// Probe succeeds: closed.
	cb.Success()
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.failures)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Second)
	cb.Failure()
	cb.Success()
	cb.Failure()
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_SingleProbe(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Second)
	cb.Failure()
	clock.Advance(2 * time.Second)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cb.Allow() {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), allowed.Load())

	cb.Success()
	assert.True(t, cb.Allow())
	assert.True(t, cb.Allow())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}

package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(rate float64, burst int) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l := New(Config{Rate: rate, Burst: burst, CleanupInterval: time.Hour, BucketExpiry: time.Minute})
	l.now = clock.Now
	return l, clock
}

func TestAllowBurstThenRefill(t *testing.T) {
	l, clock := newTestLimiter(1, 3)
	defer l.Close()

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("u1"), "attempt %d", i)
	}
	assert.False(t, l.Allow("u1"))

	// 其他 key 不受影响
	assert.True(t, l.Allow("u2"))

	clock.Advance(time.Second)
	assert.True(t, l.Allow("u1"))
	assert.False(t, l.Allow("u1"))
}

func TestResetAt(t *testing.T) {
	l, clock := newTestLimiter(0.5, 1)
	defer l.Close()

	assert.True(t, l.Allow("u1"))
	assert.False(t, l.Allow("u1"))
	assert.Equal(t, clock.Now().Add(2*time.Second), l.ResetAt("u1"))
}

func TestCleanupRemovesIdleBuckets(t *testing.T) {
	l, clock := newTestLimiter(1, 1)
	defer l.Close()

	l.Allow("idle")
	clock.Advance(30 * time.Second)
	l.Allow("active")
	clock.Advance(45 * time.Second)

	l.cleanup()
	assert.Equal(t, 1, l.Len())
}

func TestCloseStopsCleanup(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	l := New(Config{})
	l.Close()
	l.Close()
}

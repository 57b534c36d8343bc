package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestAllowWithinWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := NewLimiterAt(clock.now)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("create:1.2.3.4", time.Minute, 3))
	}
	assert.False(t, l.Allow("create:1.2.3.4", time.Minute, 3))
}

func TestWindowSlides(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := NewLimiterAt(clock.now)

	assert.True(t, l.Allow("k", 10*time.Second, 2))
	clock.advance(6 * time.Second)
	assert.True(t, l.Allow("k", 10*time.Second, 2))
	assert.False(t, l.Allow("k", 10*time.Second, 2))

	// First attempt ages out, freeing one slot.
	clock.advance(5 * time.Second)
	assert.True(t, l.Allow("k", 10*time.Second, 2))
	assert.False(t, l.Allow("k", 10*time.Second, 2))
}

func TestKeysAreIndependent(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := NewLimiterAt(clock.now)

	assert.True(t, l.Allow("chat:a", time.Second, 1))
	assert.False(t, l.Allow("chat:a", time.Second, 1))
	assert.True(t, l.Allow("chat:b", time.Second, 1))
}

func TestForget(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := NewLimiterAt(clock.now)

	assert.True(t, l.Allow("chat:a", time.Minute, 1))
	assert.False(t, l.Allow("chat:a", time.Minute, 1))
	l.Forget("chat:a")
	assert.True(t, l.Allow("chat:a", time.Minute, 1))
}

func TestRejectedAttemptDoesNotConsume(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := NewLimiterAt(clock.now)

	assert.True(t, l.Allow("k", 10*time.Second, 1))
	for i := 0; i < 5; i++ {
		assert.False(t, l.Allow("k", 10*time.Second, 1))
	}
	// Rejections above must not extend the window.
	clock.advance(11 * time.Second)
	assert.True(t, l.Allow("k", 10*time.Second, 1))
}

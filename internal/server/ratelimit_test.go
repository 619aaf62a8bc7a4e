package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterSlidingWindow(t *testing.T) {
	now := time.Now()
	l := newAttemptLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	// Another participant has its own budget.
	assert.True(t, l.Allow("b"))

	// Attempts age out of the window.
	now = now.Add(2 * time.Minute)
	assert.True(t, l.Allow("a"))
}

func TestLimiterDisabled(t *testing.T) {
	l := newAttemptLimiter(0, time.Minute)
	for range 10 {
		assert.True(t, l.Allow("a"))
	}
}

func TestLimiterForget(t *testing.T) {
	now := time.Now()
	l := newAttemptLimiter(1, time.Minute)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	l.Forget("a")
	assert.True(t, l.Allow("a"))
}

package server

import (
	"time"

	"github.com/avolkov/huddle/internal/domain"
)

// attemptLimiter caps join attempts per participant over a sliding
// window, so a denied guest cannot knock in a tight loop. Owned by the
// hub goroutine like the rest of the server state, so no locking.
type attemptLimiter struct {
	history map[domain.ParticipantID][]time.Time
	limit   int
	window  time.Duration
	now     func() time.Time
}

// newAttemptLimiter builds a limiter allowing limit attempts per window.
// A non-positive limit disables limiting.
func newAttemptLimiter(limit int, window time.Duration) *attemptLimiter {
	return &attemptLimiter{
		history: make(map[domain.ParticipantID][]time.Time),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow records an attempt by id and reports whether it stays under the
// limit.
func (l *attemptLimiter) Allow(id domain.ParticipantID) bool {
	if l.limit <= 0 {
		return true
	}

	now := l.now()
	windowStart := now.Add(-l.window)

	attempts := l.history[id]
	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= l.limit {
		l.history[id] = fresh
		return false
	}

	l.history[id] = append(fresh, now)
	return true
}

// Forget drops the history for a disconnected participant.
func (l *attemptLimiter) Forget(id domain.ParticipantID) {
	delete(l.history, id)
}

// Package ratelimit decides whether a scheduled fetch should be skipped.
// The decision is a pure function over timestamps; it carries no state and
// is safe to call repeatedly and concurrently.
package ratelimit

import (
	"fmt"
	"time"
)

// ShouldSkip reports whether a fetch should be skipped because the minimum
// interval since the last fetch has not elapsed. The grace-period bypass only
// weakens rate limiting; validity and health-check logic are unaffected by it.
func ShouldSkip(lastFetch, now time.Time, minInterval time.Duration, inGracePeriod bool) (bool, string) {
	if inGracePeriod {
		return false, "grace period bypass"
	}
	if lastFetch.IsZero() {
		return false, "no previous fetch"
	}

	elapsed := now.Sub(lastFetch)
	if elapsed < minInterval {
		return true, fmt.Sprintf("rate limited: %s since last fetch, minimum %s", elapsed.Round(time.Second), minInterval)
	}
	return false, "minimum interval elapsed"
}

// Grace marks the window after (re)start during which rate limiting is
// bypassed so a fresh process can fetch immediately. Stamped once at
// orchestrator construction.
type Grace struct {
	start  time.Time
	window time.Duration
}

// NewGrace stamps a grace window beginning now.
func NewGrace(now time.Time, window time.Duration) Grace {
	return Grace{start: now, window: window}
}

// Active reports whether now still falls inside the grace window.
func (g Grace) Active(now time.Time) bool {
	if g.start.IsZero() || g.window <= 0 {
		return false
	}
	return now.Sub(g.start) < g.window
}

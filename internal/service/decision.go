package service

import (
	"fmt"
	"time"

	"spotwatcher/internal/pricing"
	"spotwatcher/internal/ratelimit"
)

// Decision is the outcome of the per-tick fetch evaluation.
type Decision struct {
	Fetch  bool
	Urgent bool
	Reason string
}

// decide evaluates the fetch conditions in fixed priority order: missing
// current interval (urgent, bypasses rate limit), low runway, publication
// window with tomorrow incomplete, otherwise keep serving the cache.
func (a *Area) decide(now time.Time, cached *pricing.ProcessedResult) Decision {
	if cached == nil {
		return Decision{Fetch: true, Urgent: true, Reason: "no cached data"}
	}

	loc := a.deps.Processor.Location()
	interval := a.deps.Processor.Interval()
	validity := pricing.ComputeValidity(cached.Today, cached.Tomorrow, now, loc, interval)

	if !validity.HasCurrentInterval {
		return Decision{Fetch: true, Urgent: true, Reason: "current interval missing from cache"}
	}

	skip, rateReason := ratelimit.ShouldSkip(a.lastFetch, now, a.opts.MinFetchInterval, a.opts.Grace.Active(now))

	if validity.HoursRemaining() < a.opts.SafetyBufferHours {
		if skip {
			return Decision{Reason: fmt.Sprintf("runway low but %s", rateReason)}
		}
		return Decision{Fetch: true, Reason: fmt.Sprintf("runway below safety buffer (%.1fh)", validity.HoursRemaining())}
	}

	if a.inPublicationWindow(now) && !a.tomorrowComplete(cached, now) {
		if skip {
			return Decision{Reason: fmt.Sprintf("publication window but %s", rateReason)}
		}
		return Decision{Fetch: true, Reason: "publication window open, tomorrow incomplete"}
	}

	return Decision{Reason: "cached data sufficient"}
}

func (a *Area) inPublicationWindow(now time.Time) bool {
	local := now.In(a.deps.Processor.Location())
	for _, window := range a.opts.PublicationWindows {
		if window.Contains(local) {
			return true
		}
	}
	return false
}

func (a *Area) tomorrowComplete(cached *pricing.ProcessedResult, now time.Time) bool {
	loc := a.deps.Processor.Location()
	interval := a.deps.Processor.Interval()
	expected := pricing.ExpectedIntervals(now.In(loc).AddDate(0, 0, 1), loc, interval)
	return pricing.ComputeStatistics(cached.Tomorrow, expected).Complete
}

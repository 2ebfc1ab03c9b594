package pricing

import "time"

// Validity answers how far into the future the held price data extends.
// It is recomputed from the maps on every use and never mutated in place.
type Validity struct {
	LastValidInterval  time.Time
	TodayCount         int
	TomorrowCount      int
	HasCurrentInterval bool
	Reference          time.Time
	Interval           time.Duration
}

// ComputeValidity derives a Validity snapshot from today/tomorrow maps.
// The reference time is evaluated in loc, the timezone the interval keys
// themselves represent; evaluating in any other zone shifts every
// hours-remaining answer.
func ComputeValidity(today, tomorrow PriceMap, reference time.Time, loc *time.Location, interval time.Duration) Validity {
	ref := reference.In(loc)

	v := Validity{
		TodayCount:    len(today),
		TomorrowCount: len(tomorrow),
		Reference:     ref,
		Interval:      interval,
	}

	if _, ok := today[IntervalKey(ref, interval)]; ok {
		v.HasCurrentInterval = true
	}

	todayStart := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, loc)
	tomorrowStart := time.Date(ref.Year(), ref.Month(), ref.Day()+1, 0, 0, 0, 0, loc)

	if last, ok := lastKeyTime(tomorrow, tomorrowStart, loc); ok {
		v.LastValidInterval = last
	} else if last, ok := lastKeyTime(today, todayStart, loc); ok {
		v.LastValidInterval = last
	}

	return v
}

func lastKeyTime(m PriceMap, day time.Time, loc *time.Location) (time.Time, bool) {
	var last time.Time
	found := false
	for key := range m {
		t, ok := KeyTime(key, day, loc)
		if !ok {
			continue
		}
		if !found || t.After(last) {
			last = t
			found = true
		}
	}
	return last, found
}

// IsValid reports whether the last held interval still lies in the future.
func (v Validity) IsValid() bool {
	if v.LastValidInterval.IsZero() {
		return false
	}
	return v.LastValidInterval.After(v.Reference)
}

// HoursRemaining measures from the reference time to the end of the last
// held interval, floored at zero.
func (v Validity) HoursRemaining() float64 {
	if v.LastValidInterval.IsZero() {
		return 0
	}
	end := v.LastValidInterval.Add(v.Interval)
	remaining := end.Sub(v.Reference).Hours()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ExpectedIntervals counts the intervals a calendar day holds in loc.
// Spring-forward days come up one wall-clock hour short, fall-back days one
// hour long; deriving the count from midnight-to-midnight duration keeps
// both correct.
func ExpectedIntervals(day time.Time, loc *time.Location, interval time.Duration) int {
	if interval <= 0 {
		return 0
	}
	local := day.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	return int(end.Sub(start) / interval)
}

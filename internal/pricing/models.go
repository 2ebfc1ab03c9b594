package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// SelectionKind resolves the current-price strategy declared by a source adapter.
type SelectionKind int

const (
	// KindIntervalLookup selects the price at the reference time's interval key.
	KindIntervalLookup SelectionKind = iota
	// KindRealtimeOverride prefers the adapter-supplied most-recent price.
	KindRealtimeOverride
	// KindRetrospectiveFallback falls back to the most recent past interval.
	KindRetrospectiveFallback
)

// String returns the configuration spelling of the kind.
func (k SelectionKind) String() string {
	switch k {
	case KindRealtimeOverride:
		return "realtime_override"
	case KindRetrospectiveFallback:
		return "retrospective_fallback"
	default:
		return "interval_lookup"
	}
}

// ParseSelectionKind maps a configuration string onto a SelectionKind.
func ParseSelectionKind(v string) SelectionKind {
	switch v {
	case "realtime_override":
		return KindRealtimeOverride
	case "retrospective_fallback":
		return KindRetrospectiveFallback
	default:
		return KindIntervalLookup
	}
}

// PriceMap maps an "HH:MM" interval key in the target timezone to a price.
type PriceMap map[string]decimal.Decimal

// Clone returns an independent copy of the map.
func (m PriceMap) Clone() PriceMap {
	if m == nil {
		return nil
	}
	out := make(PriceMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// RawResult is the untouched output of one source adapter call.
type RawResult struct {
	Source          string
	Timezone        string
	Currency        string
	Unit            string
	IntervalMinutes int
	Prices          map[string]decimal.Decimal
	CurrentOverride *decimal.Decimal
	VATIncluded     bool
	Kind            SelectionKind
}

// Statistics summarise one day's price map.
type Statistics struct {
	Min      decimal.Decimal
	Max      decimal.Decimal
	Average  decimal.Decimal
	Count    int
	Complete bool
}

// ProcessedResult is the unit of work exchanged between the processor,
// the cache, and the orchestrator.
type ProcessedResult struct {
	Today           PriceMap
	Tomorrow        PriceMap
	CurrentPrice    *decimal.Decimal
	NextPrice       *decimal.Decimal
	StatsToday      Statistics
	StatsTomorrow   Statistics
	Source          string
	Attempted       []string
	UsingCachedData bool
	Validity        Validity
	GeneratedAt     time.Time
}

// Clone returns a structurally independent copy; nested maps and slices are
// copied so the original cannot be reached through the result.
func (r *ProcessedResult) Clone() *ProcessedResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Today = r.Today.Clone()
	out.Tomorrow = r.Tomorrow.Clone()
	if r.CurrentPrice != nil {
		v := *r.CurrentPrice
		out.CurrentPrice = &v
	}
	if r.NextPrice != nil {
		v := *r.NextPrice
		out.NextPrice = &v
	}
	if r.Attempted != nil {
		out.Attempted = append([]string(nil), r.Attempted...)
	}
	return &out
}

// IntervalKey floors t to the interval granularity and renders the "HH:MM" key.
func IntervalKey(t time.Time, interval time.Duration) string {
	minutes := int(interval.Minutes())
	if minutes <= 0 {
		minutes = 60
	}
	floored := t.Minute() - t.Minute()%minutes
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), floored, 0, 0, t.Location()).Format("15:04")
}

// KeyTime materialises an "HH:MM" key on the given calendar day in loc.
// time.Date wall-clock normalisation keeps DST transition days correct.
func KeyTime(key string, day time.Time, loc *time.Location) (time.Time, bool) {
	parsed, err := time.Parse("15:04", key)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(day.Year(), day.Month(), day.Day(), parsed.Hour(), parsed.Minute(), 0, 0, loc), true
}

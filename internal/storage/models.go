package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"spotwatcher/internal/pricing"
)

// StatisticsRecord is the persisted form of one day's statistics.
type StatisticsRecord struct {
	Min      decimal.Decimal `json:"min"`
	Max      decimal.Decimal `json:"max"`
	Average  decimal.Decimal `json:"average"`
	Count    int             `json:"count"`
	Complete bool            `json:"complete"`
}

// ValidityRecord is the persisted form of a validity snapshot.
type ValidityRecord struct {
	LastValidInterval  time.Time `json:"last_valid_interval"`
	TodayCount         int       `json:"today_count"`
	TomorrowCount      int       `json:"tomorrow_count"`
	HasCurrentInterval bool      `json:"has_current_interval"`
	Reference          time.Time `json:"reference"`
}

// Snapshot is the serializable cache entry for one area.
type Snapshot struct {
	Area          string
	StoredAt      time.Time
	Source        string
	Today         map[string]decimal.Decimal
	Tomorrow      map[string]decimal.Decimal
	CurrentPrice  *decimal.Decimal
	StatsToday    StatisticsRecord
	StatsTomorrow StatisticsRecord
	Validity      ValidityRecord
}

// IntervalPrice is one persisted interval observation, keyed by absolute
// interval start.
type IntervalPrice struct {
	Area      string
	Start     time.Time
	Price     decimal.Decimal
	Source    string
	CreatedAt time.Time
}

// SnapshotFromResult converts a processed result into its persisted shape.
func SnapshotFromResult(area string, storedAt time.Time, r *pricing.ProcessedResult) Snapshot {
	snap := Snapshot{
		Area:          area,
		StoredAt:      storedAt,
		Source:        r.Source,
		Today:         map[string]decimal.Decimal(r.Today.Clone()),
		Tomorrow:      map[string]decimal.Decimal(r.Tomorrow.Clone()),
		StatsToday:    statsRecord(r.StatsToday),
		StatsTomorrow: statsRecord(r.StatsTomorrow),
		Validity: ValidityRecord{
			LastValidInterval:  r.Validity.LastValidInterval,
			TodayCount:         r.Validity.TodayCount,
			TomorrowCount:      r.Validity.TomorrowCount,
			HasCurrentInterval: r.Validity.HasCurrentInterval,
			Reference:          r.Validity.Reference,
		},
	}
	if r.CurrentPrice != nil {
		v := *r.CurrentPrice
		snap.CurrentPrice = &v
	}
	return snap
}

// ToResult rebuilds a processed result from the persisted shape. Validity is
// left for the caller to recompute against its own reference time.
func (s Snapshot) ToResult() *pricing.ProcessedResult {
	result := &pricing.ProcessedResult{
		Today:         pricing.PriceMap(s.Today).Clone(),
		Tomorrow:      pricing.PriceMap(s.Tomorrow).Clone(),
		StatsToday:    statsFromRecord(s.StatsToday),
		StatsTomorrow: statsFromRecord(s.StatsTomorrow),
		Source:        s.Source,
		GeneratedAt:   s.StoredAt,
	}
	if s.CurrentPrice != nil {
		v := *s.CurrentPrice
		result.CurrentPrice = &v
	}
	return result
}

func statsRecord(s pricing.Statistics) StatisticsRecord {
	return StatisticsRecord{Min: s.Min, Max: s.Max, Average: s.Average, Count: s.Count, Complete: s.Complete}
}

func statsFromRecord(r StatisticsRecord) pricing.Statistics {
	return pricing.Statistics{Min: r.Min, Max: r.Max, Average: r.Average, Count: r.Count, Complete: r.Complete}
}

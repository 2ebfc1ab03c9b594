package pricing

import "github.com/shopspring/decimal"

// completenessRatio is the share of the expected interval count a day must
// reach before its statistics are marked complete.
var completenessRatio = decimal.NewFromFloat(0.8)

// ComputeStatistics derives min/max/mean over one day's price map. The
// expected count accounts for DST-shortened and -lengthened days.
func ComputeStatistics(m PriceMap, expected int) Statistics {
	stats := Statistics{Count: len(m)}
	if len(m) == 0 {
		return stats
	}

	first := true
	sum := decimal.Zero
	for _, price := range m {
		if first {
			stats.Min = price
			stats.Max = price
			first = false
		} else {
			if price.LessThan(stats.Min) {
				stats.Min = price
			}
			if price.GreaterThan(stats.Max) {
				stats.Max = price
			}
		}
		sum = sum.Add(price)
	}
	stats.Average = sum.Div(decimal.NewFromInt(int64(len(m))))

	if expected > 0 {
		threshold := decimal.NewFromInt(int64(expected)).Mul(completenessRatio)
		stats.Complete = decimal.NewFromInt(int64(len(m))).GreaterThanOrEqual(threshold)
	}

	return stats
}

// Package process turns one raw source result into one processed price
// result: timezone normalisation, currency/unit/VAT conversion, tiered
// current-price selection, statistics, and validity.
package process

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spotwatcher/internal/pricing"
	"spotwatcher/internal/rates"
)

// Options describe the normalisation target.
type Options struct {
	Timezone string
	// Currency is the target currency code, e.g. "EUR".
	Currency string
	// InCents expresses prices in the currency subunit (cents per kWh
	// rather than EUR per MWh).
	InCents bool
	// Unit is the target energy quantity, e.g. "kWh".
	Unit     string
	VATRate  decimal.Decimal
	Interval time.Duration
}

// Processor normalises raw source results.
type Processor struct {
	loc    *time.Location
	opts   Options
	rates  rates.Provider
	logger zerolog.Logger
}

// New constructs a Processor. The timezone must resolve; interval defaults
// to one hour.
func New(opts Options, rateProvider rates.Provider, logger zerolog.Logger) (*Processor, error) {
	loc, err := time.LoadLocation(opts.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load target timezone %q: %w", opts.Timezone, err)
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.Unit == "" {
		opts.Unit = "kWh"
	}

	return &Processor{
		loc:    loc,
		opts:   opts,
		rates:  rateProvider,
		logger: logger.With().Str("component", "processor").Logger(),
	}, nil
}

// Location returns the target timezone.
func (p *Processor) Location() *time.Location {
	return p.loc
}

// Interval returns the target granularity.
func (p *Processor) Interval() time.Duration {
	return p.opts.Interval
}

// Process runs the full pipeline. It fails only when normalisation yields
// zero intervals for both today and tomorrow; a tomorrow-only result is a
// perfectly good fetch and must be accepted.
func (p *Processor) Process(ctx context.Context, raw *pricing.RawResult, reference time.Time) (*pricing.ProcessedResult, error) {
	if raw == nil || len(raw.Prices) == 0 {
		return nil, errors.New("raw result holds no prices")
	}

	ref := reference.In(p.loc)

	today, tomorrow, err := p.normalize(raw, ref)
	if err != nil {
		return nil, err
	}
	if len(today) == 0 && len(tomorrow) == 0 {
		return nil, fmt.Errorf("source %s normalised to zero intervals for today and tomorrow", raw.Source)
	}

	factor, err := p.conversionFactor(ctx, raw, ref)
	if err != nil {
		return nil, err
	}
	applyFactor(today, factor)
	applyFactor(tomorrow, factor)

	var override *decimal.Decimal
	if raw.CurrentOverride != nil {
		converted := raw.CurrentOverride.Mul(factor)
		override = &converted
	}

	current, next := p.selectPrices(raw.Kind, override, today, tomorrow, ref)

	result := &pricing.ProcessedResult{
		Today:         today,
		Tomorrow:      tomorrow,
		CurrentPrice:  current,
		NextPrice:     next,
		StatsToday:    pricing.ComputeStatistics(today, pricing.ExpectedIntervals(ref, p.loc, p.opts.Interval)),
		StatsTomorrow: pricing.ComputeStatistics(tomorrow, pricing.ExpectedIntervals(ref.AddDate(0, 0, 1), p.loc, p.opts.Interval)),
		Source:        raw.Source,
		Validity:      pricing.ComputeValidity(today, tomorrow, ref, p.loc, p.opts.Interval),
		GeneratedAt:   ref,
	}

	p.logger.Debug().
		Str("source", raw.Source).
		Int("today", len(today)).
		Int("tomorrow", len(tomorrow)).
		Msg("raw result processed")

	return result, nil
}

// normalize converts raw timestamps into target-zone "HH:MM" keys at the
// target granularity and buckets them into today/tomorrow by calendar date.
// Coarser raw intervals are expanded by duplication; finer ones keep only
// values on aligned boundaries.
func (p *Processor) normalize(raw *pricing.RawResult, ref time.Time) (pricing.PriceMap, pricing.PriceMap, error) {
	srcLoc := p.loc
	if raw.Timezone != "" {
		loaded, err := time.LoadLocation(raw.Timezone)
		if err != nil {
			return nil, nil, fmt.Errorf("load source timezone %q: %w", raw.Timezone, err)
		}
		srcLoc = loaded
	}

	rawInterval := time.Duration(raw.IntervalMinutes) * time.Minute
	if rawInterval <= 0 {
		rawInterval = time.Hour
	}
	targetMinutes := int(p.opts.Interval.Minutes())

	todayDate := ref.Format("2006-01-02")
	tomorrowDate := ref.AddDate(0, 0, 1).Format("2006-01-02")

	today := pricing.PriceMap{}
	tomorrow := pricing.PriceMap{}

	for key, price := range raw.Prices {
		start, ok := parseRawTimestamp(key, srcLoc, ref)
		if !ok {
			p.logger.Warn().Str("source", raw.Source).Str("key", key).Msg("unparseable raw timestamp dropped")
			continue
		}

		for offset := time.Duration(0); offset < rawInterval; offset += p.opts.Interval {
			slot := start.Add(offset).In(p.loc)
			if slot.Minute()%targetMinutes != 0 {
				continue
			}
			switch slot.Format("2006-01-02") {
			case todayDate:
				today[pricing.IntervalKey(slot, p.opts.Interval)] = price
			case tomorrowDate:
				tomorrow[pricing.IntervalKey(slot, p.opts.Interval)] = price
			}
		}
	}

	return today, tomorrow, nil
}

// conversionFactor collapses currency, subunit, unit, and VAT into one
// multiplier. VAT is applied exactly once; adapters flag sources whose raw
// prices already embed it.
func (p *Processor) conversionFactor(ctx context.Context, raw *pricing.RawResult, ref time.Time) (decimal.Decimal, error) {
	factor := decimal.NewFromInt(1)

	if raw.Currency != "" && !strings.EqualFold(raw.Currency, p.opts.Currency) {
		if p.rates == nil {
			return decimal.Decimal{}, fmt.Errorf("no rate provider for %s->%s", raw.Currency, p.opts.Currency)
		}
		rate, err := p.rates.Rate(ctx, raw.Currency, p.opts.Currency, ref)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("exchange rate %s->%s: %w", raw.Currency, p.opts.Currency, err)
		}
		factor = factor.Mul(rate)
	}

	rawKWh, err := unitKWh(raw.Unit)
	if err != nil {
		return decimal.Decimal{}, err
	}
	targetKWh, err := unitKWh(p.opts.Unit)
	if err != nil {
		return decimal.Decimal{}, err
	}
	factor = factor.Mul(targetKWh).Div(rawKWh)

	if p.opts.InCents {
		factor = factor.Mul(decimal.NewFromInt(100))
	}

	if !raw.VATIncluded && p.opts.VATRate.IsPositive() {
		factor = factor.Mul(decimal.NewFromInt(1).Add(p.opts.VATRate))
	}

	return factor, nil
}

// selectPrices implements the three-tier current/next policy resolved by the
// adapter's declared kind.
func (p *Processor) selectPrices(kind pricing.SelectionKind, override *decimal.Decimal, today, tomorrow pricing.PriceMap, ref time.Time) (*decimal.Decimal, *decimal.Decimal) {
	var current *decimal.Decimal

	if kind == pricing.KindRealtimeOverride && override != nil {
		current = override
	} else if price, ok := today[pricing.IntervalKey(ref, p.opts.Interval)]; ok {
		current = &price
	} else if kind == pricing.KindRetrospectiveFallback {
		current = latestPastPrice(today, ref, p.loc)
	}

	var next *decimal.Decimal
	nextStart := ref.Add(p.opts.Interval)
	nextKey := pricing.IntervalKey(nextStart, p.opts.Interval)
	if nextStart.In(p.loc).Format("2006-01-02") == ref.Format("2006-01-02") {
		if price, ok := today[nextKey]; ok {
			next = &price
		}
	} else if price, ok := tomorrow[nextKey]; ok {
		next = &price
	}

	return current, next
}

func latestPastPrice(m pricing.PriceMap, ref time.Time, loc *time.Location) *decimal.Decimal {
	var best time.Time
	var price decimal.Decimal
	found := false
	for key, v := range m {
		t, ok := pricing.KeyTime(key, ref, loc)
		if !ok || t.After(ref) {
			continue
		}
		if !found || t.After(best) {
			best = t
			price = v
			found = true
		}
	}
	if !found {
		return nil
	}
	return &price
}

func parseRawTimestamp(key string, srcLoc *time.Location, ref time.Time) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, key); err == nil {
		return t, true
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, key, srcLoc); err == nil {
			return t, true
		}
	}
	// Bare "HH:MM" keys carry no date; they mean the reference day in the
	// source timezone.
	if t, err := time.ParseInLocation("15:04", key, srcLoc); err == nil {
		local := ref.In(srcLoc)
		return time.Date(local.Year(), local.Month(), local.Day(), t.Hour(), t.Minute(), 0, 0, srcLoc), true
	}
	return time.Time{}, false
}

func unitKWh(unit string) (decimal.Decimal, error) {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "", "kwh":
		return decimal.NewFromInt(1), nil
	case "mwh":
		return decimal.NewFromInt(1000), nil
	case "gwh":
		return decimal.NewFromInt(1_000_000), nil
	case "wh":
		return decimal.NewFromFloat(0.001), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("unknown energy unit %q", unit)
	}
}

// applyFactor multiplies every price in the map by the conversion factor.
func applyFactor(m pricing.PriceMap, factor decimal.Decimal) {
	for k, v := range m {
		m[k] = v.Mul(factor)
	}
}

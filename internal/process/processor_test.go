package process

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spotwatcher/internal/pricing"
)

type staticRates struct {
	rate decimal.Decimal
	err  error
}

func (s *staticRates) Rate(ctx context.Context, base, target string, reference time.Time) (decimal.Decimal, error) {
	if s.err != nil {
		return decimal.Decimal{}, s.err
	}
	return s.rate, nil
}

func newProcessor(t *testing.T, opts Options) *Processor {
	t.Helper()
	p, err := New(opts, &staticRates{rate: decimal.NewFromInt(1)}, zerolog.Nop())
	if err != nil {
		t.Fatalf("构造 Processor 失败: %v", err)
	}
	return p
}

func TestProcessExpandsHourlyToQuarterHour(t *testing.T) {
	p := newProcessor(t, Options{Timezone: "Europe/Berlin", Currency: "EUR", Unit: "kWh", Interval: 15 * time.Minute})
	loc := p.Location()
	ref := time.Date(2025, 6, 10, 14, 5, 0, 0, loc)

	raw := &pricing.RawResult{
		Source:          "hourly",
		Timezone:        "Europe/Berlin",
		Currency:        "EUR",
		Unit:            "kWh",
		IntervalMinutes: 60,
		Prices: map[string]decimal.Decimal{
			"2025-06-10T14:00:00+02:00": decimal.NewFromFloat(50.0),
			"2025-06-10T15:00:00+02:00": decimal.NewFromFloat(55.0),
		},
	}

	result, err := p.Process(context.Background(), raw, ref)
	if err != nil {
		t.Fatalf("处理不应失败: %v", err)
	}

	want := map[string]float64{
		"14:00": 50.0, "14:15": 50.0, "14:30": 50.0, "14:45": 50.0,
		"15:00": 55.0, "15:15": 55.0, "15:30": 55.0, "15:45": 55.0,
	}
	if len(result.Today) != len(want) {
		t.Fatalf("期望 %d 个区间, 实际 %d: %v", len(want), len(result.Today), result.Today)
	}
	for key, price := range want {
		got, ok := result.Today[key]
		if !ok || !got.Equal(decimal.NewFromFloat(price)) {
			t.Fatalf("区间 %s 期望 %v, 实际 %v", key, price, got)
		}
	}
}

func TestProcessAcceptsTomorrowOnlyResult(t *testing.T) {
	p := newProcessor(t, Options{Timezone: "Europe/Berlin", Currency: "EUR", Unit: "kWh", Interval: 15 * time.Minute})
	loc := p.Location()
	ref := time.Date(2025, 6, 10, 23, 0, 0, 0, loc)

	prices := map[string]decimal.Decimal{}
	day := time.Date(2025, 6, 11, 0, 0, 0, 0, loc)
	for i := 0; i < 96; i++ {
		prices[day.Add(time.Duration(i)*15*time.Minute).Format(time.RFC3339)] = decimal.NewFromFloat(42.0)
	}

	raw := &pricing.RawResult{
		Source:          "dayahead",
		Timezone:        "Europe/Berlin",
		Currency:        "EUR",
		Unit:            "kWh",
		IntervalMinutes: 15,
		Prices:          prices,
	}

	result, err := p.Process(context.Background(), raw, ref)
	if err != nil {
		t.Fatalf("仅含明日 96 区间的结果必须被接受: %v", err)
	}
	if len(result.Today) != 0 || len(result.Tomorrow) != 96 {
		t.Fatalf("分桶错误: today=%d tomorrow=%d", len(result.Today), len(result.Tomorrow))
	}
	if !result.StatsTomorrow.Complete {
		t.Fatal("96/96 应标记完整")
	}
}

func TestProcessRejectsEmptyNormalisation(t *testing.T) {
	p := newProcessor(t, Options{Timezone: "Europe/Berlin", Currency: "EUR", Unit: "kWh", Interval: 15 * time.Minute})
	ref := time.Date(2025, 6, 10, 12, 0, 0, 0, p.Location())

	raw := &pricing.RawResult{
		Source:          "stale",
		Currency:        "EUR",
		Unit:            "kWh",
		IntervalMinutes: 60,
		Prices: map[string]decimal.Decimal{
			// 前天的数据, 既不属于今天也不属于明天。
			"2025-06-08T10:00:00+02:00": decimal.NewFromFloat(10.0),
		},
	}

	if _, err := p.Process(context.Background(), raw, ref); err == nil {
		t.Fatal("今明两天都为空时必须整体失败")
	}
}

func TestProcessTimezoneShift(t *testing.T) {
	p := newProcessor(t, Options{Timezone: "Europe/Berlin", Currency: "EUR", Unit: "kWh", Interval: time.Hour})
	ref := time.Date(2025, 6, 10, 12, 0, 0, 0, p.Location())

	raw := &pricing.RawResult{
		Source:          "helsinki",
		Timezone:        "Europe/Helsinki",
		Currency:        "EUR",
		Unit:            "kWh",
		IntervalMinutes: 60,
		Prices: map[string]decimal.Decimal{
			// 赫尔辛基 15:00 = 柏林 14:00。
			"2025-06-10T15:00:00": decimal.NewFromFloat(50.0),
		},
	}

	result, err := p.Process(context.Background(), raw, ref)
	if err != nil {
		t.Fatalf("处理不应失败: %v", err)
	}
	if _, ok := result.Today["14:00"]; !ok {
		t.Fatalf("时区折算错误: %v", result.Today)
	}
}

func TestProcessCurrencyUnitVATConversion(t *testing.T) {
	p, err := New(Options{
		Timezone: "Europe/Berlin",
		Currency: "SEK",
		InCents:  true,
		Unit:     "kWh",
		VATRate:  decimal.NewFromFloat(0.25),
		Interval: time.Hour,
	}, &staticRates{rate: decimal.NewFromInt(10)}, zerolog.Nop())
	if err != nil {
		t.Fatalf("构造 Processor 失败: %v", err)
	}
	ref := time.Date(2025, 6, 10, 14, 0, 0, 0, p.Location())

	raw := &pricing.RawResult{
		Source:          "eurmwh",
		Timezone:        "Europe/Berlin",
		Currency:        "EUR",
		Unit:            "MWh",
		IntervalMinutes: 60,
		Prices: map[string]decimal.Decimal{
			"2025-06-10T14:00:00+02:00": decimal.NewFromFloat(50.0),
		},
	}

	result, err := p.Process(context.Background(), raw, ref)
	if err != nil {
		t.Fatalf("处理不应失败: %v", err)
	}

	// 50 EUR/MWh * 10 SEK/EUR / 1000 * 100 öre * 1.25 VAT = 62.5 öre/kWh
	want := decimal.NewFromFloat(62.5)
	if got := result.Today["14:00"]; !got.Equal(want) {
		t.Fatalf("换算结果应为 %s, 实际 %s", want, got)
	}
}

func TestProcessVATNotAppliedTwice(t *testing.T) {
	p, err := New(Options{
		Timezone: "Europe/Berlin",
		Currency: "EUR",
		Unit:     "kWh",
		VATRate:  decimal.NewFromFloat(0.19),
		Interval: time.Hour,
	}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("构造 Processor 失败: %v", err)
	}
	ref := time.Date(2025, 6, 10, 14, 0, 0, 0, p.Location())

	raw := &pricing.RawResult{
		Source:          "gross",
		Timezone:        "Europe/Berlin",
		Currency:        "EUR",
		Unit:            "kWh",
		IntervalMinutes: 60,
		VATIncluded:     true,
		Prices: map[string]decimal.Decimal{
			"2025-06-10T14:00:00+02:00": decimal.NewFromFloat(10.0),
		},
	}

	result, err := p.Process(context.Background(), raw, ref)
	if err != nil {
		t.Fatalf("处理不应失败: %v", err)
	}
	if got := result.Today["14:00"]; !got.Equal(decimal.NewFromFloat(10.0)) {
		t.Fatalf("含税价源不应再乘 VAT, 实际 %s", got)
	}
}

func TestSelectPricesThreeTiers(t *testing.T) {
	p := newProcessor(t, Options{Timezone: "Europe/Berlin", Currency: "EUR", Unit: "kWh", Interval: time.Hour})
	loc := p.Location()
	ref := time.Date(2025, 6, 10, 14, 30, 0, 0, loc)

	basePrices := func(hours ...int) map[string]decimal.Decimal {
		m := map[string]decimal.Decimal{}
		for _, h := range hours {
			m[fmt.Sprintf("2025-06-10T%02d:00:00+02:00", h)] = decimal.NewFromInt(int64(h))
		}
		return m
	}

	t.Run("realtime override", func(t *testing.T) {
		override := decimal.NewFromFloat(99.9)
		raw := &pricing.RawResult{
			Source: "rt", Timezone: "Europe/Berlin", Currency: "EUR", Unit: "kWh",
			IntervalMinutes: 60, Kind: pricing.KindRealtimeOverride,
			CurrentOverride: &override,
			Prices:          basePrices(12, 13),
		}
		result, err := p.Process(context.Background(), raw, ref)
		if err != nil {
			t.Fatalf("处理不应失败: %v", err)
		}
		if result.CurrentPrice == nil || !result.CurrentPrice.Equal(override) {
			t.Fatal("应优先使用实时覆盖价")
		}
	})

	t.Run("interval lookup", func(t *testing.T) {
		raw := &pricing.RawResult{
			Source: "normal", Timezone: "Europe/Berlin", Currency: "EUR", Unit: "kWh",
			IntervalMinutes: 60, Kind: pricing.KindIntervalLookup,
			Prices: basePrices(13, 14, 15),
		}
		result, err := p.Process(context.Background(), raw, ref)
		if err != nil {
			t.Fatalf("处理不应失败: %v", err)
		}
		if result.CurrentPrice == nil || !result.CurrentPrice.Equal(decimal.NewFromInt(14)) {
			t.Fatal("应取参考时间所在区间的价格")
		}
		if result.NextPrice == nil || !result.NextPrice.Equal(decimal.NewFromInt(15)) {
			t.Fatal("下一区间价格应为 15 点的价格")
		}
	})

	t.Run("retrospective fallback", func(t *testing.T) {
		raw := &pricing.RawResult{
			Source: "retro", Timezone: "Europe/Berlin", Currency: "EUR", Unit: "kWh",
			IntervalMinutes: 60, Kind: pricing.KindRetrospectiveFallback,
			// 14 点还没发布, 只有 12、13 点。
			Prices: basePrices(12, 13),
		}
		result, err := p.Process(context.Background(), raw, ref)
		if err != nil {
			t.Fatalf("处理不应失败: %v", err)
		}
		if result.CurrentPrice == nil || !result.CurrentPrice.Equal(decimal.NewFromInt(13)) {
			t.Fatal("回溯型源应取最近的过去区间价格")
		}
	})

	t.Run("interval lookup without current stays empty", func(t *testing.T) {
		raw := &pricing.RawResult{
			Source: "sparse", Timezone: "Europe/Berlin", Currency: "EUR", Unit: "kWh",
			IntervalMinutes: 60, Kind: pricing.KindIntervalLookup,
			Prices: basePrices(12, 13),
		}
		result, err := p.Process(context.Background(), raw, ref)
		if err != nil {
			t.Fatalf("处理不应失败: %v", err)
		}
		if result.CurrentPrice != nil {
			t.Fatal("非回溯型源缺当前区间时不应猜价格")
		}
	})
}

func TestProcessNextPriceCrossesMidnight(t *testing.T) {
	p := newProcessor(t, Options{Timezone: "Europe/Berlin", Currency: "EUR", Unit: "kWh", Interval: time.Hour})
	loc := p.Location()
	ref := time.Date(2025, 6, 10, 23, 10, 0, 0, loc)

	raw := &pricing.RawResult{
		Source: "span", Timezone: "Europe/Berlin", Currency: "EUR", Unit: "kWh",
		IntervalMinutes: 60,
		Prices: map[string]decimal.Decimal{
			"2025-06-10T23:00:00+02:00": decimal.NewFromFloat(30.0),
			"2025-06-11T00:00:00+02:00": decimal.NewFromFloat(28.0),
		},
	}

	result, err := p.Process(context.Background(), raw, ref)
	if err != nil {
		t.Fatalf("处理不应失败: %v", err)
	}
	if result.NextPrice == nil || !result.NextPrice.Equal(decimal.NewFromFloat(28.0)) {
		t.Fatal("跨午夜时下一区间应到明日 map 中查找")
	}
}

func TestProcessRateLookupFailureFailsProcessing(t *testing.T) {
	p, err := New(Options{Timezone: "Europe/Berlin", Currency: "SEK", Unit: "kWh", Interval: time.Hour},
		&staticRates{err: errors.New("rates down")}, zerolog.Nop())
	if err != nil {
		t.Fatalf("构造 Processor 失败: %v", err)
	}
	ref := time.Date(2025, 6, 10, 14, 0, 0, 0, p.Location())

	raw := &pricing.RawResult{
		Source: "fx", Timezone: "Europe/Berlin", Currency: "EUR", Unit: "kWh",
		IntervalMinutes: 60,
		Prices:          map[string]decimal.Decimal{"2025-06-10T14:00:00+02:00": decimal.NewFromFloat(1.0)},
	}

	if _, err := p.Process(context.Background(), raw, ref); err == nil {
		t.Fatal("汇率彻底不可得时处理应失败")
	}
}

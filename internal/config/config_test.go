package config

import (
	"testing"
	"time"
)

func TestHourWindowContains(t *testing.T) {
	w := HourWindow{StartHour: 13, EndHour: 16}
	at := func(h int) time.Time { return time.Date(2025, 6, 10, h, 30, 0, 0, time.UTC) }

	if !w.Contains(at(13)) || !w.Contains(at(15)) {
		t.Fatal("窗口内的小时应命中")
	}
	if w.Contains(at(12)) || w.Contains(at(16)) {
		t.Fatal("窗口外的小时不应命中")
	}
}

func TestHourWindowWrapsMidnight(t *testing.T) {
	w := HourWindow{StartHour: 22, EndHour: 2}
	at := func(h int) time.Time { return time.Date(2025, 6, 10, h, 0, 0, 0, time.UTC) }

	if !w.Contains(at(23)) || !w.Contains(at(1)) {
		t.Fatal("跨午夜窗口应命中 23 点与 1 点")
	}
	if w.Contains(at(12)) {
		t.Fatal("正午不应命中跨午夜窗口")
	}
}

func TestHourWindowEmpty(t *testing.T) {
	w := HourWindow{StartHour: 5, EndHour: 5}
	if w.Contains(time.Date(2025, 6, 10, 5, 0, 0, 0, time.UTC)) {
		t.Fatal("空窗口永不命中")
	}
}

func TestValidateRejectsUnknownSource(t *testing.T) {
	cfg := defaultsForTest()
	cfg.Areas = []AreaConfig{{Name: "FI", Timezone: "Europe/Helsinki", Sources: []string{"ghost"}}}

	if err := cfg.Validate(); err == nil {
		t.Fatal("引用未声明的源应校验失败")
	}
}

func TestValidateIntervalMustDivideHour(t *testing.T) {
	cfg := defaultsForTest()
	cfg.Market.IntervalMinutes = 25

	if err := cfg.Validate(); err == nil {
		t.Fatal("25 分钟粒度无法整除一小时, 应校验失败")
	}
}

func defaultsForTest() *Config {
	return &Config{
		Scheduler: SchedulerConfig{Interval: time.Minute},
		Market:    MarketConfig{Currency: "EUR", Unit: "kWh", IntervalMinutes: 15},
		Fetch:     FetchConfig{MinInterval: 15 * time.Minute, SafetyBufferHours: 2},
		Fallback:  FallbackConfig{MaxAttempts: 3},
		Export:    ExportConfig{MaxDataPoints: 1000},
	}
}

package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("加载时区失败: %v", err)
	}
	return loc
}

func quarterDay(t *testing.T, loc *time.Location, day time.Time, upto string) PriceMap {
	t.Helper()
	m := PriceMap{}
	end, ok := KeyTime(upto, day, loc)
	if !ok {
		t.Fatalf("非法的截止 key: %s", upto)
	}
	for cur := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc); !cur.After(end); cur = cur.Add(15 * time.Minute) {
		m[cur.Format("15:04")] = decimal.NewFromFloat(10.0)
	}
	return m
}

func TestValidityHasCurrentInterval(t *testing.T) {
	loc := mustLoad(t, "Europe/Berlin")
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, loc)
	today := quarterDay(t, loc, day, "23:45")

	ref := time.Date(2025, 6, 10, 14, 7, 0, 0, loc)
	v := ComputeValidity(today, nil, ref, loc, 15*time.Minute)

	if !v.HasCurrentInterval {
		t.Fatal("14:07 对应的 14:00 区间存在, has_current_interval 应为 true")
	}

	delete(today, "14:00")
	v = ComputeValidity(today, nil, ref, loc, 15*time.Minute)
	if v.HasCurrentInterval {
		t.Fatal("删除 14:00 后 has_current_interval 应为 false")
	}
}

func TestValidityHoursRemaining(t *testing.T) {
	loc := mustLoad(t, "Europe/Berlin")
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, loc)
	today := quarterDay(t, loc, day, "23:45")

	ref := time.Date(2025, 6, 10, 22, 0, 0, 0, loc)
	v := ComputeValidity(today, nil, ref, loc, 15*time.Minute)

	// 最后一个区间 23:45 的结束时刻是次日 00:00, 距 22:00 还有 2 小时。
	if got := v.HoursRemaining(); got != 2.0 {
		t.Fatalf("期望剩余 2 小时, 实际 %v", got)
	}
	if !v.IsValid() {
		t.Fatal("最后区间在参考时间之后, 应视为有效")
	}
}

func TestValidityMonotonicallyDecreasing(t *testing.T) {
	loc := mustLoad(t, "Europe/Berlin")
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, loc)
	today := quarterDay(t, loc, day, "23:45")

	prev := -1.0
	for hour := 0; hour < 30; hour++ {
		ref := time.Date(2025, 6, 10, hour, 1, 0, 0, loc)
		v := ComputeValidity(today, nil, ref, loc, 15*time.Minute)
		got := v.HoursRemaining()
		if prev >= 0 && got > prev {
			t.Fatalf("hours_remaining 应单调不增: %v -> %v (hour=%d)", prev, got, hour)
		}
		prev = got
	}
	if prev != 0 {
		t.Fatalf("最后区间结束后应归零, 实际 %v", prev)
	}
}

func TestValidityTomorrowExtendsRunway(t *testing.T) {
	loc := mustLoad(t, "Europe/Berlin")
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, loc)
	next := time.Date(2025, 6, 11, 0, 0, 0, 0, loc)
	today := quarterDay(t, loc, day, "23:45")
	tomorrow := quarterDay(t, loc, next, "23:45")

	ref := time.Date(2025, 6, 10, 22, 0, 0, 0, loc)
	v := ComputeValidity(today, tomorrow, ref, loc, 15*time.Minute)

	if got := v.HoursRemaining(); got != 26.0 {
		t.Fatalf("含明日数据时应剩余 26 小时, 实际 %v", got)
	}
	if v.TomorrowCount != 96 {
		t.Fatalf("明日区间数应为 96, 实际 %d", v.TomorrowCount)
	}
}

func TestValidityEmptyMaps(t *testing.T) {
	loc := mustLoad(t, "Europe/Berlin")
	ref := time.Date(2025, 6, 10, 12, 0, 0, 0, loc)
	v := ComputeValidity(nil, nil, ref, loc, 15*time.Minute)

	if v.IsValid() {
		t.Fatal("空数据不应有效")
	}
	if v.HoursRemaining() != 0 {
		t.Fatal("空数据剩余小时数应为 0")
	}
}

func TestExpectedIntervalsDST(t *testing.T) {
	loc := mustLoad(t, "Europe/Berlin")
	interval := 15 * time.Minute

	normal := time.Date(2025, 6, 10, 0, 0, 0, 0, loc)
	if got := ExpectedIntervals(normal, loc, interval); got != 96 {
		t.Fatalf("普通日期望 96 个区间, 实际 %d", got)
	}

	springForward := time.Date(2025, 3, 30, 12, 0, 0, 0, loc)
	if got := ExpectedIntervals(springForward, loc, interval); got != 92 {
		t.Fatalf("春季拨快日期望 96-4=92 个区间, 实际 %d", got)
	}

	fallBack := time.Date(2025, 10, 26, 12, 0, 0, 0, loc)
	if got := ExpectedIntervals(fallBack, loc, interval); got != 100 {
		t.Fatalf("秋季拨慢日期望 96+4=100 个区间, 实际 %d", got)
	}
}

func TestIntervalKeyFloors(t *testing.T) {
	loc := mustLoad(t, "Europe/Berlin")
	ref := time.Date(2025, 6, 10, 14, 37, 12, 0, loc)

	if key := IntervalKey(ref, 15*time.Minute); key != "14:30" {
		t.Fatalf("14:37 应落入 14:30 区间, 实际 %s", key)
	}
	if key := IntervalKey(ref, time.Hour); key != "14:00" {
		t.Fatalf("小时粒度下应为 14:00, 实际 %s", key)
	}
}

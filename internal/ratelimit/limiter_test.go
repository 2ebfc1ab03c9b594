package ratelimit

import (
	"testing"
	"time"
)

func TestShouldSkipWithinInterval(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	last := now.Add(-5 * time.Minute)

	skip, reason := ShouldSkip(last, now, 15*time.Minute, false)
	if !skip {
		t.Fatalf("间隔未满应跳过, reason=%s", reason)
	}
}

func TestShouldSkipIntervalElapsed(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	last := now.Add(-20 * time.Minute)

	if skip, _ := ShouldSkip(last, now, 15*time.Minute, false); skip {
		t.Fatal("间隔已满不应跳过")
	}
}

func TestShouldSkipGraceBypass(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	last := now.Add(-time.Minute)

	skip, reason := ShouldSkip(last, now, 15*time.Minute, true)
	if skip {
		t.Fatal("宽限期内不应跳过")
	}
	if reason != "grace period bypass" {
		t.Fatalf("原因应为 grace period bypass, 实际 %q", reason)
	}
}

func TestShouldSkipNoPreviousFetch(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	if skip, _ := ShouldSkip(time.Time{}, now, 15*time.Minute, false); skip {
		t.Fatal("从未抓取过时不应跳过")
	}
}

func TestShouldSkipIdempotent(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	last := now.Add(-5 * time.Minute)

	firstSkip, firstReason := ShouldSkip(last, now, 15*time.Minute, false)
	for i := 0; i < 10; i++ {
		skip, reason := ShouldSkip(last, now, 15*time.Minute, false)
		if skip != firstSkip || reason != firstReason {
			t.Fatal("同样输入应得到同样结论")
		}
	}
}

func TestGraceWindow(t *testing.T) {
	start := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	g := NewGrace(start, 5*time.Minute)

	if !g.Active(start.Add(time.Minute)) {
		t.Fatal("启动 1 分钟内应处于宽限期")
	}
	if g.Active(start.Add(5 * time.Minute)) {
		t.Fatal("窗口结束后不应处于宽限期")
	}
	if (Grace{}).Active(start) {
		t.Fatal("零值 Grace 不应生效")
	}
}

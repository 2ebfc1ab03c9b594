package rates

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func TestHTTPRateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("base") != "EUR" {
			t.Fatalf("base 参数应为 EUR, 实际 %s", r.URL.Query().Get("base"))
		}
		_, _ = w.Write([]byte(`{"base":"EUR","rates":{"SEK":11.32,"NOK":11.71}}`))
	}))
	defer srv.Close()

	h := NewHTTP(HTTPOptions{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	rate, err := h.Rate(context.Background(), "EUR", "SEK", time.Now())
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if !rate.Equal(decimal.NewFromFloat(11.32)) {
		t.Fatalf("汇率解析错误: %s", rate)
	}
}

func TestHTTPRateSameCurrency(t *testing.T) {
	h := NewHTTP(HTTPOptions{BaseURL: "http://unused"}, zerolog.Nop())
	rate, err := h.Rate(context.Background(), "EUR", "eur", time.Now())
	if err != nil || !rate.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("同币种应返回 1: %s %v", rate, err)
	}
}

func TestHTTPRateMissingTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"base":"EUR","rates":{"USD":1.1}}`))
	}))
	defer srv.Close()

	h := NewHTTP(HTTPOptions{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	if _, err := h.Rate(context.Background(), "EUR", "SEK", time.Now()); err == nil {
		t.Fatal("缺失目标币种应报错")
	}
}

type flakyProvider struct {
	rate  decimal.Decimal
	fails atomic.Bool
}

func (f *flakyProvider) Rate(ctx context.Context, base, target string, reference time.Time) (decimal.Decimal, error) {
	if f.fails.Load() {
		return decimal.Decimal{}, errors.New("upstream down")
	}
	return f.rate, nil
}

func TestCachedDegradesToLastKnownRate(t *testing.T) {
	inner := &flakyProvider{rate: decimal.NewFromFloat(11.3)}
	c := NewCached(inner, zerolog.Nop())

	if _, err := c.Rate(context.Background(), "EUR", "SEK", time.Now()); err != nil {
		t.Fatalf("首次查询应成功: %v", err)
	}

	inner.fails.Store(true)
	rate, err := c.Rate(context.Background(), "EUR", "SEK", time.Now())
	if err != nil {
		t.Fatalf("已有缓存时不应报错: %v", err)
	}
	if !rate.Equal(decimal.NewFromFloat(11.3)) {
		t.Fatalf("应返回最后一次成功的汇率, 实际 %s", rate)
	}
}

func TestCachedFailsWithoutPrimedRate(t *testing.T) {
	inner := &flakyProvider{}
	inner.fails.Store(true)
	c := NewCached(inner, zerolog.Nop())

	if _, err := c.Rate(context.Background(), "EUR", "SEK", time.Now()); err == nil {
		t.Fatal("无缓存且查询失败时应报错")
	}
}

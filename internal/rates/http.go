package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// HTTPOptions parameterise the exchange-rate API client.
type HTTPOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// HTTP fetches rates from a latest-rates style JSON endpoint.
type HTTP struct {
	opts   HTTPOptions
	logger zerolog.Logger
	client *http.Client
}

// NewHTTP constructs the rates client.
func NewHTTP(opts HTTPOptions, logger zerolog.Logger) *HTTP {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTP{
		opts:   HTTPOptions{BaseURL: strings.TrimRight(opts.BaseURL, "/"), Timeout: timeout, UserAgent: opts.UserAgent},
		logger: logger.With().Str("component", "rates").Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

type ratesResponse struct {
	Base  string                 `json:"base"`
	Rates map[string]json.Number `json:"rates"`
}

// Rate looks up base→target from the latest-rates endpoint.
func (h *HTTP) Rate(ctx context.Context, base, target string, reference time.Time) (decimal.Decimal, error) {
	if h.opts.BaseURL == "" {
		return decimal.Decimal{}, errors.New("rates base url not configured")
	}
	if strings.EqualFold(base, target) {
		return decimal.NewFromInt(1), nil
	}

	endpoint := fmt.Sprintf("%s/latest?base=%s", h.opts.BaseURL, strings.ToUpper(base))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(h.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("rates api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var parsed ratesResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode rates response: %w", err)
	}

	num, ok := parsed.Rates[strings.ToUpper(target)]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("rate %s->%s missing from response", base, target)
	}

	rate, err := decimal.NewFromString(num.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse rate: %w", err)
	}
	if rate.IsZero() {
		return decimal.Decimal{}, errors.New("rates api returned zero rate")
	}
	return rate, nil
}

// Cached wraps a Provider and degrades to the last successfully fetched rate
// when a fresh lookup fails, rather than surfacing the error once primed.
type Cached struct {
	inner  Provider
	logger zerolog.Logger

	mu   sync.Mutex
	last map[string]decimal.Decimal
}

// NewCached wraps inner with last-known-rate degradation.
func NewCached(inner Provider, logger zerolog.Logger) *Cached {
	return &Cached{
		inner:  inner,
		logger: logger.With().Str("component", "rates_cache").Logger(),
		last:   make(map[string]decimal.Decimal),
	}
}

// Rate fetches a fresh rate, remembering it; on failure it serves the most
// recent known rate for the pair if one exists.
func (c *Cached) Rate(ctx context.Context, base, target string, reference time.Time) (decimal.Decimal, error) {
	key := strings.ToUpper(base) + "/" + strings.ToUpper(target)

	rate, err := c.inner.Rate(ctx, base, target, reference)
	if err == nil {
		c.mu.Lock()
		c.last[key] = rate
		c.mu.Unlock()
		return rate, nil
	}

	c.mu.Lock()
	cached, ok := c.last[key]
	c.mu.Unlock()
	if ok {
		c.logger.Warn().Err(err).Str("pair", key).Msg("rate lookup failed, using last known rate")
		return cached, nil
	}
	return decimal.Decimal{}, fmt.Errorf("rate %s unavailable and no cached value: %w", key, err)
}

var (
	_ Provider = (*HTTP)(nil)
	_ Provider = (*Cached)(nil)
)

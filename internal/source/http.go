package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spotwatcher/internal/pricing"
)

// HTTPOptions parameterise a generic JSON price endpoint. Market-specific
// parsing stays outside this module; the endpoint must already serve a
// timestamp-to-price document.
type HTTPOptions struct {
	Name            string
	URL             string
	Timezone        string
	Currency        string
	Unit            string
	IntervalMinutes int
	VATIncluded     bool
	Kind            pricing.SelectionKind
	Timeout         time.Duration
	UserAgent       string
}

// HTTPAdapter fetches a JSON document of interval prices.
type HTTPAdapter struct {
	opts    HTTPOptions
	timeout time.Duration
	logger  zerolog.Logger
	client  *http.Client
}

// NewHTTPAdapter constructs a generic HTTP source adapter. The client
// carries no fixed timeout: callers such as the fallback executor own the
// per-attempt deadline, and a fixed client timeout would silently cap their
// backoff budget. The configured timeout only applies when the caller's
// context has no deadline.
func NewHTTPAdapter(opts HTTPOptions, logger zerolog.Logger) *HTTPAdapter {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.IntervalMinutes <= 0 {
		opts.IntervalMinutes = 60
	}

	return &HTTPAdapter{
		opts:    opts,
		timeout: timeout,
		logger:  logger.With().Str("component", "source").Str("source", opts.Name).Logger(),
		client:  &http.Client{},
	}
}

// Name returns the configured source name.
func (a *HTTPAdapter) Name() string {
	return a.opts.Name
}

type priceDocument struct {
	Prices  map[string]json.Number `json:"prices"`
	Current *json.Number           `json:"current,omitempty"`
}

// Fetch retrieves and decodes the price document for one area.
func (a *HTTPAdapter) Fetch(ctx context.Context, area string, reference time.Time) (*pricing.RawResult, error) {
	if a.opts.URL == "" {
		return nil, errors.New("source url not configured")
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	endpoint := strings.ReplaceAll(a.opts.URL, "{area}", area)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(a.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source %s returned status %d: %s", a.opts.Name, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var doc priceDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decode price document: %w", err)
	}
	if len(doc.Prices) == 0 {
		return nil, fmt.Errorf("source %s returned no prices", a.opts.Name)
	}

	prices := make(map[string]decimal.Decimal, len(doc.Prices))
	for ts, num := range doc.Prices {
		price, convErr := decimal.NewFromString(num.String())
		if convErr != nil {
			return nil, fmt.Errorf("parse price for %s: %w", ts, convErr)
		}
		prices[ts] = price
	}

	raw := &pricing.RawResult{
		Source:          a.opts.Name,
		Timezone:        a.opts.Timezone,
		Currency:        a.opts.Currency,
		Unit:            a.opts.Unit,
		IntervalMinutes: a.opts.IntervalMinutes,
		Prices:          prices,
		VATIncluded:     a.opts.VATIncluded,
		Kind:            a.opts.Kind,
	}

	if doc.Current != nil {
		current, convErr := decimal.NewFromString(doc.Current.String())
		if convErr != nil {
			return nil, fmt.Errorf("parse current price: %w", convErr)
		}
		raw.CurrentOverride = &current
	}

	a.logger.Debug().Str("area", area).Int("intervals", len(prices)).Msg("price document fetched")
	return raw, nil
}

var _ Adapter = (*HTTPAdapter)(nil)

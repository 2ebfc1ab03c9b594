// Package fallback drives a priority-ordered list of source adapters with
// bounded per-source retries and exponential timeout backoff.
package fallback

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"spotwatcher/internal/pricing"
	"spotwatcher/internal/source"
)

// Options tune the retry behaviour. Defaults: 3 attempts per source,
// 2s base timeout, 3x multiplier (2s, 6s, 18s).
type Options struct {
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMultiplier float64
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 2 * time.Second
	}
	if o.BackoffMultiplier <= 1 {
		o.BackoffMultiplier = 3
	}
	return o
}

// Outcome records which source succeeded and which were attempted, in order.
type Outcome struct {
	RunID     string
	Source    string
	Attempted []string
}

// Executor coordinates fallback fetching across adapters.
type Executor struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs an Executor.
func New(opts Options, logger zerolog.Logger) *Executor {
	return &Executor{
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "fallback").Logger(),
	}
}

// Execute tries adapters in priority order and returns the first structurally
// valid result. It never propagates an adapter error: the return is either a
// result or nil together with the full attempted list.
func (e *Executor) Execute(ctx context.Context, adapters []source.Adapter, area string, reference time.Time) (*pricing.RawResult, Outcome) {
	outcome := Outcome{RunID: uuid.NewString()}
	logger := e.logger.With().Str("run_id", outcome.RunID).Str("area", area).Logger()

	for _, adapter := range adapters {
		if ctx.Err() != nil {
			break
		}
		outcome.Attempted = append(outcome.Attempted, adapter.Name())

		raw, err := e.trySource(ctx, adapter, area, reference)
		if err != nil {
			logger.Warn().Err(err).Str("source", adapter.Name()).Msg("source exhausted, moving to next")
			continue
		}

		outcome.Source = adapter.Name()
		logger.Info().Str("source", adapter.Name()).Int("intervals", len(raw.Prices)).Msg("source succeeded")
		return raw, outcome
	}

	logger.Error().Strs("attempted", outcome.Attempted).Msg("all sources failed")
	return nil, outcome
}

// Validate runs the same retry loop for a single adapter. Used by the daily
// health check, which attempts every source without short-circuiting.
func (e *Executor) Validate(ctx context.Context, adapter source.Adapter, area string, reference time.Time) error {
	_, err := e.trySource(ctx, adapter, area, reference)
	return err
}

func (e *Executor) trySource(ctx context.Context, adapter source.Adapter, area string, reference time.Time) (*pricing.RawResult, error) {
	timeout := e.opts.BackoffBase
	var lastErr error

	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		raw, err := e.attempt(ctx, adapter, area, reference, timeout)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		e.logger.Debug().Err(err).Str("source", adapter.Name()).Int("attempt", attempt).Dur("timeout", timeout).Msg("attempt failed")

		timeout = time.Duration(float64(timeout) * e.opts.BackoffMultiplier)
	}

	return nil, fmt.Errorf("source %s failed after %d attempts: %w", adapter.Name(), e.opts.MaxAttempts, lastErr)
}

func (e *Executor) attempt(ctx context.Context, adapter source.Adapter, area string, reference time.Time, timeout time.Duration) (raw *pricing.RawResult, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// A panicking adapter counts as a failed attempt.
	defer func() {
		if r := recover(); r != nil {
			raw = nil
			err = fmt.Errorf("source %s panicked: %v", adapter.Name(), r)
		}
	}()

	raw, err = adapter.Fetch(attemptCtx, area, reference)
	if err != nil {
		return nil, err
	}
	if raw == nil || len(raw.Prices) == 0 {
		return nil, fmt.Errorf("source %s returned an empty price map", adapter.Name())
	}
	return raw, nil
}

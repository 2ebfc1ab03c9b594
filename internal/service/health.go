package service

import (
	"context"
	"math/rand"
	"time"
)

// StartHealthCheck launches the daily source validation loop in the
// background. Calling it again is a no-op; the loop stops with the context.
func (a *Area) StartHealthCheck(ctx context.Context) {
	if !a.opts.HealthCheck.Enabled {
		return
	}
	a.healthOnce.Do(func() {
		go a.healthLoop(ctx)
	})
}

func (a *Area) healthLoop(ctx context.Context) {
	a.logger.Info().Msg("health check loop starting")

	for {
		next := a.nextHealthRun(time.Now())
		a.logger.Debug().Time("next_run", next).Msg("waiting for next health check")
		select {
		case <-time.After(time.Until(next)):
			a.RunHealthCheck(ctx, time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// nextHealthRun returns the next run instant inside the configured window in
// the area's market timezone, always strictly after now so the loop runs
// once per day. Each run draws a fresh random offset from the window start
// so areas do not all probe the sources at the same instant.
func (a *Area) nextHealthRun(now time.Time) time.Time {
	loc := a.deps.Processor.Location()
	local := now.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), a.opts.HealthCheck.Window.StartHour, 0, 0, 0, loc)
	if !candidate.After(local) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate.Add(a.healthOffset())
}

// healthOffset draws a random delay bounded by max_start_delay and by the
// window length, so the run never lands past the window end.
func (a *Area) healthOffset() time.Duration {
	max := a.opts.HealthCheck.MaxStartDelay
	window := a.opts.HealthCheck.Window
	if span := time.Duration((window.EndHour-window.StartHour+24)%24) * time.Hour; span > 0 && max > span {
		max = span
	}
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// RunHealthCheck validates every configured source, stamping failures and
// clearing stamps for sources that recovered. Every source is probed; there
// is no short-circuit on first success.
func (a *Area) RunHealthCheck(ctx context.Context, now time.Time) (validated, failed int) {
	a.logger.Info().Int("sources", len(a.opts.Adapters)).Msg("health check starting")

	for _, adapter := range a.opts.Adapters {
		if ctx.Err() != nil {
			a.logger.Warn().Msg("health check aborted")
			return validated, failed
		}
		if err := a.deps.Executor.Validate(ctx, adapter, a.opts.Name, now); err != nil {
			a.logger.Warn().Err(err).Str("source", adapter.Name()).Msg("source failed validation")
			a.markFailed(ctx, adapter.Name(), now)
			failed++
			continue
		}
		a.clearFailure(ctx, adapter.Name())
		validated++
	}

	a.logger.Info().Int("validated", validated).Int("failed", failed).Msg("health check finished")
	return validated, failed
}

// Package service orchestrates the per-area decide/fetch/process/cache
// sequence and the daily source health check.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"spotwatcher/internal/alerting"
	"spotwatcher/internal/cache"
	"spotwatcher/internal/config"
	"spotwatcher/internal/fallback"
	"spotwatcher/internal/pricing"
	"spotwatcher/internal/ratelimit"
	"spotwatcher/internal/source"
	"spotwatcher/internal/storage"
)

// FetchExecutor drives the source fallback chain.
type FetchExecutor interface {
	Execute(ctx context.Context, adapters []source.Adapter, area string, reference time.Time) (*pricing.RawResult, fallback.Outcome)
	Validate(ctx context.Context, adapter source.Adapter, area string, reference time.Time) error
}

// ResultProcessor normalises raw results.
type ResultProcessor interface {
	Process(ctx context.Context, raw *pricing.RawResult, reference time.Time) (*pricing.ProcessedResult, error)
	Location() *time.Location
	Interval() time.Duration
}

// AreaOptions carry the per-area policy knobs.
type AreaOptions struct {
	Name               string
	Adapters           []source.Adapter
	MinFetchInterval   time.Duration
	SafetyBufferHours  float64
	Grace              ratelimit.Grace
	PublicationWindows []config.HourWindow
	FailureTTL         time.Duration
	HealthCheck        config.HealthCheckConfig
	AlertsEnabled      bool
	// AlertMinHours suppresses alerts while cached runway still exceeds the
	// threshold; zero alerts on every failed refresh.
	AlertMinHours float64
	AlertCooldown time.Duration
	AlertChannels []string
}

// AreaDeps aggregate the collaborators an area orchestrator works with.
// Snapshots, History, and Health may be nil when persistence is disabled.
type AreaDeps struct {
	Executor  FetchExecutor
	Processor ResultProcessor
	Cache     *cache.Manager
	Snapshots storage.SnapshotStore
	History   storage.IntervalPriceStore
	Health    storage.SourceHealthStore
	Notifier  alerting.Notifier
}

// Area owns all mutable state for one tracked bidding area. State is
// area-local; areas never share locks.
type Area struct {
	opts   AreaOptions
	deps   AreaDeps
	logger zerolog.Logger

	// mu serializes the decide->fetch->process->cache sequence so a slow
	// fetch can never overwrite a newer completed one.
	mu        sync.Mutex
	lastFetch time.Time
	lastAlert time.Time

	failMu   sync.Mutex
	failures map[string]time.Time

	healthOnce sync.Once
}

// NewArea constructs an area orchestrator.
func NewArea(opts AreaOptions, deps AreaDeps, logger zerolog.Logger) *Area {
	if opts.MinFetchInterval <= 0 {
		opts.MinFetchInterval = 15 * time.Minute
	}
	if opts.SafetyBufferHours <= 0 {
		opts.SafetyBufferHours = 2
	}
	if opts.FailureTTL <= 0 {
		opts.FailureTTL = 24 * time.Hour
	}

	return &Area{
		opts:     opts,
		deps:     deps,
		logger:   logger.With().Str("component", "orchestrator").Str("area", opts.Name).Logger(),
		failures: make(map[string]time.Time),
	}
}

// Name returns the area name.
func (a *Area) Name() string {
	return a.opts.Name
}

// Prime warms the cache and failure stamps from persisted state. Called once
// before the first tick; a storage error only costs the warm start.
// Snapshot maps are keyed by wall-clock time on the day they were stored, so
// a snapshot from an earlier day would be misread as covering today. Such
// snapshots are discarded, leaving the first tick urgent.
func (a *Area) Prime(ctx context.Context, now time.Time) {
	if a.deps.Snapshots != nil {
		snap, err := a.deps.Snapshots.GetSnapshot(ctx, a.opts.Name)
		if err != nil {
			a.logger.Warn().Err(err).Msg("loading stored snapshot failed")
		} else if snap != nil {
			if sameLocalDay(snap.StoredAt, now, a.deps.Processor.Location()) {
				a.deps.Cache.Store(a.opts.Name, snap.ToResult(), snap.StoredAt)
				a.logger.Info().Time("stored_at", snap.StoredAt).Str("source", snap.Source).Msg("cache warmed from stored snapshot")
			} else {
				a.logger.Warn().Time("stored_at", snap.StoredAt).Msg("stored snapshot is from an earlier day, discarding")
			}
		}
	}

	if a.deps.Health != nil {
		health, err := a.deps.Health.ListSourceHealth(ctx, a.opts.Name)
		if err != nil {
			a.logger.Warn().Err(err).Msg("loading source health failed")
			return
		}
		a.failMu.Lock()
		for name, failedAt := range health {
			a.failures[name] = failedAt
		}
		a.failMu.Unlock()
	}
}

func sameLocalDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// Tick runs one decide/fetch/process/cache cycle and returns the result the
// caller should serve. It never returns an error for data-plane failures;
// the result carries the using-cached-data signal instead.
func (a *Area) Tick(ctx context.Context, now time.Time) *pricing.ProcessedResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.deps.Cache.Get(a.opts.Name)
	var cached *pricing.ProcessedResult
	if entry != nil {
		cached = entry.Result
	}

	decision := a.decide(now, cached)
	if !decision.Fetch {
		a.logger.Info().Str("reason", decision.Reason).Msg("fetch skipped")
		return a.serveCached(cached, now)
	}

	a.logger.Info().Str("reason", decision.Reason).Bool("urgent", decision.Urgent).Msg("fetch decided")

	adapters := a.eligibleAdapters(now, decision.Urgent)
	if len(adapters) == 0 {
		a.logger.Warn().Msg("no eligible sources, serving cached data")
		return a.serveCached(cached, now)
	}

	raw, outcome := a.deps.Executor.Execute(ctx, adapters, a.opts.Name, now)
	if raw == nil {
		a.recordFailures(ctx, outcome.Attempted, now)
		result := a.serveCached(cached, now)
		a.maybeAlert(ctx, now, "all sources failed", result, outcome.Attempted)
		return result
	}

	result, err := a.deps.Processor.Process(ctx, raw, now)
	if err != nil {
		// Processing failure counts as an adapter failure for this attempt;
		// the raw fetch is discarded rather than cached looking successful.
		a.logger.Error().Err(err).Str("source", outcome.Source).Msg("processing failed, discarding raw result")
		a.recordFailures(ctx, outcome.Attempted, now)
		result := a.serveCached(cached, now)
		a.maybeAlert(ctx, now, "processing failed", result, outcome.Attempted)
		return result
	}

	a.recordOutcome(ctx, outcome, now)
	result.Attempted = outcome.Attempted
	a.lastFetch = now

	a.deps.Cache.Store(a.opts.Name, result, now)
	a.persist(ctx, result, now)

	a.logger.Info().
		Str("source", result.Source).
		Int("today", len(result.Today)).
		Int("tomorrow", len(result.Tomorrow)).
		Float64("hours_remaining", result.Validity.HoursRemaining()).
		Msg("fetch completed")

	return result
}

// serveCached annotates a fresh copy of the cached result, never the stored
// object, and recomputes validity at now. Without cache it returns an
// explicit empty result.
func (a *Area) serveCached(cached *pricing.ProcessedResult, now time.Time) *pricing.ProcessedResult {
	loc := a.deps.Processor.Location()
	interval := a.deps.Processor.Interval()

	if cached == nil {
		return &pricing.ProcessedResult{
			Today:    pricing.PriceMap{},
			Tomorrow: pricing.PriceMap{},
			Validity: pricing.ComputeValidity(nil, nil, now, loc, interval),
		}
	}

	result := cached.Clone()
	result.UsingCachedData = true
	result.Validity = pricing.ComputeValidity(result.Today, result.Tomorrow, now, loc, interval)
	return result
}

// eligibleAdapters filters out sources with a failure stamp younger than the
// TTL. An urgent fetch with nothing eligible tries the full list anyway.
func (a *Area) eligibleAdapters(now time.Time, urgent bool) []source.Adapter {
	a.failMu.Lock()
	defer a.failMu.Unlock()

	eligible := make([]source.Adapter, 0, len(a.opts.Adapters))
	for _, adapter := range a.opts.Adapters {
		failedAt, ok := a.failures[adapter.Name()]
		if ok && now.Sub(failedAt) < a.opts.FailureTTL {
			continue
		}
		eligible = append(eligible, adapter)
	}

	if len(eligible) == 0 && urgent {
		return a.opts.Adapters
	}
	return eligible
}

// recordOutcome stamps every attempted-but-failed source and clears the
// succeeded one.
func (a *Area) recordOutcome(ctx context.Context, outcome fallback.Outcome, now time.Time) {
	for _, name := range outcome.Attempted {
		if name == outcome.Source {
			a.clearFailure(ctx, name)
		} else {
			a.markFailed(ctx, name, now)
		}
	}
}

func (a *Area) recordFailures(ctx context.Context, attempted []string, now time.Time) {
	for _, name := range attempted {
		a.markFailed(ctx, name, now)
	}
}

func (a *Area) markFailed(ctx context.Context, name string, now time.Time) {
	a.failMu.Lock()
	a.failures[name] = now
	a.failMu.Unlock()

	if a.deps.Health != nil {
		stamp := now
		if err := a.deps.Health.UpsertSourceHealth(ctx, a.opts.Name, name, &stamp); err != nil {
			a.logger.Warn().Err(err).Str("source", name).Msg("persisting failure stamp failed")
		}
	}
}

func (a *Area) clearFailure(ctx context.Context, name string) {
	a.failMu.Lock()
	delete(a.failures, name)
	a.failMu.Unlock()

	if a.deps.Health != nil {
		if err := a.deps.Health.UpsertSourceHealth(ctx, a.opts.Name, name, nil); err != nil {
			a.logger.Warn().Err(err).Str("source", name).Msg("clearing failure stamp failed")
		}
	}
}

// failureStamp exposes a source's stamp for tests and the health check.
func (a *Area) failureStamp(name string) (time.Time, bool) {
	a.failMu.Lock()
	defer a.failMu.Unlock()
	stamp, ok := a.failures[name]
	return stamp, ok
}

func (a *Area) persist(ctx context.Context, result *pricing.ProcessedResult, now time.Time) {
	if a.deps.Snapshots != nil {
		snap := storage.SnapshotFromResult(a.opts.Name, now, result)
		if err := a.deps.Snapshots.UpsertSnapshot(ctx, snap); err != nil {
			a.logger.Error().Err(err).Msg("persisting snapshot failed")
		}
	}
	if a.deps.History != nil {
		points := storage.IntervalPointsFromResult(a.opts.Name, result, a.deps.Processor.Location())
		if err := a.deps.History.UpsertIntervalPrices(ctx, points); err != nil {
			a.logger.Error().Err(err).Msg("persisting interval history failed")
		}
	}
}

func (a *Area) maybeAlert(ctx context.Context, now time.Time, reason string, result *pricing.ProcessedResult, attempted []string) {
	if !a.opts.AlertsEnabled || a.deps.Notifier == nil {
		return
	}
	if a.opts.AlertMinHours > 0 && result.Validity.HoursRemaining() >= a.opts.AlertMinHours {
		return
	}
	if a.opts.AlertCooldown > 0 && !a.lastAlert.IsZero() && now.Sub(a.lastAlert) < a.opts.AlertCooldown {
		return
	}

	note := alerting.Notification{
		Area:           a.opts.Name,
		At:             now,
		Reason:         reason,
		HoursRemaining: result.Validity.HoursRemaining(),
		UsingCached:    result.UsingCachedData,
		FailedSources:  attempted,
		Channels:       a.opts.AlertChannels,
	}
	if err := a.deps.Notifier.Notify(ctx, note); err != nil {
		a.logger.Error().Err(err).Msg("failed to dispatch alert")
		return
	}
	a.lastAlert = now
}

package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spotwatcher/internal/alerting"
	"spotwatcher/internal/cache"
	"spotwatcher/internal/config"
	"spotwatcher/internal/fallback"
	"spotwatcher/internal/pricing"
	"spotwatcher/internal/process"
	"spotwatcher/internal/ratelimit"
	"spotwatcher/internal/rates"
	"spotwatcher/internal/scheduler"
	"spotwatcher/internal/service"
	"spotwatcher/internal/source"
	"spotwatcher/internal/storage"
	"spotwatcher/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newRates() rates.Provider {
	client := rates.NewHTTP(rates.HTTPOptions{
		BaseURL:   a.Config.Rates.BaseURL,
		Timeout:   a.Config.Rates.RequestTimeout,
		UserAgent: a.Config.Rates.UserAgent,
	}, a.Logger)
	return rates.NewCached(client, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newAdapters(areaCfg config.AreaConfig) ([]source.Adapter, error) {
	adapters := make([]source.Adapter, 0, len(areaCfg.Sources))
	for _, name := range areaCfg.Sources {
		srcCfg, ok := a.Config.SourceByName(name)
		if !ok {
			return nil, fmt.Errorf("area %s references unknown source %q", areaCfg.Name, name)
		}
		adapters = append(adapters, source.NewHTTPAdapter(source.HTTPOptions{
			Name:            srcCfg.Name,
			URL:             srcCfg.URL,
			Timezone:        srcCfg.Timezone,
			Currency:        srcCfg.Currency,
			Unit:            srcCfg.Unit,
			IntervalMinutes: srcCfg.IntervalMinutes,
			VATIncluded:     srcCfg.VATIncluded,
			Kind:            pricing.ParseSelectionKind(srcCfg.Kind),
			Timeout:         srcCfg.Timeout,
			UserAgent:       a.Config.App.Name + "/" + version.Version,
		}, a.Logger))
	}
	return adapters, nil
}

// buildRegistry assembles every configured area with its shared
// collaborators. Persistence stores may be nil.
func (a *App) buildRegistry(store *storage.Store, notifier alerting.Notifier) (*service.Registry, error) {
	executor := fallback.New(fallback.Options{
		MaxAttempts:       a.Config.Fallback.MaxAttempts,
		BackoffBase:       a.Config.Fallback.BackoffBase,
		BackoffMultiplier: a.Config.Fallback.BackoffMultiplier,
	}, a.Logger)

	rateProvider := a.newRates()
	cacheManager := cache.NewManager()
	grace := ratelimit.NewGrace(time.Now(), a.Config.Fetch.GracePeriod)

	var snapshots storage.SnapshotStore
	var history storage.IntervalPriceStore
	var health storage.SourceHealthStore
	if store != nil {
		snapshots = store
		history = store
		health = store
	}

	areas := make([]*service.Area, 0, len(a.Config.Areas))
	for _, areaCfg := range a.Config.Areas {
		processor, err := process.New(process.Options{
			Timezone: areaCfg.Timezone,
			Currency: a.Config.Market.Currency,
			InCents:  a.Config.Market.InCents,
			Unit:     a.Config.Market.Unit,
			VATRate:  decimal.NewFromFloat(a.Config.Market.VATRate),
			Interval: a.Config.Market.Interval(),
		}, rateProvider, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("area %s: %w", areaCfg.Name, err)
		}

		adapters, err := a.newAdapters(areaCfg)
		if err != nil {
			return nil, err
		}

		areas = append(areas, service.NewArea(service.AreaOptions{
			Name:               areaCfg.Name,
			Adapters:           adapters,
			MinFetchInterval:   a.Config.Fetch.MinInterval,
			SafetyBufferHours:  a.Config.Fetch.SafetyBufferHours,
			Grace:              grace,
			PublicationWindows: a.Config.Fetch.PublicationWindows,
			FailureTTL:         a.Config.Fallback.FailureTTL,
			HealthCheck:        a.Config.HealthCheck,
			AlertsEnabled:      a.Config.Alerting.Enabled,
			AlertMinHours:      a.Config.Alerting.MinHoursRemaining,
			AlertCooldown:      a.Config.Alerting.Cooldown,
			AlertChannels:      a.Config.Alerting.Channels,
		}, service.AreaDeps{
			Executor:  executor,
			Processor: processor,
			Cache:     cacheManager,
			Snapshots: snapshots,
			History:   history,
			Health:    health,
			Notifier:  notifier,
		}, a.Logger))
	}

	return service.NewRegistry(areas, a.Logger), nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running price watcher service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	} else {
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
	}
	if closeStore != nil {
		defer closeStore()
	}

	registry, err := a.buildRegistry(store, a.newNotifier())
	if err != nil {
		return err
	}

	registry.Prime(ctx)
	registry.StartHealthChecks(ctx)

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	a.Logger.Info().Int("areas", len(a.Config.Areas)).Msg("starting price watcher service")
	err = sched.Run(ctx, func(ctx context.Context, now time.Time) error {
		registry.Tick(ctx, now)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("price watcher service stopped")
	return nil
}

// ExportOptions hold parameters for exporting interval price history.
type ExportOptions struct {
	Area      string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Area string
}

// CheckOptions configure the one-shot check command.
type CheckOptions struct {
	Area string
}

package app

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"somwatcher/internal/alerts"
	"somwatcher/internal/config"
	"somwatcher/internal/detector"
	"somwatcher/internal/digest"
	"somwatcher/internal/fetcher"
	"somwatcher/internal/httpapi"
	"somwatcher/internal/metrics"
	"somwatcher/internal/notify"
	"somwatcher/internal/rates"
	"somwatcher/internal/scheduler"
	"somwatcher/internal/service"
	"somwatcher/internal/smartx"
	"somwatcher/internal/storage"
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

func (a *App) newFetchers() (fetcher.OfficialRateFetcher, fetcher.BankRateScraper) {
	official := fetcher.NewOfficial(fetcher.OfficialOptions{
		URL:            a.Config.Source.URL,
		Timeout:        a.Config.Source.RequestTimeout,
		UserAgent:      a.Config.Source.UserAgent,
		DroppedRecords: metrics.Registry(a.Config.App.Name).RecordsDropped,
	}, a.Logger)

	var scraper fetcher.BankRateScraper = fetcher.NopScraper{}
	if a.Config.Source.ScraperURL != "" {
		scraper = fetcher.NewAggregatorScraper(fetcher.ScraperOptions{
			URL:       a.Config.Source.ScraperURL,
			Timeout:   a.Config.Source.RequestTimeout,
			UserAgent: a.Config.Source.UserAgent,
		}, a.Logger)
	}

	return official, scraper
}

func (a *App) newNotifier() notify.Notifier {
	if a.Config.Telegram.Enabled {
		cfg := a.Config.Telegram
		return notify.NewTelegramNotifier(cfg.BotToken, cfg.APIBase, cfg.RequestTimeout, a.Logger)
	}
	return notify.NewLogNotifier(a.Logger)
}

func (a *App) newEstimator() *rates.Estimator {
	if len(a.Config.Banks.Spreads) == 0 {
		return rates.NewEstimator(nil)
	}
	spreads := make(map[string]rates.Spread, len(a.Config.Banks.Spreads))
	for code, s := range a.Config.Banks.Spreads {
		spreads[code] = rates.Spread{Buy: s.Buy, Sell: s.Sell}
	}
	return rates.NewEstimator(spreads)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}

	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running watcher service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	official, scraper := a.newFetchers()
	notifier := a.newNotifier()
	registry := metrics.Registry(a.Config.App.Name)

	evaluator := alerts.NewEvaluator(store, store, notifier, a.Logger)
	tracker := smartx.NewTracker(store, store, notifier, a.Config.SmartX.Cooldown, a.Logger)
	digests := digest.NewScheduler(store, store, notifier, a.Config.Location(),
		a.Config.Alerting.PopularCurrencies, a.Config.Digest.TopN, a.Logger)

	svc := service.New(service.Options{
		Fetcher:   official,
		Scraper:   scraper,
		Estimator: a.newEstimator(),
		RateStore: store,
		UserStore: store,
		Detector:  detector.New(a.Config.Alerting.BigChangeThresholdPct, a.Logger),
		Evaluator: evaluator,
		Tracker:   tracker,
		Digests:   digests,
		Notifier:  notifier,
		Metrics:   registry,
		AdminIDs:  a.Config.App.AdminIDs,
		Retention: time.Duration(a.Config.Scheduler.RetentionDays) * 24 * time.Hour,
	}, a.Logger)

	jobs := scheduler.New(scheduler.Options{
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
	if err := svc.RegisterJobs(jobs, a.Config); err != nil {
		return err
	}

	var httpServer *httpapi.Server
	if a.Config.API.Enabled {
		httpServer = httpapi.New(httpapi.Options{
			ListenAddr: a.Config.API.ListenAddr,
			SharedKey:  a.Config.API.SharedKey,
		}, store, a.Logger)
		go func() {
			if err := httpServer.Start(); err != nil {
				a.Logger.Error().Err(err).Msg("http server terminated")
				cancel()
			}
		}()
	}

	a.Logger.Info().Msg("starting watcher service")
	jobs.Start(ctx)

	<-ctx.Done()

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.Logger.Error().Err(err).Msg("http shutdown failed")
		}
		shutdownCancel()
	}

	jobs.Wait()
	a.Logger.Info().Msg("watcher service stopped")
	return nil
}

// ExportOptions hold parameters for exporting rate history.
type ExportOptions struct {
	BankCode     string
	CurrencyCode string
	From         *time.Time
	To           *time.Time
	PNGPath      string
	CSVPath      string
	MaxPoints    int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	BankCode     string
	CurrencyCode string
}

// SimulateOptions configure a one-off evaluation pass against a static rate.
type SimulateOptions struct {
	CurrencyCode string
	Rate         string
}

// Package service orchestrates the rate-update pipeline and owns the
// scheduled job wiring.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"somwatcher/internal/alerts"
	"somwatcher/internal/config"
	"somwatcher/internal/detector"
	"somwatcher/internal/digest"
	"somwatcher/internal/fetcher"
	"somwatcher/internal/metrics"
	"somwatcher/internal/notify"
	"somwatcher/internal/rates"
	"somwatcher/internal/scheduler"
	"somwatcher/internal/smartx"
	"somwatcher/internal/storage"
)

// adminNoticeAfter is the consecutive-failure count that triggers an admin
// notice. The counter resets on the next successful fetch.
const adminNoticeAfter = 10

// Service runs the fetch, estimate, store, detect, evaluate pipeline.
type Service struct {
	fetcher   fetcher.OfficialRateFetcher
	scraper   fetcher.BankRateScraper
	estimator *rates.Estimator
	rateStore storage.RateStore
	userStore storage.UserStore
	detector  *detector.BigChangeDetector
	evaluator *alerts.Evaluator
	tracker   *smartx.Tracker
	digests   *digest.Scheduler
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	adminIDs  []int64
	retention time.Duration
	logger    zerolog.Logger

	consecutiveFailures int
}

// Options bundles the service dependencies.
type Options struct {
	Fetcher   fetcher.OfficialRateFetcher
	Scraper   fetcher.BankRateScraper
	Estimator *rates.Estimator
	RateStore storage.RateStore
	UserStore storage.UserStore
	Detector  *detector.BigChangeDetector
	Evaluator *alerts.Evaluator
	Tracker   *smartx.Tracker
	Digests   *digest.Scheduler
	Notifier  notify.Notifier
	Metrics   *metrics.Metrics
	AdminIDs  []int64
	Retention time.Duration
}

// New constructs the pipeline service.
func New(opts Options, logger zerolog.Logger) *Service {
	return &Service{
		fetcher:   opts.Fetcher,
		scraper:   opts.Scraper,
		estimator: opts.Estimator,
		rateStore: opts.RateStore,
		userStore: opts.UserStore,
		detector:  opts.Detector,
		evaluator: opts.Evaluator,
		tracker:   opts.Tracker,
		digests:   opts.Digests,
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
		adminIDs:  opts.AdminIDs,
		retention: opts.Retention,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// RunCycle executes one rate-update cycle. A fetch failure is soft: the
// previous snapshot stays in place and the next cycle retries on schedule.
func (s *Service) RunCycle(ctx context.Context, now time.Time) error {
	started := time.Now()

	official, err := s.fetcher.FetchOfficial(ctx)
	if err != nil {
		s.onFetchFailure(ctx, err)
		s.observeCycle("fetch_failed", started)
		return nil
	}
	s.consecutiveFailures = 0
	s.metrics.RecordsParsed.Add(float64(len(official)))

	scraped := s.scraper.ScrapeBankRates(ctx)

	snapshot := s.estimator.BuildSnapshot(official, scraped)
	if err := s.rateStore.ReplaceCurrentRates(ctx, snapshot); err != nil {
		s.observeCycle("store_failed", started)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	s.metrics.SnapshotRows.Set(float64(len(snapshot)))

	officialByCode := make(map[string]decimal.Decimal, len(official))
	for _, q := range official {
		officialByCode[q.CurrencyCode] = q.Rate
	}
	events := s.detector.Observe(officialByCode)
	if len(events) > 0 {
		s.metrics.BigChangeEvents.Add(float64(len(events)))
		s.broadcastBigChanges(ctx, events)
	}

	fired, err := s.evaluator.Evaluate(ctx, now)
	if err != nil {
		s.observeCycle("evaluate_failed", started)
		return fmt.Errorf("evaluate alerts: %w", err)
	}
	s.metrics.AlertsFired.Add(float64(fired))

	s.observeCycle("ok", started)
	s.logger.Debug().
		Int("quotes", len(snapshot)).
		Int("big_changes", len(events)).
		Int("alerts_fired", fired).
		Msg("rate-update cycle complete")
	return nil
}

// SaveHistory copies the current snapshot into the append-only history table.
func (s *Service) SaveHistory(ctx context.Context, now time.Time) error {
	snapshot, err := s.rateStore.QueryCurrent(ctx, "", "")
	if err != nil {
		return fmt.Errorf("load snapshot for history: %w", err)
	}
	if len(snapshot) == 0 {
		return nil
	}

	points := make([]storage.RateHistoryPoint, 0, len(snapshot))
	for _, q := range snapshot {
		points = append(points, storage.RateHistoryPoint{
			BankCode:     q.BankCode,
			CurrencyCode: q.CurrencyCode,
			OfficialRate: q.OfficialRate,
			BuyRate:      q.BuyRate,
			SellRate:     q.SellRate,
			RecordedAt:   now,
		})
	}
	if err := s.rateStore.AppendHistory(ctx, points); err != nil {
		return fmt.Errorf("append history: %w", err)
	}

	s.logger.Debug().Int("points", len(points)).Msg("history saved")
	return nil
}

// Cleanup purges history rows older than the retention horizon.
func (s *Service) Cleanup(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-s.retention)
	removed, err := s.rateStore.PurgeHistoryBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("retention cleanup: %w", err)
	}
	s.metrics.HistoryPurgedRows.Add(float64(removed))
	s.logger.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("retention cleanup complete")
	return nil
}

// RegisterJobs mounts all scheduled jobs onto the registry.
func (s *Service) RegisterJobs(reg *scheduler.Registry, cfg *config.Config) error {
	loc := cfg.Location()

	cleanupHour, cleanupMinute, err := config.ParseClock(cfg.Scheduler.CleanupTime)
	if err != nil {
		return fmt.Errorf("cleanup time: %w", err)
	}
	weeklyDay, err := config.ParseWeekday(cfg.Digest.WeeklyDay)
	if err != nil {
		return fmt.Errorf("weekly day: %w", err)
	}
	weeklyHour, weeklyMinute, err := config.ParseClock(cfg.Digest.WeeklyTime)
	if err != nil {
		return fmt.Errorf("weekly time: %w", err)
	}

	reg.AddInterval("rate_update", cfg.Scheduler.UpdateInterval, s.RunCycle)
	reg.AddInterval("history_save", cfg.Scheduler.HistoryInterval, s.SaveHistory)
	reg.AddInterval("smart_exchange", cfg.SmartX.Interval, func(ctx context.Context, now time.Time) error {
		notified, err := s.tracker.Run(ctx, now)
		s.metrics.WatchesNotified.Add(float64(notified))
		return err
	})
	reg.AddInterval("daily_digest", time.Minute, func(ctx context.Context, now time.Time) error {
		sent, err := s.digests.RunDaily(ctx, now)
		s.metrics.DigestsSent.WithLabelValues("daily").Add(float64(sent))
		return err
	})
	reg.AddWeeklyAt("weekly_digest", weeklyDay, weeklyHour, weeklyMinute, loc, func(ctx context.Context, now time.Time) error {
		sent, err := s.digests.RunWeekly(ctx, now)
		s.metrics.DigestsSent.WithLabelValues("weekly").Add(float64(sent))
		return err
	})
	reg.AddDailyAt("retention_cleanup", cleanupHour, cleanupMinute, loc, s.Cleanup)
	return nil
}

func (s *Service) onFetchFailure(ctx context.Context, err error) {
	s.consecutiveFailures++
	s.logger.Warn().Err(err).Int("consecutive_failures", s.consecutiveFailures).Msg("official fetch failed; keeping previous snapshot")

	if s.consecutiveFailures != adminNoticeAfter {
		return
	}
	text := fmt.Sprintf("⚠️ Rate source unreachable for %d consecutive cycles. Last error: %v", s.consecutiveFailures, err)
	for _, adminID := range s.adminIDs {
		if sendErr := s.notifier.Send(ctx, adminID, text); sendErr != nil {
			s.logger.Error().Err(sendErr).Int64("admin_id", adminID).Msg("admin notice delivery failed")
		}
	}
}

func (s *Service) broadcastBigChanges(ctx context.Context, events []detector.ChangeEvent) {
	users, err := s.userStore.ListBigChangeUsers(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load big-change subscribers")
		return
	}
	if len(users) == 0 {
		return
	}

	for _, ev := range events {
		text := renderBigChange(ev)
		for _, user := range users {
			if err := s.notifier.Send(ctx, user.UserID, text); err != nil {
				s.metrics.NotificationsFailed.Inc()
				s.logger.Error().Err(err).Int64("user_id", user.UserID).Str("currency", ev.CurrencyCode).Msg("big-change delivery failed")
				continue
			}
			s.metrics.NotificationsSent.Inc()
		}
	}
}

func (s *Service) observeCycle(status string, started time.Time) {
	s.metrics.UpdateCycles.WithLabelValues(status).Inc()
	s.metrics.UpdateDuration.Observe(time.Since(started).Seconds())
}

func renderBigChange(ev detector.ChangeEvent) string {
	arrow := "📈"
	if ev.Direction == detector.DirectionDecreased {
		arrow = "📉"
	}
	return fmt.Sprintf("%s %s rate %s by %s%%\nWas: %s som\nNow: %s som",
		arrow,
		ev.CurrencyCode,
		ev.Direction,
		ev.ChangePct.StringFixed(2),
		humanize.Commaf(ev.Previous.InexactFloat64()),
		humanize.Commaf(ev.Current.InexactFloat64()),
	)
}

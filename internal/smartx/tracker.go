// Package smartx tracks smart-exchange watches: longer-horizon targets that
// nag the user whenever the best available rate clears their goal, until the
// user accepts or cancels.
package smartx

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"somwatcher/internal/alerts"
	"somwatcher/internal/notify"
	"somwatcher/internal/rates"
	"somwatcher/internal/storage"
)

// Tracker evaluates active watches against the current best buy rate.
type Tracker struct {
	watchStore storage.WatchStore
	rateStore  storage.RateStore
	notifier   notify.Notifier
	cooldown   time.Duration
	logger     zerolog.Logger
}

// NewTracker constructs the smart-exchange tracker. The cooldown bounds how
// often a single watch may notify.
func NewTracker(watchStore storage.WatchStore, rateStore storage.RateStore, notifier notify.Notifier, cooldown time.Duration, logger zerolog.Logger) *Tracker {
	return &Tracker{
		watchStore: watchStore,
		rateStore:  rateStore,
		notifier:   notifier,
		cooldown:   cooldown,
		logger:     logger.With().Str("component", "smart_exchange").Logger(),
	}
}

// Run performs one pass over all active, not-yet-accepted watches and returns
// how many notifications were sent. A watch inside its cooldown window is
// skipped; re-notification after the cooldown is deliberate until the user
// accepts or cancels.
func (t *Tracker) Run(ctx context.Context, now time.Time) (int, error) {
	watches, err := t.watchStore.ListActiveWatches(ctx)
	if err != nil {
		return 0, fmt.Errorf("load active watches: %w", err)
	}
	if len(watches) == 0 {
		return 0, nil
	}

	snapshot, err := t.rateStore.QueryCurrent(ctx, "", "")
	if err != nil {
		return 0, fmt.Errorf("load current rates: %w", err)
	}

	byCurrency := make(map[string][]storage.RateQuote)
	for _, q := range snapshot {
		if q.BankCode == rates.OfficialBankCode {
			continue
		}
		byCurrency[q.CurrencyCode] = append(byCurrency[q.CurrencyCode], q)
	}

	notified := 0
	for _, watch := range watches {
		if watch.LastNotifiedAt != nil && now.Sub(*watch.LastNotifiedAt) < t.cooldown {
			continue
		}

		quotes, ok := byCurrency[watch.CurrencyCode]
		if !ok {
			t.logger.Debug().Int64("watch_id", watch.ID).Str("currency", watch.CurrencyCode).Msg("currency absent from snapshot; skipping")
			continue
		}

		obs, ok := alerts.Resolve(alerts.Target{Kind: alerts.TargetBestHigh}, storage.RateTypeBuy, quotes)
		if !ok {
			continue
		}

		target := watch.InitialBestRate.Add(watch.TargetIncrease)
		if obs.Rate.LessThan(target) {
			continue
		}

		text := renderWatchMessage(watch, obs, target)
		if err := t.notifier.Send(ctx, watch.UserID, text); err != nil {
			t.logger.Error().Err(err).Int64("watch_id", watch.ID).Int64("user_id", watch.UserID).Msg("watch delivery failed")
			continue
		}

		if err := t.watchStore.MarkWatchNotified(ctx, watch.ID, now); err != nil {
			t.logger.Error().Err(err).Int64("watch_id", watch.ID).Msg("failed to stamp watch cooldown")
			continue
		}

		notified++
		t.logger.Info().
			Int64("watch_id", watch.ID).
			Str("currency", watch.CurrencyCode).
			Str("best_rate", obs.Rate.String()).
			Str("best_bank", obs.BankCode).
			Str("target", target.String()).
			Msg("smart watch target reached")
	}

	return notified, nil
}

// Accept terminates the watch as fulfilled.
func (t *Tracker) Accept(ctx context.Context, id, userID int64) error {
	if err := t.watchStore.AcceptWatch(ctx, id, userID); err != nil {
		return fmt.Errorf("accept watch: %w", err)
	}
	t.logger.Info().Int64("watch_id", id).Int64("user_id", userID).Msg("smart watch accepted")
	return nil
}

// Cancel deactivates the watch without accepting.
func (t *Tracker) Cancel(ctx context.Context, id, userID int64) error {
	if err := t.watchStore.DeactivateWatch(ctx, id, userID); err != nil {
		return fmt.Errorf("cancel watch: %w", err)
	}
	t.logger.Info().Int64("watch_id", id).Int64("user_id", userID).Msg("smart watch cancelled")
	return nil
}

func renderWatchMessage(watch storage.SmartWatch, obs alerts.Observation, target decimal.Decimal) string {
	gain := obs.Rate.Sub(watch.InitialBestRate)
	return fmt.Sprintf("💱 Smart exchange\n%s best buy rate reached %s som at %s (target %s, started at %s).\nRate is up %s som since you started watching.\nAccept to exchange %s %s now, or wait for more.",
		watch.CurrencyCode,
		humanize.Commaf(obs.Rate.InexactFloat64()),
		rates.BankName(obs.BankCode),
		target.String(),
		watch.InitialBestRate.String(),
		gain.String(),
		watch.Amount.String(),
		watch.CurrencyCode,
	)
}

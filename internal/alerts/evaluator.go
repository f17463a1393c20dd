package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"somwatcher/internal/notify"
	"somwatcher/internal/rates"
	"somwatcher/internal/storage"
)

// Evaluator resolves pending alerts against the current snapshot and owns
// their trigger-state transitions.
type Evaluator struct {
	alertStore storage.AlertStore
	rateStore  storage.RateStore
	notifier   notify.Notifier
	logger     zerolog.Logger
}

// NewEvaluator constructs the alert evaluator.
func NewEvaluator(alertStore storage.AlertStore, rateStore storage.RateStore, notifier notify.Notifier, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		alertStore: alertStore,
		rateStore:  rateStore,
		notifier:   notifier,
		logger:     logger.With().Str("component", "alert_evaluator").Logger(),
	}
}

// Evaluate runs one pass over all pending alerts and returns how many fired.
// An alert whose target cannot be resolved from the snapshot is skipped this
// cycle. Delivery failures are logged per alert and never block persistence
// of the trigger-state change or evaluation of the remaining alerts.
func (e *Evaluator) Evaluate(ctx context.Context, now time.Time) (int, error) {
	pending, err := e.alertStore.ListPendingAlerts(ctx)
	if err != nil {
		return 0, fmt.Errorf("load pending alerts: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	snapshot, err := e.rateStore.QueryCurrent(ctx, "", "")
	if err != nil {
		return 0, fmt.Errorf("load current rates: %w", err)
	}

	byCurrency := make(map[string][]storage.RateQuote)
	for _, q := range snapshot {
		byCurrency[q.CurrencyCode] = append(byCurrency[q.CurrencyCode], q)
	}

	fired := 0
	for _, alert := range pending {
		quotes, ok := byCurrency[alert.CurrencyCode]
		if !ok {
			e.logger.Debug().Int64("alert_id", alert.ID).Str("currency", alert.CurrencyCode).Msg("currency absent from snapshot; skipping")
			continue
		}

		obs, ok := Resolve(ParseTarget(alert.BankCode), alert.RateType, quotes)
		if !ok {
			e.logger.Debug().Int64("alert_id", alert.ID).Str("bank", alert.BankCode).Msg("target unresolvable this cycle; skipping")
			continue
		}

		if !conditionMet(alert.Direction, obs.Rate, alert.Threshold) {
			continue
		}

		// Trigger state changes, delivery is attempted, and the change is
		// persisted regardless of delivery outcome.
		text := renderAlertMessage(alert, obs)
		if err := e.notifier.Send(ctx, alert.UserID, text); err != nil {
			e.logger.Error().Err(err).Int64("alert_id", alert.ID).Int64("user_id", alert.UserID).Msg("alert delivery failed")
		}

		if err := e.alertStore.MarkAlertTriggered(ctx, alert.ID, now, alert.IsRepeating); err != nil {
			e.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("failed to persist trigger state")
			continue
		}

		fired++
		e.logger.Info().
			Int64("alert_id", alert.ID).
			Str("currency", alert.CurrencyCode).
			Str("bank", obs.BankCode).
			Str("observed", obs.Rate.String()).
			Str("threshold", alert.Threshold.String()).
			Bool("repeating", alert.IsRepeating).
			Msg("alert fired")
	}

	return fired, nil
}

// conditionMet applies the inclusive threshold comparison.
func conditionMet(direction string, observed, threshold decimal.Decimal) bool {
	if direction == storage.DirectionBelow {
		return observed.LessThanOrEqual(threshold)
	}
	return observed.GreaterThanOrEqual(threshold)
}

func renderAlertMessage(alert storage.Alert, obs Observation) string {
	verb := "rose above"
	if alert.Direction == storage.DirectionBelow {
		verb = "fell below"
	}

	rateLabel := "Buy"
	if alert.RateType == storage.RateTypeSell {
		rateLabel = "Sell"
	}

	return fmt.Sprintf("🔔 Rate alert\n%s %s rate at %s %s your threshold.\nCurrent: %s som\nThreshold: %s som",
		alert.CurrencyCode,
		rateLabel,
		rates.BankName(obs.BankCode),
		verb,
		humanize.Commaf(obs.Rate.InexactFloat64()),
		humanize.Commaf(alert.Threshold.InexactFloat64()),
	)
}

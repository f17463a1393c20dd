package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"somwatcher/internal/alerts"
	"somwatcher/internal/fetcher"
	"somwatcher/internal/storage"
)

// Simulate runs one alert-evaluation pass against a hand-supplied official
// rate instead of the live feed. Alerts are loaded from the real database;
// the snapshot is synthesized in memory and never persisted, but trigger
// state changes are.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	currency := strings.ToUpper(strings.TrimSpace(opts.CurrencyCode))
	if currency == "" {
		return errors.New("--currency is required")
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(opts.Rate))
	if err != nil || !rate.IsPositive() {
		return errors.New("--rate must be a positive number")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	quote := fetcher.OfficialQuote{
		CurrencyCode: currency,
		CurrencyName: currency,
		Rate:         rate,
		Nominal:      1,
		FetchedAt:    time.Now().UTC(),
	}
	snapshot := a.newEstimator().BuildSnapshot([]fetcher.OfficialQuote{quote}, nil)

	notifier := a.newNotifier()
	evaluator := alerts.NewEvaluator(store, &staticRateStore{snapshot: snapshot}, notifier, a.Logger)

	fired, err := evaluator.Evaluate(ctx, time.Now())
	if err != nil {
		return err
	}

	a.Logger.Info().
		Str("currency", currency).
		Str("rate", rate.String()).
		Int("alerts_fired", fired).
		Msg("simulation complete")
	return nil
}

// staticRateStore serves a fixed in-memory snapshot and rejects writes.
type staticRateStore struct {
	snapshot []storage.RateQuote
}

func (s *staticRateStore) ReplaceCurrentRates(context.Context, []storage.RateQuote) error {
	return errors.New("simulated store is read-only")
}

func (s *staticRateStore) QueryCurrent(_ context.Context, bankCode, currencyCode string) ([]storage.RateQuote, error) {
	out := make([]storage.RateQuote, 0, len(s.snapshot))
	for _, q := range s.snapshot {
		if bankCode != "" && q.BankCode != bankCode {
			continue
		}
		if currencyCode != "" && q.CurrencyCode != currencyCode {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func (s *staticRateStore) AppendHistory(context.Context, []storage.RateHistoryPoint) error {
	return errors.New("simulated store is read-only")
}

func (s *staticRateStore) ListHistory(context.Context, string, string, time.Time, time.Time) ([]storage.RateHistoryPoint, error) {
	return nil, nil
}

func (s *staticRateStore) PurgeHistoryBefore(context.Context, time.Time) (int64, error) {
	return 0, errors.New("simulated store is read-only")
}

var _ storage.RateStore = (*staticRateStore)(nil)

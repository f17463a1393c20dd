package detector

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Direction of a detected change.
const (
	DirectionIncreased = "increased"
	DirectionDecreased = "decreased"
)

// ChangeEvent describes a period-over-period move past the threshold.
type ChangeEvent struct {
	CurrencyCode string
	Previous     decimal.Decimal
	Current      decimal.Decimal
	ChangePct    decimal.Decimal
	Direction    string
}

var hundred = decimal.NewFromInt(100)

// BigChangeDetector keeps the last-seen official rate per currency in memory.
// The baseline is lost on restart; the first observation after start only
// re-seeds it and never fires.
type BigChangeDetector struct {
	thresholdPct decimal.Decimal
	previous     map[string]decimal.Decimal
	logger       zerolog.Logger
}

// New constructs a detector with an empty baseline.
func New(thresholdPct float64, logger zerolog.Logger) *BigChangeDetector {
	return &BigChangeDetector{
		thresholdPct: decimal.NewFromFloat(thresholdPct),
		previous:     make(map[string]decimal.Decimal),
		logger:       logger.With().Str("component", "big_change_detector").Logger(),
	}
}

// Seed primes the baseline for a currency. Intended for tests.
func (d *BigChangeDetector) Seed(currencyCode string, rate decimal.Decimal) {
	d.previous[currencyCode] = rate
}

// Previous exposes the cached baseline for a currency. Intended for tests.
func (d *BigChangeDetector) Previous(currencyCode string) (decimal.Decimal, bool) {
	rate, ok := d.previous[currencyCode]
	return rate, ok
}

// Observe compares the given official rates against the cached baseline and
// returns the changes at or above the threshold. The baseline advances to the
// observed rates regardless of whether an event fired.
func (d *BigChangeDetector) Observe(officialRates map[string]decimal.Decimal) []ChangeEvent {
	events := make([]ChangeEvent, 0)

	for currency, current := range officialRates {
		prev, ok := d.previous[currency]
		d.previous[currency] = current
		if !ok || prev.IsZero() {
			continue
		}

		pct := current.Sub(prev).Abs().Div(prev).Mul(hundred)
		if pct.LessThan(d.thresholdPct) {
			continue
		}

		direction := DirectionIncreased
		if current.LessThan(prev) {
			direction = DirectionDecreased
		}

		d.logger.Info().
			Str("currency", currency).
			Str("previous", prev.String()).
			Str("current", current.String()).
			Str("change_pct", pct.StringFixed(2)).
			Str("direction", direction).
			Msg("big rate change detected")

		events = append(events, ChangeEvent{
			CurrencyCode: currency,
			Previous:     prev,
			Current:      current,
			ChangePct:    pct,
			Direction:    direction,
		})
	}

	return events
}

package alerts

import (
	"github.com/shopspring/decimal"

	"somwatcher/internal/storage"
)

// Wire-level sentinel bank codes for cross-bank alerts.
const (
	SentinelBestHigh = "best_high"
	SentinelBestLow  = "best_low"
)

// TargetKind discriminates the alert target variants.
type TargetKind int

const (
	// TargetFixedBank resolves against one concrete bank's quote.
	TargetFixedBank TargetKind = iota
	// TargetBestHigh resolves to the maximum rate across all banks.
	TargetBestHigh
	// TargetBestLow resolves to the minimum rate across all banks.
	TargetBestLow
)

// Target is the resolved form of an alert's bank_code field.
type Target struct {
	Kind     TargetKind
	BankCode string
}

// ParseTarget interprets a stored bank_code, mapping the sentinels onto the
// best-rate variants.
func ParseTarget(bankCode string) Target {
	switch bankCode {
	case SentinelBestHigh:
		return Target{Kind: TargetBestHigh}
	case SentinelBestLow:
		return Target{Kind: TargetBestLow}
	}
	return Target{Kind: TargetFixedBank, BankCode: bankCode}
}

// Observation is a resolved rate together with the bank it came from.
type Observation struct {
	Rate     decimal.Decimal
	BankCode string
}

// Resolve finds the observed rate for a target in the given currency's
// quotes. The second return is false when the snapshot cannot answer yet
// (missing bank, missing currency, no rate fields at all).
//
// Best-rate ties keep the first bank encountered in snapshot order.
func Resolve(target Target, rateType string, quotes []storage.RateQuote) (Observation, bool) {
	switch target.Kind {
	case TargetBestHigh:
		return best(quotes, pickBuy, func(candidate, best decimal.Decimal) bool {
			return candidate.GreaterThan(best)
		})
	case TargetBestLow:
		return best(quotes, pickSell, func(candidate, best decimal.Decimal) bool {
			return candidate.LessThan(best)
		})
	}

	for _, q := range quotes {
		if q.BankCode != target.BankCode {
			continue
		}
		rate, ok := rateOf(q, rateType)
		if !ok {
			return Observation{}, false
		}
		return Observation{Rate: rate, BankCode: q.BankCode}, true
	}
	return Observation{}, false
}

// rateOf selects buy or sell from a quote, falling back to the official rate
// for the authoritative bank which has neither.
func rateOf(q storage.RateQuote, rateType string) (decimal.Decimal, bool) {
	var primary *decimal.Decimal
	if rateType == storage.RateTypeSell {
		primary = q.SellRate
	} else {
		primary = q.BuyRate
	}
	if primary != nil {
		return *primary, true
	}
	if q.OfficialRate != nil {
		return *q.OfficialRate, true
	}
	return decimal.Decimal{}, false
}

func pickBuy(q storage.RateQuote) (decimal.Decimal, bool) {
	return rateOf(q, storage.RateTypeBuy)
}

func pickSell(q storage.RateQuote) (decimal.Decimal, bool) {
	return rateOf(q, storage.RateTypeSell)
}

func best(quotes []storage.RateQuote, pick func(storage.RateQuote) (decimal.Decimal, bool), better func(candidate, best decimal.Decimal) bool) (Observation, bool) {
	var (
		result Observation
		found  bool
	)
	for _, q := range quotes {
		rate, ok := pick(q)
		if !ok {
			continue
		}
		if !found || better(rate, result.Rate) {
			result = Observation{Rate: rate, BankCode: q.BankCode}
			found = true
		}
	}
	return result, found
}

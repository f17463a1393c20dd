package rates

import (
	"sort"

	"github.com/shopspring/decimal"

	"somwatcher/internal/fetcher"
	"somwatcher/internal/storage"
)

// OfficialBankCode identifies the authoritative source in the snapshot.
const OfficialBankCode = "cbu"

// Spread is a per-bank percentage offset pair from the official rate.
// Negative buy means the bank pays less than the official rate.
type Spread struct {
	Buy  float64
	Sell float64
}

// DefaultSpreads carries observed market offsets per commercial bank.
var DefaultSpreads = map[string]Spread{
	"nbu":          {-1.2, 1.0},
	"asakabank":    {-1.5, 1.2},
	"xalqbank":     {-1.8, 1.5},
	"ipotekabank":  {-1.3, 1.1},
	"agrobank":     {-1.6, 1.3},
	"aloqabank":    {-1.4, 1.1},
	"kapitalbank":  {-0.8, 0.7},
	"uzumbank":     {-0.5, 0.5},
	"hamkorbank":   {-1.0, 0.9},
	"infinbank":    {-0.9, 0.8},
	"davr":         {-1.1, 0.9},
	"orientfinans": {-1.0, 0.8},
	"anorbank":     {-0.6, 0.6},
	"tbc":          {-0.7, 0.7},
	"ipak":         {-1.2, 1.0},
	"trustbank":    {-0.9, 0.8},
}

// fallbackSpread applies to bank codes missing from the table.
var fallbackSpread = Spread{-1.0, 0.8}

var hundred = decimal.NewFromInt(100)

// Estimator derives commercial-bank quotes from the official rate set.
// It performs no I/O; both inputs are passed in.
type Estimator struct {
	spreads map[string]Spread
	banks   []string
}

// NewEstimator builds an estimator over the given spread table; a nil or
// empty table means DefaultSpreads. Bank iteration order is sorted so the
// produced snapshot is deterministic.
func NewEstimator(spreads map[string]Spread) *Estimator {
	if len(spreads) == 0 {
		spreads = DefaultSpreads
	}
	banks := make([]string, 0, len(spreads))
	for code := range spreads {
		banks = append(banks, code)
	}
	sort.Strings(banks)
	return &Estimator{spreads: spreads, banks: banks}
}

// Banks lists the commercial bank codes in snapshot order.
func (e *Estimator) Banks() []string {
	out := make([]string, len(e.banks))
	copy(out, e.banks)
	return out
}

// CalculateBankRates applies the bank's spread pair to an official rate.
// Results are rounded to whole currency units.
func (e *Estimator) CalculateBankRates(official decimal.Decimal, bankCode string) (buy, sell decimal.Decimal) {
	spread, ok := e.spreads[bankCode]
	if !ok {
		spread = fallbackSpread
	}
	buy = applySpread(official, spread.Buy)
	sell = applySpread(official, spread.Sell)
	return buy, sell
}

func applySpread(official decimal.Decimal, pct float64) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(pct).Div(hundred))
	return official.Mul(factor).Round(0)
}

// BuildSnapshot produces the full current-rates row set: one authoritative
// quote per currency plus one derived quote per (bank, currency). Scraped
// live values override the spread estimate for their (bank, currency) pair.
func (e *Estimator) BuildSnapshot(official []fetcher.OfficialQuote, scraped []fetcher.ScrapedRate) []storage.RateQuote {
	type pairKey struct{ bank, currency string }
	overrides := make(map[pairKey]fetcher.ScrapedRate, len(scraped))
	for _, s := range scraped {
		overrides[pairKey{s.BankCode, s.CurrencyCode}] = s
	}

	quotes := make([]storage.RateQuote, 0, len(official)*(len(e.banks)+1))
	for _, src := range official {
		officialRate := src.Rate
		diff := src.Diff

		quotes = append(quotes, storage.RateQuote{
			BankCode:     OfficialBankCode,
			CurrencyCode: src.CurrencyCode,
			CurrencyName: src.CurrencyName,
			OfficialRate: &officialRate,
			Nominal:      src.Nominal,
			Diff:         &diff,
			FetchedAt:    src.FetchedAt,
		})

		for _, bank := range e.banks {
			buy, sell := e.CalculateBankRates(src.Rate, bank)
			if live, ok := overrides[pairKey{bank, src.CurrencyCode}]; ok {
				buy, sell = live.BuyRate, live.SellRate
			}
			buyRate, sellRate := buy, sell
			quotes = append(quotes, storage.RateQuote{
				BankCode:     bank,
				CurrencyCode: src.CurrencyCode,
				CurrencyName: src.CurrencyName,
				BuyRate:      &buyRate,
				SellRate:     &sellRate,
				Nominal:      src.Nominal,
				FetchedAt:    src.FetchedAt,
			})
		}
	}
	return quotes
}

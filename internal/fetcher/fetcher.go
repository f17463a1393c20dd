package fetcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OfficialQuote is a single normalized record from the official rate feed.
type OfficialQuote struct {
	CurrencyCode string
	CurrencyName string
	Rate         decimal.Decimal
	Nominal      int
	Diff         decimal.Decimal
	Date         string
	FetchedAt    time.Time
}

// ScrapedRate is a live buy/sell observation for one bank and currency.
type ScrapedRate struct {
	BankCode     string
	CurrencyCode string
	BuyRate      decimal.Decimal
	SellRate     decimal.Decimal
}

// OfficialRateFetcher retrieves the authoritative rate set.
type OfficialRateFetcher interface {
	FetchOfficial(ctx context.Context) ([]OfficialQuote, error)
}

// BankRateScraper retrieves live per-bank quotes. Implementations are
// best-effort: any failure yields an empty result, never an error that
// should abort the update cycle.
type BankRateScraper interface {
	ScrapeBankRates(ctx context.Context) []ScrapedRate
}

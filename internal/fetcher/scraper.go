package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ScraperOptions parameterise the aggregator scraper.
type ScraperOptions struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
}

// AggregatorScraper pulls live bank quotes from a JSON aggregator feed.
// Individual bank sites block automation, so a single aggregator endpoint
// stands in for per-bank scraping; when it is unreachable the spread
// estimates are used instead.
type AggregatorScraper struct {
	opts   ScraperOptions
	logger zerolog.Logger
	client *http.Client
}

// NewAggregatorScraper builds the aggregator-backed scraper.
func NewAggregatorScraper(opts ScraperOptions, logger zerolog.Logger) *AggregatorScraper {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AggregatorScraper{
		opts:   opts,
		logger: logger.With().Str("component", "bank_scraper").Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

type scrapedRecord struct {
	Bank     string `json:"bank"`
	Currency string `json:"currency"`
	Buy      string `json:"buy"`
	Sell     string `json:"sell"`
}

// ScrapeBankRates fetches live quotes. Every failure path returns an empty
// slice; the caller falls back to spread-derived estimates.
func (s *AggregatorScraper) ScrapeBankRates(ctx context.Context) []ScrapedRate {
	if s.opts.URL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.URL, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("scraper request build failed")
		return nil
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(s.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn().Err(err).Msg("scraper fetch failed")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Warn().Int("status", resp.StatusCode).Msg("scraper feed unavailable")
		return nil
	}

	var records []scrapedRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		s.logger.Warn().Err(err).Msg("scraper payload undecodable")
		return nil
	}

	rates := make([]ScrapedRate, 0, len(records))
	for _, rec := range records {
		buy, errBuy := decimal.NewFromString(strings.TrimSpace(rec.Buy))
		sell, errSell := decimal.NewFromString(strings.TrimSpace(rec.Sell))
		if rec.Bank == "" || rec.Currency == "" || errBuy != nil || errSell != nil {
			continue
		}
		rates = append(rates, ScrapedRate{
			BankCode:     strings.ToLower(strings.TrimSpace(rec.Bank)),
			CurrencyCode: strings.ToUpper(strings.TrimSpace(rec.Currency)),
			BuyRate:      buy,
			SellRate:     sell,
		})
	}

	s.logger.Debug().Int("records", len(rates)).Msg("scraped live bank rates")
	return rates
}

// NopScraper never returns live data.
type NopScraper struct{}

// ScrapeBankRates always returns nil.
func (NopScraper) ScrapeBankRates(context.Context) []ScrapedRate { return nil }

var (
	_ BankRateScraper = (*AggregatorScraper)(nil)
	_ BankRateScraper = NopScraper{}
)

package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// OfficialOptions parameterise the official feed client.
type OfficialOptions struct {
	URL       string
	Timeout   time.Duration
	UserAgent string

	// DroppedRecords, when set, counts malformed feed records.
	DroppedRecords prometheus.Counter
}

// Official fetches the authoritative rate set over HTTP.
type Official struct {
	opts   OfficialOptions
	logger zerolog.Logger
	client *http.Client
}

// NewOfficial builds a new official rate fetcher.
func NewOfficial(opts OfficialOptions, logger zerolog.Logger) *Official {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Official{
		opts:   opts,
		logger: logger.With().Str("component", "official_fetcher").Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

// feedRecord mirrors one element of the official feed's JSON array. Numeric
// fields arrive as strings.
type feedRecord struct {
	Ccy     string `json:"Ccy"`
	NameEN  string `json:"CcyNm_EN"`
	Rate    string `json:"Rate"`
	Nominal string `json:"Nominal"`
	Diff    string `json:"Diff"`
	Date    string `json:"Date"`
}

// FetchOfficial retrieves and normalizes the official rate set. Records with
// malformed required fields are dropped with a warning rather than failing
// the batch.
func (o *Official) FetchOfficial(ctx context.Context) ([]OfficialQuote, error) {
	if o.opts.URL == "" {
		return nil, errors.New("official feed url not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(o.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch official feed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read feed body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("official feed status %d: %s", resp.StatusCode, strings.TrimSpace(truncate(string(payload), 200)))
	}

	var records []feedRecord
	if err := json.Unmarshal(payload, &records); err != nil {
		return nil, fmt.Errorf("decode feed payload: %w", err)
	}

	now := time.Now().UTC()
	quotes := make([]OfficialQuote, 0, len(records))
	for _, rec := range records {
		quote, err := parseRecord(rec, now)
		if err != nil {
			o.logger.Warn().Err(err).Str("currency", rec.Ccy).Msg("dropping malformed feed record")
			if o.opts.DroppedRecords != nil {
				o.opts.DroppedRecords.Inc()
			}
			continue
		}
		quotes = append(quotes, quote)
	}

	if len(quotes) == 0 {
		return nil, errors.New("official feed contained no parseable records")
	}

	o.logger.Debug().Int("records", len(quotes)).Msg("fetched official rates")
	return quotes, nil
}

func parseRecord(rec feedRecord, fetchedAt time.Time) (OfficialQuote, error) {
	code := strings.ToUpper(strings.TrimSpace(rec.Ccy))
	if code == "" {
		return OfficialQuote{}, errors.New("missing currency code")
	}

	rate, err := decimal.NewFromString(strings.TrimSpace(rec.Rate))
	if err != nil {
		return OfficialQuote{}, fmt.Errorf("parse rate: %w", err)
	}
	if rate.Sign() <= 0 {
		return OfficialQuote{}, fmt.Errorf("non-positive rate %s", rate)
	}

	nominal := 1
	if s := strings.TrimSpace(rec.Nominal); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil {
			return OfficialQuote{}, fmt.Errorf("parse nominal: %w", err)
		}
		if parsed >= 1 {
			nominal = parsed
		}
	}

	// Diff is optional; an unparseable value degrades to zero.
	diff := decimal.Zero
	if s := strings.TrimSpace(rec.Diff); s != "" {
		if parsed, err := decimal.NewFromString(s); err == nil {
			diff = parsed
		}
	}

	return OfficialQuote{
		CurrencyCode: code,
		CurrencyName: strings.TrimSpace(rec.NameEN),
		Rate:         rate,
		Nominal:      nominal,
		Diff:         diff,
		Date:         strings.TrimSpace(rec.Date),
		FetchedAt:    fetchedAt,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ OfficialRateFetcher = (*Official)(nil)

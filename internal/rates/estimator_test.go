package rates

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"somwatcher/internal/fetcher"
)

func TestCalculateBankRatesRounding(t *testing.T) {
	e := NewEstimator(nil)

	official := decimal.RequireFromString("12700")
	buy, sell := e.CalculateBankRates(official, "kapitalbank")

	// -0.8% and +0.7%, rounded to whole units.
	if buy.String() != "12598" {
		t.Fatalf("expected buy 12598, got %s", buy)
	}
	if sell.String() != "12789" {
		t.Fatalf("expected sell 12789, got %s", sell)
	}
}

func TestCalculateBankRatesDeterministic(t *testing.T) {
	e := NewEstimator(nil)
	official := decimal.RequireFromString("12025.33")

	buy1, sell1 := e.CalculateBankRates(official, "nbu")
	buy2, sell2 := e.CalculateBankRates(official, "nbu")

	if !buy1.Equal(buy2) || !sell1.Equal(sell2) {
		t.Fatalf("identical inputs must give identical outputs: %s/%s vs %s/%s", buy1, sell1, buy2, sell2)
	}
}

func TestCalculateBankRatesUnknownBankFallback(t *testing.T) {
	e := NewEstimator(nil)
	official := decimal.RequireFromString("10000")

	buy, sell := e.CalculateBankRates(official, "nosuchbank")
	if buy.String() != "9900" {
		t.Fatalf("fallback buy spread -1.0%% expected 9900, got %s", buy)
	}
	if sell.String() != "10080" {
		t.Fatalf("fallback sell spread +0.8%% expected 10080, got %s", sell)
	}
}

func TestBuildSnapshotShape(t *testing.T) {
	e := NewEstimator(map[string]Spread{
		"kapitalbank": {-0.8, 0.7},
		"nbu":         {-1.2, 1.0},
	})

	now := time.Now().UTC()
	diff := decimal.RequireFromString("20")
	official := []fetcher.OfficialQuote{{
		CurrencyCode: "USD",
		CurrencyName: "US Dollar",
		Rate:         decimal.RequireFromString("12700"),
		Nominal:      1,
		Diff:         diff,
		FetchedAt:    now,
	}}

	quotes := e.BuildSnapshot(official, nil)
	if len(quotes) != 3 {
		t.Fatalf("expected official + 2 banks = 3 quotes, got %d", len(quotes))
	}

	head := quotes[0]
	if head.BankCode != OfficialBankCode {
		t.Fatalf("first row should be the authoritative bank, got %s", head.BankCode)
	}
	if head.OfficialRate == nil || head.BuyRate != nil || head.SellRate != nil {
		t.Fatalf("authoritative row must carry only the official rate: %#v", head)
	}
	if head.Diff == nil || !head.Diff.Equal(diff) {
		t.Fatalf("authoritative row should carry the feed diff")
	}

	for _, q := range quotes[1:] {
		if q.OfficialRate != nil {
			t.Fatalf("commercial row %s must not carry an official rate", q.BankCode)
		}
		if q.BuyRate == nil || q.SellRate == nil {
			t.Fatalf("commercial row %s must carry buy and sell", q.BankCode)
		}
		if q.Nominal != 1 {
			t.Fatalf("nominal must propagate, got %d", q.Nominal)
		}
	}
}

func TestBuildSnapshotScrapedOverride(t *testing.T) {
	e := NewEstimator(map[string]Spread{"kapitalbank": {-0.8, 0.7}})

	official := []fetcher.OfficialQuote{{
		CurrencyCode: "USD",
		Rate:         decimal.RequireFromString("12700"),
		Nominal:      1,
		FetchedAt:    time.Now().UTC(),
	}}
	scraped := []fetcher.ScrapedRate{{
		BankCode:     "kapitalbank",
		CurrencyCode: "USD",
		BuyRate:      decimal.RequireFromString("12650"),
		SellRate:     decimal.RequireFromString("12810"),
	}}

	quotes := e.BuildSnapshot(official, scraped)
	var found bool
	for _, q := range quotes {
		if q.BankCode == "kapitalbank" {
			found = true
			if q.BuyRate.String() != "12650" || q.SellRate.String() != "12810" {
				t.Fatalf("scraped values must override the estimate, got %s/%s", q.BuyRate, q.SellRate)
			}
		}
	}
	if !found {
		t.Fatal("kapitalbank row missing from snapshot")
	}
}

func TestBuildSnapshotOverrideOtherCurrencyIgnored(t *testing.T) {
	e := NewEstimator(map[string]Spread{"kapitalbank": {-0.8, 0.7}})

	official := []fetcher.OfficialQuote{{
		CurrencyCode: "USD",
		Rate:         decimal.RequireFromString("12700"),
		Nominal:      1,
		FetchedAt:    time.Now().UTC(),
	}}
	scraped := []fetcher.ScrapedRate{{
		BankCode:     "kapitalbank",
		CurrencyCode: "EUR",
		BuyRate:      decimal.RequireFromString("1"),
		SellRate:     decimal.RequireFromString("2"),
	}}

	quotes := e.BuildSnapshot(official, scraped)
	for _, q := range quotes {
		if q.BankCode == "kapitalbank" && q.BuyRate.String() != "12598" {
			t.Fatalf("an override for a different currency must not apply, got buy %s", q.BuyRate)
		}
	}
}

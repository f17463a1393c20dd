package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"somwatcher/internal/storage"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

type fakeRateStore struct {
	quotes []storage.RateQuote
}

func (f *fakeRateStore) ReplaceCurrentRates(_ context.Context, quotes []storage.RateQuote) error {
	f.quotes = quotes
	return nil
}

func (f *fakeRateStore) QueryCurrent(_ context.Context, bankCode, currencyCode string) ([]storage.RateQuote, error) {
	out := make([]storage.RateQuote, 0, len(f.quotes))
	for _, q := range f.quotes {
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

func (f *fakeRateStore) AppendHistory(context.Context, []storage.RateHistoryPoint) error {
	return nil
}

func (f *fakeRateStore) ListHistory(context.Context, string, string, time.Time, time.Time) ([]storage.RateHistoryPoint, error) {
	return nil, nil
}

func (f *fakeRateStore) PurgeHistoryBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type fakeAlertStore struct {
	alerts map[int64]*storage.Alert
}

func newFakeAlertStore(alerts ...*storage.Alert) *fakeAlertStore {
	s := &fakeAlertStore{alerts: make(map[int64]*storage.Alert)}
	for _, a := range alerts {
		s.alerts[a.ID] = a
	}
	return s
}

func (f *fakeAlertStore) ListPendingAlerts(context.Context) ([]storage.Alert, error) {
	out := make([]storage.Alert, 0)
	for _, a := range f.alerts {
		if a.IsActive && !a.IsTriggered {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeAlertStore) MarkAlertTriggered(_ context.Context, id int64, at time.Time, rearm bool) error {
	a, ok := f.alerts[id]
	if !ok {
		return errors.New("no such alert")
	}
	a.IsTriggered = !rearm
	a.LastTriggeredAt = &at
	return nil
}

func (f *fakeAlertStore) CreateAlert(context.Context, storage.Alert) (int64, error) {
	return 0, nil
}

func (f *fakeAlertStore) DeleteAlert(context.Context, int64, int64) error {
	return nil
}

type fakeNotifier struct {
	sent    []string
	sentTo  []int64
	failFor map[int64]bool
}

func (f *fakeNotifier) Send(_ context.Context, userID int64, text string) error {
	if f.failFor[userID] {
		return errors.New("transport down")
	}
	f.sent = append(f.sent, text)
	f.sentTo = append(f.sentTo, userID)
	return nil
}

func usdSnapshot() []storage.RateQuote {
	return []storage.RateQuote{
		{BankCode: "cbu", CurrencyCode: "USD", OfficialRate: decPtr("12100"), Nominal: 1},
		{BankCode: "alpha", CurrencyCode: "USD", BuyRate: decPtr("12000"), SellRate: decPtr("12200"), Nominal: 1},
		{BankCode: "beta", CurrencyCode: "USD", BuyRate: decPtr("12500"), SellRate: decPtr("12650"), Nominal: 1},
		{BankCode: "gamma", CurrencyCode: "USD", BuyRate: decPtr("11800"), SellRate: decPtr("11950"), Nominal: 1},
	}
}

func newEvaluator(alertStore storage.AlertStore, rateStore storage.RateStore, notifier *fakeNotifier) *Evaluator {
	return NewEvaluator(alertStore, rateStore, notifier, zerolog.Nop())
}

func TestThresholdBoundaryInclusive(t *testing.T) {
	now := time.Now()

	alertAt := func(threshold string) (*storage.Alert, *fakeAlertStore, *fakeNotifier, *Evaluator) {
		a := &storage.Alert{
			ID: 1, UserID: 7, BankCode: "alpha", CurrencyCode: "USD",
			Threshold: dec(threshold), Direction: storage.DirectionAbove,
			RateType: storage.RateTypeBuy, IsActive: true,
		}
		alerts := newFakeAlertStore(a)
		notifier := &fakeNotifier{}
		return a, alerts, notifier, newEvaluator(alerts, &fakeRateStore{quotes: usdSnapshot()}, notifier)
	}

	// Observed alpha buy is 12000: an alert at exactly 12000 fires.
	a, _, notifier, ev := alertAt("12000")
	fired, err := ev.Evaluate(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.True(t, a.IsTriggered)
	assert.Len(t, notifier.sent, 1)

	// An alert just above does not.
	a, _, notifier, ev = alertAt("12000.01")
	fired, err = ev.Evaluate(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, fired)
	assert.False(t, a.IsTriggered)
	assert.Empty(t, notifier.sent)
}

func TestBelowDirectionInclusive(t *testing.T) {
	a := &storage.Alert{
		ID: 1, UserID: 7, BankCode: "alpha", CurrencyCode: "USD",
		Threshold: dec("12200"), Direction: storage.DirectionBelow,
		RateType: storage.RateTypeSell, IsActive: true,
	}
	alerts := newFakeAlertStore(a)
	notifier := &fakeNotifier{}
	ev := newEvaluator(alerts, &fakeRateStore{quotes: usdSnapshot()}, notifier)

	fired, err := ev.Evaluate(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, fired, "sell 12200 <= threshold 12200 must fire")
}

func TestRepeatingAlertRefiresNextCycle(t *testing.T) {
	a := &storage.Alert{
		ID: 1, UserID: 7, BankCode: "beta", CurrencyCode: "USD",
		Threshold: dec("12400"), Direction: storage.DirectionAbove,
		RateType: storage.RateTypeBuy, IsActive: true, IsRepeating: true,
	}
	alerts := newFakeAlertStore(a)
	notifier := &fakeNotifier{}
	ev := newEvaluator(alerts, &fakeRateStore{quotes: usdSnapshot()}, notifier)

	fired, err := ev.Evaluate(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, fired)
	assert.False(t, a.IsTriggered, "repeating alert re-arms immediately")

	// Condition still holds on the very next cycle: it fires again without
	// the condition ever clearing.
	fired, err = ev.Evaluate(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.Len(t, notifier.sent, 2)
}

func TestOneShotAlertFiresOnce(t *testing.T) {
	a := &storage.Alert{
		ID: 1, UserID: 7, BankCode: "beta", CurrencyCode: "USD",
		Threshold: dec("12400"), Direction: storage.DirectionAbove,
		RateType: storage.RateTypeBuy, IsActive: true,
	}
	alerts := newFakeAlertStore(a)
	notifier := &fakeNotifier{}
	ev := newEvaluator(alerts, &fakeRateStore{quotes: usdSnapshot()}, notifier)

	fired, err := ev.Evaluate(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, fired)
	require.True(t, a.IsTriggered)
	require.NotNil(t, a.LastTriggeredAt)

	fired, err = ev.Evaluate(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, fired, "triggered one-shot alert is inert")
	assert.Len(t, notifier.sent, 1)
}

func TestBestHighResolvesMaxBuy(t *testing.T) {
	a := &storage.Alert{
		ID: 1, UserID: 7, BankCode: SentinelBestHigh, CurrencyCode: "USD",
		Threshold: dec("12500"), Direction: storage.DirectionAbove,
		RateType: storage.RateTypeBuy, IsActive: true,
	}
	alerts := newFakeAlertStore(a)
	notifier := &fakeNotifier{}
	ev := newEvaluator(alerts, &fakeRateStore{quotes: usdSnapshot()}, notifier)

	fired, err := ev.Evaluate(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, fired, "best buy across banks is 12500 which meets the threshold")
	require.Len(t, notifier.sent, 1)
	assert.Contains(t, notifier.sent[0], "12,500", "message should carry the best rate")
}

func TestUnresolvableAlertSkippedNotErrored(t *testing.T) {
	a := &storage.Alert{
		ID: 1, UserID: 7, BankCode: "nosuchbank", CurrencyCode: "USD",
		Threshold: dec("1"), Direction: storage.DirectionAbove,
		RateType: storage.RateTypeBuy, IsActive: true,
	}
	b := &storage.Alert{
		ID: 2, UserID: 7, BankCode: "alpha", CurrencyCode: "XXX",
		Threshold: dec("1"), Direction: storage.DirectionAbove,
		RateType: storage.RateTypeBuy, IsActive: true,
	}
	alerts := newFakeAlertStore(a, b)
	notifier := &fakeNotifier{}
	ev := newEvaluator(alerts, &fakeRateStore{quotes: usdSnapshot()}, notifier)

	fired, err := ev.Evaluate(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, fired)
	assert.False(t, a.IsTriggered)
	assert.False(t, b.IsTriggered)
}

func TestDeliveryFailureStillPersistsTrigger(t *testing.T) {
	a := &storage.Alert{
		ID: 1, UserID: 7, BankCode: "beta", CurrencyCode: "USD",
		Threshold: dec("12400"), Direction: storage.DirectionAbove,
		RateType: storage.RateTypeBuy, IsActive: true,
	}
	other := &storage.Alert{
		ID: 2, UserID: 8, BankCode: "beta", CurrencyCode: "USD",
		Threshold: dec("12400"), Direction: storage.DirectionAbove,
		RateType: storage.RateTypeBuy, IsActive: true,
	}
	alerts := newFakeAlertStore(a, other)
	notifier := &fakeNotifier{failFor: map[int64]bool{7: true}}
	ev := newEvaluator(alerts, &fakeRateStore{quotes: usdSnapshot()}, notifier)

	fired, err := ev.Evaluate(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, fired, "a failed delivery must not block other alerts")
	assert.True(t, a.IsTriggered, "trigger state persists despite delivery failure")
	assert.True(t, other.IsTriggered)
	assert.Equal(t, []int64{8}, notifier.sentTo)
}

func TestAuthoritativeBankFallsBackToOfficialRate(t *testing.T) {
	a := &storage.Alert{
		ID: 1, UserID: 7, BankCode: "cbu", CurrencyCode: "USD",
		Threshold: dec("12100"), Direction: storage.DirectionAbove,
		RateType: storage.RateTypeBuy, IsActive: true,
	}
	alerts := newFakeAlertStore(a)
	notifier := &fakeNotifier{}
	ev := newEvaluator(alerts, &fakeRateStore{quotes: usdSnapshot()}, notifier)

	fired, err := ev.Evaluate(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, fired, "cbu has no buy rate; the official rate stands in")
}

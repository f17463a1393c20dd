package smartx

import (
	"context"
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

type fakeWatchStore struct {
	watches map[int64]*storage.SmartWatch
}

func newFakeWatchStore(watches ...*storage.SmartWatch) *fakeWatchStore {
	s := &fakeWatchStore{watches: make(map[int64]*storage.SmartWatch)}
	for _, w := range watches {
		s.watches[w.ID] = w
	}
	return s
}

func (f *fakeWatchStore) ListActiveWatches(context.Context) ([]storage.SmartWatch, error) {
	out := make([]storage.SmartWatch, 0)
	for _, w := range f.watches {
		if w.IsActive && !w.IsAccepted {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (f *fakeWatchStore) MarkWatchNotified(_ context.Context, id int64, at time.Time) error {
	w := f.watches[id]
	w.LastNotifiedAt = &at
	return nil
}

func (f *fakeWatchStore) AcceptWatch(_ context.Context, id, _ int64) error {
	w := f.watches[id]
	w.IsAccepted = true
	w.IsActive = false
	return nil
}

func (f *fakeWatchStore) DeactivateWatch(_ context.Context, id, _ int64) error {
	f.watches[id].IsActive = false
	return nil
}

func (f *fakeWatchStore) CreateWatch(context.Context, storage.SmartWatch) (int64, error) {
	return 0, nil
}

type fakeRateStore struct {
	quotes []storage.RateQuote
}

func (f *fakeRateStore) ReplaceCurrentRates(context.Context, []storage.RateQuote) error {
	return nil
}

func (f *fakeRateStore) QueryCurrent(context.Context, string, string) ([]storage.RateQuote, error) {
	return f.quotes, nil
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

type fakeNotifier struct {
	sent []string
}

func (f *fakeNotifier) Send(_ context.Context, _ int64, text string) error {
	f.sent = append(f.sent, text)
	return nil
}

func snapshotWithBestBuy(best string) []storage.RateQuote {
	return []storage.RateQuote{
		{BankCode: "cbu", CurrencyCode: "USD", OfficialRate: decPtr("12100"), Nominal: 1},
		{BankCode: "alpha", CurrencyCode: "USD", BuyRate: decPtr("12000"), SellRate: decPtr("12200"), Nominal: 1},
		{BankCode: "beta", CurrencyCode: "USD", BuyRate: decPtr(best), SellRate: decPtr("12900"), Nominal: 1},
	}
}

func activeWatch() *storage.SmartWatch {
	return &storage.SmartWatch{
		ID: 1, UserID: 7, CurrencyCode: "USD",
		Amount:          dec("500"),
		TargetIncrease:  dec("100"),
		InitialBestRate: dec("12400"),
		InitialBestBank: "beta",
		IsActive:        true,
	}
}

func TestTargetReachedNotifiesAndStampsCooldown(t *testing.T) {
	w := activeWatch()
	store := newFakeWatchStore(w)
	notifier := &fakeNotifier{}
	tracker := NewTracker(store, &fakeRateStore{quotes: snapshotWithBestBuy("12500")}, notifier, 5*time.Minute, zerolog.Nop())

	now := time.Now()
	notified, err := tracker.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, notified)
	require.NotNil(t, w.LastNotifiedAt)
	assert.True(t, w.LastNotifiedAt.Equal(now))
	assert.True(t, w.IsActive, "watch stays active until accepted")
}

func TestBelowTargetStaysSilent(t *testing.T) {
	w := activeWatch()
	store := newFakeWatchStore(w)
	notifier := &fakeNotifier{}
	tracker := NewTracker(store, &fakeRateStore{quotes: snapshotWithBestBuy("12499.99")}, notifier, 5*time.Minute, zerolog.Nop())

	notified, err := tracker.Run(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, notified)
	assert.Nil(t, w.LastNotifiedAt)
}

func TestExactTargetNotifies(t *testing.T) {
	w := activeWatch()
	store := newFakeWatchStore(w)
	notifier := &fakeNotifier{}
	tracker := NewTracker(store, &fakeRateStore{quotes: snapshotWithBestBuy("12500")}, notifier, 5*time.Minute, zerolog.Nop())

	notified, err := tracker.Run(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, notified, "best = initial + increase exactly must notify")
}

func TestCooldownSuppressesThenReNotifies(t *testing.T) {
	w := activeWatch()
	store := newFakeWatchStore(w)
	notifier := &fakeNotifier{}
	tracker := NewTracker(store, &fakeRateStore{quotes: snapshotWithBestBuy("12600")}, notifier, 5*time.Minute, zerolog.Nop())

	base := time.Now()
	notified, err := tracker.Run(context.Background(), base)
	require.NoError(t, err)
	require.Equal(t, 1, notified)

	// Two minutes later: still inside the cooldown window.
	notified, err = tracker.Run(context.Background(), base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, notified)
	assert.Len(t, notifier.sent, 1)

	// After the cooldown the nag repeats while the watch is unaccepted.
	notified, err = tracker.Run(context.Background(), base.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, notified)
	assert.Len(t, notifier.sent, 2)
}

func TestAcceptIsTerminal(t *testing.T) {
	w := activeWatch()
	store := newFakeWatchStore(w)
	notifier := &fakeNotifier{}
	tracker := NewTracker(store, &fakeRateStore{quotes: snapshotWithBestBuy("12600")}, notifier, 5*time.Minute, zerolog.Nop())

	require.NoError(t, tracker.Accept(context.Background(), 1, 7))
	assert.True(t, w.IsAccepted)
	assert.False(t, w.IsActive)

	notified, err := tracker.Run(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, notified, "accepted watch never notifies again")
}

func TestCancelDeactivatesWithoutAccepting(t *testing.T) {
	w := activeWatch()
	store := newFakeWatchStore(w)
	tracker := NewTracker(store, &fakeRateStore{}, &fakeNotifier{}, 5*time.Minute, zerolog.Nop())

	require.NoError(t, tracker.Cancel(context.Background(), 1, 7))
	assert.False(t, w.IsActive)
	assert.False(t, w.IsAccepted)
}

func TestOfficialQuoteIgnoredForBestBuy(t *testing.T) {
	// Only the authoritative quote exists: no commercial bank, no best rate.
	w := activeWatch()
	store := newFakeWatchStore(w)
	notifier := &fakeNotifier{}
	quotes := []storage.RateQuote{
		{BankCode: "cbu", CurrencyCode: "USD", OfficialRate: decPtr("99999"), Nominal: 1},
	}
	tracker := NewTracker(store, &fakeRateStore{quotes: quotes}, notifier, 5*time.Minute, zerolog.Nop())

	notified, err := tracker.Run(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, notified)
}

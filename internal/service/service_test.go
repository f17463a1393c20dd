package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"somwatcher/internal/alerts"
	"somwatcher/internal/detector"
	"somwatcher/internal/fetcher"
	"somwatcher/internal/metrics"
	"somwatcher/internal/rates"
	"somwatcher/internal/storage"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeFetcher struct {
	quotes []fetcher.OfficialQuote
	err    error
}

func (f *fakeFetcher) FetchOfficial(context.Context) ([]fetcher.OfficialQuote, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.quotes, nil
}

type fakeRateStore struct {
	snapshot     []storage.RateQuote
	history      []storage.RateHistoryPoint
	purgeCutoff  time.Time
	purged       int64
	replaceCalls int
}

func (f *fakeRateStore) ReplaceCurrentRates(_ context.Context, quotes []storage.RateQuote) error {
	f.snapshot = quotes
	f.replaceCalls++
	return nil
}

func (f *fakeRateStore) QueryCurrent(context.Context, string, string) ([]storage.RateQuote, error) {
	return f.snapshot, nil
}

func (f *fakeRateStore) AppendHistory(_ context.Context, points []storage.RateHistoryPoint) error {
	f.history = append(f.history, points...)
	return nil
}

func (f *fakeRateStore) ListHistory(context.Context, string, string, time.Time, time.Time) ([]storage.RateHistoryPoint, error) {
	return nil, nil
}

func (f *fakeRateStore) PurgeHistoryBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.purgeCutoff = cutoff
	return f.purged, nil
}

type fakeAlertStore struct{}

func (fakeAlertStore) ListPendingAlerts(context.Context) ([]storage.Alert, error) { return nil, nil }
func (fakeAlertStore) MarkAlertTriggered(context.Context, int64, time.Time, bool) error {
	return nil
}
func (fakeAlertStore) CreateAlert(context.Context, storage.Alert) (int64, error) { return 0, nil }
func (fakeAlertStore) DeleteAlert(context.Context, int64, int64) error           { return nil }

type fakeUserStore struct {
	bigChange []storage.UserPrefs
}

func (f *fakeUserStore) ListDailyDigestUsers(context.Context) ([]storage.UserPrefs, error) {
	return nil, nil
}

func (f *fakeUserStore) ListWeeklyReportUsers(context.Context) ([]storage.UserPrefs, error) {
	return nil, nil
}

func (f *fakeUserStore) ListBigChangeUsers(context.Context) ([]storage.UserPrefs, error) {
	return f.bigChange, nil
}

func (f *fakeUserStore) MarkDailySent(context.Context, int64, time.Time) error { return nil }

type fakeNotifier struct {
	sent   []string
	sentTo []int64
}

func (f *fakeNotifier) Send(_ context.Context, userID int64, text string) error {
	f.sent = append(f.sent, text)
	f.sentTo = append(f.sentTo, userID)
	return nil
}

type harness struct {
	svc      *Service
	fetch    *fakeFetcher
	store    *fakeRateStore
	notifier *fakeNotifier
	detect   *detector.BigChangeDetector
}

func newHarness(t *testing.T, bigChangeUsers ...int64) *harness {
	t.Helper()

	fetch := &fakeFetcher{}
	store := &fakeRateStore{}
	notifier := &fakeNotifier{}
	detect := detector.New(1.0, zerolog.Nop())

	users := make([]storage.UserPrefs, 0, len(bigChangeUsers))
	for _, id := range bigChangeUsers {
		users = append(users, storage.UserPrefs{UserID: id, IsActive: true, BigChangeNotify: true})
	}

	svc := New(Options{
		Fetcher:   fetch,
		Scraper:   fetcher.NopScraper{},
		Estimator: rates.NewEstimator(nil),
		RateStore: store,
		UserStore: &fakeUserStore{bigChange: users},
		Detector:  detect,
		Evaluator: alerts.NewEvaluator(fakeAlertStore{}, store, notifier, zerolog.Nop()),
		Notifier:  notifier,
		Metrics:   metrics.Registry("somwatcher_test"),
		AdminIDs:  []int64{1000},
		Retention: 90 * 24 * time.Hour,
	}, zerolog.Nop())

	return &harness{svc: svc, fetch: fetch, store: store, notifier: notifier, detect: detect}
}

func usdQuote(rate string) fetcher.OfficialQuote {
	return fetcher.OfficialQuote{
		CurrencyCode: "USD",
		CurrencyName: "US Dollar",
		Rate:         dec(rate),
		Nominal:      1,
		FetchedAt:    time.Now(),
	}
}

func TestCycleStoresSnapshotAndSeedsBaseline(t *testing.T) {
	h := newHarness(t, 7)
	h.fetch.quotes = []fetcher.OfficialQuote{usdQuote("12600")}

	require.NoError(t, h.svc.RunCycle(context.Background(), time.Now()))

	assert.NotEmpty(t, h.store.snapshot, "snapshot must be written")
	assert.Empty(t, h.notifier.sent, "first observation never fires a big change")
}

func TestBigChangeFiresAcrossCycles(t *testing.T) {
	h := newHarness(t, 7, 8)

	// 12600 -> 12700 is 0.79%, below the 1% threshold.
	h.fetch.quotes = []fetcher.OfficialQuote{usdQuote("12600")}
	require.NoError(t, h.svc.RunCycle(context.Background(), time.Now()))
	h.fetch.quotes = []fetcher.OfficialQuote{usdQuote("12700")}
	require.NoError(t, h.svc.RunCycle(context.Background(), time.Now()))
	assert.Empty(t, h.notifier.sent)

	// 12700 -> 12830 is 1.02%: both subscribers hear about it.
	h.fetch.quotes = []fetcher.OfficialQuote{usdQuote("12830")}
	require.NoError(t, h.svc.RunCycle(context.Background(), time.Now()))

	require.Len(t, h.notifier.sent, 2)
	assert.Equal(t, []int64{7, 8}, h.notifier.sentTo)
	assert.Contains(t, h.notifier.sent[0], "increased")
	assert.Contains(t, h.notifier.sent[0], "1.02")
}

func TestFetchFailureKeepsPreviousSnapshot(t *testing.T) {
	h := newHarness(t)

	h.fetch.quotes = []fetcher.OfficialQuote{usdQuote("12600")}
	require.NoError(t, h.svc.RunCycle(context.Background(), time.Now()))
	require.Equal(t, 1, h.store.replaceCalls)
	previous := h.store.snapshot

	h.fetch.err = errors.New("feed down")
	require.NoError(t, h.svc.RunCycle(context.Background(), time.Now()), "fetch failure is soft")

	assert.Equal(t, 1, h.store.replaceCalls, "failed cycle must not touch the snapshot")
	assert.Equal(t, previous, h.store.snapshot)
}

func TestAdminNoticeAfterConsecutiveFailures(t *testing.T) {
	h := newHarness(t)
	h.fetch.err = errors.New("feed down")

	for i := 0; i < adminNoticeAfter-1; i++ {
		require.NoError(t, h.svc.RunCycle(context.Background(), time.Now()))
	}
	assert.Empty(t, h.notifier.sent, "no notice before the failure threshold")

	require.NoError(t, h.svc.RunCycle(context.Background(), time.Now()))
	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, []int64{1000}, h.notifier.sentTo)

	// Further failures stay quiet until a success resets the counter.
	require.NoError(t, h.svc.RunCycle(context.Background(), time.Now()))
	assert.Len(t, h.notifier.sent, 1)

	h.fetch.err = nil
	h.fetch.quotes = []fetcher.OfficialQuote{usdQuote("12600")}
	require.NoError(t, h.svc.RunCycle(context.Background(), time.Now()))
	assert.Equal(t, 0, h.svc.consecutiveFailures)
}

func TestSaveHistoryCopiesSnapshot(t *testing.T) {
	h := newHarness(t)
	h.fetch.quotes = []fetcher.OfficialQuote{usdQuote("12600")}
	require.NoError(t, h.svc.RunCycle(context.Background(), time.Now()))

	recordedAt := time.Now()
	require.NoError(t, h.svc.SaveHistory(context.Background(), recordedAt))

	require.Len(t, h.store.history, len(h.store.snapshot))
	for _, p := range h.store.history {
		assert.True(t, p.RecordedAt.Equal(recordedAt))
	}
}

func TestSaveHistoryNoopOnEmptySnapshot(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.SaveHistory(context.Background(), time.Now()))
	assert.Empty(t, h.store.history)
}

func TestCleanupUsesRetentionHorizon(t *testing.T) {
	h := newHarness(t)
	h.store.purged = 42

	now := time.Now()
	require.NoError(t, h.svc.Cleanup(context.Background(), now))

	want := now.Add(-90 * 24 * time.Hour)
	assert.True(t, h.store.purgeCutoff.Equal(want), "cutoff = %v, want %v", h.store.purgeCutoff, want)
}

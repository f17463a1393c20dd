package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	deleteCurrentRatesSQL = `DELETE FROM current_rates;`

	insertCurrentRateSQL = `INSERT INTO current_rates (
        bank_code, currency_code, currency_name,
        official_rate, buy_rate, sell_rate,
        nominal, diff, fetched_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`

	queryCurrentRatesSQL = `SELECT
        bank_code, currency_code, currency_name,
        official_rate, buy_rate, sell_rate,
        nominal, diff, fetched_at
    FROM current_rates
    WHERE ($1 = '' OR bank_code = $1)
      AND ($2 = '' OR currency_code = $2)
    ORDER BY bank_code, currency_code;`

	insertHistoryPointSQL = `INSERT INTO rate_history (
        bank_code, currency_code, official_rate, buy_rate, sell_rate, recorded_at
    ) VALUES ($1,$2,$3,$4,$5,$6);`

	listHistorySQL = `SELECT
        bank_code, currency_code, official_rate, buy_rate, sell_rate, recorded_at
    FROM rate_history
    WHERE bank_code = $1
      AND currency_code = $2
      AND recorded_at >= $3
      AND recorded_at < $4
    ORDER BY recorded_at;`

	purgeHistorySQL = `DELETE FROM rate_history WHERE recorded_at < $1;`

	listPendingAlertsSQL = `SELECT
        id, user_id, bank_code, currency_code, threshold, direction, rate_type,
        is_active, is_triggered, is_repeating, last_triggered_at, created_at
    FROM alerts
    WHERE is_active = TRUE AND is_triggered = FALSE
    ORDER BY id;`

	markAlertTriggeredSQL = `UPDATE alerts
    SET is_triggered = $2, last_triggered_at = $3
    WHERE id = $1;`

	insertAlertSQL = `INSERT INTO alerts (
        user_id, bank_code, currency_code, threshold, direction, rate_type, is_repeating
    ) VALUES ($1,$2,$3,$4,$5,$6,$7)
    RETURNING id;`

	deleteAlertSQL = `DELETE FROM alerts WHERE id = $1 AND user_id = $2;`

	listActiveWatchesSQL = `SELECT
        id, user_id, currency_code, amount, target_increase,
        initial_best_rate, initial_best_bank,
        is_active, is_accepted, last_notified_at, created_at
    FROM smart_watches
    WHERE is_active = TRUE AND is_accepted = FALSE
    ORDER BY id;`

	markWatchNotifiedSQL = `UPDATE smart_watches
    SET last_notified_at = $2
    WHERE id = $1;`

	acceptWatchSQL = `UPDATE smart_watches
    SET is_accepted = TRUE, is_active = FALSE
    WHERE id = $1 AND user_id = $2;`

	deactivateWatchSQL = `UPDATE smart_watches
    SET is_active = FALSE
    WHERE id = $1 AND user_id = $2;`

	supersedeWatchesSQL = `UPDATE smart_watches
    SET is_active = FALSE
    WHERE user_id = $1 AND currency_code = $2 AND is_active = TRUE;`

	insertWatchSQL = `INSERT INTO smart_watches (
        user_id, currency_code, amount, target_increase,
        initial_best_rate, initial_best_bank
    ) VALUES ($1,$2,$3,$4,$5,$6)
    RETURNING id;`

	listDailyDigestUsersSQL = `SELECT
        id, is_active, daily_notify, daily_notify_time,
        weekly_report, big_change_notify, last_daily_sent
    FROM users
    WHERE is_active = TRUE AND daily_notify = TRUE;`

	listWeeklyReportUsersSQL = `SELECT
        id, is_active, daily_notify, daily_notify_time,
        weekly_report, big_change_notify, last_daily_sent
    FROM users
    WHERE is_active = TRUE AND weekly_report = TRUE;`

	listBigChangeUsersSQL = `SELECT
        id, is_active, daily_notify, daily_notify_time,
        weekly_report, big_change_notify, last_daily_sent
    FROM users
    WHERE is_active = TRUE AND big_change_notify = TRUE;`

	markDailySentSQL = `UPDATE users SET last_daily_sent = $2 WHERE id = $1;`
)

// RateStore defines snapshot and history persistence.
type RateStore interface {
	ReplaceCurrentRates(ctx context.Context, quotes []RateQuote) error
	QueryCurrent(ctx context.Context, bankCode, currencyCode string) ([]RateQuote, error)
	AppendHistory(ctx context.Context, points []RateHistoryPoint) error
	ListHistory(ctx context.Context, bankCode, currencyCode string, from, to time.Time) ([]RateHistoryPoint, error)
	PurgeHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AlertStore defines alert persistence and trigger-state mutation.
type AlertStore interface {
	ListPendingAlerts(ctx context.Context) ([]Alert, error)
	MarkAlertTriggered(ctx context.Context, id int64, triggeredAt time.Time, rearm bool) error
	CreateAlert(ctx context.Context, alert Alert) (int64, error)
	DeleteAlert(ctx context.Context, id, userID int64) error
}

// WatchStore defines smart-exchange watch persistence.
type WatchStore interface {
	ListActiveWatches(ctx context.Context) ([]SmartWatch, error)
	MarkWatchNotified(ctx context.Context, id int64, at time.Time) error
	AcceptWatch(ctx context.Context, id, userID int64) error
	DeactivateWatch(ctx context.Context, id, userID int64) error
	CreateWatch(ctx context.Context, watch SmartWatch) (int64, error)
}

// UserStore reads notification preferences owned by the messaging layer.
type UserStore interface {
	ListDailyDigestUsers(ctx context.Context) ([]UserPrefs, error)
	ListWeeklyReportUsers(ctx context.Context) ([]UserPrefs, error)
	ListBigChangeUsers(ctx context.Context) ([]UserPrefs, error)
	MarkDailySent(ctx context.Context, userID int64, at time.Time) error
}

// Store aggregates access to all persisted tables.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// ReplaceCurrentRates swaps the whole snapshot inside one transaction so a
// concurrent reader never sees a half-replaced table.
func (s *Store) ReplaceCurrentRates(ctx context.Context, quotes []RateQuote) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot replace: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, deleteCurrentRatesSQL); err != nil {
		return fmt.Errorf("clear current rates: %w", err)
	}

	batch := &pgx.Batch{}
	for _, q := range quotes {
		batch.Queue(insertCurrentRateSQL,
			q.BankCode,
			q.CurrencyCode,
			q.CurrencyName,
			decimalArg(q.OfficialRate),
			decimalArg(q.BuyRate),
			decimalArg(q.SellRate),
			q.Nominal,
			decimalArg(q.Diff),
			q.FetchedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert current rates: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot replace: %w", err)
	}
	return nil
}

// QueryCurrent reads the snapshot with optional bank/currency filters
// (empty string means no filter).
func (s *Store) QueryCurrent(ctx context.Context, bankCode, currencyCode string) ([]RateQuote, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, queryCurrentRatesSQL, bankCode, currencyCode)
	if queryErr != nil {
		return nil, fmt.Errorf("query current rates: %w", queryErr)
	}
	defer rows.Close()

	quotes := make([]RateQuote, 0)
	for rows.Next() {
		quote, scanErr := scanRateQuote(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		quotes = append(quotes, quote)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return quotes, nil
}

// AppendHistory inserts history points.
func (s *Store) AppendHistory(ctx context.Context, points []RateHistoryPoint) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(insertHistoryPointSQL,
			p.BankCode,
			p.CurrencyCode,
			decimalArg(p.OfficialRate),
			decimalArg(p.BuyRate),
			decimalArg(p.SellRate),
			p.RecordedAt,
		)
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// ListHistory lists one series within a time window.
func (s *Store) ListHistory(ctx context.Context, bankCode, currencyCode string, from, to time.Time) ([]RateHistoryPoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listHistorySQL, bankCode, currencyCode, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list history: %w", queryErr)
	}
	defer rows.Close()

	points := make([]RateHistoryPoint, 0)
	for rows.Next() {
		var (
			point    RateHistoryPoint
			official sql.NullString
			buy      sql.NullString
			sell     sql.NullString
		)
		if err := rows.Scan(
			&point.BankCode,
			&point.CurrencyCode,
			&official,
			&buy,
			&sell,
			&point.RecordedAt,
		); err != nil {
			return nil, err
		}
		if point.OfficialRate, err = nullDecimal(official); err != nil {
			return nil, fmt.Errorf("parse official rate: %w", err)
		}
		if point.BuyRate, err = nullDecimal(buy); err != nil {
			return nil, fmt.Errorf("parse buy rate: %w", err)
		}
		if point.SellRate, err = nullDecimal(sell); err != nil {
			return nil, fmt.Errorf("parse sell rate: %w", err)
		}
		points = append(points, point)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

// PurgeHistoryBefore deletes history rows older than the cutoff and reports
// how many were removed.
func (s *Store) PurgeHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, purgeHistorySQL, cutoff)
	if execErr != nil {
		return 0, fmt.Errorf("purge history: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// ListPendingAlerts returns active, not-yet-triggered alerts.
func (s *Store) ListPendingAlerts(ctx context.Context) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPendingAlertsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list pending alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]Alert, 0)
	for rows.Next() {
		var (
			alert       Alert
			threshold   string
			lastTrigger sql.NullTime
		)
		if err := rows.Scan(
			&alert.ID,
			&alert.UserID,
			&alert.BankCode,
			&alert.CurrencyCode,
			&threshold,
			&alert.Direction,
			&alert.RateType,
			&alert.IsActive,
			&alert.IsTriggered,
			&alert.IsRepeating,
			&lastTrigger,
			&alert.CreatedAt,
		); err != nil {
			return nil, err
		}
		parsed, convErr := decimal.NewFromString(threshold)
		if convErr != nil {
			return nil, fmt.Errorf("parse threshold: %w", convErr)
		}
		alert.Threshold = parsed
		if lastTrigger.Valid {
			t := lastTrigger.Time
			alert.LastTriggeredAt = &t
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// MarkAlertTriggered records a trigger. With rearm the alert stays armed
// (repeating alerts) while last_triggered_at still advances.
func (s *Store) MarkAlertTriggered(ctx context.Context, id int64, triggeredAt time.Time, rearm bool) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, markAlertTriggeredSQL, id, !rearm, triggeredAt)
	if execErr != nil {
		return fmt.Errorf("mark alert triggered: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// CreateAlert inserts a new alert and returns its id.
func (s *Store) CreateAlert(ctx context.Context, alert Alert) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var id int64
	if scanErr := pool.QueryRow(ctx, insertAlertSQL,
		alert.UserID,
		alert.BankCode,
		alert.CurrencyCode,
		alert.Threshold.String(),
		alert.Direction,
		alert.RateType,
		alert.IsRepeating,
	).Scan(&id); scanErr != nil {
		return 0, fmt.Errorf("create alert: %w", scanErr)
	}
	return id, nil
}

// DeleteAlert removes an alert owned by the given user.
func (s *Store) DeleteAlert(ctx context.Context, id, userID int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertSQL, id, userID); execErr != nil {
		return fmt.Errorf("delete alert: %w", execErr)
	}
	return nil
}

// ListActiveWatches returns active, not-yet-accepted smart watches.
func (s *Store) ListActiveWatches(ctx context.Context) ([]SmartWatch, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveWatchesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active watches: %w", queryErr)
	}
	defer rows.Close()

	watches := make([]SmartWatch, 0)
	for rows.Next() {
		var (
			watch        SmartWatch
			amount       string
			increase     string
			initialRate  string
			lastNotified sql.NullTime
		)
		if err := rows.Scan(
			&watch.ID,
			&watch.UserID,
			&watch.CurrencyCode,
			&amount,
			&increase,
			&initialRate,
			&watch.InitialBestBank,
			&watch.IsActive,
			&watch.IsAccepted,
			&lastNotified,
			&watch.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		if watch.Amount, convErr = decimal.NewFromString(amount); convErr != nil {
			return nil, fmt.Errorf("parse amount: %w", convErr)
		}
		if watch.TargetIncrease, convErr = decimal.NewFromString(increase); convErr != nil {
			return nil, fmt.Errorf("parse target increase: %w", convErr)
		}
		if watch.InitialBestRate, convErr = decimal.NewFromString(initialRate); convErr != nil {
			return nil, fmt.Errorf("parse initial best rate: %w", convErr)
		}
		if lastNotified.Valid {
			t := lastNotified.Time
			watch.LastNotifiedAt = &t
		}
		watches = append(watches, watch)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return watches, nil
}

// MarkWatchNotified stamps the cooldown timestamp.
func (s *Store) MarkWatchNotified(ctx context.Context, id int64, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, markWatchNotifiedSQL, id, at)
	if execErr != nil {
		return fmt.Errorf("mark watch notified: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// AcceptWatch terminates a watch via user acceptance.
func (s *Store) AcceptWatch(ctx context.Context, id, userID int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, acceptWatchSQL, id, userID)
	if execErr != nil {
		return fmt.Errorf("accept watch: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeactivateWatch cancels a watch without accepting it.
func (s *Store) DeactivateWatch(ctx context.Context, id, userID int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, deactivateWatchSQL, id, userID)
	if execErr != nil {
		return fmt.Errorf("deactivate watch: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// CreateWatch inserts a new watch, deactivating any previous active watch for
// the same user and currency in the same transaction.
func (s *Store) CreateWatch(ctx context.Context, watch SmartWatch) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin watch create: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, supersedeWatchesSQL, watch.UserID, watch.CurrencyCode); err != nil {
		return 0, fmt.Errorf("supersede watches: %w", err)
	}

	var id int64
	if err := tx.QueryRow(ctx, insertWatchSQL,
		watch.UserID,
		watch.CurrencyCode,
		watch.Amount.String(),
		watch.TargetIncrease.String(),
		watch.InitialBestRate.String(),
		watch.InitialBestBank,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("create watch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit watch create: %w", err)
	}
	return id, nil
}

// ListDailyDigestUsers returns active users who opted into the daily digest.
func (s *Store) ListDailyDigestUsers(ctx context.Context) ([]UserPrefs, error) {
	return s.listUsers(ctx, listDailyDigestUsersSQL)
}

// ListWeeklyReportUsers returns active users who opted into the weekly report.
func (s *Store) ListWeeklyReportUsers(ctx context.Context) ([]UserPrefs, error) {
	return s.listUsers(ctx, listWeeklyReportUsersSQL)
}

// ListBigChangeUsers returns active users who opted into big-change notices.
func (s *Store) ListBigChangeUsers(ctx context.Context) ([]UserPrefs, error) {
	return s.listUsers(ctx, listBigChangeUsersSQL)
}

func (s *Store) listUsers(ctx context.Context, query string) ([]UserPrefs, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query)
	if queryErr != nil {
		return nil, fmt.Errorf("list users: %w", queryErr)
	}
	defer rows.Close()

	users := make([]UserPrefs, 0)
	for rows.Next() {
		var (
			prefs     UserPrefs
			lastDaily sql.NullTime
		)
		if err := rows.Scan(
			&prefs.UserID,
			&prefs.IsActive,
			&prefs.DailyNotify,
			&prefs.DailyNotifyTime,
			&prefs.WeeklyReport,
			&prefs.BigChangeNotify,
			&lastDaily,
		); err != nil {
			return nil, err
		}
		if lastDaily.Valid {
			t := lastDaily.Time
			prefs.LastDailySent = &t
		}
		users = append(users, prefs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return users, nil
}

// MarkDailySent stamps the once-per-day guard.
func (s *Store) MarkDailySent(ctx context.Context, userID int64, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, markDailySentSQL, userID, at); execErr != nil {
		return fmt.Errorf("mark daily sent: %w", execErr)
	}
	return nil
}

func scanRateQuote(rows pgx.Rows) (RateQuote, error) {
	var (
		quote    RateQuote
		official sql.NullString
		buy      sql.NullString
		sell     sql.NullString
		diff     sql.NullString
	)

	if err := rows.Scan(
		&quote.BankCode,
		&quote.CurrencyCode,
		&quote.CurrencyName,
		&official,
		&buy,
		&sell,
		&quote.Nominal,
		&diff,
		&quote.FetchedAt,
	); err != nil {
		return RateQuote{}, err
	}

	var err error
	if quote.OfficialRate, err = nullDecimal(official); err != nil {
		return RateQuote{}, fmt.Errorf("parse official rate: %w", err)
	}
	if quote.BuyRate, err = nullDecimal(buy); err != nil {
		return RateQuote{}, fmt.Errorf("parse buy rate: %w", err)
	}
	if quote.SellRate, err = nullDecimal(sell); err != nil {
		return RateQuote{}, fmt.Errorf("parse sell rate: %w", err)
	}
	if quote.Diff, err = nullDecimal(diff); err != nil {
		return RateQuote{}, fmt.Errorf("parse diff: %w", err)
	}
	return quote, nil
}

func nullDecimal(v sql.NullString) (*decimal.Decimal, error) {
	if !v.Valid {
		return nil, nil
	}
	parsed, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func decimalArg(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

var (
	_ RateStore  = (*Store)(nil)
	_ AlertStore = (*Store)(nil)
	_ WatchStore = (*Store)(nil)
	_ UserStore  = (*Store)(nil)
)

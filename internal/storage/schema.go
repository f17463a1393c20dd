package storage

import (
	"context"
	"fmt"
)

// schemaDDL creates the five tables the core owns or reads. users belongs to
// the messaging layer; it is created here too so a fresh deployment works
// before the transport has registered anyone.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS users (
    id                BIGINT PRIMARY KEY,
    is_active         BOOLEAN NOT NULL DEFAULT TRUE,
    daily_notify      BOOLEAN NOT NULL DEFAULT FALSE,
    daily_notify_time VARCHAR(5) NOT NULL DEFAULT '09:00',
    weekly_report     BOOLEAN NOT NULL DEFAULT FALSE,
    big_change_notify BOOLEAN NOT NULL DEFAULT TRUE,
    last_daily_sent   TIMESTAMPTZ,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS current_rates (
    bank_code     VARCHAR(50) NOT NULL,
    currency_code VARCHAR(10) NOT NULL,
    currency_name VARCHAR(100) NOT NULL DEFAULT '',
    official_rate NUMERIC,
    buy_rate      NUMERIC,
    sell_rate     NUMERIC,
    nominal       INTEGER NOT NULL DEFAULT 1,
    diff          NUMERIC,
    fetched_at    TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (bank_code, currency_code)
);

CREATE TABLE IF NOT EXISTS rate_history (
    id            BIGSERIAL PRIMARY KEY,
    bank_code     VARCHAR(50) NOT NULL,
    currency_code VARCHAR(10) NOT NULL,
    official_rate NUMERIC,
    buy_rate      NUMERIC,
    sell_rate     NUMERIC,
    recorded_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rate_history_series
    ON rate_history (bank_code, currency_code, recorded_at);

CREATE TABLE IF NOT EXISTS alerts (
    id                BIGSERIAL PRIMARY KEY,
    user_id           BIGINT NOT NULL,
    bank_code         VARCHAR(50) NOT NULL,
    currency_code     VARCHAR(10) NOT NULL,
    threshold         NUMERIC NOT NULL,
    direction         VARCHAR(10) NOT NULL,
    rate_type         VARCHAR(10) NOT NULL DEFAULT 'buy',
    is_active         BOOLEAN NOT NULL DEFAULT TRUE,
    is_triggered      BOOLEAN NOT NULL DEFAULT FALSE,
    is_repeating      BOOLEAN NOT NULL DEFAULT FALSE,
    last_triggered_at TIMESTAMPTZ,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_alerts_pending
    ON alerts (is_active, is_triggered);

CREATE TABLE IF NOT EXISTS smart_watches (
    id                BIGSERIAL PRIMARY KEY,
    user_id           BIGINT NOT NULL,
    currency_code     VARCHAR(10) NOT NULL,
    amount            NUMERIC NOT NULL,
    target_increase   NUMERIC NOT NULL,
    initial_best_rate NUMERIC NOT NULL,
    initial_best_bank VARCHAR(50) NOT NULL DEFAULT '',
    is_active         BOOLEAN NOT NULL DEFAULT TRUE,
    is_accepted       BOOLEAN NOT NULL DEFAULT FALSE,
    last_notified_at  TIMESTAMPTZ,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_smart_watches_active
    ON smart_watches (is_active, is_accepted);
`

// EnsureSchema applies the embedded DDL. All statements are idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateQuote is one row of the current-rates snapshot for a bank and currency.
// The authoritative bank carries OfficialRate only; commercial banks carry
// BuyRate/SellRate only.
type RateQuote struct {
	BankCode     string
	CurrencyCode string
	CurrencyName string
	OfficialRate *decimal.Decimal
	BuyRate      *decimal.Decimal
	SellRate     *decimal.Decimal
	Nominal      int
	Diff         *decimal.Decimal
	FetchedAt    time.Time
}

// RateHistoryPoint is one append-only history observation.
type RateHistoryPoint struct {
	BankCode     string
	CurrencyCode string
	OfficialRate *decimal.Decimal
	BuyRate      *decimal.Decimal
	SellRate     *decimal.Decimal
	RecordedAt   time.Time
}

// Alert is a user-defined rate condition. BankCode stores either a concrete
// bank code or one of the best-rate sentinels ("best_high"/"best_low").
type Alert struct {
	ID              int64
	UserID          int64
	BankCode        string
	CurrencyCode    string
	Threshold       decimal.Decimal
	Direction       string
	RateType        string
	IsActive        bool
	IsTriggered     bool
	IsRepeating     bool
	LastTriggeredAt *time.Time
	CreatedAt       time.Time
}

// Alert direction and rate-type enums.
const (
	DirectionAbove = "above"
	DirectionBelow = "below"

	RateTypeBuy  = "buy"
	RateTypeSell = "sell"
)

// SmartWatch is a smart-exchange target-tracking watch.
type SmartWatch struct {
	ID              int64
	UserID          int64
	CurrencyCode    string
	Amount          decimal.Decimal
	TargetIncrease  decimal.Decimal
	InitialBestRate decimal.Decimal
	InitialBestBank string
	IsActive        bool
	IsAccepted      bool
	LastNotifiedAt  *time.Time
	CreatedAt       time.Time
}

// UserPrefs is the slice of the messaging layer's user profile the core
// reads: notification preferences plus the daily-send idempotency stamp.
type UserPrefs struct {
	UserID          int64
	IsActive        bool
	DailyNotify     bool
	DailyNotifyTime string
	WeeklyReport    bool
	BigChangeNotify bool
	LastDailySent   *time.Time
}

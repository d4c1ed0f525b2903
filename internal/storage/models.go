package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateSample is one persisted statistics observation for a currency: the
// dust-adjusted lowest book rate plus the rolling window it produced.
type RateSample struct {
	SampleTS   time.Time
	Currency   string
	LowestRate decimal.Decimal
	WindowLow  decimal.Decimal
	WindowAvg  decimal.Decimal
	WindowHigh decimal.Decimal
	CreatedAt  time.Time
}

// PlacedOffer records one loan offer the bot submitted (or would have
// submitted in dry-run mode), for auditing and the show command.
type PlacedOffer struct {
	ID           int64
	Currency     string
	Amount       decimal.Decimal
	Rate         decimal.Decimal
	DurationDays uint16
	OrderID      *int64
	DryRun       bool
	CreatedAt    time.Time
}

// Package strategy converts a live order book, rolling rate statistics, and
// per-currency policy into a concrete set of spread loan offers.
package strategy

import (
	"github.com/shopspring/decimal"
)

// RateDuration maps a daily-rate threshold to the loan duration it unlocks.
type RateDuration struct {
	Rate decimal.Decimal
	Days uint16
}

// Policy is the per-currency lending configuration the engine decides under.
// Validation happens at config load; the engine assumes a valid policy.
type Policy struct {
	// LowestOffersDustSkip is the cumulative amount a price level region
	// must carry before its rate counts as the first liquid rate.
	LowestOffersDustSkip decimal.Decimal
	// SpreadDustSkip is the cumulative amount between spread boundaries
	// below which levels are treated as economically negligible.
	SpreadDustSkip decimal.Decimal
	// MinRateStep is the smallest rate distance at which two offers are
	// considered distinct prices.
	MinRateStep decimal.Decimal

	OrdersToSpread int
	MinTotalOrders int
	MaxTotalOrders int

	MinDailyRate decimal.Decimal
	MaxDailyRate decimal.Decimal

	// DayThresholds is sorted by ascending rate; higher observed rates
	// unlock longer durations.
	DayThresholds []RateDuration

	AutoRenewWhenNotRunning bool
	StopLending             bool
}

// DefaultDurationDays applies when no threshold qualifies for a rate.
const DefaultDurationDays = 2

// DurationFor selects the longest duration whose rate threshold the chosen
// rate meets.
func (p Policy) DurationFor(rate decimal.Decimal) uint16 {
	days := uint16(DefaultDurationDays)
	for _, threshold := range p.DayThresholds {
		if threshold.Days > days && rate.GreaterThanOrEqual(threshold.Rate) {
			days = threshold.Days
		}
	}
	return days
}

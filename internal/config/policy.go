package config

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"polo-lending-bot/internal/strategy"
)

// RateDayThreshold is one row of the rate→duration table. The rate is given
// as a percentage to match the hand-edited settings file.
type RateDayThreshold struct {
	RatePercent string `mapstructure:"rate_percent"`
	Days        uint16 `mapstructure:"days"`
}

// CoinPolicy is the raw per-currency lending configuration as it appears in
// the settings file. All monetary values are strings so no precision is
// lost before they reach decimal arithmetic.
type CoinPolicy struct {
	LowestOffersDustSkipAmount string             `mapstructure:"lowest_offers_dust_skip_amount"`
	SpreadDustSkipAmount       string             `mapstructure:"spread_dust_skip_amount"`
	MinRateStep                string             `mapstructure:"min_rate_step"`
	OrdersToSpread             int                `mapstructure:"orders_to_spread"`
	MinTotalOrders             int                `mapstructure:"min_total_orders"`
	MaxTotalOrders             int                `mapstructure:"max_total_orders"`
	MinDailyRate               string             `mapstructure:"min_daily_rate"`
	MaxDailyRate               string             `mapstructure:"max_daily_rate"`
	RateDayThresholds          []RateDayThreshold `mapstructure:"rate_day_thresholds"`
	AutoRenewWhenNotRunning    bool               `mapstructure:"auto_renew_when_not_running"`
	StopLending                bool               `mapstructure:"stop_lending"`
}

// DefaultCoinPolicy carries the values written into a fresh settings
// template.
func DefaultCoinPolicy() CoinPolicy {
	return CoinPolicy{
		LowestOffersDustSkipAmount: "5",
		SpreadDustSkipAmount:       "5",
		MinRateStep:                "0.000001",
		OrdersToSpread:             6,
		MinTotalOrders:             30,
		MaxTotalOrders:             600,
		MinDailyRate:               "0.000030",
		MaxDailyRate:               "0.02",
		RateDayThresholds: []RateDayThreshold{
			{RatePercent: "0.07", Days: 3},
			{RatePercent: "0.09", Days: 4},
			{RatePercent: "0.11", Days: 5},
			{RatePercent: "0.15", Days: 7},
			{RatePercent: "0.3", Days: 15},
			{RatePercent: "0.45", Days: 30},
			{RatePercent: "0.6", Days: 60},
		},
		AutoRenewWhenNotRunning: true,
	}
}

// Parse validates the raw policy and materialises the strategy view. Every
// violation names the offending field so startup failures are diagnosable
// from the log alone.
func (p CoinPolicy) Parse() (strategy.Policy, error) {
	lowestDust, err := parseAmount("lowest_offers_dust_skip_amount", p.LowestOffersDustSkipAmount)
	if err != nil {
		return strategy.Policy{}, err
	}
	spreadDust, err := parseAmount("spread_dust_skip_amount", p.SpreadDustSkipAmount)
	if err != nil {
		return strategy.Policy{}, err
	}

	minRateStep, err := parseRate("min_rate_step", p.MinRateStep, "0.000001", "0.01")
	if err != nil {
		return strategy.Policy{}, err
	}
	minDaily, err := parseRate("min_daily_rate", p.MinDailyRate, "0.00003", "0.05")
	if err != nil {
		return strategy.Policy{}, err
	}
	maxDaily, err := parseRate("max_daily_rate", p.MaxDailyRate, "0.00003", "0.05")
	if err != nil {
		return strategy.Policy{}, err
	}
	if minDaily.GreaterThan(maxDaily) {
		return strategy.Policy{}, fmt.Errorf("min_daily_rate(%s) must not exceed max_daily_rate(%s)", minDaily, maxDaily)
	}

	if p.OrdersToSpread < 1 || p.OrdersToSpread > 50 {
		return strategy.Policy{}, fmt.Errorf("orders_to_spread(%d) valid range is [1, 50]", p.OrdersToSpread)
	}
	if p.MinTotalOrders < 1 || p.MinTotalOrders > 50000 {
		return strategy.Policy{}, fmt.Errorf("min_total_orders(%d) valid range is [1, 50000]", p.MinTotalOrders)
	}
	if p.MaxTotalOrders < 1 || p.MaxTotalOrders > 50000 {
		return strategy.Policy{}, fmt.Errorf("max_total_orders(%d) valid range is [1, 50000]", p.MaxTotalOrders)
	}
	if p.MinTotalOrders > p.MaxTotalOrders {
		return strategy.Policy{}, fmt.Errorf("min_total_orders(%d) must not exceed max_total_orders(%d)", p.MinTotalOrders, p.MaxTotalOrders)
	}

	thresholds, err := parseThresholds(p.RateDayThresholds)
	if err != nil {
		return strategy.Policy{}, err
	}

	return strategy.Policy{
		LowestOffersDustSkip:    lowestDust,
		SpreadDustSkip:          spreadDust,
		MinRateStep:             minRateStep,
		OrdersToSpread:          p.OrdersToSpread,
		MinTotalOrders:          p.MinTotalOrders,
		MaxTotalOrders:          p.MaxTotalOrders,
		MinDailyRate:            minDaily,
		MaxDailyRate:            maxDaily,
		DayThresholds:           thresholds,
		AutoRenewWhenNotRunning: p.AutoRenewWhenNotRunning,
		StopLending:             p.StopLending,
	}, nil
}

func parseAmount(field, raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s(%q): %w", field, raw, err)
	}
	if value.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%s(%s) cannot be negative", field, value)
	}
	return value, nil
}

func parseRate(field, raw, min, max string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s(%q): %w", field, raw, err)
	}
	low := decimal.RequireFromString(min)
	high := decimal.RequireFromString(max)
	if value.LessThan(low) || value.GreaterThan(high) {
		return decimal.Decimal{}, fmt.Errorf("%s(%s) valid range is [%s, %s]", field, value, min, max)
	}
	return value, nil
}

// parseThresholds converts the percentage table to daily fractional rates
// and enforces monotonicity: a higher rate key must never unlock a shorter
// duration.
func parseThresholds(raw []RateDayThreshold) ([]strategy.RateDuration, error) {
	hundred := decimal.NewFromInt(100)
	thresholds := make([]strategy.RateDuration, 0, len(raw))
	for _, row := range raw {
		percent, err := decimal.NewFromString(row.RatePercent)
		if err != nil {
			return nil, fmt.Errorf("rate_day_thresholds rate_percent(%q): %w", row.RatePercent, err)
		}
		if row.Days < 2 || row.Days > 60 {
			return nil, fmt.Errorf("rate_day_thresholds days(%d) valid range is [2, 60]", row.Days)
		}
		thresholds = append(thresholds, strategy.RateDuration{
			Rate: percent.Div(hundred),
			Days: row.Days,
		})
	}

	sort.Slice(thresholds, func(i, j int) bool {
		return thresholds[i].Rate.LessThan(thresholds[j].Rate)
	})
	for i := 1; i < len(thresholds); i++ {
		if thresholds[i].Days < thresholds[i-1].Days {
			return nil, fmt.Errorf("rate_day_thresholds not monotonic: rate %s unlocks %d days but lower rate %s unlocks %d",
				thresholds[i].Rate, thresholds[i].Days, thresholds[i-1].Rate, thresholds[i-1].Days)
		}
	}

	return thresholds, nil
}

// Policies parses every configured currency. Call after Validate, which
// already guarantees success.
func (c *Config) Policies() (map[string]strategy.Policy, error) {
	policies := make(map[string]strategy.Policy, len(c.Lending))
	for currency, raw := range c.Lending {
		policy, err := raw.Parse()
		if err != nil {
			return nil, fmt.Errorf("lending.%s: %w", currency, err)
		}
		policies[currency] = policy
	}
	return policies, nil
}

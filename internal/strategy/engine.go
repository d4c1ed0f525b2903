package strategy

import (
	"errors"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"polo-lending-bot/internal/exchange"
	"polo-lending-bot/internal/stats"
)

// ErrBalanceTooSmall reports that the available balance cannot be spread
// into even one order of the exchange minimum. Not a failure: callers log a
// warning and skip the currency for the cycle.
var ErrBalanceTooSmall = errors.New("balance too small to spread")

// PlannedOffer is one offer the engine decided to place.
type PlannedOffer struct {
	Amount       decimal.Decimal
	Rate         decimal.Decimal
	DurationDays uint16
}

// Params carry the exchange-level constants the engine works against,
// overridable for testing.
type Params struct {
	RateIncrement decimal.Decimal
	MinLendAmount decimal.Decimal
	AmountPlaces  int32
}

// DefaultParams mirror the live exchange contract.
func DefaultParams() Params {
	return Params{
		RateIncrement: exchange.RateIncrement,
		MinLendAmount: exchange.MinLendAmount,
		AmountPlaces:  8,
	}
}

// Engine computes spread offer plans. It holds no per-currency state; every
// Plan call works from the inputs alone.
type Engine struct {
	params Params
	logger zerolog.Logger
}

// NewEngine builds an Engine; zero-value params select the defaults.
func NewEngine(params Params, logger zerolog.Logger) *Engine {
	defaults := DefaultParams()
	if params.RateIncrement.IsZero() {
		params.RateIncrement = defaults.RateIncrement
	}
	if params.MinLendAmount.IsZero() {
		params.MinLendAmount = defaults.MinLendAmount
	}
	if params.AmountPlaces <= 0 {
		params.AmountPlaces = defaults.AmountPlaces
	}
	return &Engine{
		params: params,
		logger: logger.With().Str("component", "strategy_engine").Logger(),
	}
}

// Params returns the exchange parameters the engine plans under.
func (e *Engine) Params() Params { return e.params }

// LowestRateAboveDust walks the ascending offers and returns the first rate
// at which the cumulative amount clears the dust threshold, or false when
// the book is too shallow.
func LowestRateAboveDust(offers []exchange.OrderBookLevel, dustSkip decimal.Decimal) (decimal.Decimal, bool) {
	sum := decimal.Zero
	for _, level := range offers {
		sum = sum.Add(level.Amount)
		if sum.GreaterThanOrEqual(dustSkip) {
			return level.Rate, true
		}
	}
	return decimal.Decimal{}, false
}

// effectiveSummary substitutes the policy ceiling for a cold window, so a
// bot that has not warmed up yet never undercuts the configured maximum.
func effectiveSummary(summary stats.Summary, policy Policy) stats.Summary {
	if summary.Warm() {
		return summary
	}
	return stats.Summary{
		Low:     policy.MaxDailyRate,
		High:    policy.MaxDailyRate,
		Average: policy.MaxDailyRate,
	}
}

// StartingRate computes the rate the spread begins at: the lowest liquid
// book rate, clamped up to the policy floor and to the midpoint of the
// rolling window's low and average.
func (e *Engine) StartingRate(offers []exchange.OrderBookLevel, policy Policy, summary stats.Summary) decimal.Decimal {
	summary = effectiveSummary(summary, policy)

	rate, ok := LowestRateAboveDust(offers, policy.LowestOffersDustSkip)
	if !ok {
		rate = policy.MaxDailyRate.Add(e.params.RateIncrement)
	}

	if rate.LessThan(policy.MinDailyRate) {
		rate = policy.MinDailyRate
	}

	midpoint := summary.Low.Add(summary.Average).Div(decimal.NewFromInt(2))
	if rate.LessThan(midpoint) {
		rate = midpoint
	}

	return rate
}

// SpreadAmount derives the per-order amount for the available balance,
// adjusting the order count to honour the policy's total-order bounds given
// the loans already active. ErrBalanceTooSmall is returned when no count
// yields an amount above the exchange minimum.
func (e *Engine) SpreadAmount(balance decimal.Decimal, activeLoanCount int, policy Policy) (decimal.Decimal, error) {
	count := policy.OrdersToSpread

	if activeLoanCount+count < policy.MinTotalOrders {
		count = policy.MinTotalOrders
	}
	if activeLoanCount+count > policy.MaxTotalOrders {
		count = policy.MaxTotalOrders - activeLoanCount
	}

	for count > 0 && balance.Div(decimal.NewFromInt(int64(count))).LessThan(e.params.MinLendAmount) {
		count--
	}
	if count <= 0 {
		return decimal.Decimal{}, ErrBalanceTooSmall
	}

	return balance.Div(decimal.NewFromInt(int64(count))).RoundDown(e.params.AmountPlaces), nil
}

// Plan runs the ordered placement rules (ceiling shortcut, spread, top-off,
// remainder) and returns the offers to submit. The order book must already
// be depth-fetched and ascending.
func (e *Engine) Plan(balance decimal.Decimal, offers []exchange.OrderBookLevel, summary stats.Summary, activeLoanCount int, policy Policy) ([]PlannedOffer, error) {
	summary = effectiveSummary(summary, policy)
	starting := e.StartingRate(offers, policy, summary)

	if offer, done := e.ceilingShortcut(balance, offers, starting, policy); done {
		return []PlannedOffer{offer}, nil
	}

	spreadAmount, err := e.SpreadAmount(balance, activeLoanCount, policy)
	if err != nil {
		return nil, err
	}

	plan, remaining, lastRate := e.spread(balance, spreadAmount, offers, starting, policy)
	plan, remaining = e.topOff(plan, remaining, spreadAmount, offers, lastRate, summary, policy)
	plan = e.remainder(plan, remaining, policy)
	return plan, nil
}

// ceilingShortcut places the whole balance in a single offer when the
// starting rate already sits at or above the policy ceiling, or when the
// book is empty (a sole lender undercuts the ceiling by one increment to be
// first in the queue).
func (e *Engine) ceilingShortcut(balance decimal.Decimal, offers []exchange.OrderBookLevel, starting decimal.Decimal, policy Policy) (PlannedOffer, bool) {
	if starting.LessThan(policy.MaxDailyRate) && len(offers) > 0 {
		return PlannedOffer{}, false
	}

	rate := policy.MaxDailyRate
	if len(offers) == 0 || starting.Equal(policy.MaxDailyRate) {
		rate = policy.MaxDailyRate.Sub(e.params.RateIncrement)
	}
	return e.offer(balance, rate, policy), true
}

// spread walks the book from the starting rate upward, placing one offer
// per non-dust boundary until the order count or the balance is exhausted.
func (e *Engine) spread(balance, spreadAmount decimal.Decimal, offers []exchange.OrderBookLevel, starting decimal.Decimal, policy Policy) (plan []PlannedOffer, remaining, lastRate decimal.Decimal) {
	placed := 0
	sum := decimal.Zero
	previousRate := decimal.Zero
	halfDust := policy.SpreadDustSkip.Div(decimal.NewFromInt(2))

	for _, level := range offers {
		rate := level.Rate
		if rate.Sub(e.params.RateIncrement).Sub(previousRate).LessThan(policy.MinRateStep) {
			continue
		}

		sum = sum.Add(level.Amount)

		if sum.GreaterThan(policy.SpreadDustSkip) && rate.GreaterThanOrEqual(starting) && level.Amount.GreaterThan(halfDust) {
			amount := spreadAmount
			if rest := balance.Sub(amount); rest.IsNegative() || rest.LessThan(e.params.MinLendAmount) {
				amount = balance
			}
			previousRate = rate.Sub(e.params.RateIncrement)
			plan = append(plan, e.offer(amount, previousRate, policy))
			balance = balance.Sub(amount)
			placed++
			sum = decimal.Zero
		}

		if balance.IsZero() || placed >= policy.OrdersToSpread {
			break
		}
	}

	return plan, balance, previousRate
}

// topOff places one more offer just under the rolling window high when
// balance remains and the book has not reached that high yet.
func (e *Engine) topOff(plan []PlannedOffer, balance, spreadAmount decimal.Decimal, offers []exchange.OrderBookLevel, lastRate decimal.Decimal, summary stats.Summary, policy Policy) ([]PlannedOffer, decimal.Decimal) {
	if !balance.GreaterThan(e.params.MinLendAmount) || !lastRate.Add(e.params.RateIncrement).LessThan(summary.High) {
		return plan, balance
	}
	if len(offers) == 0 || !offers[len(offers)-1].Rate.LessThan(summary.High) {
		return plan, balance
	}

	amount := spreadAmount
	if rest := balance.Sub(amount); !rest.IsZero() && rest.LessThan(e.params.MinLendAmount) {
		amount = balance
	}
	plan = append(plan, e.offer(amount, summary.High.Sub(e.params.RateIncrement), policy))
	return plan, balance.Sub(amount)
}

// remainder sweeps whatever is left into one final offer at the ceiling.
func (e *Engine) remainder(plan []PlannedOffer, balance decimal.Decimal, policy Policy) []PlannedOffer {
	if balance.GreaterThan(e.params.MinLendAmount) {
		plan = append(plan, e.offer(balance, policy.MaxDailyRate, policy))
	}
	return plan
}

func (e *Engine) offer(amount, rate decimal.Decimal, policy Policy) PlannedOffer {
	return PlannedOffer{
		Amount:       amount,
		Rate:         rate,
		DurationDays: policy.DurationFor(rate),
	}
}

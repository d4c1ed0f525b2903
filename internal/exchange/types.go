package exchange

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// MinimumRateIncrement is the smallest daily-rate step the exchange accepts.
	MinimumRateIncrement = "0.000001"
	// MinimumLendAmount is the smallest amount the exchange allows in a loan offer.
	MinimumLendAmount = "0.01"

	// MinDurationDays and MaxDurationDays bound the accepted loan duration.
	MinDurationDays = 2
	MaxDurationDays = 60

	wireTimeLayout = "2006-01-02 15:04:05"
)

var (
	// RateIncrement is MinimumRateIncrement as a decimal, for arithmetic.
	RateIncrement = decimal.RequireFromString(MinimumRateIncrement)
	// MinLendAmount is MinimumLendAmount as a decimal.
	MinLendAmount = decimal.RequireFromString(MinimumLendAmount)
)

// ActiveLoan is a loan currently held by a borrower and earning interest.
type ActiveLoan struct {
	ID           uint64
	Currency     string
	Amount       decimal.Decimal
	Rate         decimal.Decimal
	DurationDays uint16
	AutoRenew    bool
	StartTime    time.Time
	Fees         decimal.Decimal
}

// LoanOffer is an open, not-yet-matched lending offer on the exchange.
type LoanOffer struct {
	ID           uint64
	Currency     string
	Amount       decimal.Decimal
	Rate         decimal.Decimal
	DurationDays uint16
	AutoRenew    bool
	PlacedAt     time.Time
}

// OrderBookLevel is one price level of the public loan order book.
type OrderBookLevel struct {
	Rate            decimal.Decimal
	Amount          decimal.Decimal
	MinDurationDays uint16
	MaxDurationDays uint16
}

// OrderBook holds both sides of the loan order book for one currency.
// Offers are sorted by ascending rate; duplicate rates legally coexist.
type OrderBook struct {
	Offers  []OrderBookLevel
	Demands []OrderBookLevel
}

// CreateOfferResult reports a successful createLoanOffer call.
type CreateOfferResult struct {
	OrderID uint64
	Message string
}

type wireLoan struct {
	ID        uint64      `json:"id"`
	Currency  string      `json:"currency"`
	Amount    string      `json:"amount"`
	Rate      string      `json:"rate"`
	Duration  uint16      `json:"duration"`
	AutoRenew json.Number `json:"autoRenew"`
	Date      string      `json:"date"`
	Fees      string      `json:"fees"`
}

func (w wireLoan) activeLoan() (ActiveLoan, error) {
	amount, err := decimal.NewFromString(w.Amount)
	if err != nil {
		return ActiveLoan{}, fmt.Errorf("parse loan amount: %w", err)
	}
	rate, err := decimal.NewFromString(w.Rate)
	if err != nil {
		return ActiveLoan{}, fmt.Errorf("parse loan rate: %w", err)
	}
	fees := decimal.Zero
	if w.Fees != "" {
		fees, err = decimal.NewFromString(w.Fees)
		if err != nil {
			return ActiveLoan{}, fmt.Errorf("parse loan fees: %w", err)
		}
	}
	start, err := time.Parse(wireTimeLayout, w.Date)
	if err != nil {
		return ActiveLoan{}, fmt.Errorf("parse loan date: %w", err)
	}

	return ActiveLoan{
		ID:           w.ID,
		Currency:     w.Currency,
		Amount:       amount,
		Rate:         rate,
		DurationDays: w.Duration,
		AutoRenew:    w.AutoRenew.String() == "1",
		StartTime:    start,
		Fees:         fees,
	}, nil
}

func (w wireLoan) loanOffer(currency string) (LoanOffer, error) {
	loan, err := w.activeLoan()
	if err != nil {
		return LoanOffer{}, err
	}
	return LoanOffer{
		ID:           loan.ID,
		Currency:     currency,
		Amount:       loan.Amount,
		Rate:         loan.Rate,
		DurationDays: loan.DurationDays,
		AutoRenew:    loan.AutoRenew,
		PlacedAt:     loan.StartTime,
	}, nil
}

type wireBookLevel struct {
	Rate     string `json:"rate"`
	Amount   string `json:"amount"`
	RangeMin uint16 `json:"rangeMin"`
	RangeMax uint16 `json:"rangeMax"`
}

func (w wireBookLevel) level() (OrderBookLevel, error) {
	rate, err := decimal.NewFromString(w.Rate)
	if err != nil {
		return OrderBookLevel{}, fmt.Errorf("parse level rate: %w", err)
	}
	amount, err := decimal.NewFromString(w.Amount)
	if err != nil {
		return OrderBookLevel{}, fmt.Errorf("parse level amount: %w", err)
	}
	return OrderBookLevel{
		Rate:            rate,
		Amount:          amount,
		MinDurationDays: w.RangeMin,
		MaxDurationDays: w.RangeMax,
	}, nil
}

func parseLevels(raw []wireBookLevel) ([]OrderBookLevel, error) {
	levels := make([]OrderBookLevel, 0, len(raw))
	for _, entry := range raw {
		level, err := entry.level()
		if err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}
	sort.SliceStable(levels, func(i, j int) bool {
		return levels[i].Rate.LessThan(levels[j].Rate)
	})
	return levels, nil
}

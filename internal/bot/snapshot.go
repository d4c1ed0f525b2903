package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"polo-lending-bot/internal/exchange"
)

// Aggregate accumulates lent amounts per currency. RateSum is amount
// weighted; divide by Amount for the effective rate.
type Aggregate struct {
	Amount  decimal.Decimal
	RateSum decimal.Decimal
	Fees    decimal.Decimal
}

// Rate returns the amount-weighted effective daily rate.
func (a Aggregate) Rate() decimal.Decimal {
	if a.Amount.IsZero() {
		return decimal.Zero
	}
	return a.RateSum.Div(a.Amount)
}

// Snapshot is the bot's view of the lending account: what is lent, what is
// lent or lendable, and the raw active loans per currency.
type Snapshot struct {
	Lent            map[string]Aggregate
	LentAndLendable map[string]Aggregate
	ActiveLoans     map[string][]exchange.ActiveLoan
}

func newSnapshot() Snapshot {
	return Snapshot{
		Lent:            make(map[string]Aggregate),
		LentAndLendable: make(map[string]Aggregate),
		ActiveLoans:     make(map[string][]exchange.ActiveLoan),
	}
}

// RefreshSnapshot rebuilds the aggregates from the lending balances, the
// open offers, and the active loans. Zero-amount currencies are pruned so
// status output stays readable.
func (b *Bot) RefreshSnapshot(ctx context.Context) error {
	balances, err := b.api.LendingBalances(ctx)
	if err != nil {
		return fmt.Errorf("fetch lending balances: %w", err)
	}
	offers, err := b.api.OpenLoanOffers(ctx)
	if err != nil {
		return fmt.Errorf("fetch open loan offers: %w", err)
	}
	loans, err := b.api.ActiveLoans(ctx)
	if err != nil {
		return fmt.Errorf("fetch active loans: %w", err)
	}

	next := newSnapshot()
	next.ActiveLoans = loans

	for currency, amount := range balances {
		agg := next.LentAndLendable[currency]
		agg.Amount = agg.Amount.Add(amount)
		next.LentAndLendable[currency] = agg
	}

	for currency, currencyOffers := range offers {
		for _, offer := range currencyOffers {
			agg := next.LentAndLendable[currency]
			agg.Amount = agg.Amount.Add(offer.Amount)
			next.LentAndLendable[currency] = agg
		}
	}

	for currency, currencyLoans := range loans {
		for _, loan := range currencyLoans {
			weighted := loan.Rate.Mul(loan.Amount)

			lent := next.Lent[currency]
			lent.Amount = lent.Amount.Add(loan.Amount)
			lent.RateSum = lent.RateSum.Add(weighted)
			lent.Fees = lent.Fees.Add(loan.Fees)
			next.Lent[currency] = lent

			agg := next.LentAndLendable[currency]
			agg.Amount = agg.Amount.Add(loan.Amount)
			agg.RateSum = agg.RateSum.Add(weighted)
			next.LentAndLendable[currency] = agg
		}
	}

	for currency, agg := range next.Lent {
		if agg.Amount.IsZero() {
			delete(next.Lent, currency)
		}
	}
	for currency, agg := range next.LentAndLendable {
		if agg.Amount.IsZero() {
			delete(next.LentAndLendable, currency)
		}
	}

	b.snapshot = next
	return nil
}

// Snapshot returns the most recent aggregate view.
func (b *Bot) Snapshot() Snapshot { return b.snapshot }

// LentStatus renders the "Lent:" one-liner with per-currency amounts and
// effective rates.
func (s Snapshot) LentStatus() string {
	return renderStatus("Lent: ", s.Lent)
}

// TotalStatus renders the lent-plus-lendable one-liner.
func (s Snapshot) TotalStatus() string {
	return renderStatus("Total: ", s.LentAndLendable)
}

func renderStatus(prefix string, aggregates map[string]Aggregate) string {
	currencies := make([]string, 0, len(aggregates))
	for currency := range aggregates {
		currencies = append(currencies, currency)
	}
	sort.Strings(currencies)

	builder := strings.Builder{}
	builder.WriteString(prefix)
	hundred := decimal.NewFromInt(100)
	for _, currency := range currencies {
		agg := aggregates[currency]
		builder.WriteString("[" + agg.Amount.StringFixed(4) + " " + currency)
		if agg.Amount.IsPositive() && !agg.RateSum.IsZero() {
			builder.WriteString(" @ " + agg.Rate().Mul(hundred).StringFixed(4) + "%")
		}
		builder.WriteString("] ")
	}
	return strings.TrimRight(builder.String(), " ")
}

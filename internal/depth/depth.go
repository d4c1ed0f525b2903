// Package depth fetches the offer side of the loan order book with an
// adaptive page size, requesting just enough levels to cover the configured
// spread without over-fetching every cycle.
package depth

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"polo-lending-bot/internal/exchange"
)

const (
	// DefaultLimit seeds the per-currency page size.
	DefaultLimit = 100
	// MinLimit is the floor the page size shrinks toward when depth was
	// wasteful.
	MinLimit = 50
	// MaxLimit caps the page size growth to bound API load.
	MaxLimit = 1500

	shrinkStep = 2
	growStep   = 20
)

// BookSource supplies the raw order book, normally the exchange client.
type BookSource interface {
	LoanOrders(ctx context.Context, currency string, limit int) (exchange.OrderBook, error)
}

// SpreadProfile carries the per-currency knobs the cover calculation needs.
type SpreadProfile struct {
	LowestOffersDustSkip decimal.Decimal
	SpreadDustSkip       decimal.Decimal
	OrdersToSpread       int
}

// Fetcher owns the per-currency floating limits. Limits live only in memory
// and re-tune on every call.
type Fetcher struct {
	source BookSource
	limits map[string]int
	logger zerolog.Logger
}

// NewFetcher wires a Fetcher to its book source.
func NewFetcher(source BookSource, logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		source: source,
		limits: make(map[string]int),
		logger: logger.With().Str("component", "depth_fetcher").Logger(),
	}
}

// Limit reports the current floating limit for a currency.
func (f *Fetcher) Limit(currency string) int {
	if limit, ok := f.limits[currency]; ok {
		return limit
	}
	return DefaultLimit
}

// Fetch returns the ascending offer side, deep enough to cover the profile's
// spread when the book allows it. The per-currency limit converges toward
// the minimum sufficient depth: it shrinks when the cover position sits in
// the first half of the page, and grows (with refetches) while the page was
// fully consumed without reaching cover, up to MaxLimit.
func (f *Fetcher) Fetch(ctx context.Context, currency string, profile SpreadProfile) ([]exchange.OrderBookLevel, error) {
	limit := f.Limit(currency)

	book, err := f.source.LoanOrders(ctx, currency, limit)
	if err != nil {
		return nil, err
	}

	pos, found := CoverPosition(book.Offers, profile)

	if found && pos < limit/2 {
		if limit > MinLimit {
			limit -= shrinkStep
		}
	} else {
		for !found && len(book.Offers) == limit {
			if limit >= MaxLimit {
				break
			}
			limit += growStep

			book, err = f.source.LoanOrders(ctx, currency, limit)
			if err != nil {
				return nil, err
			}
			pos, found = CoverPosition(book.Offers, profile)
		}
	}

	f.limits[currency] = limit
	f.logger.Debug().Str("currency", currency).Int("limit", limit).Int("levels", len(book.Offers)).Msg("order book depth fetched")
	return book.Offers, nil
}

// CoverPosition walks the ascending offers and returns the 1-based position
// at which the Nth non-dust spread boundary is reached. The first boundary
// clears the lowest-offers dust threshold, every later one the spread dust
// threshold. found is false when the given depth cannot cover the spread.
func CoverPosition(offers []exchange.OrderBookLevel, profile SpreadProfile) (pos int, found bool) {
	spreadCount := 0
	sum := decimal.Zero

	for i, level := range offers {
		sum = sum.Add(level.Amount)
		if spreadCount == 0 && sum.GreaterThanOrEqual(profile.LowestOffersDustSkip) {
			spreadCount++
			sum = decimal.Zero
		} else if spreadCount != 0 && sum.GreaterThanOrEqual(profile.SpreadDustSkip) {
			spreadCount++
			sum = decimal.Zero
		}
		if spreadCount >= profile.OrdersToSpread {
			return i + 1, true
		}
	}
	return 0, false
}

package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"polo-lending-bot/internal/depth"
	"polo-lending-bot/internal/stats"
	"polo-lending-bot/internal/strategy"
)

// Plan fetches the live public order book and prints the spread the bot
// would place for a hypothetical balance, submitting nothing. Statistics
// are cold, so the window substitutes the policy ceiling exactly as a
// freshly started bot would.
func (a *App) Plan(ctx context.Context, opts PlanOptions) error {
	if opts.Currency == "" {
		return errors.New("--currency is required")
	}

	balance, err := decimal.NewFromString(opts.Balance)
	if err != nil {
		return fmt.Errorf("parse balance %q: %w", opts.Balance, err)
	}
	if !balance.IsPositive() {
		return errors.New("balance must be positive")
	}

	policies, err := a.Config.Policies()
	if err != nil {
		return err
	}
	policy, ok := policies[opts.Currency]
	if !ok {
		return fmt.Errorf("no lending policy configured for %s", opts.Currency)
	}

	client := a.newPublicClient()
	books := depth.NewFetcher(client, a.Logger)

	book, err := books.Fetch(ctx, opts.Currency, depth.SpreadProfile{
		LowestOffersDustSkip: policy.LowestOffersDustSkip,
		SpreadDustSkip:       policy.SpreadDustSkip,
		OrdersToSpread:       policy.OrdersToSpread,
	})
	if err != nil {
		return err
	}

	engine := strategy.NewEngine(strategy.DefaultParams(), a.Logger)
	tracker := stats.NewTracker(stats.DefaultWindowCapacity)

	plan, err := engine.Plan(balance, book, tracker.Summary(opts.Currency), 0, policy)
	if err != nil {
		if errors.Is(err, strategy.ErrBalanceTooSmall) {
			fmt.Fprintln(os.Stdout, "balance too small to spread")
			return nil
		}
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Amount\tRate\tDays")
	total := decimal.Zero
	for _, offer := range plan {
		total = total.Add(offer.Amount)
		fmt.Fprintf(writer, "%s\t%s\t%d\n", offer.Amount.StringFixed(8), offer.Rate.StringFixed(6), offer.DurationDays)
	}
	writer.Flush()
	fmt.Fprintf(os.Stdout, "\n%d offers, %s %s total\n", len(plan), total.StringFixed(8), opts.Currency)
	return nil
}

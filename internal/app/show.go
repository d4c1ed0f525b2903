package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Show prints recent rate samples for one currency, followed by the most
// recently placed offers.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	if opts.Currency == "" {
		return errors.New("--currency is required")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show samples")
	}
	if closeStore != nil {
		defer closeStore()
	}

	samples, err := store.ListRecentSamples(ctx, opts.Currency, opts.Limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(os.Stdout, "no samples found")
	} else {
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Time (UTC)\tCurrency\tLowest\tLow\tAvg\tHigh")
		for _, sample := range samples {
			fmt.Fprintf(
				writer,
				"%s\t%s\t%s\t%s\t%s\t%s\n",
				sample.SampleTS.UTC().Format(time.RFC3339),
				sample.Currency,
				formatDecimal(sample.LowestRate, 6),
				formatDecimal(sample.WindowLow, 6),
				formatDecimal(sample.WindowAvg, 6),
				formatDecimal(sample.WindowHigh, 6),
			)
		}
		writer.Flush()
	}

	offers, err := store.ListRecentOffers(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(offers) == 0 {
		return nil
	}

	fmt.Fprintln(os.Stdout)
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Placed (UTC)\tCurrency\tAmount\tRate\tDays\tOrder\tDryRun")
	for _, offer := range offers {
		orderID := "-"
		if offer.OrderID != nil {
			orderID = fmt.Sprintf("%d", *offer.OrderID)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%d\t%s\t%t\n",
			offer.CreatedAt.UTC().Format(time.RFC3339),
			offer.Currency,
			formatDecimal(offer.Amount, 8),
			formatDecimal(offer.Rate, 6),
			offer.DurationDays,
			orderID,
			offer.DryRun,
		)
	}
	writer.Flush()
	return nil
}

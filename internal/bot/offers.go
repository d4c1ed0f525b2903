package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"polo-lending-bot/internal/alerting"
	"polo-lending-bot/internal/depth"
	"polo-lending-bot/internal/exchange"
	"polo-lending-bot/internal/stats"
	"polo-lending-bot/internal/storage"
	"polo-lending-bot/internal/strategy"
)

func spreadProfile(policy strategy.Policy) depth.SpreadProfile {
	return depth.SpreadProfile{
		LowestOffersDustSkip: policy.LowestOffersDustSkip,
		SpreadDustSkip:       policy.SpreadDustSkip,
		OrdersToSpread:       policy.OrdersToSpread,
	}
}

func (b *Bot) sortedPolicyCurrencies() []string {
	currencies := make([]string, 0, len(b.policies))
	for currency := range b.policies {
		currencies = append(currencies, currency)
	}
	sort.Strings(currencies)
	return currencies
}

// SampleStats observes one dust-adjusted lowest offer rate per configured
// currency and feeds it into the rolling window.
func (b *Bot) SampleStats(ctx context.Context) error {
	line := strings.Builder{}
	hundred := decimal.NewFromInt(100)

	for _, currency := range b.sortedPolicyCurrencies() {
		policy := b.policies[currency]

		book, err := b.books.Fetch(ctx, currency, spreadProfile(policy))
		if err != nil {
			return fmt.Errorf("fetch %s order book: %w", currency, err)
		}

		lowest, found := strategy.LowestRateAboveDust(book, policy.LowestOffersDustSkip)
		if !found {
			lowest = policy.MaxDailyRate
		}

		summary := b.tracker.Observe(currency, lowest)
		line.WriteString(fmt.Sprintf("[%s(low:%s%% dust:%s%% avg:%s%% high:%s%%)] ",
			currency,
			summary.Low.Mul(hundred).StringFixed(4),
			lowest.Mul(hundred).StringFixed(4),
			summary.Average.Mul(hundred).StringFixed(4),
			summary.High.Mul(hundred).StringFixed(4),
		))

		b.persistSample(ctx, currency, lowest, summary)
	}

	b.logger.Info().Msg(strings.TrimRight(line.String(), " "))
	return nil
}

func (b *Bot) persistSample(ctx context.Context, currency string, lowest decimal.Decimal, summary stats.Summary) {
	if b.samples == nil {
		return
	}

	sample := storage.RateSample{
		SampleTS:   b.clock.Now().UTC(),
		Currency:   currency,
		LowestRate: lowest,
		WindowLow:  summary.Low,
		WindowAvg:  summary.Average,
		WindowHigh: summary.High,
	}
	if err := b.samples.UpsertRateSample(ctx, sample); err != nil {
		b.logger.Error().Err(err).Str("currency", currency).Msg("failed to persist rate sample")
	}
}

// CancelOpenOffers cancels every open offer, or only one currency's when
// currency is non-empty. Offers that vanish before the cancel lands are
// not failures. Dry-run logs the intended cancels without submitting.
func (b *Bot) CancelOpenOffers(ctx context.Context, currency string) error {
	offers, err := b.api.OpenLoanOffers(ctx)
	if err != nil {
		return fmt.Errorf("fetch open loan offers: %w", err)
	}

	for offerCurrency, currencyOffers := range offers {
		if currency != "" && currency != offerCurrency {
			continue
		}
		for _, offer := range currencyOffers {
			logEvent := b.logger.Info().
				Str("currency", offerCurrency).
				Uint64("order_id", offer.ID).
				Str("amount", offer.Amount.String())

			if b.dryRun {
				logEvent.Msg("dry-run: would cancel loan offer")
				continue
			}

			if err := b.api.CancelLoanOffer(ctx, offer.ID); err != nil {
				if errors.Is(err, exchange.ErrOfferGone) {
					b.logger.Debug().
						Str("currency", offerCurrency).
						Uint64("order_id", offer.ID).
						Msg("loan offer already gone")
					continue
				}
				return fmt.Errorf("cancel %s offer %d: %w", offerCurrency, offer.ID, err)
			}
			logEvent.Msg("canceled loan offer")
		}
	}
	return nil
}

// createSpreadOffers plans and submits the spread for one currency's
// available balance, reporting the submitted offers.
func (b *Bot) createSpreadOffers(ctx context.Context, currency string, balance decimal.Decimal) ([]alerting.OfferLine, error) {
	policy := b.policies[currency]

	book, err := b.books.Fetch(ctx, currency, spreadProfile(policy))
	if err != nil {
		return nil, fmt.Errorf("fetch %s order book: %w", currency, err)
	}

	summary := b.tracker.Summary(currency)
	activeCount := len(b.snapshot.ActiveLoans[currency])

	plan, err := b.engine.Plan(balance, book, summary, activeCount, policy)
	if err != nil {
		if errors.Is(err, strategy.ErrBalanceTooSmall) {
			b.logger.Warn().
				Str("currency", currency).
				Str("balance", balance.String()).
				Msg("balance too small to spread; skipping currency this cycle")
			return nil, nil
		}
		return nil, fmt.Errorf("plan %s offers: %w", currency, err)
	}

	placed := make([]alerting.OfferLine, 0, len(plan))
	for _, offer := range plan {
		if err := b.submitOffer(ctx, currency, offer); err != nil {
			return placed, err
		}
		placed = append(placed, alerting.OfferLine{
			Amount:       offer.Amount,
			Rate:         offer.Rate,
			DurationDays: offer.DurationDays,
		})
	}
	return placed, nil
}

func (b *Bot) submitOffer(ctx context.Context, currency string, offer strategy.PlannedOffer) error {
	record := storage.PlacedOffer{
		Currency:     currency,
		Amount:       offer.Amount,
		Rate:         offer.Rate,
		DurationDays: offer.DurationDays,
		DryRun:       b.dryRun,
	}

	logEvent := b.logger.Info().
		Str("currency", currency).
		Str("amount", offer.Amount.String()).
		Str("rate", offer.Rate.StringFixed(6)).
		Uint16("duration_days", offer.DurationDays)

	if b.dryRun {
		logEvent.Msg("dry-run: would create loan offer")
	} else {
		result, err := b.api.CreateLoanOffer(ctx, currency, offer.Amount, offer.DurationDays, false, offer.Rate)
		if err != nil {
			return fmt.Errorf("create %s offer: %w", currency, err)
		}
		orderID := int64(result.OrderID)
		record.OrderID = &orderID
		logEvent.Uint64("order_id", result.OrderID).Str("message", result.Message).Msg("created loan offer")
	}

	if b.offers != nil {
		if _, err := b.offers.InsertPlacedOffer(ctx, record); err != nil {
			b.logger.Error().Err(err).Str("currency", currency).Msg("failed to persist placed offer")
		}
	}
	return nil
}

// reoffer cancels the standing spread and rebuilds it from the current
// balances, then refreshes the aggregate snapshot and dispatches cycle
// reports.
func (b *Bot) reoffer(ctx context.Context) error {
	if err := b.CancelOpenOffers(ctx, ""); err != nil {
		return err
	}

	balances, err := b.api.LendingBalances(ctx)
	if err != nil {
		return fmt.Errorf("fetch lending balances: %w", err)
	}

	currencies := make([]string, 0, len(balances))
	for currency := range balances {
		currencies = append(currencies, currency)
	}
	sort.Strings(currencies)

	placedByCurrency := make(map[string][]alerting.OfferLine)
	for _, currency := range currencies {
		policy, configured := b.policies[currency]
		if !configured {
			b.logger.Debug().Str("currency", currency).Msg("no lending policy; leaving balance untouched")
			continue
		}
		if policy.StopLending {
			continue
		}

		balance := balances[currency]
		if balance.LessThan(b.engine.Params().MinLendAmount) {
			continue
		}

		placed, err := b.createSpreadOffers(ctx, currency, balance)
		if err != nil {
			return err
		}
		if len(placed) > 0 {
			placedByCurrency[currency] = placed
		}
	}

	if err := b.RefreshSnapshot(ctx); err != nil {
		return err
	}

	b.notifyCycle(ctx, placedByCurrency)
	return nil
}

func (b *Bot) notifyCycle(ctx context.Context, placed map[string][]alerting.OfferLine) {
	if b.notifier == nil || len(placed) == 0 {
		return
	}

	for currency, offers := range placed {
		lent := b.snapshot.Lent[currency]
		total := b.snapshot.LentAndLendable[currency]
		report := alerting.CycleReport{
			At:          b.clock.Now().UTC(),
			Currency:    currency,
			Lent:        lent.Amount,
			Total:       total.Amount,
			AverageRate: lent.Rate(),
			Offers:      offers,
			DryRun:      b.dryRun,
		}
		if err := b.notifier.Notify(ctx, report); err != nil {
			b.logger.Error().Err(err).Str("currency", currency).Msg("failed to dispatch cycle report")
		}
	}
}

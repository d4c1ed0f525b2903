// Package bot drives the lending loop: warm-up statistics gathering, the
// steady-state sample/reoffer cadence, and the auto-renew handover on
// startup and shutdown.
package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"polo-lending-bot/internal/alerting"
	"polo-lending-bot/internal/config"
	"polo-lending-bot/internal/depth"
	"polo-lending-bot/internal/exchange"
	"polo-lending-bot/internal/stats"
	"polo-lending-bot/internal/storage"
	"polo-lending-bot/internal/strategy"
)

// errCooldown paces retries after a failed steady-state iteration.
const errCooldown = 10 * time.Second

// shutdownGrace bounds the best-effort auto-renew restore on exit.
const shutdownGrace = 2 * time.Minute

// ExchangeAPI is the slice of the exchange client the bot drives. The
// public order book is consumed through the depth fetcher instead.
type ExchangeAPI interface {
	CreateLoanOffer(ctx context.Context, currency string, amount decimal.Decimal, durationDays uint16, autoRenew bool, rate decimal.Decimal) (exchange.CreateOfferResult, error)
	CancelLoanOffer(ctx context.Context, orderID uint64) error
	ToggleAutoRenew(ctx context.Context, loanID uint64) error
	ActiveLoans(ctx context.Context) (map[string][]exchange.ActiveLoan, error)
	OpenLoanOffers(ctx context.Context) (map[string][]exchange.LoanOffer, error)
	LendingBalances(ctx context.Context) (map[string]decimal.Decimal, error)
}

// Options wires the bot's collaborators. Samples, Offers, Notifier, and
// Watcher are optional; Clock defaults to the system clock.
type Options struct {
	API      ExchangeAPI
	Books    *depth.Fetcher
	Engine   *strategy.Engine
	Tracker  *stats.Tracker
	Clock    exchange.Clock
	Watcher  *config.Watcher
	Samples  storage.RateSampleStore
	Offers   storage.OfferStore
	Notifier alerting.Notifier

	Policies  map[string]strategy.Policy
	Intervals config.IntervalsConfig
	DryRun    bool
}

// Bot owns the single logical thread of control. All exchange calls are
// awaited synchronously; nothing here is safe for concurrent use.
type Bot struct {
	api      ExchangeAPI
	books    *depth.Fetcher
	engine   *strategy.Engine
	tracker  *stats.Tracker
	clock    exchange.Clock
	watcher  *config.Watcher
	samples  storage.RateSampleStore
	offers   storage.OfferStore
	notifier alerting.Notifier
	logger   zerolog.Logger

	policies  map[string]strategy.Policy
	intervals config.IntervalsConfig
	dryRun    bool

	snapshot Snapshot
}

// New constructs the lending bot.
func New(opts Options, logger zerolog.Logger) *Bot {
	clock := opts.Clock
	if clock == nil {
		clock = exchange.SystemClock{}
	}

	return &Bot{
		api:       opts.API,
		books:     opts.Books,
		engine:    opts.Engine,
		tracker:   opts.Tracker,
		clock:     clock,
		watcher:   opts.Watcher,
		samples:   opts.Samples,
		offers:    opts.Offers,
		notifier:  opts.Notifier,
		logger:    logger.With().Str("component", "bot").Logger(),
		policies:  opts.Policies,
		intervals: opts.Intervals,
		dryRun:    opts.DryRun,
		snapshot:  newSnapshot(),
	}
}

// Run executes the full state machine: disable auto-renew, cancel stale
// offers, warm up statistics, then sample and reoffer until ctx is
// cancelled. Shutdown restores auto-renew best-effort before returning.
func (b *Bot) Run(ctx context.Context) error {
	if b.dryRun {
		b.logger.Info().Msg("dry-run mode: orders will be computed but not submitted")
	}

	if err := b.SetAllAutoRenew(ctx, false); err != nil {
		return fmt.Errorf("disable auto-renew: %w", err)
	}
	if err := b.CancelOpenOffers(ctx, ""); err != nil {
		return fmt.Errorf("cancel stale offers: %w", err)
	}
	if err := b.RefreshSnapshot(ctx); err != nil {
		return fmt.Errorf("initial snapshot: %w", err)
	}
	b.logStatus()

	if done := b.warmup(ctx); done {
		return b.shutdown()
	}

	if err := b.RefreshSnapshot(ctx); err != nil {
		b.logger.Error().Err(err).Msg("snapshot refresh after warm-up failed")
	}

	b.steady(ctx)
	return b.shutdown()
}

// warmup samples statistics until the configured duration elapses. It
// reports true when ctx was cancelled before the warm-up completed.
func (b *Bot) warmup(ctx context.Context) (cancelled bool) {
	start := b.clock.Now()
	b.logger.Info().Dur("duration", b.intervals.Warmup).Msg("warming up rate statistics")

	for {
		if ctx.Err() != nil {
			return true
		}

		if err := b.SampleStats(ctx); err != nil {
			if ctx.Err() != nil {
				return true
			}
			b.logger.Error().Err(err).Msg("warm-up sampling failed; cooling down")
			if b.clock.Sleep(ctx, errCooldown) != nil {
				return true
			}
			continue
		}

		if b.dryRun {
			b.logger.Info().Msg("dry-run: skipping warm-up wait")
			return false
		}

		if b.clock.Sleep(ctx, b.intervals.StatsSample) != nil {
			return true
		}
		if b.clock.Now().Sub(start) > b.intervals.Warmup {
			return false
		}
	}
}

// steady runs the sample/reoffer cadence until ctx is cancelled. Failed
// iterations are retried after a fixed cool-down, never escalated.
func (b *Bot) steady(ctx context.Context) {
	// Backdate so the first iteration reoffers immediately.
	lastReoffer := b.clock.Now().Add(-b.intervals.Reoffer)

	for {
		if ctx.Err() != nil {
			return
		}

		if err := b.cycle(ctx, &lastReoffer); err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Error().Err(err).Msg("steady-state iteration failed; cooling down")
			if b.clock.Sleep(ctx, errCooldown) != nil {
				return
			}
			continue
		}

		if b.clock.Sleep(ctx, b.intervals.StatsSample) != nil {
			return
		}
	}
}

func (b *Bot) cycle(ctx context.Context, lastReoffer *time.Time) error {
	now := b.clock.Now()

	if err := b.SampleStats(ctx); err != nil {
		return err
	}

	if now.Sub(*lastReoffer) >= b.intervals.Reoffer {
		b.reloadSettings()
		*lastReoffer = now
		if err := b.reoffer(ctx); err != nil {
			return err
		}
		b.logStatus()
	}
	return nil
}

// reloadSettings swaps in a fresh policy snapshot when the settings file
// changed. Failures keep the previous snapshot authoritative.
func (b *Bot) reloadSettings() {
	if b.watcher == nil {
		return
	}

	changed, err := b.watcher.Changed()
	if err != nil {
		b.logger.Warn().Err(err).Msg("settings change check failed; continuing with old settings")
		return
	}
	if !changed {
		return
	}

	cfg, err := b.watcher.Load()
	if err != nil {
		b.logger.Warn().Err(err).Msg("settings reload failed; continuing with old settings")
		return
	}
	policies, err := cfg.Policies()
	if err != nil {
		b.logger.Warn().Err(err).Msg("reloaded policy invalid; continuing with old settings")
		return
	}

	b.policies = policies
	b.intervals = cfg.Intervals
	b.logger.Info().Msg("settings reloaded")
}

func (b *Bot) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := b.SetAllAutoRenew(ctx, true); err != nil {
		b.logger.Warn().Err(err).Msg("auto-renew restore on shutdown failed")
	}
	b.logger.Info().Msg("shutdown complete")
	return nil
}

func (b *Bot) logStatus() {
	b.logger.Info().Msg(b.snapshot.LentStatus())
	b.logger.Info().Msg(b.snapshot.TotalStatus())
}

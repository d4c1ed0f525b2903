package bot

import (
	"context"
	"fmt"
)

// SetAllAutoRenew walks every active loan and toggles auto-renew toward the
// requested state. Disabling targets every loan currently flagged; enabling
// targets loans whose currency has no policy or opts in via
// autoRenewWhenNotRunning. Single-loan toggle failures are logged and
// skipped; only the loan listing itself is fatal.
func (b *Bot) SetAllAutoRenew(ctx context.Context, enable bool) error {
	if b.dryRun {
		b.logger.Info().Bool("enable", enable).Msg("dry-run: skipping auto-renew changes")
		return nil
	}

	action := "disabling"
	if enable {
		action = "enabling"
	}
	b.logger.Info().Msgf("%s auto-renew for all active loans", action)

	loans, err := b.api.ActiveLoans(ctx)
	if err != nil {
		return fmt.Errorf("fetch active loans: %w", err)
	}

	toggled := 0
	for currency, currencyLoans := range loans {
		policy, configured := b.policies[currency]
		for _, loan := range currencyLoans {
			want := false
			if enable {
				want = !configured || policy.AutoRenewWhenNotRunning
			} else {
				want = loan.AutoRenew
			}
			if !want {
				continue
			}

			if err := b.api.ToggleAutoRenew(ctx, loan.ID); err != nil {
				b.logger.Warn().Err(err).
					Str("currency", currency).
					Uint64("loan_id", loan.ID).
					Msg("auto-renew toggle failed")
				continue
			}
			toggled++
		}
	}

	b.logger.Info().Int("loans", toggled).Msgf("auto-renew %s done", action)
	return nil
}

package cli

import (
	"github.com/spf13/cobra"

	"polo-lending-bot/internal/app"
)

var (
	planCurrency string
	planBalance  string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the spread the bot would place for a hypothetical balance",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.PlanOptions{
			Currency: planCurrency,
			Balance:  planBalance,
		}
		return getApp().Plan(cmd.Context(), opts)
	},
}

func init() {
	planCmd.Flags().StringVar(&planCurrency, "currency", "", "Currency code, e.g. BTC")
	planCmd.Flags().StringVar(&planBalance, "balance", "", "Hypothetical lendable balance")
}

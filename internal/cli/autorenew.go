package cli

import (
	"github.com/spf13/cobra"
)

var setAutoRenewCmd = &cobra.Command{
	Use:   "set-autorenew",
	Short: "Enable auto-renew on active loans and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SetAutoRenew(cmd.Context(), true)
	},
}

var clearAutoRenewCmd = &cobra.Command{
	Use:   "clear-autorenew",
	Short: "Disable auto-renew on active loans and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SetAutoRenew(cmd.Context(), false)
	},
}

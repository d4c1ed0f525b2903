package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"polo-lending-bot/internal/app"
	"polo-lending-bot/internal/config"
	"polo-lending-bot/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:   "lendbot",
	Short: "Automated margin lending on the Poloniex loan market",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil {
			return nil
		}

		if cfgFile != "" {
			if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
				if writeErr := config.WriteTemplate(cfgFile); writeErr != nil {
					return writeErr
				}
				return fmt.Errorf("settings file %s did not exist; a template was written, fill in exchange.key and exchange.secret", cfgFile)
			}
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setAutoRenewCmd)
	rootCmd.AddCommand(clearAutoRenewCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}

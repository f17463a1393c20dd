package cli

import (
	"github.com/spf13/cobra"

	"somwatcher/internal/app"
)

var (
	simulateCurrency string
	simulateRate     string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Evaluate stored alerts against a hand-supplied official rate",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SimulateOptions{
			CurrencyCode: simulateCurrency,
			Rate:         simulateRate,
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateCurrency, "currency", "USD", "Currency code to simulate")
	simulateCmd.Flags().StringVar(&simulateRate, "rate", "", "Official rate to evaluate against")
}

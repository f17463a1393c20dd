package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"somwatcher/internal/app"
)

var (
	showBank     string
	showCurrency string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the current rate snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ShowOptions{
			BankCode:     strings.ToLower(strings.TrimSpace(showBank)),
			CurrencyCode: strings.ToUpper(strings.TrimSpace(showCurrency)),
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showBank, "bank", "", "Filter by bank code")
	showCmd.Flags().StringVar(&showCurrency, "currency", "", "Filter by currency code")
}

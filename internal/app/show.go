package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints the current rate snapshot.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	quotes, err := store.QueryCurrent(ctx, opts.BankCode, opts.CurrencyCode)
	if err != nil {
		return err
	}
	if len(quotes) == 0 {
		fmt.Fprintln(os.Stdout, "no rates found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Bank\tCurrency\tOfficial\tBuy\tSell\tNominal\tDiff\tFetched (UTC)")

	for _, q := range quotes {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			q.BankCode,
			q.CurrencyCode,
			formatNullable(q.OfficialRate),
			formatNullable(q.BuyRate),
			formatNullable(q.SellRate),
			q.Nominal,
			formatNullable(q.Diff),
			q.FetchedAt.UTC().Format(time.RFC3339),
		)
	}

	writer.Flush()
	return nil
}

func formatNullable(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.String()
}

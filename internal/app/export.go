package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"somwatcher/internal/storage"
)

// Export renders one (bank, currency) history series as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.BankCode == "" || opts.CurrencyCode == "" {
		return errors.New("--bank and --currency are required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.AddDate(0, 0, -a.Config.Scheduler.RetentionDays)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	points, err := store.ListHistory(ctx, opts.BankCode, opts.CurrencyCode, from, to)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		a.Logger.Info().Msg("no history found for export window")
		return nil
	}

	downsampled := downsamplePoints(points, opts.MaxPoints)
	a.Logger.Info().Int("total", len(points)).Int("exported", len(downsampled)).Msg("exporting history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeHistoryPNG(opts.PNGPath, opts.CurrencyCode, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsamplePoints(points []storage.RateHistoryPoint, max int) []storage.RateHistoryPoint {
	if max <= 0 || len(points) <= max {
		return points
	}

	result := make([]storage.RateHistoryPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeHistoryCSV(path string, points []storage.RateHistoryPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"recorded_at", "bank_code", "currency_code", "official_rate", "buy_rate", "sell_rate"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range points {
		record := []string{
			p.RecordedAt.UTC().Format(time.RFC3339),
			p.BankCode,
			p.CurrencyCode,
			nullableCSV(p.OfficialRate),
			nullableCSV(p.BuyRate),
			nullableCSV(p.SellRate),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeHistoryPNG(path, currency string, points []storage.RateHistoryPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	buy := make([]float64, len(points))
	sell := make([]float64, len(points))

	for i, p := range points {
		x[i] = p.RecordedAt
		// Series for the authoritative bank carry the official rate in both
		// places so the chart still renders.
		switch {
		case p.BuyRate != nil && p.SellRate != nil:
			buy[i] = p.BuyRate.InexactFloat64()
			sell[i] = p.SellRate.InexactFloat64()
		case p.OfficialRate != nil:
			buy[i] = p.OfficialRate.InexactFloat64()
			sell[i] = p.OfficialRate.InexactFloat64()
		}
	}

	rateFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Rate (" + currency + "/UZS)",
			ValueFormatter: rateFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Buy",
				XValues: x,
				YValues: buy,
			},
			chart.TimeSeries{
				Name:    "Sell",
				XValues: x,
				YValues: sell,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func nullableCSV(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

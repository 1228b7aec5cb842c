package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"arbwatch/internal/storage"
)

const defaultExportWindow = 7 * 24 * time.Hour

// Export renders recorded opportunities as CSV and/or a spread chart PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	records, err := store.ListOpportunitiesBetween(ctx, from, to)
	if err != nil {
		return err
	}
	records = filterAsset(records, opts.Asset)
	if len(records) == 0 {
		a.Logger.Info().Msg("no opportunities found for export window")
		return nil
	}

	downsampled := downsampleRecords(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting opportunities")

	if opts.CSVPath != "" {
		if err := writeRecordsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSpreadPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func filterAsset(records []storage.OpportunityRecord, asset string) []storage.OpportunityRecord {
	if asset == "" {
		return records
	}
	out := records[:0:0]
	for _, rec := range records {
		if rec.Asset == asset {
			out = append(out, rec)
		}
	}
	return out
}

func downsampleRecords(records []storage.OpportunityRecord, limit int) []storage.OpportunityRecord {
	if limit <= 0 || len(records) <= limit {
		return records
	}
	if limit == 1 {
		return records[len(records)-1:]
	}

	result := make([]storage.OpportunityRecord, 0, limit)
	step := float64(len(records)-1) / float64(limit-1)
	for i := 0; i < limit; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeRecordsCSV(path string, records []storage.OpportunityRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"detected_at", "report_id", "asset", "cheapest_source", "cheapest_price", "priciest_source", "priciest_price", "spread", "spread_pct", "threshold_pct", "sources", "channels"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		row := []string{
			rec.DetectedAt.UTC().Format(time.RFC3339Nano),
			rec.ReportID.String(),
			rec.Asset,
			rec.CheapestSource,
			rec.CheapestPrice.String(),
			rec.PriciestSource,
			rec.PriciestPrice.String(),
			rec.Spread.String(),
			rec.SpreadPct.String(),
			rec.ThresholdPct.String(),
			strconv.Itoa(rec.Sources),
			strings.Join(rec.Channels, ";"),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// writeSpreadPNG draws spread % over time, one series per asset.
func writeSpreadPNG(path string, records []storage.OpportunityRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	type points struct {
		x []time.Time
		y []float64
	}
	byAsset := make(map[string]*points)
	for _, rec := range records {
		p, ok := byAsset[rec.Asset]
		if !ok {
			p = &points{}
			byAsset[rec.Asset] = p
		}
		p.x = append(p.x, rec.DetectedAt)
		p.y = append(p.y, rec.SpreadPct.InexactFloat64())
	}

	assets := make([]string, 0, len(byAsset))
	for asset := range byAsset {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	series := make([]chart.Series, 0, len(assets))
	for _, asset := range assets {
		p := byAsset[asset]
		// go-chart needs at least two points per series
		if len(p.x) == 1 {
			p.x = append(p.x, p.x[0].Add(time.Second))
			p.y = append(p.y, p.y[0])
		}
		series = append(series, chart.TimeSeries{
			Name:    shortAsset(asset),
			XValues: p.x,
			YValues: p.y,
		})
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Spread (%)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.3f")
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints the most recent recorded opportunities.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show opportunities")
	}
	if closeStore != nil {
		defer closeStore()
	}

	records, err := store.ListRecentOpportunities(ctx, opts.Asset, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.Out, "no opportunities recorded")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Detected (UTC)\tAsset\tBuy\tSell\tSpread\tSpread%\tSources\tChannels")

	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s@%s\t%s@%s\t%s\t%s\t%d\t%s\n",
			rec.DetectedAt.UTC().Format(time.RFC3339),
			shortAsset(rec.Asset),
			rec.CheapestSource, rec.CheapestPrice.String(),
			rec.PriciestSource, rec.PriciestPrice.String(),
			rec.Spread.String(),
			rec.SpreadPct.StringFixed(3),
			rec.Sources,
			strings.Join(rec.Channels, ","),
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

// shortAsset abbreviates long mint addresses for table output.
func shortAsset(asset string) string {
	if len(asset) <= 12 {
		return asset
	}
	return asset[:4] + "…" + asset[len(asset)-4:]
}

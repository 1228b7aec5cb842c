package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"arbwatch/internal/collector"
	"arbwatch/internal/monitor"
	"arbwatch/internal/pricing"
	"arbwatch/internal/report"
)

// Probe runs a single collection pass for one asset against the configured
// sources and prints what every source returned.
func (a *App) Probe(ctx context.Context, opts ProbeOptions) error {
	asset := opts.Asset
	if asset == "" {
		asset = a.Config.Assets[0]
	}

	sources, err := a.newSources()
	if err != nil {
		return err
	}

	loop := monitor.New(asset, a.newCollector(sources), report.Multi{}, monitor.Options{}, a.Logger)
	ev, err := loop.Tick(ctx, time.Now().UTC())
	if err != nil {
		return err
	}

	printEvent(a.Out, ev)
	return nil
}

// printEvent renders the per-source outcomes followed by the detection result.
func printEvent(out io.Writer, ev report.Event) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Source\tStatus\tPrice\tLatency\tError")
	for _, o := range ev.Outcomes {
		price := "-"
		if o.Status == collector.StatusOK || o.Status == collector.StatusRejected {
			price = pricing.FormatPrice(o.Price)
		}
		errMsg := ""
		if o.Err != nil {
			errMsg = sanitizeInline(o.Err.Error())
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", o.Source, o.Status, price, o.Latency.Round(time.Millisecond), errMsg)
	}
	writer.Flush()

	fmt.Fprintf(out, "\nasset=%s reason=%s\n", ev.Asset, ev.Reason)
	switch {
	case ev.Err != nil:
		fmt.Fprintf(out, "error: %v\n", ev.Err)
	case ev.Report == nil:
		fmt.Fprintln(out, "fewer than two sources quoted; nothing to compare")
	case ev.Report.Opportunity():
		fmt.Fprintln(out, ev.Report.String())
		fmt.Fprintf(out, "spread %.4f%% across %d sources\n", ev.Report.SpreadPct, ev.Report.Present)
	default:
		fmt.Fprintf(out, "all %d sources agree at %s\n", ev.Report.Present, pricing.FormatPrice(ev.Report.Cheapest.Price))
	}
}

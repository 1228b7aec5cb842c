package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"arbwatch/internal/collector"
	"arbwatch/internal/fetcher"
	"arbwatch/internal/monitor"
	"arbwatch/internal/report"
)

// SimulateAlert feeds fixed prices through the detector. With Publish set the
// result also goes through the configured sinks, alerting included.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	asset := opts.Asset
	if asset == "" {
		asset = a.Config.Assets[0]
	}

	names := opts.Sources
	if len(names) == 0 {
		for _, name := range a.Config.Sources.Enabled {
			names = append(names, sourceLabel(name))
		}
	}

	sources, err := staticSources(names, opts.Prices)
	if err != nil {
		return err
	}

	sink := report.Multi{}
	if opts.Publish {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if closeStore != nil {
			defer closeStore()
		}
		sinks, err := a.newSinks(ctx, store, nil)
		if err != nil {
			return err
		}
		defer func() { _ = report.CloseAll(sinks) }()
		sink = report.Multi(sinks)
	}

	coll := collector.New(sources, collector.Options{}, a.Logger)
	loop := monitor.New(asset, coll, sink, monitor.Options{ReportTimeout: a.Config.Scheduler.ReportTimeout}, a.Logger)

	ev, err := loop.Tick(ctx, time.Now().UTC())
	printEvent(a.Out, ev)
	return err
}

// staticSources pairs names with prices. "-" marks a source with no quote.
func staticSources(names, prices []string) ([]collector.Source, error) {
	if len(prices) == 0 {
		return nil, errors.New("at least one price is required")
	}
	if len(prices) != len(names) {
		return nil, fmt.Errorf("got %d prices for %d sources", len(prices), len(names))
	}

	sources := make([]collector.Source, len(names))
	for i, raw := range prices {
		raw = strings.TrimSpace(raw)
		var f fetcher.PriceFetcher
		if raw == "-" || raw == "" {
			f = fetcher.NewStaticMissing()
		} else {
			price, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("price %q for %s: %w", raw, names[i], err)
			}
			f = fetcher.NewStatic(price)
		}
		sources[i] = collector.Source{Name: names[i], Fetcher: f}
	}
	return sources, nil
}

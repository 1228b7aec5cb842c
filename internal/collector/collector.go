// Package collector gathers one price per configured source for an asset.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"arbwatch/internal/fetcher"
	"arbwatch/internal/pricing"
)

const defaultTimeout = 5 * time.Second

// Status classifies what a source produced during one tick.
type Status string

const (
	StatusOK       Status = "ok"
	StatusNoData   Status = "no_data"
	StatusFailed   Status = "failed"
	StatusTimeout  Status = "timeout"
	StatusRejected Status = "rejected"
)

// Source binds a fetcher to the name reported in price entries.
type Source struct {
	Name    string
	Fetcher fetcher.PriceFetcher
	// Timeout overrides Options.Timeout when positive.
	Timeout time.Duration
}

// Options tune collection.
type Options struct {
	Timeout        time.Duration
	MaxConcurrency int
	// MaxPrice rejects quotes above it when positive.
	MaxPrice float64
}

// Outcome records one source's result for one tick.
type Outcome struct {
	Source  string
	Status  Status
	Price   float64
	Err     error
	Latency time.Duration
}

// Sequence is the tick's entry sequence in source configuration order.
type Sequence struct {
	Slots    []pricing.Slot
	Outcomes []Outcome
}

// Present counts the usable prices.
func (s Sequence) Present() int {
	return pricing.CountPresent(s.Slots)
}

// Collector fans out to every source and assembles the entry sequence.
type Collector struct {
	sources []Source
	opts    Options
	logger  zerolog.Logger
}

// New constructs a Collector. Source order fixes slot order.
func New(sources []Source, opts Options, logger zerolog.Logger) *Collector {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Collector{
		sources: sources,
		opts:    opts,
		logger:  logger.With().Str("component", "collector").Logger(),
	}
}

// Len returns the number of configured sources.
func (c *Collector) Len() int {
	return len(c.sources)
}

// Names lists the source names in slot order.
func (c *Collector) Names() []string {
	names := make([]string, len(c.sources))
	for i, src := range c.sources {
		names[i] = src.Name
	}
	return names
}

// Collect queries every source for asset. It never returns before every
// source has answered or hit its timeout, and one source's failure never
// affects another's slot.
func (c *Collector) Collect(ctx context.Context, asset string) Sequence {
	seq := Sequence{
		Slots:    make([]pricing.Slot, len(c.sources)),
		Outcomes: make([]Outcome, len(c.sources)),
	}

	var g errgroup.Group
	if c.opts.MaxConcurrency > 0 {
		g.SetLimit(c.opts.MaxConcurrency)
	}
	for i, src := range c.sources {
		i, src := i, src
		g.Go(func() error {
			out := c.fetch(ctx, src, asset)
			seq.Outcomes[i] = out
			if out.Status == StatusOK {
				seq.Slots[i] = pricing.Present(pricing.Entry{Source: src.Name, Price: out.Price})
			}
			return nil
		})
	}
	_ = g.Wait()

	return seq
}

type fetchResult struct {
	price float64
	found bool
	err   error
}

func (c *Collector) fetch(ctx context.Context, src Source, asset string) Outcome {
	timeout := src.Timeout
	if timeout <= 0 {
		timeout = c.opts.Timeout
	}
	logger := c.logger.With().Str("source", src.Name).Str("asset", asset).Logger()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fetchResult{err: fmt.Errorf("fetcher panic: %v", r)}
			}
		}()
		price, found, err := src.Fetcher.FetchPrice(callCtx, asset)
		done <- fetchResult{price: price, found: found, err: err}
	}()

	var res fetchResult
	select {
	case res = <-done:
	case <-callCtx.Done():
		res = fetchResult{err: callCtx.Err()}
	}

	out := Outcome{Source: src.Name, Latency: time.Since(start)}

	switch {
	case res.err != nil && (errors.Is(res.err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded)):
		out.Status = StatusTimeout
		out.Err = res.err
		logger.Warn().Err(res.err).Dur("timeout", timeout).Msg("source timed out")
	case res.err != nil:
		out.Status = StatusFailed
		out.Err = res.err
		logger.Warn().Err(res.err).Msg("source fetch failed")
	case !res.found:
		out.Status = StatusNoData
		logger.Debug().Msg("source has no price for asset")
	default:
		out.Price = res.price
		if reason := c.reject(res.price); reason != "" {
			out.Status = StatusRejected
			logger.Warn().Float64("price", res.price).Str("reason", reason).Msg("price rejected by data quality check")
			break
		}
		out.Status = StatusOK
	}
	return out
}

func (c *Collector) reject(price float64) string {
	switch {
	case !pricing.Finite(price):
		return "non-finite"
	case price <= 0:
		return "non-positive"
	case c.opts.MaxPrice > 0 && price > c.opts.MaxPrice:
		return "above max_price"
	}
	return ""
}

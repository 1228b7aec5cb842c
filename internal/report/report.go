// Package report delivers per-tick detection results to external consumers.
package report

import (
	"context"
	"errors"
	"time"

	"arbwatch/internal/arbitrage"
	"arbwatch/internal/collector"
)

// Reason classifies a tick result.
type Reason string

const (
	ReasonOpportunity      Reason = "opportunity"
	ReasonNoSpread         Reason = "no_spread"
	ReasonInsufficientData Reason = "insufficient_data"
	ReasonFailed           Reason = "failed"
)

// Event is what a monitor loop emits once per tick.
type Event struct {
	Asset  string
	At     time.Time
	Reason Reason
	// Report is nil unless at least two sources quoted.
	Report   *arbitrage.Report
	Outcomes []collector.Outcome
	Err      error
}

// Classify derives the reason for a detection result.
func Classify(r *arbitrage.Report, err error) Reason {
	switch {
	case err != nil:
		return ReasonFailed
	case r == nil:
		return ReasonInsufficientData
	case r.Opportunity():
		return ReasonOpportunity
	default:
		return ReasonNoSpread
	}
}

// Sink consumes tick events. Implementations must be safe for concurrent use;
// every asset loop publishes to the same sink.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Multi publishes to every sink in order. A failing sink does not stop the
// remaining ones.
type Multi []Sink

// Publish implements Sink.
func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Closer is implemented by sinks holding network resources.
type Closer interface {
	Close() error
}

// CloseAll closes every sink that implements Closer.
func CloseAll(sinks []Sink) error {
	var errs []error
	for _, s := range sinks {
		if c, ok := s.(Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

var _ Sink = Multi(nil)

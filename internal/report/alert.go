package report

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"arbwatch/internal/alerting"
	"arbwatch/internal/arbitrage"
	"arbwatch/internal/storage"
)

// AlertOptions decide which opportunities are worth an alert.
type AlertOptions struct {
	ThresholdPct float64
	MinSpread    float64
	// Cooldown suppresses repeat alerts for the same asset.
	Cooldown time.Duration
	Channels []string
}

// AlertSink records qualifying opportunities and dispatches notifications.
type AlertSink struct {
	opts     AlertOptions
	notifier alerting.Notifier
	store    storage.OpportunityStore
	logger   zerolog.Logger
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewAlertSink constructs an AlertSink. notifier and store may be nil.
func NewAlertSink(opts AlertOptions, notifier alerting.Notifier, store storage.OpportunityStore, logger zerolog.Logger) *AlertSink {
	return &AlertSink{
		opts:     opts,
		notifier: notifier,
		store:    store,
		logger:   logger.With().Str("component", "report_alert").Logger(),
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
}

// Qualifies reports whether r passes the configured thresholds.
func (s *AlertSink) Qualifies(r *arbitrage.Report) bool {
	if !r.Opportunity() {
		return false
	}
	return r.SpreadPct >= s.opts.ThresholdPct && r.Spread >= s.opts.MinSpread
}

// Publish implements Sink.
func (s *AlertSink) Publish(ctx context.Context, ev Event) error {
	if ev.Reason != ReasonOpportunity || !s.Qualifies(ev.Report) {
		return nil
	}
	c, ok := s.claim(ev.Asset)
	if !ok {
		s.logger.Debug().Str("asset", ev.Asset).Dur("cooldown", s.opts.Cooldown).Msg("alert suppressed by cooldown")
		return nil
	}

	r := ev.Report
	threshold := decimal.NewFromFloat(s.opts.ThresholdPct)

	var errs []error
	stored := false
	if s.store != nil {
		if _, err := s.store.InsertOpportunity(ctx, NewRecord(r, threshold, s.opts.Channels)); err != nil {
			s.logger.Error().Err(err).Str("asset", ev.Asset).Msg("failed to persist opportunity")
			errs = append(errs, fmt.Errorf("persist opportunity: %w", err))
		} else {
			stored = true
		}
	}
	notified := false
	if s.notifier != nil {
		note := alerting.Notification{
			DetectedAt:     r.DetectedAt,
			Asset:          r.Asset,
			CheapestSource: r.Cheapest.Source,
			CheapestPrice:  decimal.NewFromFloat(r.Cheapest.Price),
			PriciestSource: r.Priciest.Source,
			PriciestPrice:  decimal.NewFromFloat(r.Priciest.Price),
			Spread:         decimal.NewFromFloat(r.Spread),
			SpreadPct:      decimal.NewFromFloat(r.SpreadPct),
			ThresholdPct:   threshold,
			Channels:       s.opts.Channels,
		}
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Str("asset", ev.Asset).Msg("failed to dispatch alert")
			errs = append(errs, fmt.Errorf("dispatch alert: %w", err))
		} else {
			notified = true
		}
	}

	// the cooldown only counts once the alert reached its primary destination:
	// the notifier, or the store when no notifier is configured
	delivered := notified || (s.notifier == nil && (stored || s.store == nil))
	if !delivered {
		s.release(ev.Asset, c)
	}
	return errors.Join(errs...)
}

// cooldownClaim remembers what claim replaced so it can be undone.
type cooldownClaim struct {
	at      time.Time
	prev    time.Time
	hadPrev bool
}

// claim starts a cooldown window for asset unless one is already running.
func (s *AlertSink) claim(asset string) (cooldownClaim, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	last, hadPrev := s.last[asset]
	if hadPrev && s.opts.Cooldown > 0 && now.Sub(last) < s.opts.Cooldown {
		return cooldownClaim{}, false
	}
	s.last[asset] = now
	return cooldownClaim{at: now, prev: last, hadPrev: hadPrev}, true
}

// release undoes c unless a later claim already replaced it.
func (s *AlertSink) release(asset string, c cooldownClaim) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.last[asset]; !ok || !cur.Equal(c.at) {
		return
	}
	if c.hadPrev {
		s.last[asset] = c.prev
	} else {
		delete(s.last, asset)
	}
}

// NewRecord converts a report into its audit-log row.
func NewRecord(r *arbitrage.Report, threshold decimal.Decimal, channels []string) storage.OpportunityRecord {
	return storage.OpportunityRecord{
		ReportID:       r.ID,
		Asset:          r.Asset,
		CheapestSource: r.Cheapest.Source,
		CheapestPrice:  decimal.NewFromFloat(r.Cheapest.Price),
		PriciestSource: r.Priciest.Source,
		PriciestPrice:  decimal.NewFromFloat(r.Priciest.Price),
		Spread:         decimal.NewFromFloat(r.Spread),
		SpreadPct:      decimal.NewFromFloat(r.SpreadPct),
		ThresholdPct:   threshold,
		Sources:        r.Present,
		Channels:       channels,
		DetectedAt:     r.DetectedAt,
	}
}

var _ Sink = (*AlertSink)(nil)

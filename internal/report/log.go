package report

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSink writes every event to a zerolog logger.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "report_log").Logger()}
}

// Publish implements Sink.
func (s *LogSink) Publish(_ context.Context, ev Event) error {
	switch ev.Reason {
	case ReasonOpportunity:
		r := ev.Report
		s.logger.Info().
			Str("asset", ev.Asset).
			Str("report_id", r.ID.String()).
			Str("cheapest", r.Cheapest.String()).
			Str("priciest", r.Priciest.String()).
			Float64("spread", r.Spread).
			Float64("spread_pct", r.SpreadPct).
			Int("present", r.Present).
			Msg(r.String())
	case ReasonNoSpread:
		s.logger.Debug().Str("asset", ev.Asset).
			Str("price", ev.Report.Cheapest.String()).
			Int("present", ev.Report.Present).
			Msg("no arbitrage opportunity this tick")
	case ReasonInsufficientData:
		s.logger.Debug().Str("asset", ev.Asset).
			Int("sources", len(ev.Outcomes)).
			Msg("insufficient data this tick")
	case ReasonFailed:
		s.logger.Error().Err(ev.Err).Str("asset", ev.Asset).Msg("tick failed")
	}
	return nil
}

var _ Sink = (*LogSink)(nil)

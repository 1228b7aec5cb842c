package report

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"arbwatch/internal/collector"
)

// MetricsSink exports tick results as Prometheus metrics.
type MetricsSink struct {
	ticks          *prometheus.CounterVec
	opportunities  *prometheus.CounterVec
	spread         *prometheus.GaugeVec
	spreadPct      *prometheus.GaugeVec
	present        *prometheus.GaugeVec
	outcomes       *prometheus.CounterVec
	sourceLatency  *prometheus.HistogramVec
	spreadPctHisto *prometheus.HistogramVec
}

// NewMetricsSink registers the collectors on reg.
func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	factory := promauto.With(reg)
	return &MetricsSink{
		ticks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arbwatcher_ticks_total",
			Help: "Monitor ticks by asset and outcome reason",
		}, []string{"asset", "reason"}),
		opportunities: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arbwatcher_opportunities_total",
			Help: "Ticks with a positive cross-source spread",
		}, []string{"asset", "buy", "sell"}),
		spread: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arbwatcher_spread",
			Help: "Latest priciest minus cheapest price",
		}, []string{"asset"}),
		spreadPct: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arbwatcher_spread_pct",
			Help: "Latest spread relative to the cheapest price, in percent",
		}, []string{"asset"}),
		present: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arbwatcher_sources_present",
			Help: "Sources with a usable price in the latest tick",
		}, []string{"asset"}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arbwatcher_source_outcomes_total",
			Help: "Per-source fetch outcomes",
		}, []string{"source", "status"}),
		sourceLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arbwatcher_source_latency_seconds",
			Help:    "Per-source fetch latency",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source"}),
		spreadPctHisto: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arbwatcher_opportunity_spread_pct",
			Help:    "Distribution of opportunity spreads in percent",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 25},
		}, []string{"asset"}),
	}
}

// Publish implements Sink.
func (m *MetricsSink) Publish(_ context.Context, ev Event) error {
	m.ticks.WithLabelValues(ev.Asset, string(ev.Reason)).Inc()

	for _, o := range ev.Outcomes {
		m.outcomes.WithLabelValues(o.Source, string(o.Status)).Inc()
		m.sourceLatency.WithLabelValues(o.Source).Observe(o.Latency.Seconds())
	}

	r := ev.Report
	if r == nil {
		m.present.WithLabelValues(ev.Asset).Set(float64(quoted(ev.Outcomes)))
		return nil
	}
	m.present.WithLabelValues(ev.Asset).Set(float64(r.Present))
	m.spread.WithLabelValues(ev.Asset).Set(r.Spread)
	m.spreadPct.WithLabelValues(ev.Asset).Set(r.SpreadPct)
	if ev.Reason == ReasonOpportunity {
		m.opportunities.WithLabelValues(ev.Asset, r.Cheapest.Source, r.Priciest.Source).Inc()
		m.spreadPctHisto.WithLabelValues(ev.Asset).Observe(r.SpreadPct)
	}
	return nil
}

// quoted counts the sources that produced a usable price.
func quoted(outcomes []collector.Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Status == collector.StatusOK {
			n++
		}
	}
	return n
}

var _ Sink = (*MetricsSink)(nil)

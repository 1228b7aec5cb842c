// Package monitor runs the per-asset collect, detect and report cycle.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"arbwatch/internal/arbitrage"
	"arbwatch/internal/collector"
	"arbwatch/internal/report"
	"arbwatch/internal/scheduler"
)

const defaultReportTimeout = 5 * time.Second

// State is the lifecycle position of a Loop.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options tune a Loop.
type Options struct {
	Interval      time.Duration
	AlignToBucket bool
	StartupDelay  time.Duration
	// ReportTimeout bounds publishing to the sink.
	ReportTimeout time.Duration
}

// Loop owns one asset. Ticks are strictly sequential.
type Loop struct {
	asset     string
	collector *collector.Collector
	detector  *arbitrage.Detector
	sink      report.Sink
	sched     *scheduler.Scheduler
	timeout   time.Duration
	logger    zerolog.Logger

	state    atomic.Int32
	ticks    atomic.Int64
	failures atomic.Int64
}

// New builds a loop for asset. Run panics later if Interval is not positive.
func New(asset string, coll *collector.Collector, sink report.Sink, opts Options, logger zerolog.Logger) *Loop {
	if opts.ReportTimeout <= 0 {
		opts.ReportTimeout = defaultReportTimeout
	}
	logger = logger.With().Str("component", "monitor").Str("asset", asset).Logger()

	l := &Loop{
		asset:     asset,
		collector: coll,
		detector:  arbitrage.NewDetector(asset, coll.Len()),
		sink:      sink,
		timeout:   opts.ReportTimeout,
		logger:    logger,
	}
	if opts.Interval > 0 {
		l.sched = scheduler.New(scheduler.Options{
			Interval:       opts.Interval,
			AlignToStart:   opts.AlignToBucket,
			StartupDelay:   opts.StartupDelay,
			RunImmediately: true,
		}, logger)
	}
	return l
}

// Asset returns the monitored asset key.
func (l *Loop) Asset() string { return l.asset }

// State returns the current lifecycle state.
func (l *Loop) State() State { return State(l.state.Load()) }

// Ticks returns how many ticks have completed.
func (l *Loop) Ticks() int64 { return l.ticks.Load() }

// Failures returns how many ticks ended in the failed state.
func (l *Loop) Failures() int64 { return l.failures.Load() }

// Run ticks until ctx is cancelled. An in-flight tick always completes first.
// It returns nil on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	if l.sched == nil {
		return errors.New("monitor: interval must be positive")
	}
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("monitor: loop for %s already %s", l.asset, l.State())
	}
	l.logger.Info().Int("sources", l.collector.Len()).Dur("interval", l.sched.Interval()).Msg("monitor loop started")

	err := l.sched.Run(ctx, func(ctx context.Context, at time.Time) error {
		_, err := l.Tick(ctx, at)
		return err
	})

	l.state.Store(int32(StateCancelled))
	l.logger.Info().Int64("ticks", l.Ticks()).Int64("failures", l.Failures()).Msg("monitor loop stopped")

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Tick performs one collect, detect and publish cycle. The tick ignores
// cancellation of ctx so a started tick always reaches the sink; source
// timeouts and the report timeout bound its duration. The returned error only
// reflects publishing problems or a recovered panic.
func (l *Loop) Tick(ctx context.Context, at time.Time) (ev report.Event, err error) {
	ctx = context.WithoutCancel(ctx)
	defer l.ticks.Add(1)
	defer func() {
		if r := recover(); r != nil {
			l.failures.Add(1)
			err = fmt.Errorf("monitor: tick panic: %v", r)
			ev = report.Event{Asset: l.asset, At: at, Reason: report.ReasonFailed, Err: err}
			l.logger.Error().Err(err).Time("tick", at).Msg("recovered from tick panic")
		}
	}()

	seq := l.collector.Collect(ctx, l.asset)
	rep, detectErr := l.detector.Detect(at, seq.Slots)
	if detectErr != nil {
		l.failures.Add(1)
	}

	ev = report.Event{
		Asset:    l.asset,
		At:       at,
		Reason:   report.Classify(rep, detectErr),
		Report:   rep,
		Outcomes: seq.Outcomes,
		Err:      detectErr,
	}

	pubCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if pubErr := l.sink.Publish(pubCtx, ev); pubErr != nil {
		l.logger.Warn().Err(pubErr).Time("tick", at).Msg("report sink failed")
		return ev, fmt.Errorf("monitor: publish: %w", pubErr)
	}
	return ev, nil
}

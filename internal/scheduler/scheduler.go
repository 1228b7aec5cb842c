package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per interval. Ticks never overlap.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval time.Duration
	// AlignToStart snaps ticks to multiples of Interval.
	AlignToStart bool
	StartupDelay time.Duration
	// RunImmediately fires the first tick before waiting a full interval.
	RunImmediately bool
}

// Scheduler drives fixed-interval execution of a tick function.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Interval returns the configured tick period.
func (s *Scheduler) Interval() time.Duration {
	return s.opts.Interval
}

// Run blocks, invoking tick on every interval until ctx is cancelled.
// Cancellation is only observed between ticks; tick itself decides how to
// treat ctx.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	var next time.Time
	if s.opts.RunImmediately {
		next = s.now()
	} else {
		next = s.nextTick(s.now())
	}

	for {
		delay := next.Sub(s.now())
		if delay < -s.opts.Interval {
			// a tick overran by more than one period; skip the missed ones
			next = s.nextTick(s.now())
			delay = next.Sub(s.now())
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
			s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		at := s.tickStart(next)
		s.logger.Debug().Time("tick", at).Msg("executing scheduled tick")

		if err := tick(ctx, at); err != nil {
			s.logger.Error().Err(err).Time("tick", at).Msg("tick execution failed")
		}

		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) tickStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}

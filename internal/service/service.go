package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"arbwatch/internal/monitor"
	"arbwatch/internal/storage"
)

const defaultStandbyRetry = 10 * time.Second

// Options configure the orchestrator.
type Options struct {
	// LockKey enables leader election through a postgres advisory lock when non-zero.
	LockKey      int64
	StandbyRetry time.Duration
}

// Service runs one monitor loop per asset.
type Service struct {
	loops  []*monitor.Loop
	locker storage.AdvisoryLocker
	opts   Options
	logger zerolog.Logger
}

// New constructs the orchestrator. locker may be nil.
func New(loops []*monitor.Loop, locker storage.AdvisoryLocker, opts Options, logger zerolog.Logger) *Service {
	if opts.StandbyRetry <= 0 {
		opts.StandbyRetry = defaultStandbyRetry
	}
	return &Service{
		loops:  loops,
		locker: locker,
		opts:   opts,
		logger: logger.With().Str("component", "service").Logger(),
	}
}

// Loops exposes the managed loops.
func (s *Service) Loops() []*monitor.Loop {
	return s.loops
}

// Run blocks until ctx is cancelled and every loop has finished its current
// tick. A loop that fails does not stop its siblings.
func (s *Service) Run(ctx context.Context) error {
	if len(s.loops) == 0 {
		return fmt.Errorf("no assets configured")
	}

	unlock, leader, err := s.awaitLeadership(ctx)
	if err != nil {
		return err
	}
	if !leader {
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	s.logger.Info().Int("assets", len(s.loops)).Msg("starting monitor loops")

	// plain Group: no shared cancellation between loops
	var g errgroup.Group
	for _, loop := range s.loops {
		loop := loop
		g.Go(func() error {
			if err := loop.Run(ctx); err != nil {
				s.logger.Error().Err(err).Str("asset", loop.Asset()).Msg("monitor loop terminated")
				return fmt.Errorf("asset %s: %w", loop.Asset(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// awaitLeadership blocks in standby until the advisory lock is taken or ctx
// ends. leader=false means ctx ended first.
func (s *Service) awaitLeadership(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}

	for {
		unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
		switch {
		case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
			return nil, false, nil
		case err != nil:
			s.logger.Warn().Err(err).Msg("advisory lock attempt failed")
		case acquired:
			s.logger.Info().Int64("lock_key", s.opts.LockKey).Msg("acquired leadership")
			return unlock, true, nil
		default:
			s.logger.Info().Int64("lock_key", s.opts.LockKey).Dur("retry", s.opts.StandbyRetry).Msg("another instance holds the lock; standing by")
		}

		timer := time.NewTimer(s.opts.StandbyRetry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false, nil
		case <-timer.C:
		}
	}
}

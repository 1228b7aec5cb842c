package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewPanicsOnZeroInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("interval 为 0 时应 panic")
		}
	}()
	New(Options{}, zerolog.Nop())
}

func TestRunImmediatelyAndStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ticks atomic.Int32
	s := New(Options{Interval: 20 * time.Millisecond, RunImmediately: true}, zerolog.Nop())

	errCh := make(chan error, 1)
	start := time.Now()
	go func() {
		errCh <- s.Run(ctx, func(ctx context.Context, at time.Time) error {
			if ticks.Add(1) == 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}

	if got := ticks.Load(); got != 3 {
		t.Fatalf("取消后不应再执行 tick, 实际 %d 次", got)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("ticks should be spaced by the interval, finished in %v", elapsed)
	}
}

func TestRunKeepsGoingAfterTickError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ticks atomic.Int32
	s := New(Options{Interval: 5 * time.Millisecond, RunImmediately: true}, zerolog.Nop())
	err := s.Run(ctx, func(ctx context.Context, at time.Time) error {
		if ticks.Add(1) >= 2 {
			cancel()
		}
		return errors.New("tick failed")
	})
	if !errors.Is(err, context.Canceled) || ticks.Load() != 2 {
		t.Fatalf("tick 出错不应终止调度: err=%v ticks=%d", err, ticks.Load())
	}
}

func TestNextTickAlignment(t *testing.T) {
	s := New(Options{Interval: time.Minute, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2024, 1, 1, 10, 0, 30, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(time.Date(2024, 1, 1, 10, 1, 0, 0, time.UTC)) {
		t.Fatalf("aligned next tick wrong: %v", got)
	}
	if got := s.tickStart(now); !got.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("tick start wrong: %v", got)
	}

	free := New(Options{Interval: time.Minute}, zerolog.Nop())
	if got := free.nextTick(now); !got.Equal(now.Add(time.Minute)) {
		t.Fatalf("unaligned next tick wrong: %v", got)
	}
}

func TestStartupDelayHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(Options{Interval: time.Second, StartupDelay: time.Hour}, zerolog.Nop())
	if err := s.Run(ctx, func(context.Context, time.Time) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancel during startup delay, got %v", err)
	}
}

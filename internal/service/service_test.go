package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"arbwatch/internal/collector"
	"arbwatch/internal/fetcher"
	"arbwatch/internal/monitor"
	"arbwatch/internal/report"
)

type perAssetSink struct {
	mu     sync.Mutex
	counts map[string]int
}

func (s *perAssetSink) Publish(_ context.Context, ev report.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = make(map[string]int)
	}
	s.counts[ev.Asset]++
	return nil
}

func (s *perAssetSink) count(asset string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[asset]
}

type blockingFetcher struct{}

func (blockingFetcher) FetchPrice(ctx context.Context, _ string) (float64, bool, error) {
	<-ctx.Done()
	return 0, false, ctx.Err()
}

func newLoop(asset string, sources []collector.Source, sink report.Sink) *monitor.Loop {
	coll := collector.New(sources, collector.Options{Timeout: time.Second}, zerolog.Nop())
	return monitor.New(asset, coll, sink, monitor.Options{Interval: 10 * time.Millisecond}, zerolog.Nop())
}

func TestSlowAssetDoesNotDelayOthers(t *testing.T) {
	sink := &perAssetSink{}
	slow := newLoop("SLOW", []collector.Source{
		{Name: "STUCK", Fetcher: blockingFetcher{}, Timeout: 300 * time.Millisecond},
		{Name: "OK", Fetcher: fetcher.NewStatic(1)},
	}, sink)
	fast := newLoop("FAST", []collector.Source{
		{Name: "A", Fetcher: fetcher.NewStatic(100)},
		{Name: "B", Fetcher: fetcher.NewStatic(101)},
	}, sink)

	svc := New([]*monitor.Loop{slow, fast}, nil, Options{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	time.Sleep(150 * time.Millisecond)
	fastTicks := sink.count("FAST")
	slowTicks := sink.count("SLOW")
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("service should stop cleanly: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("service did not stop")
	}

	if fastTicks < 5 {
		t.Fatalf("慢资产不应拖慢其他资产, FAST 只执行了 %d 次", fastTicks)
	}
	if slowTicks != 0 {
		t.Fatalf("SLOW tick should still be waiting on its timeout, got %d", slowTicks)
	}
	if sink.count("SLOW") != 1 {
		t.Fatalf("in-flight SLOW tick should complete after cancel, got %d", sink.count("SLOW"))
	}
	for _, l := range svc.Loops() {
		if l.State() != monitor.StateCancelled {
			t.Fatalf("%s: expected cancelled, got %s", l.Asset(), l.State())
		}
	}
}

func TestRunWithoutAssets(t *testing.T) {
	if err := New(nil, nil, Options{}, zerolog.Nop()).Run(context.Background()); err == nil {
		t.Fatal("expected error without assets")
	}
}

type fakeLocker struct {
	attempts atomic.Int32
	grantAt  int32
	released atomic.Bool
	err      error
}

func (f *fakeLocker) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	n := f.attempts.Add(1)
	if f.err != nil {
		return nil, false, f.err
	}
	if f.grantAt > 0 && n >= f.grantAt {
		return func() { f.released.Store(true) }, true, nil
	}
	return nil, false, nil
}

func TestStandbyUntilLockAcquired(t *testing.T) {
	sink := &perAssetSink{}
	loop := newLoop("SOL", []collector.Source{
		{Name: "A", Fetcher: fetcher.NewStatic(1)},
		{Name: "B", Fetcher: fetcher.NewStatic(2)},
	}, sink)
	locker := &fakeLocker{grantAt: 3}
	svc := New([]*monitor.Loop{loop}, locker, Options{LockKey: 42, StandbyRetry: 10 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := svc.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if locker.attempts.Load() != 3 {
		t.Fatalf("应在第 3 次尝试时获得锁, 实际 %d", locker.attempts.Load())
	}
	if !locker.released.Load() {
		t.Fatal("lock should be released on shutdown")
	}
	if sink.count("SOL") == 0 {
		t.Fatal("leader should run loops")
	}
}

func TestStandbyNeverLeads(t *testing.T) {
	sink := &perAssetSink{}
	loop := newLoop("SOL", []collector.Source{{Name: "A", Fetcher: fetcher.NewStatic(1)}}, sink)
	locker := &fakeLocker{err: errors.New("db down")}
	svc := New([]*monitor.Loop{loop}, locker, Options{LockKey: 42, StandbyRetry: 5 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := svc.Run(ctx); err != nil {
		t.Fatalf("standby should exit cleanly: %v", err)
	}
	if sink.count("SOL") != 0 {
		t.Fatal("standby replica must not run loops")
	}
	if locker.attempts.Load() < 2 {
		t.Fatal("standby should keep retrying")
	}
}

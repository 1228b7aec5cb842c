package collector

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"arbwatch/internal/fetcher"
)

type fetchFunc func(ctx context.Context, asset string) (float64, bool, error)

func (f fetchFunc) FetchPrice(ctx context.Context, asset string) (float64, bool, error) {
	return f(ctx, asset)
}

var _ fetcher.PriceFetcher = fetchFunc(nil)

func quote(p float64) fetchFunc {
	return func(context.Context, string) (float64, bool, error) { return p, true, nil }
}

func TestCollectKeepsSourceOrder(t *testing.T) {
	c := New([]Source{
		{Name: "ORCA", Fetcher: quote(100)},
		{Name: "RAYDIUM", Fetcher: quote(105)},
		{Name: "JUPITER", Fetcher: quote(98)},
	}, Options{Timeout: time.Second}, zerolog.Nop())

	seq := c.Collect(context.Background(), "SOL")
	if seq.Present() != 3 {
		t.Fatalf("期望 3 个有效价格, 实际 %d", seq.Present())
	}
	want := []string{"ORCA@100", "RAYDIUM@105", "JUPITER@98"}
	for i, w := range want {
		if got := seq.Slots[i].String(); got != w {
			t.Fatalf("slot %d: want %s got %s", i, w, got)
		}
		if seq.Outcomes[i].Status != StatusOK {
			t.Fatalf("slot %d status %s", i, seq.Outcomes[i].Status)
		}
	}
	if names := c.Names(); len(names) != 3 || names[1] != "RAYDIUM" || c.Len() != 3 {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestCollectIsolatesFailures(t *testing.T) {
	boom := errors.New("boom")
	c := New([]Source{
		{Name: "A", Fetcher: fetchFunc(func(context.Context, string) (float64, bool, error) { return 0, false, boom })},
		{Name: "B", Fetcher: quote(105)},
		{Name: "C", Fetcher: fetchFunc(func(context.Context, string) (float64, bool, error) { return 0, false, nil })},
		{Name: "D", Fetcher: quote(98)},
	}, Options{}, zerolog.Nop())

	seq := c.Collect(context.Background(), "SOL")

	if seq.Slots[0].Present || seq.Outcomes[0].Status != StatusFailed || !errors.Is(seq.Outcomes[0].Err, boom) {
		t.Fatalf("失败的数据源应为空槽位且状态为 failed: %+v", seq.Outcomes[0])
	}
	if seq.Slots[2].Present || seq.Outcomes[2].Status != StatusNoData {
		t.Fatalf("无数据的数据源应为 no_data: %+v", seq.Outcomes[2])
	}
	if !seq.Slots[1].Present || !seq.Slots[3].Present {
		t.Fatal("其他数据源不应受影响")
	}
}

func TestCollectTimeoutAbandonsStuckSource(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	c := New([]Source{
		{Name: "STUCK", Fetcher: fetchFunc(func(context.Context, string) (float64, bool, error) {
			<-release
			return 1, true, nil
		}), Timeout: 30 * time.Millisecond},
		{Name: "SLOW", Fetcher: fetchFunc(func(ctx context.Context, _ string) (float64, bool, error) {
			<-ctx.Done()
			return 0, false, ctx.Err()
		})},
		{Name: "FAST", Fetcher: quote(10)},
	}, Options{Timeout: 50 * time.Millisecond}, zerolog.Nop())

	start := time.Now()
	seq := c.Collect(context.Background(), "SOL")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("collect should be bounded by timeouts, took %v", elapsed)
	}
	for i := 0; i < 2; i++ {
		if seq.Outcomes[i].Status != StatusTimeout || seq.Slots[i].Present {
			t.Fatalf("source %d: 超时应标记为 timeout: %+v", i, seq.Outcomes[i])
		}
	}
	if !seq.Slots[2].Present {
		t.Fatal("fast source must still be present")
	}
}

func TestCollectRejectsBadPrices(t *testing.T) {
	c := New([]Source{
		{Name: "NAN", Fetcher: quote(math.NaN())},
		{Name: "INF", Fetcher: quote(math.Inf(1))},
		{Name: "ZERO", Fetcher: quote(0)},
		{Name: "NEG", Fetcher: quote(-3)},
		{Name: "HUGE", Fetcher: quote(1e12)},
		{Name: "OK", Fetcher: quote(42)},
	}, Options{MaxPrice: 1e9}, zerolog.Nop())

	seq := c.Collect(context.Background(), "SOL")
	for i := 0; i < 5; i++ {
		if seq.Slots[i].Present || seq.Outcomes[i].Status != StatusRejected {
			t.Fatalf("%s 应被拒绝: %+v", seq.Outcomes[i].Source, seq.Outcomes[i])
		}
	}
	if !seq.Slots[5].Present || seq.Present() != 1 {
		t.Fatal("valid price must be kept")
	}
}

func TestCollectRecoversPanickingSource(t *testing.T) {
	c := New([]Source{
		{Name: "PANIC", Fetcher: fetchFunc(func(context.Context, string) (float64, bool, error) { panic("bad adapter") })},
		{Name: "OK", Fetcher: quote(7)},
	}, Options{}, zerolog.Nop())

	seq := c.Collect(context.Background(), "SOL")
	if seq.Outcomes[0].Status != StatusFailed || seq.Outcomes[0].Err == nil {
		t.Fatalf("panic 应记为 failed: %+v", seq.Outcomes[0])
	}
	if !seq.Slots[1].Present {
		t.Fatal("other source unaffected")
	}
}

func TestCollectRespectsConcurrencyLimit(t *testing.T) {
	var inflight, peak atomic.Int32
	slow := fetchFunc(func(context.Context, string) (float64, bool, error) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inflight.Add(-1)
		return 1, true, nil
	})

	sources := make([]Source, 6)
	for i := range sources {
		sources[i] = Source{Name: string(rune('A' + i)), Fetcher: slow}
	}
	c := New(sources, Options{MaxConcurrency: 2}, zerolog.Nop())

	seq := c.Collect(context.Background(), "SOL")
	if seq.Present() != 6 {
		t.Fatalf("all sources should answer, got %d", seq.Present())
	}
	if peak.Load() > 2 {
		t.Fatalf("并发上限为 2, 实际峰值 %d", peak.Load())
	}
}

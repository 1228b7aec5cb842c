package arbitrage

import (
	"errors"
	"strings"
	"testing"
	"time"

	"arbwatch/internal/pricing"
)

func slot(src string, p float64) pricing.Slot {
	return pricing.Present(pricing.Entry{Source: src, Price: p})
}

func TestDetectThreeSources(t *testing.T) {
	d := NewDetector("SOL", 3)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	r, err := d.Detect(at, []pricing.Slot{slot("ORCA", 100), slot("RAYDIUM", 105), slot("JUPITER", 98)})
	if err != nil || r == nil {
		t.Fatalf("expected report, got %v %v", r, err)
	}
	if r.Cheapest.Source != "JUPITER" || r.Cheapest.Price != 98 {
		t.Fatalf("最低价应为 JUPITER@98, 实际 %v", r.Cheapest)
	}
	if r.Priciest.Source != "RAYDIUM" || r.Priciest.Price != 105 {
		t.Fatalf("最高价应为 RAYDIUM@105, 实际 %v", r.Priciest)
	}
	if r.Spread != 7 || !r.Opportunity() || r.Present != 3 {
		t.Fatalf("unexpected spread %+v", r)
	}
	if !r.DetectedAt.Equal(at) || r.Asset != "SOL" {
		t.Fatalf("metadata mismatch %+v", r)
	}

	want := "Max Arbitrage opportunity detected: buy SOL in JUPITER at 98 and sell on RAYDIUM at 105. Profit: $7"
	if r.String() != want {
		t.Fatalf("render mismatch:\n%s\n%s", r.String(), want)
	}
}

func TestDetectEqualPricesIsNoOpportunity(t *testing.T) {
	d := NewDetector("SOL", 2)
	r, err := d.Detect(time.Now(), []pricing.Slot{slot("ORCA", 100), slot("RAYDIUM", 100)})
	if err != nil || r == nil {
		t.Fatalf("equal prices still yield a report: %v %v", r, err)
	}
	if r.Spread != 0 || r.Opportunity() {
		t.Fatalf("价差为 0 时不应判定为机会: %+v", r)
	}
	if r.Cheapest.Source != "ORCA" || r.Priciest.Source != "ORCA" {
		t.Fatalf("tie-break should prefer the left source: %+v", r)
	}
}

func TestDetectNeverTreatsAbsentAsZero(t *testing.T) {
	d := NewDetector("SOL", 2)
	r, err := d.Detect(time.Now(), []pricing.Slot{pricing.Absent, slot("RAYDIUM", 100)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r != nil {
		t.Fatalf("只有一个有效价格时不应产生报告: %v", r)
	}

	r, _ = d.Detect(time.Now(), []pricing.Slot{pricing.Absent, pricing.Absent})
	if r != nil {
		t.Fatal("all-absent tick must not report")
	}
}

func TestDetectSkipsTimedOutSource(t *testing.T) {
	d := NewDetector("SOL", 3)
	r, err := d.Detect(time.Now(), []pricing.Slot{pricing.Absent, slot("RAYDIUM", 105), slot("JUPITER", 98)})
	if err != nil || r == nil {
		t.Fatalf("expected report: %v %v", r, err)
	}
	if r.Spread != 7 || r.Present != 2 || r.Cheapest.Source != "JUPITER" {
		t.Fatalf("unexpected report %+v", r)
	}
	if strings.Contains(r.String(), " at 0 ") {
		t.Fatalf("absent source leaked into report: %s", r)
	}
}

func TestDetectIncrementalAcrossTicks(t *testing.T) {
	d := NewDetector("SOL", 3)

	ticks := []struct {
		slots    []pricing.Slot
		cheapest string
		priciest string
		spread   float64
	}{
		{[]pricing.Slot{slot("ORCA", 100), slot("RAYDIUM", 105), slot("JUPITER", 98)}, "JUPITER", "RAYDIUM", 7},
		{[]pricing.Slot{slot("ORCA", 90), slot("RAYDIUM", 105), pricing.Absent}, "ORCA", "RAYDIUM", 15},
		{[]pricing.Slot{slot("ORCA", 90), slot("RAYDIUM", 95), slot("JUPITER", 110)}, "ORCA", "JUPITER", 20},
	}
	for i, tc := range ticks {
		r, err := d.Detect(time.Now(), tc.slots)
		if err != nil || r == nil {
			t.Fatalf("tick %d: %v %v", i, r, err)
		}
		if r.Cheapest.Source != tc.cheapest || r.Priciest.Source != tc.priciest || r.Spread != tc.spread {
			t.Fatalf("tick %d: 期望 %s/%s/%v, 实际 %+v", i, tc.cheapest, tc.priciest, tc.spread, r)
		}
	}

	if r, _ := d.Detect(time.Now(), []pricing.Slot{pricing.Absent, pricing.Absent, slot("JUPITER", 1)}); r != nil {
		t.Fatal("stale leaves must be cleared when a source drops out")
	}
}

func TestDetectLengthMismatch(t *testing.T) {
	d := NewDetector("SOL", 3)
	_, err := d.Detect(time.Now(), []pricing.Slot{slot("ORCA", 1)})
	if !errors.Is(err, ErrSequenceLength) {
		t.Fatalf("expected ErrSequenceLength, got %v", err)
	}
}

func TestReportIDsAreUnique(t *testing.T) {
	d := NewDetector("SOL", 2)
	slots := []pricing.Slot{slot("A", 1), slot("B", 2)}
	r1, _ := d.Detect(time.Now(), slots)
	r2, _ := d.Detect(time.Now(), slots)
	if r1.ID == r2.ID {
		t.Fatal("each report needs its own id")
	}
	if r1.SpreadPct != 100 {
		t.Fatalf("spread pct should be relative to cheapest, got %v", r1.SpreadPct)
	}
}

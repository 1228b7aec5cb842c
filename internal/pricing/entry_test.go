package pricing

import (
	"math"
	"testing"
)

func TestSlotString(t *testing.T) {
	if got := Absent.String(); got != "none" {
		t.Fatalf("absent slot should render as none, got %q", got)
	}

	s := Present(Entry{Source: "ORCA", Price: 100})
	if got := s.String(); got != "ORCA@100" {
		t.Fatalf("unexpected rendering %q", got)
	}
}

func TestCountPresent(t *testing.T) {
	slots := []Slot{Absent, Present(Entry{Source: "A", Price: 1}), Absent, Present(Entry{Source: "B", Price: 2})}
	if got := CountPresent(slots); got != 2 {
		t.Fatalf("期望 2 个有效价格, 实际 %d", got)
	}
}

func TestFinite(t *testing.T) {
	cases := []struct {
		in   float64
		want bool
	}{
		{1.5, true},
		{0, true},
		{math.NaN(), false},
		{math.Inf(1), false},
		{math.Inf(-1), false},
	}
	for _, tc := range cases {
		if got := Finite(tc.in); got != tc.want {
			t.Fatalf("Finite(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestFormatPrice(t *testing.T) {
	if got := FormatPrice(98); got != "98" {
		t.Fatalf("整数价格不应带小数, 实际 %q", got)
	}
	if got := FormatPrice(0.000123); got != "0.000123" {
		t.Fatalf("小价格不应使用科学计数法, 实际 %q", got)
	}
}

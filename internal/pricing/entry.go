package pricing

import (
	"math"
	"strconv"
)

// Entry is one source's price observation for one asset at one tick.
type Entry struct {
	Source string
	Price  float64
}

// String renders the entry as `SOURCE@price`.
func (e Entry) String() string {
	return e.Source + "@" + FormatPrice(e.Price)
}

// Slot is an optionally present Entry. The zero value is absent.
type Slot struct {
	Entry   Entry
	Present bool
}

// Absent is the empty slot.
var Absent = Slot{}

// Present wraps an entry into a filled slot.
func Present(e Entry) Slot {
	return Slot{Entry: e, Present: true}
}

// String renders the inner entry, or "none" for an absent slot.
func (s Slot) String() string {
	if !s.Present {
		return "none"
	}
	return s.Entry.String()
}

// CountPresent returns how many slots hold an entry.
func CountPresent(slots []Slot) int {
	n := 0
	for _, s := range slots {
		if s.Present {
			n++
		}
	}
	return n
}

// Finite reports whether p can take part in price comparisons.
func Finite(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0)
}

// FormatPrice prints p with the shortest representation that round-trips.
func FormatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

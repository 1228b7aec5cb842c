// Package segtree implements a fixed-capacity min/max segment tree over
// optionally present price entries.
//
// Leaves live at [n, 2n) of two flattened arrays; node i combines 2i and
// 2i+1. Combining always prefers the left operand on equal prices, and the
// query folds the left and right frontier separately so the result matches a
// left-to-right scan for any n, power of two or not.
package segtree

import (
	"fmt"
	"math"

	"arbwatch/internal/pricing"
)

// Tree answers range minimum and maximum queries with point updates.
type Tree struct {
	min []pricing.Slot
	max []pricing.Slot
	n   int
}

// New returns a tree with n absent leaves.
func New(n int) *Tree {
	if n < 0 {
		panic(fmt.Sprintf("segtree: negative size %d", n))
	}
	return &Tree{
		min: make([]pricing.Slot, 2*n),
		max: make([]pricing.Slot, 2*n),
		n:   n,
	}
}

// Build constructs a tree over slots in O(n).
func Build(slots []pricing.Slot) *Tree {
	t := New(len(slots))
	for i, s := range slots {
		t.min[t.n+i] = s
		t.max[t.n+i] = s
	}
	for i := t.n - 1; i >= 1; i-- {
		t.pull(i)
	}
	return t
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	return t.n
}

// Leaf returns the slot currently stored at index i.
func (t *Tree) Leaf(i int) pricing.Slot {
	t.checkIndex(i)
	return t.min[t.n+i]
}

// Update replaces leaf i and recomputes its ancestors.
func (t *Tree) Update(i int, s pricing.Slot) {
	t.checkIndex(i)
	pos := i + t.n
	t.min[pos] = s
	t.max[pos] = s
	for pos > 1 {
		pos /= 2
		t.pull(pos)
	}
}

// RangeMin returns the cheapest present entry in [l, r), or an absent slot.
func (t *Tree) RangeMin(l, r int) pricing.Slot {
	return t.query(l, r, t.min, minOf)
}

// RangeMax returns the most expensive present entry in [l, r), or an absent slot.
func (t *Tree) RangeMax(l, r int) pricing.Slot {
	return t.query(l, r, t.max, maxOf)
}

func (t *Tree) pull(i int) {
	t.min[i] = minOf(t.min[2*i], t.min[2*i+1])
	t.max[i] = maxOf(t.max[2*i], t.max[2*i+1])
}

func (t *Tree) query(l, r int, nodes []pricing.Slot, combine func(a, b pricing.Slot) pricing.Slot) pricing.Slot {
	if l < 0 || r > t.n || l > r {
		panic(fmt.Sprintf("segtree: range [%d,%d) outside [0,%d]", l, r, t.n))
	}

	var left, right pricing.Slot
	for l, r = l+t.n, r+t.n; l < r; l, r = l/2, r/2 {
		if l%2 == 1 {
			left = combine(left, nodes[l])
			l++
		}
		if r%2 == 1 {
			r--
			right = combine(nodes[r], right)
		}
	}
	return combine(left, right)
}

func (t *Tree) checkIndex(i int) {
	if i < 0 || i >= t.n {
		panic(fmt.Sprintf("segtree: index %d outside [0,%d)", i, t.n))
	}
}

// minOf keeps a on ties. A NaN price only wins against another NaN.
func minOf(a, b pricing.Slot) pricing.Slot {
	switch {
	case !a.Present:
		return b
	case !b.Present:
		return a
	}
	x, y := a.Entry.Price, b.Entry.Price
	switch {
	case math.IsNaN(x) && !math.IsNaN(y):
		return b
	case math.IsNaN(y):
		return a
	case y < x:
		return b
	default:
		return a
	}
}

// maxOf mirrors minOf.
func maxOf(a, b pricing.Slot) pricing.Slot {
	switch {
	case !a.Present:
		return b
	case !b.Present:
		return a
	}
	x, y := a.Entry.Price, b.Entry.Price
	switch {
	case math.IsNaN(x) && !math.IsNaN(y):
		return b
	case math.IsNaN(y):
		return a
	case y > x:
		return b
	default:
		return a
	}
}

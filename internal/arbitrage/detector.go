// Package arbitrage turns one tick's price slots into a spread report.
package arbitrage

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"arbwatch/internal/pricing"
	"arbwatch/internal/segtree"
)

// ErrSequenceLength is returned when a tick carries a different number of
// slots than the detector was configured for.
var ErrSequenceLength = errors.New("arbitrage: slot count does not match configured sources")

// Report is the spread between the cheapest and priciest source for an asset
// in one tick.
type Report struct {
	ID         uuid.UUID
	Asset      string
	Cheapest   pricing.Entry
	Priciest   pricing.Entry
	Spread     float64
	SpreadPct  float64
	Present    int
	DetectedAt time.Time
}

// Opportunity reports whether the two extremes actually differ.
func (r *Report) Opportunity() bool {
	return r != nil && r.Spread > 0
}

func (r *Report) String() string {
	return fmt.Sprintf(
		"Max Arbitrage opportunity detected: buy %s in %s at %s and sell on %s at %s. Profit: $%s",
		r.Asset,
		r.Cheapest.Source, pricing.FormatPrice(r.Cheapest.Price),
		r.Priciest.Source, pricing.FormatPrice(r.Priciest.Price),
		pricing.FormatPrice(r.Spread),
	)
}

// Detector keeps a persistent min/max tree for one asset and updates only the
// leaves that changed since the previous tick. Not safe for concurrent use;
// each monitor loop owns its own detector.
type Detector struct {
	asset string
	tree  *segtree.Tree
}

// NewDetector sizes the tree for the given number of sources.
func NewDetector(asset string, sources int) *Detector {
	return &Detector{asset: asset, tree: segtree.New(sources)}
}

// Asset returns the asset key the detector was built for.
func (d *Detector) Asset() string {
	return d.asset
}

// Detect applies slots and returns the spread report. A nil report with a nil
// error means fewer than two sources quoted this tick. Equal extremes still
// produce a report, with Spread 0 and Opportunity false.
func (d *Detector) Detect(at time.Time, slots []pricing.Slot) (*Report, error) {
	if len(slots) != d.tree.Len() {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSequenceLength, len(slots), d.tree.Len())
	}

	present := 0
	for i, s := range slots {
		if s.Present {
			present++
		}
		if d.tree.Leaf(i) != s {
			d.tree.Update(i, s)
		}
	}
	if present < 2 {
		return nil, nil
	}

	lo := d.tree.RangeMin(0, len(slots))
	hi := d.tree.RangeMax(0, len(slots))
	if !lo.Present || !hi.Present {
		return nil, nil
	}

	spread := hi.Entry.Price - lo.Entry.Price
	if spread < 0 {
		spread = 0
	}
	pct := 0.0
	if lo.Entry.Price > 0 {
		pct = spread / lo.Entry.Price * 100
	}

	return &Report{
		ID:         uuid.New(),
		Asset:      d.asset,
		Cheapest:   lo.Entry,
		Priciest:   hi.Entry,
		Spread:     spread,
		SpreadPct:  pct,
		Present:    present,
		DetectedAt: at.UTC(),
	}, nil
}

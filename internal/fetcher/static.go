package fetcher

import (
	"context"
)

// Static always answers with a fixed price. Used by the simulate command.
type Static struct {
	price float64
	found bool
}

// NewStatic returns a fetcher quoting price for every asset.
func NewStatic(price float64) *Static {
	return &Static{price: price, found: true}
}

// NewStaticMissing returns a fetcher that never quotes anything.
func NewStaticMissing() *Static {
	return &Static{}
}

// FetchPrice implements PriceFetcher.
func (s *Static) FetchPrice(ctx context.Context, asset string) (float64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	return s.price, s.found, nil
}

var _ PriceFetcher = (*Static)(nil)

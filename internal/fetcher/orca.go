package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sugawarayuuta/sonnet"
	"golang.org/x/sync/singleflight"
)

// USDCMint is the Solana mint of USDC, the default Orca quote token.
const USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

// OrcaOptions parameterise the Orca whirlpool fetcher.
type OrcaOptions struct {
	BaseURL   string
	QuoteMint string
	CacheTTL  time.Duration
	Timeout   time.Duration
	UserAgent string
}

// Orca derives prices from the Orca whirlpool list. The list covers every
// pool, so one download is shared by all assets for CacheTTL.
type Orca struct {
	http      httpGetter
	quoteMint string
	ttl       time.Duration
	logger    zerolog.Logger
	now       func() time.Time

	group     singleflight.Group
	mu        sync.Mutex
	pools     []whirlpool
	fetchedAt time.Time
}

// NewOrca constructs an Orca fetcher.
func NewOrca(opts OrcaOptions, logger zerolog.Logger) *Orca {
	quote := opts.QuoteMint
	if quote == "" {
		quote = USDCMint
	}
	return &Orca{
		http:      newHTTPGetter("orca", opts.BaseURL, "https://api.mainnet.orca.so/v1", opts.UserAgent, opts.Timeout),
		quoteMint: quote,
		ttl:       opts.CacheTTL,
		logger:    logger.With().Str("component", "orca_fetcher").Logger(),
		now:       time.Now,
	}
}

// FetchPrice returns the price of the deepest asset/quote whirlpool.
func (o *Orca) FetchPrice(ctx context.Context, asset string) (float64, bool, error) {
	pools, err := o.whirlpools(ctx)
	if err != nil {
		return 0, false, err
	}

	var (
		best  *whirlpool
		found bool
	)
	for i := range pools {
		p := &pools[i]
		if p.TokenA.Mint != asset || p.TokenB.Mint != o.quoteMint {
			continue
		}
		found = true
		if p.Price == nil {
			continue
		}
		if best == nil || p.tvl() > best.tvl() {
			best = p
		}
	}

	if best == nil {
		if found {
			o.logger.Debug().Str("asset", asset).Msg("whirlpool found without price")
		} else {
			o.logger.Debug().Str("asset", asset).Msg("no whirlpool for asset")
		}
		return 0, false, nil
	}
	return *best.Price, true, nil
}

func (o *Orca) whirlpools(ctx context.Context) ([]whirlpool, error) {
	o.mu.Lock()
	if o.pools != nil && o.ttl > 0 && o.now().Sub(o.fetchedAt) < o.ttl {
		pools := o.pools
		o.mu.Unlock()
		return pools, nil
	}
	o.mu.Unlock()

	// the download is shared by every asset, so it must not inherit one
	// caller's deadline; the http client timeout bounds it instead
	shared := context.WithoutCancel(ctx)
	ch := o.group.DoChan("whirlpools", func() (interface{}, error) {
		payload, err := o.http.get(shared, "/whirlpool/list")
		if err != nil {
			return nil, err
		}
		var list whirlpoolList
		if err := sonnet.Unmarshal(payload, &list); err != nil {
			return nil, fmt.Errorf("orca: decode whirlpool list: %w", err)
		}

		o.mu.Lock()
		o.pools = list.Whirlpools
		o.fetchedAt = o.now()
		o.mu.Unlock()

		o.logger.Debug().Int("pools", len(list.Whirlpools)).Msg("whirlpool list refreshed")
		return list.Whirlpools, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]whirlpool), nil
	}
}

type whirlpoolList struct {
	Whirlpools []whirlpool `json:"whirlpools"`
}

type whirlpoolToken struct {
	Mint     string `json:"mint"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint32 `json:"decimals"`
}

type whirlpool struct {
	Address     string         `json:"address"`
	TokenA      whirlpoolToken `json:"tokenA"`
	TokenB      whirlpoolToken `json:"tokenB"`
	TickSpacing uint32         `json:"tickSpacing"`
	Price       *float64       `json:"price"`
	TVL         *float64       `json:"tvl"`
}

func (w *whirlpool) tvl() float64 {
	if w.TVL == nil {
		return 0
	}
	return *w.TVL
}

var _ PriceFetcher = (*Orca)(nil)

package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// JupiterOptions parameterise the Jupiter price API fetcher.
type JupiterOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Jupiter quotes assets through the Jupiter aggregator price endpoint.
type Jupiter struct {
	http   httpGetter
	logger zerolog.Logger
}

// NewJupiter constructs a Jupiter fetcher.
func NewJupiter(opts JupiterOptions, logger zerolog.Logger) *Jupiter {
	return &Jupiter{
		http:   newHTTPGetter("jupiter", opts.BaseURL, "https://price.jup.ag/v6", opts.UserAgent, opts.Timeout),
		logger: logger.With().Str("component", "jupiter_fetcher").Logger(),
	}
}

// FetchPrice returns the Jupiter price for asset.
func (j *Jupiter) FetchPrice(ctx context.Context, asset string) (float64, bool, error) {
	payload, err := j.http.get(ctx, "/price?ids="+url.QueryEscape(asset))
	if err != nil {
		return 0, false, err
	}

	var res jupiterResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return 0, false, fmt.Errorf("jupiter: decode response: %w", err)
	}

	info, ok := res.Data[asset]
	if !ok {
		j.logger.Debug().Str("asset", asset).Msg("asset not listed")
		return 0, false, nil
	}
	return info.Price, true, nil
}

type jupiterResponse struct {
	Data map[string]struct {
		ID            string  `json:"id"`
		MintSymbol    string  `json:"mintSymbol"`
		VsToken       string  `json:"vsToken"`
		VsTokenSymbol string  `json:"vsTokenSymbol"`
		Price         float64 `json:"price"`
	} `json:"data"`
	TimeTaken float64 `json:"timeTaken"`
}

var _ PriceFetcher = (*Jupiter)(nil)

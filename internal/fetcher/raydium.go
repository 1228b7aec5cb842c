package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// RaydiumOptions parameterise the Raydium mint price fetcher.
type RaydiumOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Raydium quotes assets through the Raydium v3 mint price endpoint.
type Raydium struct {
	http   httpGetter
	logger zerolog.Logger
}

// NewRaydium constructs a Raydium fetcher.
func NewRaydium(opts RaydiumOptions, logger zerolog.Logger) *Raydium {
	return &Raydium{
		http:   newHTTPGetter("raydium", opts.BaseURL, "https://api-v3.raydium.io", opts.UserAgent, opts.Timeout),
		logger: logger.With().Str("component", "raydium_fetcher").Logger(),
	}
}

// FetchPrice returns the Raydium price for asset. Prices arrive as strings.
func (r *Raydium) FetchPrice(ctx context.Context, asset string) (float64, bool, error) {
	payload, err := r.http.get(ctx, "/mint/price?mints="+url.QueryEscape(asset))
	if err != nil {
		return 0, false, err
	}

	var res raydiumResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return 0, false, fmt.Errorf("raydium: decode response: %w", err)
	}
	if !res.Success {
		return 0, false, errors.New("raydium: response success=false")
	}

	raw := strings.TrimSpace(res.Data[asset])
	if raw == "" {
		r.logger.Debug().Str("asset", asset).Msg("asset not listed")
		return 0, false, nil
	}

	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("raydium: parse price %q: %w", raw, err)
	}
	return price, true, nil
}

type raydiumResponse struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	// null values decode to "".
	Data map[string]string `json:"data"`
}

var _ PriceFetcher = (*Raydium)(nil)

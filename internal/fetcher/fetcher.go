package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"arbwatch/internal/version"
)

const defaultTimeout = 10 * time.Second

// PriceFetcher retrieves the current quote of one asset from one upstream source.
//
// found=false with a nil error means the source does not quote the asset.
type PriceFetcher interface {
	FetchPrice(ctx context.Context, asset string) (price float64, found bool, err error)
}

// httpGetter performs GET requests against a JSON API rooted at baseURL.
type httpGetter struct {
	name      string
	baseURL   string
	userAgent string
	client    *http.Client
}

func newHTTPGetter(name, baseURL, fallbackURL, userAgent string, timeout time.Duration) httpGetter {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = fallbackURL
	}
	if strings.TrimSpace(userAgent) == "" {
		userAgent = version.UserAgent()
	}
	return httpGetter{
		name:      name,
		baseURL:   baseURL,
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
	}
}

// get returns the raw body of a successful response.
func (g httpGetter) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", g.name, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: send request: %w", g.name, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", g.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(g.name, resp.StatusCode, payload)
	}
	return payload, nil
}

func parseHTTPError(name string, status int, payload []byte) error {
	body := strings.TrimSpace(string(payload))
	if len(body) > 256 {
		body = body[:256]
	}
	if body != "" {
		return fmt.Errorf("%s api error (%d): %s", name, status, body)
	}
	return fmt.Errorf("%s api error (%d)", name, status)
}

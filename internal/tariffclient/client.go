// Package tariffclient is the thin HTTP puller for the external tariff
// API. The tariff API itself is out of core scope (spec §1); this
// package only needs to turn one HTTP round trip into a slice of
// tariff.RawPoint, with bounded retry and a hard deadline.
package tariffclient

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/richowen/battery-controller/internal/tariff"
)

// Source is the interface the controller's price-refresh task depends
// on; HTTPClient is the production implementation, and tests supply a
// fake.
type Source interface {
	Fetch(ctx context.Context, windowStart, windowEnd time.Time) ([]tariff.RawPoint, error)
}

// HTTPClient fetches JSON tariff windows from a configured base URL.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	maxRetries int
}

// NewHTTPClient creates an HTTPClient with a bounded per-attempt
// timeout and a maximum number of retries.
func NewHTTPClient(baseURL, userAgent string, timeout time.Duration, maxRetries int) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		userAgent:  userAgent,
		maxRetries: maxRetries,
	}
}

type rawPointWire struct {
	ValidFrom time.Time `json:"valid_from"`
	ValidTo   time.Time `json:"valid_to"`
	UnitPrice float64   `json:"unit_price"`
}

// Fetch retrieves the tariff window [windowStart, windowEnd], retrying
// with exponential backoff up to maxRetries times. The caller controls
// the hard deadline via ctx; on final failure it is the caller's
// responsibility to fall back to cached prices (spec §5).
func (c *HTTPClient) Fetch(ctx context.Context, windowStart, windowEnd time.Time) ([]tariff.RawPoint, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("tariffclient: no base URL configured")
	}

	url := fmt.Sprintf("%s?start=%s&end=%s",
		c.baseURL,
		windowStart.UTC().Format(time.RFC3339),
		windowEnd.UTC().Format(time.RFC3339))

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * 200 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("tariffclient: %w", ctx.Err())
			}
		}

		points, err := c.fetchOnce(ctx, url)
		if err == nil {
			return points, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("tariffclient: %w", ctx.Err())
		}
	}

	return nil, fmt.Errorf("tariffclient: exhausted %d retries: %w", c.maxRetries, lastErr)
}

func (c *HTTPClient) fetchOnce(ctx context.Context, url string) ([]tariff.RawPoint, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, resp.Status)
	}

	var wire []rawPointWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	points := make([]tariff.RawPoint, len(wire))
	for i, w := range wire {
		points[i] = tariff.RawPoint{ValidFrom: w.ValidFrom, ValidTo: w.ValidTo, UnitPrice: w.UnitPrice}
	}
	return points, nil
}

// Package source hosts the adapters that turn external price and TVL
// endpoints into flat ordered raw point lists. The engine never
// branches on source identity; adapters own endpoint selection,
// payload shape, and retry policy.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/butterygg/metric-report/internal/metrics"
	"github.com/butterygg/metric-report/internal/sample"
)

// Query identifies what to fetch for one run window. Epochs are UTC
// seconds; EndEpoch is exclusive.
type Query struct {
	Symbol     string
	AssetID    int64
	ConvertID  int64
	StartEpoch int64
	EndEpoch   int64
}

// Payload is an adapter's complete answer: the flat point list, the
// untouched response bytes for the audit capture, and, when the source
// can supply one, the close immediately preceding the window used to
// seed carry-forward filling.
type Payload struct {
	Points []sample.RawPoint
	Raw    []byte
	Seed   *decimal.Decimal
}

// Adapter is the single interface the engine fetches through.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, q Query) (*Payload, error)
}

// Client wraps an HTTP client with the shared retry/backoff policy
// every adapter uses.
type Client struct {
	http    *http.Client
	retries int
	backoff time.Duration
	log     zerolog.Logger
}

// NewClient builds a retrying client. Retries below one are clamped to
// a single attempt.
func NewClient(timeout time.Duration, retries int, backoff time.Duration, log zerolog.Logger) *Client {
	if retries < 1 {
		retries = 1
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		retries: retries,
		backoff: backoff,
		log:     log,
	}
}

const userAgent = "metric-report/1.0"

// Do executes the request builder with retries and linear backoff
// growth, returning the response body of the first success. The
// builder is invoked per attempt so request bodies can be replayed.
func (c *Client) Do(ctx context.Context, source string, build func() (*http.Request, error)) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		metrics.FetchesTotal.WithLabelValues(source).Inc()
		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req = req.WithContext(ctx)
		req.Header.Set("User-Agent", userAgent)

		body, err := c.once(req)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == c.retries {
			break
		}
		metrics.FetchRetriesTotal.WithLabelValues(source).Inc()
		c.log.Warn().Err(err).Str("source", source).Int("attempt", attempt).Msg("fetch failed, retrying")
		select {
		case <-time.After(c.backoff * time.Duration(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%s: retries exhausted: %w", source, lastErr)
}

func (c *Client) once(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/butterygg/metric-report/internal/sample"
	"github.com/butterygg/metric-report/internal/window"
)

// CoinMarketCap fetches the detail/chart series: a dictionary keyed by
// timestamp where each entry carries a value vector "v" and sometimes
// a scalar "c". The vector's first element takes precedence.
type CoinMarketCap struct {
	client  *Client
	baseURL string
}

// NewCoinMarketCap constructs the adapter against the data API base URL.
func NewCoinMarketCap(client *Client, baseURL string) *CoinMarketCap {
	return &CoinMarketCap{client: client, baseURL: baseURL}
}

func (c *CoinMarketCap) Name() string { return "coinmarketcap" }

type cmcPoint struct {
	V []json.Number `json:"v"`
	C json.Number   `json:"c"`
}

// Fetch requests the chart range [StartEpoch, EndEpoch] and flattens
// the timestamp map into raw points. Keys arrive as strings and may be
// seconds or milliseconds; the normalizer settles the unit.
func (c *CoinMarketCap) Fetch(ctx context.Context, q Query) (*Payload, error) {
	url := fmt.Sprintf(
		"%s/data-api/v3/cryptocurrency/detail/chart?id=%d&convertId=%d&range=%d~%d",
		c.baseURL, q.AssetID, q.ConvertID, q.StartEpoch, q.EndEpoch,
	)
	body, err := c.client.Do(ctx, c.Name(), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, url, nil)
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Data struct {
			Points map[string]cmcPoint `json:"points"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode chart payload: %w", err)
	}
	if payload.Data.Points == nil {
		return nil, fmt.Errorf("chart payload missing data.points")
	}

	type entry struct {
		key string
		ts  int64
		pt  cmcPoint
	}
	entries := make([]entry, 0, len(payload.Data.Points))
	for key, pt := range payload.Data.Points {
		ts, err := strconv.ParseFloat(key, 64)
		if err != nil {
			continue
		}
		entries = append(entries, entry{key: key, ts: int64(ts), pt: pt})
	}
	// Map iteration order is random; the point list must be stable so
	// same-instant keys always dedup to the same winner downstream.
	sort.Slice(entries, func(i, j int) bool {
		a, b := window.ParseEpoch(entries[i].ts), window.ParseEpoch(entries[j].ts)
		if a != b {
			return a < b
		}
		return entries[i].key < entries[j].key
	})

	points := make([]sample.RawPoint, 0, len(entries))
	for _, e := range entries {
		candidates := make([]string, 0, 2)
		if len(e.pt.V) > 0 {
			candidates = append(candidates, e.pt.V[0].String())
		} else if e.pt.C != "" {
			candidates = append(candidates, e.pt.C.String())
		}
		points = append(points, sample.RawPoint{Ts: e.ts, Candidates: candidates})
	}
	return &Payload{Points: points, Raw: body}, nil
}

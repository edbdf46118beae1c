package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/butterygg/metric-report/internal/sample"
)

// LlamaChainTVL fetches the historical TVL series for a chain. Rows
// carry the value under one of several keys; precedence is tvl, then
// totalLiquidityUSD, then value.
type LlamaChainTVL struct {
	client  *Client
	baseURL string
}

// NewLlamaChainTVL constructs the adapter against the api.llama.fi base URL.
func NewLlamaChainTVL(client *Client, baseURL string) *LlamaChainTVL {
	return &LlamaChainTVL{client: client, baseURL: baseURL}
}

func (l *LlamaChainTVL) Name() string { return "llama_chain_tvl" }

type llamaTVLRow struct {
	Date              json.Number  `json:"date"`
	TVL               *json.Number `json:"tvl"`
	TotalLiquidityUSD *json.Number `json:"totalLiquidityUSD"`
	Value             *json.Number `json:"value"`
}

func (r llamaTVLRow) candidates() []string {
	var out []string
	for _, n := range []*json.Number{r.TVL, r.TotalLiquidityUSD, r.Value} {
		if n != nil {
			out = append(out, n.String())
		}
	}
	return out
}

// Fetch returns the full daily series; the normalizer filters to the
// window.
func (l *LlamaChainTVL) Fetch(ctx context.Context, q Query) (*Payload, error) {
	endpoint := l.baseURL + "/v2/historicalChainTvl/" + url.PathEscape(q.Symbol)
	body, err := l.client.Do(ctx, l.Name(), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, err
	}

	var rows []llamaTVLRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode chain tvl series: %w", err)
	}

	points := make([]sample.RawPoint, 0, len(rows))
	for _, row := range rows {
		ts, err := row.Date.Int64()
		if err != nil {
			continue
		}
		points = append(points, sample.RawPoint{Ts: ts, Candidates: row.candidates()})
	}
	return &Payload{Points: points, Raw: body}, nil
}

// LlamaProtocolTVL fetches a protocol's per-chain TVL series and sums
// the chain and its borrowed counterpart per day. Symbol format is
// "slug:Chain".
type LlamaProtocolTVL struct {
	client  *Client
	baseURL string
}

// NewLlamaProtocolTVL constructs the adapter against the api.llama.fi base URL.
func NewLlamaProtocolTVL(client *Client, baseURL string) *LlamaProtocolTVL {
	return &LlamaProtocolTVL{client: client, baseURL: baseURL}
}

func (l *LlamaProtocolTVL) Name() string { return "llama_protocol_tvl" }

// Fetch resolves the "slug:Chain" symbol, merges the chain's TVL rows
// with the "<Chain>-borrowed" rows, and emits one summed point per
// day.
func (l *LlamaProtocolTVL) Fetch(ctx context.Context, q Query) (*Payload, error) {
	slug, chain, ok := strings.Cut(q.Symbol, ":")
	if !ok {
		return nil, fmt.Errorf("protocol symbol %q must be slug:Chain", q.Symbol)
	}
	endpoint := l.baseURL + "/protocol/" + url.PathEscape(slug)
	body, err := l.client.Do(ctx, l.Name(), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		ChainTvls map[string]struct {
			TVL []llamaTVLRow `json:"tvl"`
		} `json:"chainTvls"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode protocol payload: %w", err)
	}
	if payload.ChainTvls == nil {
		return nil, fmt.Errorf("protocol payload missing chainTvls")
	}

	totals := make(map[int64]decimal.Decimal)
	for _, entry := range []string{chain, chain + "-borrowed"} {
		series, ok := payload.ChainTvls[entry]
		if !ok {
			continue
		}
		for _, row := range series.TVL {
			ts, err := row.Date.Int64()
			if err != nil {
				continue
			}
			candidates := row.candidates()
			if len(candidates) == 0 {
				continue
			}
			value, err := decimal.NewFromString(candidates[0])
			if err != nil {
				continue
			}
			totals[ts] = totals[ts].Add(value)
		}
	}

	timestamps := make([]int64, 0, len(totals))
	for ts := range totals {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })

	points := make([]sample.RawPoint, 0, len(timestamps))
	for _, ts := range timestamps {
		points = append(points, sample.RawPoint{Ts: ts, Candidates: []string{totals[ts].String()}})
	}
	return &Payload{Points: points, Raw: body}, nil
}

// LlamaYields fetches a yield pool's chart series. Timestamps arrive
// as epoch numbers or ISO strings; values come from the apyBase field.
type LlamaYields struct {
	client  *Client
	baseURL string
}

// NewLlamaYields constructs the adapter against the yields.llama.fi base URL.
func NewLlamaYields(client *Client, baseURL string) *LlamaYields {
	return &LlamaYields{client: client, baseURL: baseURL}
}

func (l *LlamaYields) Name() string { return "llama_yields" }

// Fetch returns one raw point per chart entry keyed on the pool id in
// Query.Symbol.
func (l *LlamaYields) Fetch(ctx context.Context, q Query) (*Payload, error) {
	endpoint := l.baseURL + "/chart/" + url.PathEscape(q.Symbol)
	body, err := l.client.Do(ctx, l.Name(), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Data []struct {
			Timestamp json.RawMessage `json:"timestamp"`
			APYBase   *json.Number    `json:"apyBase"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode yields chart: %w", err)
	}

	points := make([]sample.RawPoint, 0, len(payload.Data))
	for _, entry := range payload.Data {
		ts, ok := parseYieldTimestamp(entry.Timestamp)
		if !ok {
			continue
		}
		var candidates []string
		if entry.APYBase != nil {
			candidates = []string{entry.APYBase.String()}
		}
		points = append(points, sample.RawPoint{Ts: ts, Candidates: candidates})
	}
	return &Payload{Points: points, Raw: body}, nil
}

func parseYieldTimestamp(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return int64(f), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f), true
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, false
	}
	return t.UTC().Unix(), true
}

package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/butterygg/metric-report/internal/sample"
)

const binanceKlineLimit = 1000

// Binance fetches one-minute klines from the public REST API. Kline
// rows are positional arrays: open time in milliseconds at index 0,
// close price as a string at index 4.
type Binance struct {
	client  *Client
	baseURL string
}

// NewBinance constructs the adapter against the given API base URL.
func NewBinance(client *Client, baseURL string) *Binance {
	return &Binance{client: client, baseURL: baseURL}
}

func (b *Binance) Name() string { return "binance" }

// Fetch pages through klines covering [StartEpoch, EndEpoch) and
// returns one raw point per kline open time.
func (b *Binance) Fetch(ctx context.Context, q Query) (*Payload, error) {
	startMs := q.StartEpoch * 1000
	endMs := q.EndEpoch*1000 - 1

	var rows []json.RawMessage
	cursor := startMs
	for cursor <= endMs {
		batch, err := b.page(ctx, q.Symbol, cursor, endMs)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		rows = append(rows, batch...)
		lastOpen, _, err := parseKline(batch[len(batch)-1])
		if err != nil {
			return nil, err
		}
		next := lastOpen + 60_000
		if next <= cursor {
			break
		}
		cursor = next
		if len(batch) < binanceKlineLimit {
			break
		}
	}

	points := make([]sample.RawPoint, 0, len(rows))
	for _, row := range rows {
		openMs, closeStr, err := parseKline(row)
		if err != nil {
			return nil, err
		}
		points = append(points, sample.RawPoint{Ts: openMs, Candidates: []string{closeStr}})
	}

	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("re-encode klines: %w", err)
	}
	return &Payload{Points: points, Raw: raw}, nil
}

func (b *Binance) page(ctx context.Context, symbol string, startMs, endMs int64) ([]json.RawMessage, error) {
	body, err := b.client.Do(ctx, b.Name(), func() (*http.Request, error) {
		params := url.Values{}
		params.Set("symbol", symbol)
		params.Set("interval", "1m")
		params.Set("startTime", strconv.FormatInt(startMs, 10))
		params.Set("endTime", strconv.FormatInt(endMs, 10))
		params.Set("limit", strconv.Itoa(binanceKlineLimit))
		return http.NewRequest(http.MethodGet, b.baseURL+"/api/v3/klines?"+params.Encode(), nil)
	})
	if err != nil {
		return nil, err
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	return rows, nil
}

func parseKline(row json.RawMessage) (openMs int64, closeStr string, err error) {
	var fields []json.RawMessage
	if err = json.Unmarshal(row, &fields); err != nil {
		return 0, "", fmt.Errorf("decode kline row: %w", err)
	}
	if len(fields) < 5 {
		return 0, "", fmt.Errorf("kline row has %d fields, want at least 5", len(fields))
	}
	var open json.Number
	if err = json.Unmarshal(fields[0], &open); err != nil {
		return 0, "", fmt.Errorf("decode kline open time: %w", err)
	}
	openMs, err = open.Int64()
	if err != nil {
		return 0, "", fmt.Errorf("kline open time %q: %w", open, err)
	}
	if err = json.Unmarshal(fields[4], &closeStr); err != nil {
		return 0, "", fmt.Errorf("decode kline close: %w", err)
	}
	return openMs, closeStr, nil
}

package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/butterygg/metric-report/internal/sample"
)

// Hyperliquid fetches one-minute spot candles from the Info API. The
// endpoint pages by candle close time, so the cursor advances past the
// last returned candle until the window is covered or progress stalls.
type Hyperliquid struct {
	client *Client
	url    string
}

// NewHyperliquid constructs the adapter against the Info API URL.
func NewHyperliquid(client *Client, url string) *Hyperliquid {
	return &Hyperliquid{client: client, url: url}
}

func (h *Hyperliquid) Name() string { return "hyperliquid" }

type hyperliquidCandle struct {
	OpenMs   int64  `json:"t"`
	CloseMs  int64  `json:"T"`
	Interval string `json:"i"`
	Close    string `json:"c"`

	raw json.RawMessage
}

// Fetch collects candles over [StartEpoch, EndEpoch) and seeds the
// carry-forward fill with the close of the minute before the window
// when one exists.
func (h *Hyperliquid) Fetch(ctx context.Context, q Query) (*Payload, error) {
	startMs := q.StartEpoch * 1000
	endMs := q.EndEpoch * 1000

	var (
		rows     []json.RawMessage
		points   []sample.RawPoint
		progress int64 = -1
	)
	cursor := startMs
	for cursor < endMs {
		batch, err := h.snapshot(ctx, q.Symbol, cursor, endMs)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		var lastClose int64
		for _, c := range batch {
			if c.Interval != "1m" {
				continue
			}
			rows = append(rows, c.raw)
			points = append(points, sample.RawPoint{Ts: c.OpenMs, Candidates: []string{c.Close}})
			if c.CloseMs > lastClose {
				lastClose = c.CloseMs
			}
		}
		if lastClose <= progress {
			break
		}
		progress = lastClose
		cursor = lastClose + 1
	}

	seed, err := h.seedClose(ctx, q.Symbol, startMs)
	if err != nil {
		// A missing seed only matters when the first slot is missing;
		// the grid builder decides that.
		h.client.log.Warn().Err(err).Msg("hyperliquid seed close unavailable")
	}

	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("re-encode candles: %w", err)
	}
	return &Payload{Points: points, Raw: raw, Seed: seed}, nil
}

func (h *Hyperliquid) seedClose(ctx context.Context, coin string, startMs int64) (*decimal.Decimal, error) {
	batch, err := h.snapshot(ctx, coin, startMs-60_000, startMs)
	if err != nil {
		return nil, err
	}
	for i := len(batch) - 1; i >= 0; i-- {
		if batch[i].Interval != "1m" {
			continue
		}
		value, err := decimal.NewFromString(batch[i].Close)
		if err != nil {
			return nil, fmt.Errorf("parse seed close %q: %w", batch[i].Close, err)
		}
		return &value, nil
	}
	return nil, nil
}

func (h *Hyperliquid) snapshot(ctx context.Context, coin string, startMs, endMs int64) ([]hyperliquidCandle, error) {
	reqBody, err := json.Marshal(map[string]any{
		"type": "candleSnapshot",
		"req": map[string]any{
			"coin":      coin,
			"interval":  "1m",
			"startTime": startMs,
			"endTime":   endMs,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot request: %w", err)
	}
	body, err := h.client.Do(ctx, h.Name(), func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, h.url, bytes.NewReader(reqBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("decode candle snapshot: %w", err)
	}
	candles := make([]hyperliquidCandle, 0, len(raws))
	for _, r := range raws {
		var c hyperliquidCandle
		if err := json.Unmarshal(r, &c); err != nil {
			return nil, fmt.Errorf("decode candle: %w", err)
		}
		c.raw = r
		candles = append(candles, c)
	}
	return candles, nil
}

// ResolveSpotPair maps a base/quote token pair to the "@N" coin id the
// candle endpoint expects, using the spotMeta universe.
func (h *Hyperliquid) ResolveSpotPair(ctx context.Context, base, quote string) (string, error) {
	body, err := h.client.Do(ctx, h.Name(), func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, h.url, bytes.NewReader([]byte(`{"type":"spotMeta"}`)))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return "", err
	}

	var meta struct {
		Tokens []struct {
			Name  string `json:"name"`
			Index int    `json:"index"`
		} `json:"tokens"`
		Universe []struct {
			Name   string `json:"name"`
			Index  int    `json:"index"`
			Tokens []int  `json:"tokens"`
		} `json:"universe"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return "", fmt.Errorf("decode spotMeta: %w", err)
	}

	baseIdx, quoteIdx := -1, -1
	for _, t := range meta.Tokens {
		switch t.Name {
		case base:
			baseIdx = t.Index
		case quote:
			quoteIdx = t.Index
		}
	}
	if baseIdx >= 0 && quoteIdx >= 0 {
		for _, pair := range meta.Universe {
			if len(pair.Tokens) == 2 && pair.Tokens[0] == baseIdx && pair.Tokens[1] == quoteIdx {
				return fmt.Sprintf("@%d", pair.Index), nil
			}
		}
	}
	name := base + "/" + quote
	for _, pair := range meta.Universe {
		if pair.Name == name {
			return fmt.Sprintf("@%d", pair.Index), nil
		}
	}
	return "", fmt.Errorf("spot pair %s not found in spotMeta", name)
}

package ingestion

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/microstructure-engine/internal/market"
)

// MaxFrameBytes rejects any inbound wire frame larger than this (spec §6).
const MaxFrameBytes = 50 * 1024

// envelope is the generic wire message shape: a type/channel
// discriminator plus the raw payload fields, tolerant of either
// "type" or "channel" as the discriminator key.
type envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Market  string          `json:"market"`
	AssetID string          `json:"asset_id"`
	Price   json.RawMessage `json:"price"`
	Size    json.RawMessage `json:"size"`
	Volume  json.RawMessage `json:"volume"`
	Side    string          `json:"side"`
	Bids    json.RawMessage `json:"bids"`
	Asks    json.RawMessage `json:"asks"`
	Ts      *int64          `json:"timestamp"`
}

func (e envelope) kind() string {
	if e.Type != "" {
		return e.Type
	}
	return e.Channel
}

func (e envelope) marketID() string {
	if e.Market != "" {
		return e.Market
	}
	return e.AssetID
}

// parseFrame decodes one inbound wire message, rejecting oversized
// frames before even attempting to unmarshal.
func parseFrame(raw []byte) (envelope, error) {
	if len(raw) > MaxFrameBytes {
		return envelope{}, fmt.Errorf("ingestion: frame of %d bytes exceeds max %d", len(raw), MaxFrameBytes)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, fmt.Errorf("ingestion: malformed frame: %w", err)
	}
	return env, nil
}

// decodeTick converts a trade/trades envelope into a market.Tick,
// rejecting frames with missing fields or non-finite/non-positive
// numerics.
func decodeTick(env envelope) (market.Tick, error) {
	marketID := env.marketID()
	if marketID == "" {
		return market.Tick{}, fmt.Errorf("ingestion: trade frame missing market/asset_id")
	}
	price, err := decodeNumber(env.Price)
	if err != nil {
		return market.Tick{}, fmt.Errorf("ingestion: trade price: %w", err)
	}
	size, err := decodeNumber(env.Size)
	if err != nil {
		size, err = decodeNumber(env.Volume)
		if err != nil {
			return market.Tick{}, fmt.Errorf("ingestion: trade size/volume: %w", err)
		}
	}
	if !validPositive(price) || !validPositive(size) {
		return market.Tick{}, fmt.Errorf("ingestion: trade frame has non-finite or non-positive price/size")
	}
	side := market.SideBuy
	if env.Side == "sell" || env.Side == "no" {
		side = market.SideSell
	}
	ts := int64(0)
	if env.Ts != nil {
		ts = *env.Ts
	}
	return market.Tick{
		TimestampMs: ts,
		MarketID:    marketID,
		Price:       price,
		Size:        size,
		Volume:      price * size,
		Side:        side,
	}, nil
}

// decodeOrderbook converts a book/orderbook envelope into a
// market.Orderbook, accepting both {price,size} object levels and
// [price,size] tuple levels.
func decodeOrderbook(env envelope) (market.Orderbook, error) {
	marketID := env.marketID()
	if marketID == "" {
		return market.Orderbook{}, fmt.Errorf("ingestion: book frame missing market/asset_id")
	}
	bids, err := decodeLevels(env.Bids)
	if err != nil {
		return market.Orderbook{}, fmt.Errorf("ingestion: book bids: %w", err)
	}
	asks, err := decodeLevels(env.Asks)
	if err != nil {
		return market.Orderbook{}, fmt.Errorf("ingestion: book asks: %w", err)
	}
	ts := int64(0)
	if env.Ts != nil {
		ts = *env.Ts
	}
	return market.Orderbook{
		TimestampMs: ts,
		MarketID:    marketID,
		Bids:        bids,
		Asks:        asks,
	}, nil
}

func decodeLevels(raw json.RawMessage) ([]market.Level, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var asObjects []struct {
		Price json.RawMessage `json:"price"`
		Size  json.RawMessage `json:"size"`
	}
	if err := json.Unmarshal(raw, &asObjects); err == nil && len(asObjects) > 0 {
		out := make([]market.Level, 0, len(asObjects))
		for _, o := range asObjects {
			price, err := decodeNumber(o.Price)
			if err != nil {
				continue
			}
			size, err := decodeNumber(o.Size)
			if err != nil {
				continue
			}
			if !validPositive(price) || !validPositive(size) {
				continue
			}
			out = append(out, market.Level{Price: price, Size: size, Volume: price * size})
		}
		return out, nil
	}

	var asTuples [][]json.RawMessage
	if err := json.Unmarshal(raw, &asTuples); err != nil {
		return nil, err
	}
	out := make([]market.Level, 0, len(asTuples))
	for _, t := range asTuples {
		if len(t) < 2 {
			continue
		}
		price, err := decodeNumber(t[0])
		if err != nil {
			continue
		}
		size, err := decodeNumber(t[1])
		if err != nil {
			continue
		}
		if !validPositive(price) || !validPositive(size) {
			continue
		}
		out = append(out, market.Level{Price: price, Size: size, Volume: price * size})
	}
	return out, nil
}

// decodeNumber accepts either a JSON string or a JSON number, matching
// the wire spec's `price (string|number)` allowance.
func decodeNumber(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing numeric field")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse %q as a number", s)
		}
		return v, nil
	}
	return 0, fmt.Errorf("field is neither a string nor a number")
}

func validPositive(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0) && x > 0
}

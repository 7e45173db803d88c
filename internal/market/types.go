// Package market defines the core data-model entities shared by every
// analyzer: ticks, orderbook snapshots and down-sampled price points.
package market

import "time"

// Side identifies the aggressor side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Tick is a single trade print. Immutable once received.
type Tick struct {
	TimestampMs int64
	MarketID    string
	Price       float64 // probability in (0,1]
	Size        float64 // contracts traded, > 0
	Volume      float64 // price * size, notional
	Side        Side
}

// Level is one price/size rung of an orderbook.
type Level struct {
	Price  float64 // probability in [0,1]
	Size   float64
	Volume float64 // price * size
}

// Orderbook is a full-depth snapshot for one market. Bids are sorted
// descending by price, asks ascending. Invariant: BestBid <= BestAsk
// unless the book is locked, in which case Spread is zero.
type Orderbook struct {
	TimestampMs int64
	MarketID    string
	Bids        []Level
	Asks        []Level
}

func (ob *Orderbook) BestBid() (Level, bool) {
	if len(ob.Bids) == 0 {
		return Level{}, false
	}
	return ob.Bids[0], true
}

func (ob *Orderbook) BestAsk() (Level, bool) {
	if len(ob.Asks) == 0 {
		return Level{}, false
	}
	return ob.Asks[0], true
}

// Spread returns ask-bid decimal spread. False if either side is empty.
func (ob *Orderbook) Spread() (float64, bool) {
	bid, ok1 := ob.BestBid()
	ask, ok2 := ob.BestAsk()
	if !ok1 || !ok2 {
		return 0, false
	}
	return ask.Price - bid.Price, true
}

// MidPrice is (best_bid+best_ask)/2. False if either side is empty.
func (ob *Orderbook) MidPrice() (float64, bool) {
	bid, ok1 := ob.BestBid()
	ask, ok2 := ob.BestAsk()
	if !ok1 || !ok2 {
		return 0, false
	}
	return (bid.Price + ask.Price) / 2, true
}

// Microprice is the size-weighted mid: (bid_size*ask+ask_size*bid)/(bid_size+ask_size).
func (ob *Orderbook) Microprice() (float64, bool) {
	bid, ok1 := ob.BestBid()
	ask, ok2 := ob.BestAsk()
	if !ok1 || !ok2 {
		return 0, false
	}
	totalSize := bid.Size + ask.Size
	if totalSize == 0 {
		return (bid.Price + ask.Price) / 2, true
	}
	return (bid.Price*ask.Size + ask.Price*bid.Size) / totalSize, true
}

// TotalBidVolume sums Size*Price across all bid levels.
func (ob *Orderbook) TotalBidVolume() float64 {
	var total float64
	for _, l := range ob.Bids {
		total += l.Price * l.Size
	}
	return total
}

// TotalAskVolume sums Size*Price across all ask levels.
func (ob *Orderbook) TotalAskVolume() float64 {
	var total float64
	for _, l := range ob.Asks {
		total += l.Price * l.Size
	}
	return total
}

// DepthImbalance is weighted depth imbalance with per-level weight 1/(i+1),
// returned as (bid-ask)/(bid+ask).
func (ob *Orderbook) DepthImbalance() float64 {
	var bidW, askW float64
	for i, l := range ob.Bids {
		bidW += l.Size / float64(i+1)
	}
	for i, l := range ob.Asks {
		askW += l.Size / float64(i+1)
	}
	total := bidW + askW
	if total == 0 {
		return 0
	}
	return (bidW - askW) / total
}

// PricePoint is a down-sampled price observation for the price buffer.
type PricePoint struct {
	TimestampMs int64
	Price       float64
	Volume      float64
	Spread      *float64
}

// Timestamp converts a millisecond epoch to time.Time (UTC).
func Timestamp(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

package domain

import "time"

// PriceLevel is a single price+quantity entry in an order book.
type PriceLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// BookSource records where a snapshot came from.
type BookSource string

const (
	SourceCache BookSource = "cache"
	SourceWS    BookSource = "ws"
	SourceREST  BookSource = "rest"
)

// OrderBookSnapshot is an immutable view of one symbol's book. Asks are
// ascending and bids descending. Refreshes replace the whole value.
type OrderBookSnapshot struct {
	Symbol         string       `json:"symbol"`
	Asks           []PriceLevel `json:"asks"`
	Bids           []PriceLevel `json:"bids"`
	LastTradePrice float64      `json:"lastTradePrice"`
	CapturedAt     time.Time    `json:"capturedAt"`
	Source         BookSource   `json:"source"`
}

// BestBid returns the highest bid or 0 if there are none.
func (s OrderBookSnapshot) BestBid() float64 {
	if len(s.Bids) == 0 {
		return 0
	}
	return s.Bids[0].Price
}

// BestAsk returns the lowest ask or 0 if there are none.
func (s OrderBookSnapshot) BestAsk() float64 {
	if len(s.Asks) == 0 {
		return 0
	}
	return s.Asks[0].Price
}

// Mid returns the bid/ask midpoint, or 0 when either side is empty.
func (s OrderBookSnapshot) Mid() float64 {
	bid, ask := s.BestBid(), s.BestAsk()
	if bid <= 0 || ask <= 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Spread returns best ask minus best bid.
func (s OrderBookSnapshot) Spread() float64 {
	bid, ask := s.BestBid(), s.BestAsk()
	if bid <= 0 || ask <= 0 {
		return 0
	}
	return ask - bid
}

// SpreadPercent returns the spread relative to the mid, in percent.
func (s OrderBookSnapshot) SpreadPercent() float64 {
	mid := s.Mid()
	if mid == 0 {
		return 0
	}
	return s.Spread() / mid * 100
}

// Price returns the last trade price, falling back to the mid.
func (s OrderBookSnapshot) Price() float64 {
	if s.LastTradePrice > 0 {
		return s.LastTradePrice
	}
	return s.Mid()
}

// Empty reports whether the snapshot carries no levels at all.
func (s OrderBookSnapshot) Empty() bool {
	return len(s.Asks) == 0 && len(s.Bids) == 0
}

package domain

import "time"

// CompletedTrade is a matched buy/sell round trip.
type CompletedTrade struct {
	ID          string
	SessionID   string
	Symbol      string
	BuyOrderID  string
	SellOrderID string
	BuyPrice    float64
	SellPrice   float64
	Amount      float64
	GrossProfit float64
	Fees        float64
	NetProfit   float64
	CompletedAt time.Time
}

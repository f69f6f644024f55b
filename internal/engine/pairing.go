package engine

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/gridbot/internal/domain"
	"github.com/alanyoungcy/gridbot/internal/grid"
)

// Pair matches a newly filled order with the nearest filled, unpaired order
// on the opposite side that makes the round trip profitable: a buy pairs
// with the lowest sell priced above it, a sell with the highest buy priced
// below it. The trade amount is the smaller of the two filled quantities
// and fees are feeBps of each leg's notional.
func Pair(filled domain.TradingOrder, candidates []domain.TradingOrder, feeBps float64, now time.Time) (domain.CompletedTrade, bool) {
	if filled.Status != domain.OrderStatusFilled || filled.PairedOrderID != "" {
		return domain.CompletedTrade{}, false
	}

	var best *domain.TradingOrder
	for i := range candidates {
		c := &candidates[i]
		if c.ID == filled.ID || c.Side != filled.Side.Opposite() ||
			c.Status != domain.OrderStatusFilled || c.PairedOrderID != "" {
			continue
		}
		switch filled.Side {
		case domain.OrderSideBuy:
			if c.FillPrice() <= filled.FillPrice() {
				continue
			}
			if best == nil || c.FillPrice() < best.FillPrice() {
				best = c
			}
		case domain.OrderSideSell:
			if c.FillPrice() >= filled.FillPrice() {
				continue
			}
			if best == nil || c.FillPrice() > best.FillPrice() {
				best = c
			}
		}
	}
	if best == nil {
		return domain.CompletedTrade{}, false
	}

	buy, sell := filled, *best
	if filled.Side == domain.OrderSideSell {
		buy, sell = *best, filled
	}
	return NewTrade(buy, sell, feeBps, now), true
}

// NewTrade computes the economics of a buy/sell round trip.
func NewTrade(buy, sell domain.TradingOrder, feeBps float64, now time.Time) domain.CompletedTrade {
	amount := math.Min(buy.FilledQuantity, sell.FilledQuantity)

	amt := decimal.NewFromFloat(amount)
	buyPx := decimal.NewFromFloat(buy.FillPrice())
	sellPx := decimal.NewFromFloat(sell.FillPrice())
	rate := decimal.NewFromFloat(feeBps).Div(decimal.NewFromInt(10_000))

	gross := sellPx.Sub(buyPx).Mul(amt).InexactFloat64()
	fees := buyPx.Mul(amt).Add(sellPx.Mul(amt)).Mul(rate).InexactFloat64()

	return domain.CompletedTrade{
		ID:          uuid.NewString(),
		SessionID:   buy.SessionID,
		Symbol:      buy.Symbol,
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		BuyPrice:    buy.FillPrice(),
		SellPrice:   sell.FillPrice(),
		Amount:      amount,
		GrossProfit: gross,
		Fees:        fees,
		NetProfit:   gross - fees,
		CompletedAt: now,
	}
}

// ReplacementLevel returns the counter-order for a fill: a sell one grid
// step above a filled buy, or a buy one step below a filled sell, for the
// filled quantity. When book is non-nil and the price would cross the
// touch, it is moved one step beyond the touch instead.
func ReplacementLevel(filled domain.TradingOrder, stepPercent, tick float64, book *domain.OrderBookSnapshot) domain.GridLevel {
	step := decimal.NewFromFloat(stepPercent).Div(decimal.NewFromInt(100))
	one := decimal.NewFromInt(1)
	side := filled.Side.Opposite()

	price := replacementPrice(decimal.NewFromFloat(filled.FillPrice()), step, one, side, tick)
	if book != nil {
		switch side {
		case domain.OrderSideSell:
			if bid := book.BestBid(); bid > 0 && price <= bid {
				price = replacementPrice(decimal.NewFromFloat(bid), step, one, side, tick)
			}
		case domain.OrderSideBuy:
			if ask := book.BestAsk(); ask > 0 && price >= ask {
				price = replacementPrice(decimal.NewFromFloat(ask), step, one, side, tick)
			}
		}
	}

	qty := filled.FilledQuantity
	if qty <= 0 {
		qty = filled.Quantity
	}
	return domain.GridLevel{
		Side:     side,
		Index:    1,
		Price:    price,
		Quantity: qty,
		Notional: grid.Notional(price, qty),
	}
}

func replacementPrice(from, step, one decimal.Decimal, side domain.OrderSide, tick float64) float64 {
	if side == domain.OrderSideSell {
		return grid.RoundUp(from.Mul(one.Add(step)).InexactFloat64(), tick)
	}
	return grid.RoundDown(from.Mul(one.Sub(step)).InexactFloat64(), tick)
}

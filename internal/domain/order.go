package domain

import (
	"fmt"
	"time"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Valid reports whether s is buy or sell.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusPlaced          OrderStatus = "placed"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusFailed          OrderStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusFailed:
		return true
	}
	return false
}

// Resting reports whether the order is live on the book.
func (s OrderStatus) Resting() bool {
	return s == OrderStatusPlaced || s == OrderStatusPartiallyFilled
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusPlaced, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusPlaced: {OrderStatusPartiallyFilled, OrderStatusFilled,
		OrderStatusCancelled, OrderStatusFailed},
	OrderStatusPartiallyFilled: {OrderStatusPartiallyFilled, OrderStatusFilled,
		OrderStatusCancelled},
}

// CanTransition reports whether from → to is a legal move.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// TradingOrder is the bot's record of one exchange order.
type TradingOrder struct {
	ID              string
	ExchangeOrderID string
	SessionID       string
	Symbol          string
	Side            OrderSide
	Price           float64
	Quantity        float64
	FilledQuantity  float64
	AvgFillPrice    float64
	Status          OrderStatus
	Simulated       bool
	PairedOrderID   string
	CreatedAt       time.Time
	PlacedAt        *time.Time
	FilledAt        *time.Time
	CancelledAt     *time.Time
}

// Transition moves the order to a new status, stamping the matching
// timestamp. Terminal orders refuse every transition.
func (o *TradingOrder) Transition(to OrderStatus, at time.Time) error {
	if o.Status.Terminal() {
		return fmt.Errorf("order %s: %w: %s", o.ID, ErrTerminalStatus, o.Status)
	}
	if !o.Status.CanTransition(to) {
		return fmt.Errorf("order %s: %w: %s -> %s", o.ID, ErrInvalidTransition, o.Status, to)
	}
	o.Status = to
	switch to {
	case OrderStatusPlaced:
		o.PlacedAt = &at
	case OrderStatusFilled:
		o.FilledAt = &at
	case OrderStatusCancelled:
		o.CancelledAt = &at
	}
	return nil
}

// Notional returns price × quantity.
func (o TradingOrder) Notional() float64 {
	return o.Price * o.Quantity
}

// FillPrice returns the average fill price, or the limit price when the
// exchange did not report one.
func (o TradingOrder) FillPrice() float64 {
	if o.AvgFillPrice > 0 {
		return o.AvgFillPrice
	}
	return o.Price
}

// ExistingOrder is a resting order as seen by the reconciler.
type ExistingOrder struct {
	ExchangeOrderID string
	Side            OrderSide
	Price           float64
	Quantity        float64
}

// OrderRequest is a create-order call to the exchange.
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Price         float64
	Quantity      float64
	ClientOrderID string
}

// OrderUpdate is the exchange's view of an order's progress.
type OrderUpdate struct {
	ExchangeOrderID string
	Status          OrderStatus
	FilledQuantity  float64
	AvgFillPrice    float64
	Fee             float64
	UpdatedAt       time.Time
}

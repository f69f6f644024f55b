package handler

import (
	"time"

	"github.com/alanyoungcy/gridbot/internal/domain"
)

type sessionDTO struct {
	ID               string     `json:"id"`
	Symbol           string     `json:"symbol"`
	Status           string     `json:"status"`
	Simulated        bool       `json:"simulated"`
	Capital          float64    `json:"capital"`
	ActiveCapitalPct float64    `json:"active_capital_pct"`
	StepPercent      float64    `json:"step_percent"`
	Levels           int        `json:"levels"`
	CenterPrice      float64    `json:"center_price"`
	GrossProfit      float64    `json:"gross_profit"`
	RealizedProfit   float64    `json:"realized_profit"`
	TotalFees        float64    `json:"total_fees"`
	TradeCount       int        `json:"trade_count"`
	StartedAt        time.Time  `json:"started_at"`
	LastRebalanceAt  *time.Time `json:"last_rebalance_at,omitempty"`
	LastCheckAt      *time.Time `json:"last_check_at,omitempty"`
	StoppedAt        *time.Time `json:"stopped_at,omitempty"`
	StopReason       string     `json:"stop_reason,omitempty"`
}

func toSessionDTO(s domain.BotSession) sessionDTO {
	return sessionDTO{
		ID:               s.ID,
		Symbol:           s.Symbol,
		Status:           string(s.Status),
		Simulated:        s.Simulated,
		Capital:          s.Capital,
		ActiveCapitalPct: s.ActiveCapitalPct,
		StepPercent:      s.StepPercent,
		Levels:           s.Levels,
		CenterPrice:      s.CenterPrice,
		GrossProfit:      s.GrossProfit,
		RealizedProfit:   s.RealizedProfit,
		TotalFees:        s.TotalFees,
		TradeCount:       s.TradeCount,
		StartedAt:        s.StartedAt,
		LastRebalanceAt:  optionalTime(s.LastRebalanceAt),
		LastCheckAt:      optionalTime(s.LastCheckAt),
		StoppedAt:        s.StoppedAt,
		StopReason:       s.StopReason,
	}
}

type orderDTO struct {
	ID              string     `json:"id"`
	ExchangeOrderID string     `json:"exchange_order_id,omitempty"`
	Side            string     `json:"side"`
	Price           float64    `json:"price"`
	Quantity        float64    `json:"quantity"`
	FilledQuantity  float64    `json:"filled_quantity"`
	Status          string     `json:"status"`
	Simulated       bool       `json:"simulated"`
	PairedOrderID   string     `json:"paired_order_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	FilledAt        *time.Time `json:"filled_at,omitempty"`
}

func toOrderDTO(o domain.TradingOrder) orderDTO {
	return orderDTO{
		ID:              o.ID,
		ExchangeOrderID: o.ExchangeOrderID,
		Side:            string(o.Side),
		Price:           o.Price,
		Quantity:        o.Quantity,
		FilledQuantity:  o.FilledQuantity,
		Status:          string(o.Status),
		Simulated:       o.Simulated,
		PairedOrderID:   o.PairedOrderID,
		CreatedAt:       o.CreatedAt,
		FilledAt:        o.FilledAt,
	}
}

type tradeDTO struct {
	ID          string    `json:"id"`
	BuyOrderID  string    `json:"buy_order_id"`
	SellOrderID string    `json:"sell_order_id"`
	BuyPrice    float64   `json:"buy_price"`
	SellPrice   float64   `json:"sell_price"`
	Amount      float64   `json:"amount"`
	GrossProfit float64   `json:"gross_profit"`
	Fees        float64   `json:"fees"`
	NetProfit   float64   `json:"net_profit"`
	CompletedAt time.Time `json:"completed_at"`
}

func toTradeDTO(t domain.CompletedTrade) tradeDTO {
	return tradeDTO{
		ID:          t.ID,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		BuyPrice:    t.BuyPrice,
		SellPrice:   t.SellPrice,
		Amount:      t.Amount,
		GrossProfit: t.GrossProfit,
		Fees:        t.Fees,
		NetProfit:   t.NetProfit,
		CompletedAt: t.CompletedAt,
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

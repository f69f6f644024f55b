package service

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/alanyoungcy/gridbot/internal/domain"
)

func TestRiskEvaluate(t *testing.T) {
	svc := NewRiskService(RiskConfig{
		DrawdownWarnPercent: 5,
		DrawdownStopPercent: 10,
		RebalancePercent:    3,
		MaxDeviationPercent: 20,
	}, discardLogger())
	sess := domain.BotSession{Symbol: "BTCIRT", CenterPrice: 1000, PeakEquity: 100}

	tests := []struct {
		name                       string
		price, equity              float64
		warn, emergency, rebalance bool
	}{
		{"calm", 1010, 100, false, false, false},
		{"new peak", 1000, 120, false, false, false},
		{"warn drawdown", 1000, 94, true, false, false},
		{"drawdown ceiling", 1000, 89, false, true, false},
		{"drift rebalances", 1040, 100, false, false, true},
		{"drift ceiling", 700, 100, false, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := svc.Evaluate(context.Background(), sess, tt.price, tt.equity)
			if v.Warn != tt.warn || v.Emergency != tt.emergency || v.Rebalance != tt.rebalance {
				t.Errorf("Evaluate() = %+v", v)
			}
		})
	}

	if v := svc.Evaluate(context.Background(), sess, 1000, 120); v.PeakEquity != 120 {
		t.Errorf("PeakEquity = %v, want 120", v.PeakEquity)
	}
}

func TestEquity(t *testing.T) {
	orders := []domain.TradingOrder{
		{Side: domain.OrderSideBuy, Price: 100, FilledQuantity: 2},
		{Side: domain.OrderSideSell, Price: 110, AvgFillPrice: 111, FilledQuantity: 1},
		{Side: domain.OrderSideBuy, Price: 90, Quantity: 5}, // unfilled
	}
	// cash = 1000 - 200 - 0.2 + 111 - 0.111; inventory 1 @ 105
	want := 1000 - 200 - 0.2 + 111 - 0.111 + 105
	if got := Equity(1000, orders, 105, 10); math.Abs(got-want) > 1e-9 {
		t.Errorf("Equity() = %v, want %v", got, want)
	}
}

func TestEqualNotionalSizer(t *testing.T) {
	m := domain.Market{Symbol: "BTCIRT", Tick: 10, QuantityPrecision: 6, MinNotional: 3_000_000}
	plan := domain.GridPlan{Levels: []domain.GridLevel{
		{Side: domain.OrderSideBuy, Price: 5_000_000_000},
		{Side: domain.OrderSideSell, Price: 6_000_000_000},
	}}

	sized, err := EqualNotionalSizer{}.Size(context.Background(), plan, 20_000_000, m)
	if err != nil {
		t.Fatal(err)
	}
	if q := sized.Levels[0].Quantity; q != 0.002 {
		t.Errorf("buy quantity = %v, want 0.002", q)
	}
	if q := sized.Levels[1].Quantity; q != 0.001666 {
		t.Errorf("sell quantity = %v, want 0.001666", q)
	}
	if plan.Levels[0].Quantity != 0 {
		t.Error("input plan mutated")
	}

	small, _ := EqualNotionalSizer{}.Size(context.Background(), plan, 4_000_000, m)
	for _, l := range small.Levels {
		if !l.BelowMinimum {
			t.Errorf("level %+v not flagged below minimum", l)
		}
	}

	if _, err := (EqualNotionalSizer{}).Size(context.Background(), plan, 0, m); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("zero budget err = %v", err)
	}
}

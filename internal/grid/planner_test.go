package grid

import (
	"testing"

	"github.com/alanyoungcy/gridbot/internal/domain"
)

var btcirt = domain.Market{
	Symbol:            "BTCIRT",
	Tick:              10,
	QuantityPrecision: 6,
	MinNotional:       3_000_000,
}

func TestPlanGeometricLadder(t *testing.T) {
	plan, err := Plan(Params{
		Market:         btcirt,
		ReferencePrice: 6_000_000_000,
		StepPercent:    2,
		Levels:         6,
		Mode:           domain.GridModeBoth,
	})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	wantBuys := []float64{5_880_000_000, 5_762_400_000, 5_647_152_000}
	wantSells := []float64{6_120_000_000, 6_242_400_000, 6_367_248_000}

	buys, sells := plan.Buys(), plan.Sells()
	if len(buys) != len(wantBuys) || len(sells) != len(wantSells) {
		t.Fatalf("got %d buys / %d sells, want 3 / 3", len(buys), len(sells))
	}
	for i, want := range wantBuys {
		if buys[i].Price != want {
			t.Errorf("buy[%d] = %v, want %v", i, buys[i].Price, want)
		}
	}
	for i, want := range wantSells {
		if sells[i].Price != want {
			t.Errorf("sell[%d] = %v, want %v", i, sells[i].Price, want)
		}
	}
	if plan.Collapsed != 0 {
		t.Errorf("Collapsed = %d, want 0", plan.Collapsed)
	}
}

func TestPlanRoundsTowardConservativeFills(t *testing.T) {
	m := btcirt
	m.Tick = 1000
	plan, err := Plan(Params{Market: m, ReferencePrice: 1_234_567, StepPercent: 1, Levels: 2, Mode: domain.GridModeBoth})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	// 1_234_567 × 0.99 = 1_222_221.33, × 1.01 = 1_246_912.67
	if got := plan.Buys()[0].Price; got != 1_222_000 {
		t.Errorf("buy = %v, want 1222000 (rounded down)", got)
	}
	if got := plan.Sells()[0].Price; got != 1_247_000 {
		t.Errorf("sell = %v, want 1247000 (rounded up)", got)
	}
}

func TestPlanBothModeProperties(t *testing.T) {
	centers := []float64{6_000_000_000, 123_456_789, 98_765, 3_333}
	steps := []float64{0.1, 0.5, 1, 2.5, 7}
	levelCounts := []int{2, 4, 6, 10, 20}
	ticks := []float64{1, 10, 100}

	for _, center := range centers {
		for _, step := range steps {
			for _, levels := range levelCounts {
				for _, tick := range ticks {
					m := btcirt
					m.Tick = tick
					plan, err := Plan(Params{Market: m, ReferencePrice: center, StepPercent: step, Levels: levels, Mode: domain.GridModeBoth})
					if err != nil {
						t.Fatalf("Plan(%v, %v, %d, %v) error = %v", center, step, levels, tick, err)
					}
					buys, sells := plan.Buys(), plan.Sells()
					if plan.Collapsed == 0 && len(buys) != len(sells) {
						t.Errorf("center=%v step=%v levels=%d: %d buys vs %d sells", center, step, levels, len(buys), len(sells))
					}
					if len(buys)+len(sells)+plan.Collapsed != levels/2*2 {
						t.Errorf("center=%v step=%v levels=%d: levels unaccounted for", center, step, levels)
					}
					for _, l := range buys {
						if l.Price >= center {
							t.Errorf("buy %v not below center %v", l.Price, center)
						}
						if !IsTickMultiple(l.Price, tick) {
							t.Errorf("buy %v not a multiple of tick %v", l.Price, tick)
						}
					}
					for _, l := range sells {
						if l.Price <= center {
							t.Errorf("sell %v not above center %v", l.Price, center)
						}
						if !IsTickMultiple(l.Price, tick) {
							t.Errorf("sell %v not a multiple of tick %v", l.Price, tick)
						}
					}
				}
			}
		}
	}
}

func TestPlanCollapsesDuplicateTicks(t *testing.T) {
	m := btcirt
	m.Tick = 100
	// 0.1% of 10_000 is 10, well under one tick.
	plan, err := Plan(Params{Market: m, ReferencePrice: 10_000, StepPercent: 0.1, Levels: 6, Mode: domain.GridModeBoth})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.Collapsed == 0 {
		t.Fatal("expected collapsed levels")
	}
	seen := map[float64]bool{}
	for _, l := range plan.Levels {
		key := l.Price
		if l.Side == domain.OrderSideSell {
			key = -key
		}
		if seen[key] {
			t.Errorf("duplicate %s level at %v", l.Side, l.Price)
		}
		seen[key] = true
	}
}

func TestPlanSingleSidedModes(t *testing.T) {
	plan, err := Plan(Params{Market: btcirt, ReferencePrice: 6_000_000_000, StepPercent: 1, Levels: 4, Mode: domain.GridModeBuyOnly})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(plan.Sells()) != 0 || len(plan.Buys()) != 4 {
		t.Errorf("buy_only: got %d buys / %d sells, want 4 / 0", len(plan.Buys()), len(plan.Sells()))
	}

	plan, err = Plan(Params{Market: btcirt, ReferencePrice: 6_000_000_000, StepPercent: 1, Levels: 4, Mode: domain.GridModeSellOnly})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(plan.Buys()) != 0 || len(plan.Sells()) != 4 {
		t.Errorf("sell_only: got %d buys / %d sells, want 0 / 4", len(plan.Buys()), len(plan.Sells()))
	}
}

func TestPlanBudgetSplitFlagsBelowMinimum(t *testing.T) {
	plan, err := Plan(Params{
		Market:         btcirt,
		ReferencePrice: 6_000_000_000,
		StepPercent:    2,
		Levels:         6,
		Mode:           domain.GridModeBoth,
		Budget:         12_000_000, // 2_000_000 per level, under the 3_000_000 minimum
	})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	for _, l := range plan.Levels {
		if l.Quantity <= 0 {
			t.Errorf("level %v has no quantity", l.Price)
		}
		if !l.BelowMinimum {
			t.Errorf("level %v notional %v should be flagged below minimum", l.Price, l.Notional)
		}
	}
	if len(plan.Levels) != 6 {
		t.Errorf("below-minimum levels must be kept, got %d", len(plan.Levels))
	}
}

func TestPlanRejectsBadParams(t *testing.T) {
	tests := []struct {
		name string
		p    Params
	}{
		{"zero price", Params{Market: btcirt, ReferencePrice: 0, StepPercent: 1, Levels: 4, Mode: domain.GridModeBoth}},
		{"zero step", Params{Market: btcirt, ReferencePrice: 1e9, StepPercent: 0, Levels: 4, Mode: domain.GridModeBoth}},
		{"one level", Params{Market: btcirt, ReferencePrice: 1e9, StepPercent: 1, Levels: 1, Mode: domain.GridModeBoth}},
		{"bad mode", Params{Market: btcirt, ReferencePrice: 1e9, StepPercent: 1, Levels: 4, Mode: "sideways"}},
		{"no tick", Params{Market: domain.Market{Symbol: "BTCIRT"}, ReferencePrice: 1e9, StepPercent: 1, Levels: 4, Mode: domain.GridModeBoth}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Plan(tt.p); err == nil {
				t.Error("Plan() error = nil, want error")
			}
		})
	}
}

func TestRoundQuantity(t *testing.T) {
	if got := RoundQuantity(0.0012349, 5); got != 0.00123 {
		t.Errorf("RoundQuantity = %v, want 0.00123", got)
	}
	if got := RoundQuantity(1.99, 0); got != 1 {
		t.Errorf("RoundQuantity = %v, want 1", got)
	}
}

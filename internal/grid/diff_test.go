package grid

import (
	"testing"

	"github.com/alanyoungcy/gridbot/internal/domain"
)

// A live order matches within the wider of the tick band and the optional
// percent band. Without a percent band the tick band alone decides.
func TestDiffToleranceMatch(t *testing.T) {
	live := []domain.ExistingOrder{{ExchangeOrderID: "1", Side: domain.OrderSideBuy, Price: 5_880_000_000, Quantity: 0.00100}}
	plan := []domain.GridLevel{{Side: domain.OrderSideBuy, Price: 5_881_000_000, Quantity: 0.00101}}

	tests := []struct {
		name      string
		opts      DiffOptions
		wantMatch bool
	}{
		{
			name:      "tick band only: tolerance stays at one tick when no percent band is set",
			opts:      DiffOptions{Tick: 10, ToleranceTicks: 1, QtyTolerancePercent: 3},
			wantMatch: false,
		},
		{
			name:      "percent band set: tolerance is the wider of tick and percent bands",
			opts:      DiffOptions{Tick: 10, ToleranceTicks: 1, QtyTolerancePercent: 3, PriceTolerancePercent: 0.02},
			wantMatch: true,
		},
		{
			name:      "tick band only: a coarse tick covers the gap",
			opts:      DiffOptions{Tick: 1_000_000, ToleranceTicks: 1, QtyTolerancePercent: 3},
			wantMatch: true,
		},
		{
			name:      "quantity outside tolerance",
			opts:      DiffOptions{Tick: 1_000_000, ToleranceTicks: 1, QtyTolerancePercent: 0.5},
			wantMatch: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Diff(plan, live, tt.opts)
			if tt.wantMatch {
				if len(res.Keep) != 1 || !res.Empty() {
					t.Errorf("keep=%d place=%d cancel=%d, want keep=1 and no actions", len(res.Keep), len(res.ToPlace), len(res.ToCancel))
				}
				return
			}
			if len(res.Keep) != 0 || len(res.ToPlace) != 1 || len(res.ToCancel) != 1 {
				t.Errorf("keep=%d place=%d cancel=%d, want 0/1/1", len(res.Keep), len(res.ToPlace), len(res.ToCancel))
			}
		})
	}
}

func TestDiffSideMustMatch(t *testing.T) {
	live := []domain.ExistingOrder{{ExchangeOrderID: "1", Side: domain.OrderSideSell, Price: 100, Quantity: 1}}
	plan := []domain.GridLevel{{Side: domain.OrderSideBuy, Price: 100, Quantity: 1}}
	res := Diff(plan, live, DiffOptions{Tick: 1, ToleranceTicks: 5, QtyTolerancePercent: 50})
	if len(res.Keep) != 0 || len(res.ToPlace) != 1 || len(res.ToCancel) != 1 {
		t.Errorf("keep=%d place=%d cancel=%d, want 0/1/1", len(res.Keep), len(res.ToPlace), len(res.ToCancel))
	}
}

func TestDiffEachLiveOrderUsedOnce(t *testing.T) {
	live := []domain.ExistingOrder{{ExchangeOrderID: "1", Side: domain.OrderSideBuy, Price: 100, Quantity: 1}}
	plan := []domain.GridLevel{
		{Side: domain.OrderSideBuy, Price: 100, Quantity: 1},
		{Side: domain.OrderSideBuy, Price: 101, Quantity: 1},
	}
	res := Diff(plan, live, DiffOptions{Tick: 1, ToleranceTicks: 2, QtyTolerancePercent: 1})
	if len(res.Keep) != 1 || len(res.ToPlace) != 1 {
		t.Fatalf("keep=%d place=%d, want 1/1", len(res.Keep), len(res.ToPlace))
	}
	if res.Keep[0].Level.Price != 100 {
		t.Errorf("greedy match went to level %v, want the first plan level", res.Keep[0].Level.Price)
	}
}

func TestDiffSkipsBelowMinimum(t *testing.T) {
	plan := []domain.GridLevel{
		{Side: domain.OrderSideBuy, Price: 1_000_000, Quantity: 1, Notional: 1_000_000},
		{Side: domain.OrderSideBuy, Price: 900_000, Quantity: 0.001},
	}
	res := Diff(plan, nil, DiffOptions{Tick: 10, ToleranceTicks: 1, QtyTolerancePercent: 1, MinNotional: 3_000})
	if res.SkippedBelowMin != 1 {
		t.Errorf("SkippedBelowMin = %d, want 1", res.SkippedBelowMin)
	}
	if len(res.ToPlace) != 1 || res.ToPlace[0].Level.Price != 1_000_000 {
		t.Errorf("ToPlace = %+v, want only the 1_000_000 level", res.ToPlace)
	}
}

func TestDiffIdempotent(t *testing.T) {
	plan, err := Plan(Params{
		Market:         btcirt,
		ReferencePrice: 6_000_000_000,
		StepPercent:    1.5,
		Levels:         10,
		Mode:           domain.GridModeBoth,
		Budget:         500_000_000,
	})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	opts := DiffOptions{Tick: btcirt.Tick, ToleranceTicks: 2, QtyTolerancePercent: 3, MinNotional: btcirt.MinNotional}

	states := map[string][]domain.ExistingOrder{
		"empty": nil,
		"drifted": {
			{ExchangeOrderID: "a", Side: domain.OrderSideBuy, Price: plan.Buys()[0].Price - 10, Quantity: plan.Buys()[0].Quantity},
			{ExchangeOrderID: "b", Side: domain.OrderSideSell, Price: 7_000_000_000, Quantity: 0.01},
			{ExchangeOrderID: "c", Side: domain.OrderSideBuy, Price: plan.Buys()[2].Price, Quantity: plan.Buys()[2].Quantity * 2},
		},
	}
	for name, live := range states {
		t.Run(name, func(t *testing.T) {
			first := Diff(plan.Levels, live, opts)
			converged := Apply(live, first)
			second := Diff(plan.Levels, converged, opts)
			if len(second.ToPlace) != 0 || len(second.ToCancel) != 0 {
				t.Errorf("second diff place=%d cancel=%d, want 0/0", len(second.ToPlace), len(second.ToCancel))
			}
			if len(second.Keep) != len(plan.Levels)-first.SkippedBelowMin {
				t.Errorf("second diff keep=%d, want %d", len(second.Keep), len(plan.Levels)-first.SkippedBelowMin)
			}
		})
	}
}

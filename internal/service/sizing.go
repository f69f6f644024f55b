package service

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/gridbot/internal/domain"
	"github.com/alanyoungcy/gridbot/internal/grid"
)

// OrderSizer assigns a quantity to every level of a plan given the capital
// allotted to the ladder.
type OrderSizer interface {
	Size(ctx context.Context, plan domain.GridPlan, budget float64, m domain.Market) (domain.GridPlan, error)
}

// EqualNotionalSizer spends the same notional on every level.
type EqualNotionalSizer struct{}

// Size splits budget evenly across the plan's levels, truncating each
// quantity to the market's precision. Levels whose notional falls below the
// market minimum are flagged.
func (EqualNotionalSizer) Size(_ context.Context, plan domain.GridPlan, budget float64, m domain.Market) (domain.GridPlan, error) {
	if len(plan.Levels) == 0 {
		return plan, nil
	}
	if budget <= 0 {
		return plan, fmt.Errorf("sizing: %w: budget %v", domain.ErrInvalidAmount, budget)
	}
	perLevel := budget / float64(len(plan.Levels))

	out := plan
	out.Levels = make([]domain.GridLevel, len(plan.Levels))
	for i, lvl := range plan.Levels {
		lvl.Quantity = grid.RoundQuantity(perLevel/lvl.Price, m.QuantityPrecision)
		lvl.Notional = grid.Notional(lvl.Price, lvl.Quantity)
		lvl.BelowMinimum = lvl.Notional < m.MinNotional
		out.Levels[i] = lvl
	}
	return out, nil
}

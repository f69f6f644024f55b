package grid

import (
	"fmt"

	"github.com/alanyoungcy/gridbot/internal/domain"
	"github.com/shopspring/decimal"
)

// Params are the strategy inputs for one ladder.
type Params struct {
	Market         domain.Market
	ReferencePrice float64
	StepPercent    float64
	Levels         int
	Mode           domain.GridMode
	// Budget is split evenly across the generated levels to report a
	// quantity and notional per level. Zero leaves them empty.
	Budget float64
}

func (p Params) validate() error {
	if err := p.Market.Validate(); err != nil {
		return err
	}
	if p.ReferencePrice <= 0 {
		return fmt.Errorf("grid: reference price must be positive, got %v", p.ReferencePrice)
	}
	if p.StepPercent <= 0 || p.StepPercent >= 100 {
		return fmt.Errorf("grid: step percent must be in (0, 100), got %v", p.StepPercent)
	}
	if p.Levels < 2 {
		return fmt.Errorf("grid: need at least 2 levels, got %d", p.Levels)
	}
	if !p.Mode.Valid() {
		return fmt.Errorf("grid: unknown mode %q", p.Mode)
	}
	if p.Budget < 0 {
		return fmt.Errorf("grid: negative budget")
	}
	return nil
}

// perSide returns how many levels each generated side gets.
func (p Params) perSide() int {
	if p.Mode == domain.GridModeBoth {
		return p.Levels / 2
	}
	return p.Levels
}

// Plan builds the target ladder. Buy level i sits at
// reference × (1 − step)^i rounded down to tick; sell level i at
// reference × (1 + step)^i rounded up. Levels that land on a tick already
// used by the same side are dropped and counted in Collapsed.
func Plan(p Params) (domain.GridPlan, error) {
	if err := p.validate(); err != nil {
		return domain.GridPlan{}, err
	}

	plan := domain.GridPlan{
		Symbol:         p.Market.Symbol,
		ReferencePrice: p.ReferencePrice,
		StepPercent:    p.StepPercent,
		Tick:           p.Market.Tick,
		Mode:           p.Mode,
	}

	ref := decimal.NewFromFloat(p.ReferencePrice)
	step := decimal.NewFromFloat(p.StepPercent).Div(decimal.NewFromInt(100))
	n := p.perSide()

	if p.Mode != domain.GridModeSellOnly {
		levels, collapsed := ladder(ref, decimal.NewFromInt(1).Sub(step), n, p.Market.Tick, domain.OrderSideBuy)
		plan.Levels = append(plan.Levels, levels...)
		plan.Collapsed += collapsed
	}
	if p.Mode != domain.GridModeBuyOnly {
		levels, collapsed := ladder(ref, decimal.NewFromInt(1).Add(step), n, p.Market.Tick, domain.OrderSideSell)
		plan.Levels = append(plan.Levels, levels...)
		plan.Collapsed += collapsed
	}

	if p.Budget > 0 && len(plan.Levels) > 0 {
		perLevel := p.Budget / float64(len(plan.Levels))
		for i := range plan.Levels {
			l := &plan.Levels[i]
			l.Quantity = RoundQuantity(perLevel/l.Price, p.Market.QuantityPrecision)
			l.Notional = Notional(l.Price, l.Quantity)
			l.BelowMinimum = l.Notional < p.Market.MinNotional
		}
	}
	return plan, nil
}

func ladder(ref, factor decimal.Decimal, n int, tick float64, side domain.OrderSide) ([]domain.GridLevel, int) {
	buy := side == domain.OrderSideBuy
	seen := make(map[float64]struct{}, n)
	levels := make([]domain.GridLevel, 0, n)
	collapsed := 0

	price := ref
	for i := 1; i <= n; i++ {
		price = price.Mul(factor)
		rounded := roundDecimal(price, tick, buy)
		if rounded <= 0 {
			collapsed++
			continue
		}
		if _, dup := seen[rounded]; dup {
			collapsed++
			continue
		}
		seen[rounded] = struct{}{}
		levels = append(levels, domain.GridLevel{Side: side, Index: i, Price: rounded})
	}
	return levels, collapsed
}

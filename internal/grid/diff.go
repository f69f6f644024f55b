package grid

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/gridbot/internal/domain"
)

// epsilon absorbs float noise when comparing against tolerances.
const epsilon = 1e-9

// DiffOptions controls how closely a live order must match a plan level.
type DiffOptions struct {
	Tick                float64
	ToleranceTicks      int
	QtyTolerancePercent float64
	// PriceTolerancePercent widens the price match to a relative band when
	// positive. The wider of the two bands applies.
	PriceTolerancePercent float64
	MinNotional           float64
}

// Diff computes the actions that converge live to plan. Matching is greedy
// in plan order: each level takes the closest-priced unused live order that
// matches it. Diff has no side effects.
func Diff(plan []domain.GridLevel, live []domain.ExistingOrder, opts DiffOptions) domain.DiffResult {
	var res domain.DiffResult
	used := make([]bool, len(live))

	for _, level := range plan {
		best := -1
		bestDelta := math.Inf(1)
		for i, o := range live {
			if used[i] || !opts.matches(level, o) {
				continue
			}
			if d := math.Abs(o.Price - level.Price); d < bestDelta {
				best, bestDelta = i, d
			}
		}

		if best >= 0 {
			used[best] = true
			res.Keep = append(res.Keep, domain.KeepAction{
				Level:  level,
				Order:  live[best],
				Reason: fmt.Sprintf("matches live order within %v", bestDelta),
			})
			continue
		}

		notional := level.Notional
		if notional == 0 {
			notional = level.Price * level.Quantity
		}
		if opts.MinNotional > 0 && notional < opts.MinNotional {
			res.SkippedBelowMin++
			continue
		}
		res.ToPlace = append(res.ToPlace, domain.PlaceAction{
			Level:  level,
			Reason: "no live order at level",
		})
	}

	for i, o := range live {
		if !used[i] {
			res.ToCancel = append(res.ToCancel, domain.CancelAction{
				Order:  o,
				Reason: "not in plan",
			})
		}
	}
	return res
}

func (opts DiffOptions) matches(level domain.GridLevel, o domain.ExistingOrder) bool {
	if level.Side != o.Side {
		return false
	}

	delta := math.Abs(o.Price - level.Price)
	band := float64(opts.ToleranceTicks) * opts.Tick
	if opts.PriceTolerancePercent > 0 && level.Price > 0 {
		band = math.Max(band, level.Price*opts.PriceTolerancePercent/100)
	}
	if delta > band+epsilon {
		return false
	}

	if level.Quantity <= 0 {
		return true
	}
	rel := math.Abs(o.Quantity-level.Quantity) / level.Quantity * 100
	return rel <= opts.QtyTolerancePercent+epsilon
}

// Apply returns the live state that results from executing res against
// live without errors. Placed levels appear with synthetic ids.
func Apply(live []domain.ExistingOrder, res domain.DiffResult) []domain.ExistingOrder {
	cancelled := make(map[string]struct{}, len(res.ToCancel))
	for _, c := range res.ToCancel {
		cancelled[c.Order.ExchangeOrderID] = struct{}{}
	}
	out := make([]domain.ExistingOrder, 0, len(live)+len(res.ToPlace))
	for _, o := range live {
		if _, gone := cancelled[o.ExchangeOrderID]; !gone {
			out = append(out, o)
		}
	}
	for i, p := range res.ToPlace {
		out = append(out, domain.ExistingOrder{
			ExchangeOrderID: fmt.Sprintf("applied-%d", i),
			Side:            p.Level.Side,
			Price:           p.Level.Price,
			Quantity:        p.Level.Quantity,
		})
	}
	return out
}

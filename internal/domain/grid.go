package domain

// GridMode selects which sides of the ladder are generated.
type GridMode string

const (
	GridModeBoth     GridMode = "both"
	GridModeBuyOnly  GridMode = "buy_only"
	GridModeSellOnly GridMode = "sell_only"
)

// Valid reports whether m is a known mode.
func (m GridMode) Valid() bool {
	switch m {
	case GridModeBoth, GridModeBuyOnly, GridModeSellOnly:
		return true
	}
	return false
}

// GridLevel is one target order in a plan.
type GridLevel struct {
	Side         OrderSide
	Index        int // 1-based distance from the reference
	Price        float64
	Quantity     float64
	Notional     float64
	BelowMinimum bool
}

// GridPlan is a tick-aligned ladder around a reference price.
type GridPlan struct {
	Symbol         string
	ReferencePrice float64
	StepPercent    float64
	Tick           float64
	Mode           GridMode
	Levels         []GridLevel
	Collapsed      int // levels dropped because they rounded onto an existing tick
}

// Buys returns the buy levels in plan order.
func (p GridPlan) Buys() []GridLevel { return p.side(OrderSideBuy) }

// Sells returns the sell levels in plan order.
func (p GridPlan) Sells() []GridLevel { return p.side(OrderSideSell) }

func (p GridPlan) side(s OrderSide) []GridLevel {
	var out []GridLevel
	for _, l := range p.Levels {
		if l.Side == s {
			out = append(out, l)
		}
	}
	return out
}

// PlaceAction is a plan level the reconciler wants on the book.
type PlaceAction struct {
	Level  GridLevel
	Reason string
}

// CancelAction is a live order the reconciler wants removed.
type CancelAction struct {
	Order  ExistingOrder
	Reason string
}

// KeepAction pairs a plan level with the live order that satisfies it.
type KeepAction struct {
	Level  GridLevel
	Order  ExistingOrder
	Reason string
}

// DiffResult is the action set converging live orders to a plan.
type DiffResult struct {
	ToPlace         []PlaceAction
	ToCancel        []CancelAction
	Keep            []KeepAction
	SkippedBelowMin int
}

// Empty reports whether the diff requires no exchange calls.
func (d DiffResult) Empty() bool {
	return len(d.ToPlace) == 0 && len(d.ToCancel) == 0
}

// Package grid plans tick-aligned order ladders and reconciles them against
// resting orders.
package grid

import "github.com/shopspring/decimal"

// RoundDown rounds price down to a multiple of tick.
func RoundDown(price, tick float64) float64 {
	return roundTo(decimal.NewFromFloat(price), tick, decimal.Decimal.Floor)
}

// RoundUp rounds price up to a multiple of tick.
func RoundUp(price, tick float64) float64 {
	return roundTo(decimal.NewFromFloat(price), tick, decimal.Decimal.Ceil)
}

// RoundForSide rounds buys down and sells up.
func RoundForSide(price, tick float64, buy bool) float64 {
	if buy {
		return RoundDown(price, tick)
	}
	return RoundUp(price, tick)
}

// RoundQuantity truncates qty to precision decimal places.
func RoundQuantity(qty float64, precision int32) float64 {
	return decimal.NewFromFloat(qty).Truncate(precision).InexactFloat64()
}

// IsTickMultiple reports whether price is an exact multiple of tick.
func IsTickMultiple(price, tick float64) bool {
	if tick <= 0 {
		return false
	}
	return decimal.NewFromFloat(price).Mod(decimal.NewFromFloat(tick)).IsZero()
}

// Notional returns price × qty computed in decimal.
func Notional(price, qty float64) float64 {
	return decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(qty)).InexactFloat64()
}

func roundTo(price decimal.Decimal, tick float64, fn func(decimal.Decimal) decimal.Decimal) float64 {
	if tick <= 0 {
		return price.InexactFloat64()
	}
	t := decimal.NewFromFloat(tick)
	return fn(price.Div(t)).Mul(t).InexactFloat64()
}

func roundDecimal(price decimal.Decimal, tick float64, buy bool) float64 {
	if buy {
		return roundTo(price, tick, decimal.Decimal.Floor)
	}
	return roundTo(price, tick, decimal.Decimal.Ceil)
}

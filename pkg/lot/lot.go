// Package lot rounds raw order quantities to exchange lot rules.
package lot

import (
	"math"

	"github.com/meanrev/pairsbot/pkg/models"
)

// stepEpsilon absorbs float64 division noise so that quantities sitting
// exactly on a step boundary are not floored one step down.
const stepEpsilon = 1e-9

// Adjust floors qty to the nearest multiple of step. If the floored value
// falls below min, the minimum is returned when the original qty was at
// least min, otherwise zero — zero signals an untradeable size.
func Adjust(qty, step, min float64) float64 {
	if step <= 0 {
		return qty
	}
	adjusted := math.Floor(qty/step+stepEpsilon) * step
	if adjusted < min {
		if qty >= min {
			return min
		}
		return 0
	}
	return adjusted
}

// AdjustTo applies a symbol's configured lot rules.
func AdjustTo(qty float64, rules models.LotRules) float64 {
	return Adjust(qty, rules.StepSize, rules.MinQty)
}

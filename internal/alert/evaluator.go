// Package alert holds the trigger evaluation and dedup primitives.
package alert

import (
	"github.com/shopspring/decimal"

	"github.com/vpetrenko/market-sentry/internal/domain"
)

// epsilon for the equality operator.
var eqEpsilon = decimal.New(1, -8)

// Evaluate reports whether the rule fires for the current observation.
// previous is the last observed value for the rule's symbol, nil when
// nothing has been observed yet. Crossing operators never fire without
// a previous value. Pure: no state is kept between calls.
func Evaluate(rule domain.Rule, current decimal.Decimal, previous *decimal.Decimal) bool {
	if rule.Skip {
		return false
	}
	switch rule.Op {
	case domain.OpLessOrEqual:
		return current.LessThanOrEqual(rule.Threshold)
	case domain.OpEqual:
		return current.Sub(rule.Threshold).Abs().LessThanOrEqual(eqEpsilon)
	case domain.OpCrossesAbove:
		if previous == nil {
			return false
		}
		return previous.LessThan(rule.Threshold) && current.GreaterThanOrEqual(rule.Threshold)
	case domain.OpCrossesBelow:
		if previous == nil {
			return false
		}
		return previous.GreaterThan(rule.Threshold) && current.LessThanOrEqual(rule.Threshold)
	default:
		// OpGreaterOrEqual, also the fallback for unknown operators.
		return current.GreaterThanOrEqual(rule.Threshold)
	}
}

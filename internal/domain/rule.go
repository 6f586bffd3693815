package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Operator is a trigger comparison resolved from a rule definition.
type Operator string

const (
	OpGreaterOrEqual Operator = "gte"
	OpLessOrEqual    Operator = "lte"
	OpEqual          Operator = "eq"
	OpCrossesAbove   Operator = "crosses_above"
	OpCrossesBelow   Operator = "crosses_below"
)

// ParseOperator maps the operator spellings seen in backend rule
// definitions onto the canonical set. Anything unrecognized resolves
// to OpGreaterOrEqual; ok is false so the caller can log the fallback.
func ParseOperator(raw string) (op Operator, ok bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "gte", ">=", "ge", "above", "greater", "greater_or_equal":
		return OpGreaterOrEqual, true
	case "lte", "<=", "le", "below", "less", "less_or_equal":
		return OpLessOrEqual, true
	case "eq", "=", "==", "equal", "equals":
		return OpEqual, true
	case "crosses_above", "cross_above", "crossover", "crosses_up":
		return OpCrossesAbove, true
	case "crosses_below", "cross_below", "crossunder", "crosses_down":
		return OpCrossesBelow, true
	}
	return OpGreaterOrEqual, false
}

// Rule is one price-alert definition after field resolution.
// Skip marks a rule whose threshold was missing or non-numeric; it is
// ignored until the next refresh replaces the rule set.
type Rule struct {
	ID         string
	Symbol     string
	Threshold  decimal.Decimal
	Op         Operator
	OpFallback bool // raw operator was unrecognized, gte assumed
	Cooldown   time.Duration
	Skip       bool
}

// Backend rule objects come from several generations of the API and
// name the same field differently. Each field is resolved from an
// ordered candidate list; the first present and parseable key wins.
var (
	ruleIDKeys        = []string{"id", "_id", "ruleId", "alertId"}
	ruleSymbolKeys    = []string{"symbol", "pair", "ticker"}
	ruleThresholdKeys = []string{"threshold", "thresholdValue", "value", "price"}
	ruleOperatorKeys  = []string{"operator", "op", "condition", "comparison"}
	ruleCooldownKeys  = []string{"cooldownSec", "cooldown_seconds", "cooldown"}
)

// ResolveRule builds a Rule from a raw JSON object.
func ResolveRule(raw json.RawMessage) (Rule, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Rule{}, err
	}

	r := Rule{
		ID:     resolveString(fields, ruleIDKeys),
		Symbol: strings.ToLower(resolveString(fields, ruleSymbolKeys)),
	}

	threshold, ok := resolveDecimal(fields, ruleThresholdKeys)
	if !ok {
		r.Skip = true
	} else {
		r.Threshold = threshold
	}

	op, known := ParseOperator(resolveString(fields, ruleOperatorKeys))
	r.Op = op
	r.OpFallback = !known

	if sec, ok := resolveDecimal(fields, ruleCooldownKeys); ok {
		r.Cooldown = time.Duration(sec.IntPart()) * time.Second
	}

	if r.ID == "" {
		// Older backends omit ids. Synthesize a stable identity so two
		// id-less rules never share a cooldown slot.
		r.ID = r.Symbol + "/" + string(r.Op) + "/" + r.Threshold.String()
	}

	return r, nil
}

func resolveString(fields map[string]json.RawMessage, keys []string) string {
	for _, k := range keys {
		raw, ok := fields[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
		// Numeric ids are allowed too.
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return n.String()
		}
	}
	return ""
}

func resolveDecimal(fields map[string]json.RawMessage, keys []string) (decimal.Decimal, bool) {
	for _, k := range keys {
		raw, ok := fields[k]
		if !ok {
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			if d, err := decimal.NewFromString(n.String()); err == nil {
				return d, true
			}
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if d, err := decimal.NewFromString(strings.TrimSpace(s)); err == nil {
				return d, true
			}
		}
	}
	return decimal.Zero, false
}

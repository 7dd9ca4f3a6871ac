// Package rules evaluates trading rule conditions and composes them
// into buy/sell signals.
package rules

import (
	"math"

	"github.com/tradeforge/strategy-engine/internal/indicator"
	"github.com/tradeforge/strategy-engine/pkg/types"
)

// Epsilon is the tolerance for equality comparisons between indicator
// values.
const Epsilon = 1e-9

// operand resolves the right-hand side of a condition at index i.
func operand(v types.ConditionValue, i int, cache *indicator.Cache) (float64, bool) {
	if v.Literal != nil {
		return *v.Literal, true
	}
	if v.Indicator != nil {
		return cache.Value(*v.Indicator, i)
	}
	return 0, false
}

// EvaluateCondition evaluates one condition at bar index i. It returns
// false, never an error, when an operand is undefined (warm-up) or when
// a crossing operator lacks a previous bar.
func EvaluateCondition(cond types.RuleCondition, i int, cache *indicator.Cache) bool {
	a, ok := cache.Value(cond.Indicator, i)
	if !ok {
		return false
	}

	switch cond.Operator {
	case types.OpCrossesAbove, types.OpCrossesBelow:
		if i < 1 {
			return false
		}
		aPrev, ok := cache.Value(cond.Indicator, i-1)
		if !ok {
			return false
		}
		b, ok := operand(cond.Value, i, cache)
		if !ok {
			return false
		}
		bPrev, ok := operand(cond.Value, i-1, cache)
		if !ok {
			return false
		}
		if cond.Operator == types.OpCrossesAbove {
			return aPrev <= bPrev && a > b
		}
		return aPrev >= bPrev && a < b

	default:
		b, ok := operand(cond.Value, i, cache)
		if !ok {
			return false
		}
		switch cond.Operator {
		case types.OpGT:
			return a > b
		case types.OpLT:
			return a < b
		case types.OpGTE:
			return a >= b
		case types.OpLTE:
			return a <= b
		case types.OpEQ:
			return math.Abs(a-b) <= Epsilon
		}
	}
	return false
}

// ruleSatisfied composes the rule's conditions with its and/or logic.
func ruleSatisfied(rule types.Rule, i int, cache *indicator.Cache) bool {
	if len(rule.Conditions) == 0 {
		return false
	}
	if rule.ConditionLogic == types.LogicOr {
		for _, cond := range rule.Conditions {
			if EvaluateCondition(cond, i, cache) {
				return true
			}
		}
		return false
	}
	for _, cond := range rule.Conditions {
		if !EvaluateCondition(cond, i, cache) {
			return false
		}
	}
	return true
}

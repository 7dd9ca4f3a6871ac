package rules

import (
	"github.com/tradeforge/strategy-engine/internal/indicator"
	"github.com/tradeforge/strategy-engine/pkg/types"
)

// PositionState is the executor's per-symbol state machine input.
type PositionState int

const (
	// Flat means no open position for the symbol.
	Flat PositionState = iota
	// Long means an open long position exists.
	Long
)

// compatible reports whether a rule's action can act on the current
// position state: buys only open from flat, sells only close a long.
// Short selling and pyramiding are not supported.
func compatible(action types.RuleAction, state PositionState) bool {
	switch action {
	case types.ActionBuy:
		return state == Flat
	case types.ActionSell:
		return state == Long
	}
	return false
}

// Decide evaluates the rules in declaration order at bar index i and
// returns the signal of the first satisfied rule whose action is
// compatible with the position state, or nil when no rule fires.
// Satisfied-but-incompatible rules do not block later rules.
func Decide(ruleList []types.Rule, i int, cache *indicator.Cache, state PositionState) *types.Signal {
	for _, rule := range ruleList {
		if !compatible(rule.Action, state) {
			continue
		}
		if !ruleSatisfied(rule, i, cache) {
			continue
		}
		return &types.Signal{
			Action:           rule.Action,
			RuleID:           rule.ID,
			PositionSize:     rule.PositionSize,
			PositionSizeType: rule.PositionSizeType,
		}
	}
	return nil
}

// StrategyWarmup returns the largest warm-up requirement across every
// indicator referenced by the strategy, on either side of a condition.
func StrategyWarmup(s *types.Strategy) int {
	warmup := 0
	for _, rule := range s.Rules {
		for _, cond := range rule.Conditions {
			if w := indicator.Warmup(cond.Indicator); w > warmup {
				warmup = w
			}
			if cond.Value.Indicator != nil {
				if w := indicator.Warmup(*cond.Value.Indicator); w > warmup {
					warmup = w
				}
			}
		}
	}
	return warmup
}

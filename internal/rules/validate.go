package rules

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tradeforge/strategy-engine/pkg/types"
)

var hundred = decimal.NewFromInt(100)

// ValidateStrategy checks a strategy once at load time. Unknown
// indicator types, unknown operators, empty condition lists, and
// out-of-range position sizes are all rejected here so that bar
// evaluation never sees an invalid rule.
func ValidateStrategy(s *types.Strategy) error {
	if s == nil {
		return fmt.Errorf("strategy is nil")
	}
	if s.Symbol == "" {
		return fmt.Errorf("strategy symbol is empty")
	}
	if !s.Timeframe.Valid() {
		return fmt.Errorf("unknown timeframe %q", s.Timeframe)
	}
	if len(s.Rules) == 0 {
		return fmt.Errorf("strategy has no rules")
	}
	if s.TakeProfitPct.IsNegative() {
		return fmt.Errorf("takeProfitPct must not be negative")
	}
	if s.StopLossPct.IsNegative() {
		return fmt.Errorf("stopLossPct must not be negative")
	}

	for ri, rule := range s.Rules {
		if err := validateRule(rule); err != nil {
			return fmt.Errorf("rule %d (%s): %w", ri, rule.ID, err)
		}
	}
	return nil
}

func validateRule(rule types.Rule) error {
	switch rule.Action {
	case types.ActionBuy, types.ActionSell:
	default:
		return fmt.Errorf("unknown action %q", rule.Action)
	}

	switch rule.ConditionLogic {
	case types.LogicAnd, types.LogicOr:
	default:
		return fmt.Errorf("unknown condition logic %q", rule.ConditionLogic)
	}

	if len(rule.Conditions) == 0 {
		return fmt.Errorf("rule has no conditions")
	}

	switch rule.PositionSizeType {
	case types.SizePercent:
		if rule.PositionSize.LessThanOrEqual(decimal.Zero) || rule.PositionSize.GreaterThan(hundred) {
			return fmt.Errorf("percent position size %s out of (0,100]", rule.PositionSize)
		}
	case types.SizeFixed:
		if rule.PositionSize.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("fixed position size %s must be positive", rule.PositionSize)
		}
	default:
		if rule.Action == types.ActionBuy {
			return fmt.Errorf("unknown position size type %q", rule.PositionSizeType)
		}
		// Sell rules close the whole position; size is ignored.
	}

	for ci, cond := range rule.Conditions {
		if err := validateCondition(cond); err != nil {
			return fmt.Errorf("condition %d: %w", ci, err)
		}
	}
	return nil
}

func validateCondition(cond types.RuleCondition) error {
	if !cond.Operator.Valid() {
		return fmt.Errorf("unknown operator %q", cond.Operator)
	}
	if err := validateIndicator(cond.Indicator); err != nil {
		return err
	}
	if cond.Value.Literal == nil && cond.Value.Indicator == nil {
		return fmt.Errorf("condition value is missing")
	}
	if cond.Value.Indicator != nil {
		if err := validateIndicator(*cond.Value.Indicator); err != nil {
			return fmt.Errorf("comparison indicator: %w", err)
		}
	}
	return nil
}

func validateIndicator(cfg types.IndicatorConfig) error {
	switch cfg.Source {
	case "", types.SourceOpen, types.SourceHigh, types.SourceLow, types.SourceClose:
	default:
		return fmt.Errorf("unknown price source %q", cfg.Source)
	}

	switch cfg.Type {
	case types.IndicatorSMA, types.IndicatorEMA, types.IndicatorRSI, types.IndicatorATR:
		if cfg.Period <= 0 {
			return fmt.Errorf("%s period must be positive", cfg.Type)
		}
	case types.IndicatorMACD:
		fast, slow, signal := cfg.FastPeriod, cfg.SlowPeriod, cfg.SignalPeriod
		if fast == 0 && slow == 0 && signal == 0 {
			return nil // defaults 12/26/9 applied at compute time
		}
		if fast <= 0 || slow <= 0 || signal <= 0 {
			return fmt.Errorf("macd periods must be positive")
		}
		if fast >= slow {
			return fmt.Errorf("macd fast period %d must be below slow period %d", fast, slow)
		}
	case types.IndicatorBollinger:
		if cfg.Period < 0 || cfg.StdDev < 0 {
			return fmt.Errorf("bollinger parameters must not be negative")
		}
	case types.IndicatorVolume, types.IndicatorPrice:
		// No parameters.
	default:
		return fmt.Errorf("unknown indicator type %q", cfg.Type)
	}
	return nil
}

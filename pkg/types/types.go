// Package types provides shared type definitions for the strategy engine.
package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Timeframe represents candle timeframes
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// PeriodsPerYear returns the number of bars in a year for this timeframe.
// Daily bars use the 252 trading-day convention; intraday timeframes
// assume 24/7 markets.
func (tf Timeframe) PeriodsPerYear() float64 {
	switch tf {
	case Timeframe1m:
		return 525600
	case Timeframe5m:
		return 105120
	case Timeframe15m:
		return 35040
	case Timeframe1h:
		return 8760
	case Timeframe4h:
		return 2190
	case Timeframe1d:
		return 252
	default:
		return 252
	}
}

// Valid reports whether the timeframe is a known value.
func (tf Timeframe) Valid() bool {
	switch tf {
	case Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h, Timeframe4h, Timeframe1d:
		return true
	}
	return false
}

// Duration returns the bar interval.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// OHLCV represents a single candlestick
type OHLCV struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// IndicatorType identifies a technical indicator
type IndicatorType string

const (
	IndicatorSMA       IndicatorType = "sma"
	IndicatorEMA       IndicatorType = "ema"
	IndicatorRSI       IndicatorType = "rsi"
	IndicatorMACD      IndicatorType = "macd"
	IndicatorBollinger IndicatorType = "bollinger_bands"
	IndicatorATR       IndicatorType = "atr"
	IndicatorVolume    IndicatorType = "volume"
	IndicatorPrice     IndicatorType = "price"
)

// PriceSource selects which bar field an indicator reads.
type PriceSource string

const (
	SourceOpen  PriceSource = "open"
	SourceHigh  PriceSource = "high"
	SourceLow   PriceSource = "low"
	SourceClose PriceSource = "close"
)

// MACDComponent selects a MACD output series.
type MACDComponent string

const (
	MACDLine      MACDComponent = "line"
	MACDSignal    MACDComponent = "signal"
	MACDHistogram MACDComponent = "histogram"
)

// BandComponent selects a Bollinger Band output series.
type BandComponent string

const (
	BandUpper  BandComponent = "upper"
	BandMiddle BandComponent = "middle"
	BandLower  BandComponent = "lower"
)

// IndicatorConfig describes one indicator instance. It is a closed
// variant over IndicatorType: unknown types are rejected when the
// strategy is loaded, not when a bar is evaluated.
type IndicatorConfig struct {
	Type   IndicatorType `json:"type"`
	Period int           `json:"period,omitempty"`
	Source PriceSource   `json:"source,omitempty"`

	// MACD parameters
	FastPeriod   int           `json:"fastPeriod,omitempty"`
	SlowPeriod   int           `json:"slowPeriod,omitempty"`
	SignalPeriod int           `json:"signalPeriod,omitempty"`
	Component    MACDComponent `json:"component,omitempty"`

	// Bollinger parameters
	StdDev float64       `json:"stdDev,omitempty"`
	Band   BandComponent `json:"band,omitempty"`
}

// Key returns a stable cache key for the configured indicator.
func (c IndicatorConfig) Key() string {
	var b strings.Builder
	b.WriteString(string(c.Type))
	if c.Source != "" {
		b.WriteString("_" + string(c.Source))
	}
	switch c.Type {
	case IndicatorMACD:
		fmt.Fprintf(&b, "_%d_%d_%d_%s", c.FastPeriod, c.SlowPeriod, c.SignalPeriod, c.Component)
	case IndicatorBollinger:
		fmt.Fprintf(&b, "_%d_%s_%s", c.Period, strconv.FormatFloat(c.StdDev, 'f', -1, 64), c.Band)
	default:
		fmt.Fprintf(&b, "_%d", c.Period)
	}
	return b.String()
}

// ConditionOperator compares an indicator against a threshold.
type ConditionOperator string

const (
	OpGT           ConditionOperator = "gt"
	OpLT           ConditionOperator = "lt"
	OpEQ           ConditionOperator = "eq"
	OpGTE          ConditionOperator = "gte"
	OpLTE          ConditionOperator = "lte"
	OpCrossesAbove ConditionOperator = "crosses_above"
	OpCrossesBelow ConditionOperator = "crosses_below"
)

// Valid reports whether the operator is a known value.
func (op ConditionOperator) Valid() bool {
	switch op {
	case OpGT, OpLT, OpEQ, OpGTE, OpLTE, OpCrossesAbove, OpCrossesBelow:
		return true
	}
	return false
}

// ConditionValue is the right-hand side of a condition: either a
// numeric literal or a reference to another indicator. The JSON form is
// a bare number or an IndicatorConfig object, matching the dashboard
// contract.
type ConditionValue struct {
	Literal   *float64
	Indicator *IndicatorConfig
}

// LiteralValue builds a literal condition value.
func LiteralValue(v float64) ConditionValue {
	return ConditionValue{Literal: &v}
}

// IndicatorValue builds an indicator-reference condition value.
func IndicatorValue(cfg IndicatorConfig) ConditionValue {
	return ConditionValue{Indicator: &cfg}
}

// MarshalJSON implements json.Marshaler.
func (v ConditionValue) MarshalJSON() ([]byte, error) {
	if v.Literal != nil {
		return json.Marshal(*v.Literal)
	}
	if v.Indicator != nil {
		return json.Marshal(v.Indicator)
	}
	return []byte("null"), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *ConditionValue) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		return fmt.Errorf("condition value must not be null")
	}
	if strings.HasPrefix(trimmed, "{") {
		var cfg IndicatorConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return err
		}
		v.Indicator = &cfg
		v.Literal = nil
		return nil
	}
	var lit float64
	if err := json.Unmarshal(data, &lit); err != nil {
		return fmt.Errorf("condition value must be a number or an indicator: %w", err)
	}
	v.Literal = &lit
	v.Indicator = nil
	return nil
}

// RuleCondition is a single comparison inside a rule.
type RuleCondition struct {
	ID        string            `json:"id,omitempty"`
	Indicator IndicatorConfig   `json:"indicator"`
	Operator  ConditionOperator `json:"operator"`
	Value     ConditionValue    `json:"value"`
}

// RuleAction is the side a rule trades when it fires.
type RuleAction string

const (
	ActionBuy  RuleAction = "buy"
	ActionSell RuleAction = "sell"
)

// ConditionLogic joins a rule's conditions.
type ConditionLogic string

const (
	LogicAnd ConditionLogic = "and"
	LogicOr  ConditionLogic = "or"
)

// PositionSizeType selects how a rule's position size is interpreted.
type PositionSizeType string

const (
	SizePercent PositionSizeType = "percent"
	SizeFixed   PositionSizeType = "fixed"
)

// Rule is one trading rule: a set of conditions joined by and/or, an
// action, and a position size.
type Rule struct {
	ID               string           `json:"id"`
	Name             string           `json:"name,omitempty"`
	Action           RuleAction       `json:"action"`
	Conditions       []RuleCondition  `json:"conditions"`
	ConditionLogic   ConditionLogic   `json:"conditionLogic"`
	PositionSize     decimal.Decimal  `json:"positionSize"`
	PositionSizeType PositionSizeType `json:"positionSizeType"`
}

// Strategy is an ordered set of rules for one symbol and timeframe.
// Rule order is evaluation order; the first satisfied rule compatible
// with the current position state wins on each bar.
type Strategy struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Symbol      string    `json:"symbol"`
	Timeframe   Timeframe `json:"timeframe"`
	Rules       []Rule    `json:"rules"`

	// Optional exit guards as percent moves from the entry price.
	// Zero disables the guard.
	TakeProfitPct decimal.Decimal `json:"takeProfitPct,omitempty"`
	StopLossPct   decimal.Decimal `json:"stopLossPct,omitempty"`
}

// Signal is a buy/sell decision produced by rule evaluation for a bar.
type Signal struct {
	Action           RuleAction       `json:"action"`
	RuleID           string           `json:"ruleId"`
	PositionSize     decimal.Decimal  `json:"positionSize"`
	PositionSizeType PositionSizeType `json:"positionSizeType"`
}

// OrderIntent is an immediate market-fill request emitted by the
// strategy executor or the live evaluator.
type OrderIntent struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Side      OrderSide       `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	RuleID    string          `json:"ruleId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Position is an open holding in a portfolio.
type Position struct {
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity"`
	AveragePrice decimal.Decimal `json:"averagePrice"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	// Commission paid on entry, folded into realized PnL at close.
	EntryCommission decimal.Decimal `json:"entryCommission"`
	OpenedAt        time.Time       `json:"openedAt"`
}

// UnrealizedPnL returns the mark-to-market gain on the position.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	return p.Quantity.Mul(p.CurrentPrice.Sub(p.AveragePrice))
}

// Trade is an immutable record of a simulated fill. PnL is set only on
// closing (sell) fills; entry fills carry a zero PnL and Closing=false.
type Trade struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
	PnL        decimal.Decimal `json:"pnl"`
	Closing    bool            `json:"closing"`
	RuleID     string          `json:"ruleId,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// EquityPoint is one point on the equity curve, one per bar processed.
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
	Cash      decimal.Decimal `json:"cash"`
	Drawdown  decimal.Decimal `json:"drawdown"`
}

// Ratio is a float64 metric that may legitimately be +Inf (profit
// factor with zero gross loss). Infinity serializes as the string
// "inf" because JSON has no infinity literal.
type Ratio float64

// MarshalJSON implements json.Marshaler.
func (r Ratio) MarshalJSON() ([]byte, error) {
	f := float64(r)
	if math.IsInf(f, 1) {
		return []byte(`"inf"`), nil
	}
	if math.IsInf(f, -1) {
		return []byte(`"-inf"`), nil
	}
	if math.IsNaN(f) {
		return []byte("0"), nil
	}
	return json.Marshal(f)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Ratio) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "inf":
		*r = Ratio(math.Inf(1))
		return nil
	case "-inf":
		*r = Ratio(math.Inf(-1))
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*r = Ratio(f)
	return nil
}

// Metrics summarizes a backtest run.
type Metrics struct {
	TotalReturn        decimal.Decimal `json:"totalReturn"`
	TotalReturnPercent decimal.Decimal `json:"totalReturnPercent"`
	MaxDrawdown        decimal.Decimal `json:"maxDrawdown"`
	MaxDrawdownPercent decimal.Decimal `json:"maxDrawdownPercent"`
	SharpeRatio        float64         `json:"sharpeRatio"`
	SortinoRatio       float64         `json:"sortinoRatio"`
	WinRate            float64         `json:"winRate"`
	ProfitFactor       Ratio           `json:"profitFactor"`
	TotalTrades        int             `json:"totalTrades"`
	WinningTrades      int             `json:"winningTrades"`
	LosingTrades       int             `json:"losingTrades"`
	AverageWin         decimal.Decimal `json:"averageWin"`
	AverageLoss        decimal.Decimal `json:"averageLoss"`
}

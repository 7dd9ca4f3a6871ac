// Package live re-runs the rule engine on incoming bars for active
// strategies and emits order intents. Broker execution is out of
// scope: intents stop at the outbound channel, where an execution
// service picks them up.
package live

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeforge/strategy-engine/internal/indicator"
	"github.com/tradeforge/strategy-engine/internal/rules"
	"github.com/tradeforge/strategy-engine/pkg/types"
	"go.uber.org/zap"
)

// EventType classifies a live status event.
type EventType string

const (
	EventSignal   EventType = "signal"
	EventIntent   EventType = "order_intent"
	EventPosition EventType = "position_change"
)

// Event is a status notification pushed to subscribers (the WebSocket
// hub) as live evaluation proceeds.
type Event struct {
	Type       EventType   `json:"type"`
	StrategyID string      `json:"strategyId"`
	Symbol     string      `json:"symbol"`
	Payload    interface{} `json:"payload,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// EquityFunc reports the equity available to a strategy, used to size
// percent-of-portfolio rules. When absent, percent-sized intents carry
// a zero quantity and are sized downstream.
type EquityFunc func() decimal.Decimal

// Evaluator tracks one strategy against its live bar stream. It keeps
// a rolling window of bars, recomputes indicators over the window on
// each new bar, and walks the same flat/long state machine as the
// backtest executor.
type Evaluator struct {
	mu       sync.Mutex
	logger   *zap.Logger
	strategy *types.Strategy
	window   []types.OHLCV
	maxBars  int
	state    rules.PositionState
	equityFn EquityFunc
}

// maxWindow bounds the rolling bar window; it comfortably covers every
// supported indicator warm-up.
const maxWindow = 500

// NewEvaluator validates the strategy and creates an evaluator for it.
func NewEvaluator(logger *zap.Logger, strategy *types.Strategy, equityFn EquityFunc) (*Evaluator, error) {
	if err := rules.ValidateStrategy(strategy); err != nil {
		return nil, fmt.Errorf("invalid strategy: %w", err)
	}
	maxBars := maxWindow
	if warmup := rules.StrategyWarmup(strategy); warmup+2 > maxBars {
		maxBars = warmup + 2
	}
	return &Evaluator{
		logger:   logger,
		strategy: strategy,
		window:   make([]types.OHLCV, 0, maxBars),
		maxBars:  maxBars,
		state:    rules.Flat,
		equityFn: equityFn,
	}, nil
}

// OnBar appends a live bar and evaluates the rules at the newest
// index. It returns an order intent when a rule fires, or nil.
func (e *Evaluator) OnBar(bar types.OHLCV) *types.OrderIntent {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.window = append(e.window, bar)
	if len(e.window) > e.maxBars {
		e.window = e.window[1:]
	}

	cache := indicator.NewCache(e.window)
	i := len(e.window) - 1
	signal := rules.Decide(e.strategy.Rules, i, cache, e.state)
	if signal == nil {
		return nil
	}

	intent := &types.OrderIntent{
		ID:        uuid.New().String(),
		Symbol:    e.strategy.Symbol,
		Price:     bar.Close,
		RuleID:    signal.RuleID,
		Timestamp: bar.Timestamp,
	}

	switch signal.Action {
	case types.ActionBuy:
		intent.Side = types.OrderSideBuy
		intent.Quantity = e.buyQuantity(signal, bar.Close)
		e.state = rules.Long
	case types.ActionSell:
		intent.Side = types.OrderSideSell
		// Quantity zero means close the whole position.
		e.state = rules.Flat
	}

	e.logger.Info("live signal",
		zap.String("strategy", e.strategy.ID),
		zap.String("symbol", e.strategy.Symbol),
		zap.String("side", string(intent.Side)),
		zap.String("rule", signal.RuleID),
	)
	return intent
}

func (e *Evaluator) buyQuantity(signal *types.Signal, price decimal.Decimal) decimal.Decimal {
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	switch signal.PositionSizeType {
	case types.SizeFixed:
		return signal.PositionSize.Div(price)
	case types.SizePercent:
		if e.equityFn == nil {
			return decimal.Zero
		}
		hundred := decimal.NewFromInt(100)
		return signal.PositionSize.Div(hundred).Mul(e.equityFn()).Div(price)
	}
	return decimal.Zero
}

// State returns the evaluator's current position state.
func (e *Evaluator) State() rules.PositionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

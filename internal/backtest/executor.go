package backtest

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeforge/strategy-engine/internal/indicator"
	"github.com/tradeforge/strategy-engine/internal/rules"
	"github.com/tradeforge/strategy-engine/pkg/types"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// Executor turns rule signals into simulated fills against a portfolio.
// It runs a flat -> long -> flat state machine per symbol: a buy while
// long and a sell while flat are both no-ops.
type Executor struct {
	logger     *zap.Logger
	commission decimal.Decimal
	runID      string
	seq        int
}

// NewExecutor creates an executor charging commission as a rate on
// notional value. Trade IDs are derived from runID and a sequence
// number so identical runs produce identical ledgers.
func NewExecutor(logger *zap.Logger, commissionRate decimal.Decimal, runID string) *Executor {
	return &Executor{logger: logger, commission: commissionRate, runID: runID}
}

func (e *Executor) nextTradeID() string {
	e.seq++
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s/trade/%d", e.runID, e.seq))).String()
}

// Step processes one bar: mark to market, check exit guards, run the
// rule engine, and apply any resulting fill at the bar close. It
// returns the trade recorded for this bar, or nil. Order rejections
// are logged and absorbed; they never fail the run.
func (e *Executor) Step(strategy *types.Strategy, bar types.OHLCV, i int, portfolio *Portfolio, cache *indicator.Cache) *types.Trade {
	symbol := strategy.Symbol
	portfolio.MarkToMarket(symbol, bar.Close)

	state := rules.Flat
	pos := portfolio.Position(symbol)
	if pos != nil {
		state = rules.Long
	}

	// Exit guards run before the rules: a take-profit or stop-loss
	// breach closes the position regardless of what the rules say.
	if state == rules.Long && e.guardTriggered(strategy, pos, bar.Close) {
		return e.fillSell(symbol, bar, portfolio, "")
	}

	signal := rules.Decide(strategy.Rules, i, cache, state)
	if signal == nil {
		return nil
	}

	switch signal.Action {
	case types.ActionBuy:
		return e.fillBuy(signal, symbol, bar, portfolio)
	case types.ActionSell:
		return e.fillSell(symbol, bar, portfolio, signal.RuleID)
	}
	return nil
}

// guardTriggered checks the optional take-profit / stop-loss percent
// thresholds against the entry price.
func (e *Executor) guardTriggered(strategy *types.Strategy, pos *types.Position, price decimal.Decimal) bool {
	if pos.AveragePrice.IsZero() {
		return false
	}
	movePct := price.Sub(pos.AveragePrice).Div(pos.AveragePrice).Mul(hundred)
	if !strategy.TakeProfitPct.IsZero() && movePct.GreaterThanOrEqual(strategy.TakeProfitPct) {
		return true
	}
	if !strategy.StopLossPct.IsZero() && movePct.LessThanOrEqual(strategy.StopLossPct.Neg()) {
		return true
	}
	return false
}

func (e *Executor) fillBuy(signal *types.Signal, symbol string, bar types.OHLCV, portfolio *Portfolio) *types.Trade {
	if bar.Close.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	var notional decimal.Decimal
	switch signal.PositionSizeType {
	case types.SizePercent:
		notional = signal.PositionSize.Div(hundred).Mul(portfolio.Equity())
	case types.SizeFixed:
		notional = signal.PositionSize
	default:
		return nil
	}

	quantity := notional.Div(bar.Close)
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	commission := e.commission.Mul(quantity.Mul(bar.Close))

	if err := portfolio.Buy(symbol, quantity, bar.Close, commission, bar.Timestamp); err != nil {
		e.logger.Debug("buy rejected",
			zap.String("symbol", symbol),
			zap.Time("bar", bar.Timestamp),
			zap.Error(err),
		)
		return nil
	}

	return &types.Trade{
		ID:         e.nextTradeID(),
		Symbol:     symbol,
		Side:       types.OrderSideBuy,
		Quantity:   quantity,
		Price:      bar.Close,
		Commission: commission,
		RuleID:     signal.RuleID,
		Timestamp:  bar.Timestamp,
	}
}

func (e *Executor) fillSell(symbol string, bar types.OHLCV, portfolio *Portfolio, ruleID string) *types.Trade {
	pos := portfolio.Position(symbol)
	if pos == nil {
		return nil
	}
	commission := e.commission.Mul(pos.Quantity.Mul(bar.Close))

	quantity, pnl, err := portfolio.Sell(symbol, bar.Close, commission)
	if err != nil {
		e.logger.Debug("sell rejected",
			zap.String("symbol", symbol),
			zap.Time("bar", bar.Timestamp),
			zap.Error(err),
		)
		return nil
	}

	return &types.Trade{
		ID:         e.nextTradeID(),
		Symbol:     symbol,
		Side:       types.OrderSideSell,
		Quantity:   quantity,
		Price:      bar.Close,
		Commission: commission,
		PnL:        pnl,
		Closing:    true,
		RuleID:     ruleID,
		Timestamp:  bar.Timestamp,
	}
}

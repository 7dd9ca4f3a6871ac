// Package live_test provides tests for live strategy evaluation.
package live_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradeforge/strategy-engine/internal/live"
	"github.com/tradeforge/strategy-engine/internal/rules"
	"github.com/tradeforge/strategy-engine/pkg/types"
	"go.uber.org/zap"
)

func bar(i int, close float64) types.OHLCV {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	price := decimal.NewFromFloat(close)
	return types.OHLCV{
		Timestamp: ts.Add(time.Duration(i) * time.Minute),
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Volume:    decimal.NewFromInt(1),
	}
}

func crossStrategy(id string) *types.Strategy {
	return &types.Strategy{
		ID:        id,
		Symbol:    "BTCUSDT",
		Timeframe: types.Timeframe1m,
		Rules: []types.Rule{
			{
				ID:               "entry",
				Action:           types.ActionBuy,
				ConditionLogic:   types.LogicAnd,
				PositionSize:     decimal.NewFromInt(500),
				PositionSizeType: types.SizeFixed,
				Conditions: []types.RuleCondition{{
					Indicator: types.IndicatorConfig{Type: types.IndicatorPrice},
					Operator:  types.OpCrossesAbove,
					Value:     types.LiteralValue(10),
				}},
			},
			{
				ID:             "exit",
				Action:         types.ActionSell,
				ConditionLogic: types.LogicAnd,
				Conditions: []types.RuleCondition{{
					Indicator: types.IndicatorConfig{Type: types.IndicatorPrice},
					Operator:  types.OpCrossesBelow,
					Value:     types.LiteralValue(10),
				}},
			},
		},
	}
}

func TestEvaluatorEmitsIntents(t *testing.T) {
	ev, err := live.NewEvaluator(zap.NewNop(), crossStrategy("s1"), nil)
	if err != nil {
		t.Fatalf("NewEvaluator failed: %v", err)
	}

	if intent := ev.OnBar(bar(0, 9)); intent != nil {
		t.Fatalf("no intent expected on the first bar, got %+v", intent)
	}

	intent := ev.OnBar(bar(1, 11))
	if intent == nil {
		t.Fatal("expected a buy intent on the cross above")
	}
	if intent.Side != types.OrderSideBuy || intent.RuleID != "entry" {
		t.Errorf("unexpected intent: %+v", intent)
	}
	// Fixed 500 notional at price 11.
	if !intent.Quantity.Equal(decimal.NewFromInt(500).Div(decimal.NewFromInt(11))) {
		t.Errorf("buy quantity: %s", intent.Quantity)
	}
	if ev.State() != rules.Long {
		t.Error("evaluator should be long after a buy intent")
	}

	// Flat bar: no rule fires.
	if intent := ev.OnBar(bar(2, 12)); intent != nil {
		t.Fatalf("no intent expected, got %+v", intent)
	}

	intent = ev.OnBar(bar(3, 9))
	if intent == nil {
		t.Fatal("expected a sell intent on the cross below")
	}
	if intent.Side != types.OrderSideSell {
		t.Errorf("expected sell, got %s", intent.Side)
	}
	// Sells close the whole position downstream.
	if !intent.Quantity.IsZero() {
		t.Errorf("sell intent quantity should be zero, got %s", intent.Quantity)
	}
	if ev.State() != rules.Flat {
		t.Error("evaluator should be flat after the sell intent")
	}
}

func TestEvaluatorPercentSizingNeedsEquity(t *testing.T) {
	strategy := crossStrategy("s2")
	strategy.Rules[0].PositionSize = decimal.NewFromInt(50)
	strategy.Rules[0].PositionSizeType = types.SizePercent

	ev, err := live.NewEvaluator(zap.NewNop(), strategy, nil)
	if err != nil {
		t.Fatalf("NewEvaluator failed: %v", err)
	}
	ev.OnBar(bar(0, 9))
	intent := ev.OnBar(bar(1, 11))
	if intent == nil {
		t.Fatal("expected a buy intent")
	}
	if !intent.Quantity.IsZero() {
		t.Errorf("percent sizing without an equity source should be zero, got %s", intent.Quantity)
	}

	equity := func() decimal.Decimal { return decimal.NewFromInt(1000) }
	sized, err := live.NewEvaluator(zap.NewNop(), strategy, equity)
	if err != nil {
		t.Fatalf("NewEvaluator failed: %v", err)
	}
	sized.OnBar(bar(0, 9))
	intent = sized.OnBar(bar(1, 11))
	if intent == nil {
		t.Fatal("expected a buy intent")
	}
	// 50% of 1000 equity at price 11.
	want := decimal.NewFromInt(500).Div(decimal.NewFromInt(11))
	if !intent.Quantity.Equal(want) {
		t.Errorf("percent quantity: expected %s, got %s", want, intent.Quantity)
	}
}

func TestEvaluatorRejectsInvalidStrategy(t *testing.T) {
	strategy := crossStrategy("s3")
	strategy.Rules = nil
	if _, err := live.NewEvaluator(zap.NewNop(), strategy, nil); err == nil {
		t.Fatal("invalid strategy should be rejected at activation")
	}
}

func TestServiceFanOut(t *testing.T) {
	service := live.NewService(zap.NewNop())

	if err := service.Activate(crossStrategy("a"), nil); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if err := service.Activate(crossStrategy("b"), nil); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if err := service.Activate(crossStrategy("a"), nil); err == nil {
		t.Error("duplicate activation should fail")
	}
	if got := len(service.ActiveStrategies()); got != 2 {
		t.Fatalf("expected 2 active strategies, got %d", got)
	}

	service.OnBar("BTCUSDT", bar(0, 9))
	service.OnBar("BTCUSDT", bar(1, 11))

	// Both strategies watch the symbol, so the cross emits two intents.
	for i := 0; i < 2; i++ {
		select {
		case intent := <-service.Intents():
			if intent.Side != types.OrderSideBuy {
				t.Errorf("intent %d: expected buy, got %s", i, intent.Side)
			}
		default:
			t.Fatalf("expected 2 intents, got %d", i)
		}
	}

	select {
	case event := <-service.Events():
		if event.Type != live.EventIntent {
			t.Errorf("expected an intent event, got %s", event.Type)
		}
	default:
		t.Fatal("expected a status event")
	}

	service.Deactivate("a")
	if got := len(service.ActiveStrategies()); got != 1 {
		t.Errorf("expected 1 active strategy after deactivation, got %d", got)
	}

	// Bars for unwatched symbols are ignored.
	service.OnBar("ETHUSDT", bar(2, 100))
}

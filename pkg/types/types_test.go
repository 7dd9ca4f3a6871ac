package types_test

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/tradeforge/strategy-engine/pkg/types"
)

func TestConditionValueJSON(t *testing.T) {
	// A bare number decodes as a literal.
	var v types.ConditionValue
	if err := json.Unmarshal([]byte(`30`), &v); err != nil {
		t.Fatalf("unmarshal literal failed: %v", err)
	}
	if v.Literal == nil || *v.Literal != 30 {
		t.Fatalf("expected literal 30, got %+v", v)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(raw) != "30" {
		t.Errorf("literal should round-trip as a number, got %s", raw)
	}

	// An object decodes as an indicator reference.
	if err := json.Unmarshal([]byte(`{"type":"sma","period":20}`), &v); err != nil {
		t.Fatalf("unmarshal indicator failed: %v", err)
	}
	if v.Indicator == nil || v.Indicator.Type != types.IndicatorSMA || v.Indicator.Period != 20 {
		t.Fatalf("expected sma(20) reference, got %+v", v)
	}
	if v.Literal != nil {
		t.Error("indicator value should clear the literal")
	}

	if err := json.Unmarshal([]byte(`null`), &v); err == nil {
		t.Error("null condition value should be rejected")
	}
	if err := json.Unmarshal([]byte(`"30"`), &v); err == nil {
		t.Error("string condition value should be rejected")
	}
}

func TestRuleJSONRoundTrip(t *testing.T) {
	input := `{
		"id": "entry",
		"action": "buy",
		"conditionLogic": "and",
		"positionSize": "25",
		"positionSizeType": "percent",
		"conditions": [
			{"indicator": {"type": "rsi", "period": 14}, "operator": "lt", "value": 30},
			{"indicator": {"type": "sma", "period": 5}, "operator": "crosses_above",
			 "value": {"type": "sma", "period": 20}}
		]
	}`
	var rule types.Rule
	if err := json.Unmarshal([]byte(input), &rule); err != nil {
		t.Fatalf("unmarshal rule failed: %v", err)
	}
	if rule.Conditions[0].Value.Literal == nil {
		t.Error("first condition should have a literal threshold")
	}
	if rule.Conditions[1].Value.Indicator == nil {
		t.Error("second condition should reference an indicator")
	}

	raw, err := json.Marshal(rule)
	if err != nil {
		t.Fatalf("marshal rule failed: %v", err)
	}
	var again types.Rule
	if err := json.Unmarshal(raw, &again); err != nil {
		t.Fatalf("re-unmarshal failed: %v", err)
	}
	if again.Conditions[1].Value.Indicator.Period != 20 {
		t.Error("indicator reference lost in round trip")
	}
}

func TestTimeframe(t *testing.T) {
	if !types.Timeframe1h.Valid() || types.Timeframe("2h").Valid() {
		t.Error("timeframe validity incorrect")
	}
	if types.Timeframe1h.Duration() != time.Hour {
		t.Errorf("1h duration: %s", types.Timeframe1h.Duration())
	}
	// Daily bars annualize over trading days; intraday crypto trades
	// around the clock.
	if got := types.Timeframe1d.PeriodsPerYear(); got != 252 {
		t.Errorf("1d periods per year: %f", got)
	}
	if got := types.Timeframe1h.PeriodsPerYear(); got != 8760 {
		t.Errorf("1h periods per year: %f", got)
	}
}

func TestRatioJSON(t *testing.T) {
	raw, err := json.Marshal(types.Ratio(1.5))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(raw) != "1.5" {
		t.Errorf("finite ratio should be a number, got %s", raw)
	}

	var r types.Ratio
	if err := json.Unmarshal([]byte(`"inf"`), &r); err != nil {
		t.Fatalf("unmarshal inf failed: %v", err)
	}
	if !math.IsInf(float64(r), 1) {
		t.Errorf("expected +Inf, got %f", float64(r))
	}
}

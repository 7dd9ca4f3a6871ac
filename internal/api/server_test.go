// Package api_test provides tests for the API server.
package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradeforge/strategy-engine/internal/api"
	"github.com/tradeforge/strategy-engine/internal/data"
	"github.com/tradeforge/strategy-engine/internal/live"
	"github.com/tradeforge/strategy-engine/pkg/types"
	"go.uber.org/zap"
)

func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()

	store, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create data store: %v", err)
	}

	serverCfg := &types.ServerConfig{Host: "localhost", Port: 0, WebSocketPath: "/ws"}
	engineCfg := types.EngineConfig{
		DefaultCommission: decimal.NewFromFloat(0.001),
		Workers:           2,
		QueueSize:         8,
	}
	server := api.NewServer(logger, serverCfg, engineCfg, store, live.NewService(logger))
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, payload interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func testStrategy() types.Strategy {
	return types.Strategy{
		ID:        "api-test",
		Name:      "price cross",
		Symbol:    "TESTUSDT",
		Timeframe: types.Timeframe1h,
		Rules: []types.Rule{
			{
				ID:               "entry",
				Action:           types.ActionBuy,
				ConditionLogic:   types.LogicAnd,
				PositionSize:     decimal.NewFromInt(10),
				PositionSizeType: types.SizePercent,
				Conditions: []types.RuleCondition{{
					Indicator: types.IndicatorConfig{Type: types.IndicatorSMA, Period: 5},
					Operator:  types.OpCrossesAbove,
					Value: types.IndicatorValue(types.IndicatorConfig{
						Type: types.IndicatorSMA, Period: 20,
					}),
				}},
			},
			{
				ID:             "exit",
				Action:         types.ActionSell,
				ConditionLogic: types.LogicAnd,
				Conditions: []types.RuleCondition{{
					Indicator: types.IndicatorConfig{Type: types.IndicatorSMA, Period: 5},
					Operator:  types.OpCrossesBelow,
					Value: types.IndicatorValue(types.IndicatorConfig{
						Type: types.IndicatorSMA, Period: 20,
					}),
				}},
			},
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if result["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", result["status"])
	}
}

func TestValidateStrategyEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/strategies/validate", testStrategy())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid strategy: expected 200, got %d", resp.StatusCode)
	}

	invalid := testStrategy()
	invalid.Rules[0].Conditions[0].Operator = "near"
	resp = postJSON(t, ts.URL+"/api/v1/strategies/validate", invalid)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("invalid strategy: expected 422, got %d", resp.StatusCode)
	}
	var result struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if result.Valid || result.Error == "" {
		t.Errorf("expected valid=false with an error message, got %+v", result)
	}
}

func TestBacktestLifecycle(t *testing.T) {
	ts := setupTestServer(t)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	payload := map[string]interface{}{
		"strategy":       testStrategy(),
		"startDate":      start,
		"endDate":        start.Add(60 * 24 * time.Hour),
		"initialCapital": "10000",
	}

	resp := postJSON(t, ts.URL+"/api/v1/backtests", payload)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var accepted struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if accepted.ID == "" {
		t.Fatal("expected a backtest id")
	}

	// The run is asynchronous; poll until it finishes.
	var detail struct {
		Status types.BacktestStatus  `json:"status"`
		Error  string                `json:"error"`
		Result *types.BacktestResult `json:"result"`
	}
	deadline := time.Now().Add(10 * time.Second)
	for {
		getResp, err := http.Get(ts.URL + "/api/v1/backtests/" + accepted.ID)
		if err != nil {
			t.Fatalf("GET backtest failed: %v", err)
		}
		if getResp.StatusCode != http.StatusOK {
			t.Fatalf("GET backtest: expected 200, got %d", getResp.StatusCode)
		}
		if err := json.NewDecoder(getResp.Body).Decode(&detail); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		getResp.Body.Close()

		if detail.Status == types.BacktestCompleted || detail.Status == types.BacktestFailed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("backtest did not finish, status %s", detail.Status)
		}
		time.Sleep(50 * time.Millisecond)
	}

	if detail.Status != types.BacktestCompleted {
		t.Fatalf("backtest failed: %s", detail.Error)
	}
	if detail.Result == nil || detail.Result.Metrics == nil {
		t.Fatal("completed backtest should carry a result with metrics")
	}
	if detail.Result.BarsProcessed == 0 {
		t.Error("no bars were processed")
	}

	// The trades listing serves the same run.
	tradesResp, err := http.Get(fmt.Sprintf("%s/api/v1/backtests/%s/trades", ts.URL, accepted.ID))
	if err != nil {
		t.Fatalf("GET trades failed: %v", err)
	}
	defer tradesResp.Body.Close()
	if tradesResp.StatusCode != http.StatusOK {
		t.Errorf("GET trades: expected 200, got %d", tradesResp.StatusCode)
	}

	// And the run shows up in the listing.
	listResp, err := http.Get(ts.URL + "/api/v1/backtests")
	if err != nil {
		t.Fatalf("GET backtests failed: %v", err)
	}
	defer listResp.Body.Close()
	var list []map[string]interface{}
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		t.Fatalf("Failed to decode listing: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 backtest in the listing, got %d", len(list))
	}
}

func TestBacktestRejectsInvalidRequests(t *testing.T) {
	ts := setupTestServer(t)

	invalid := testStrategy()
	invalid.Rules = nil
	resp := postJSON(t, ts.URL+"/api/v1/backtests", map[string]interface{}{
		"strategy":       invalid,
		"initialCapital": "10000",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid strategy: expected 400, got %d", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/v1/backtests", map[string]interface{}{
		"strategy":       testStrategy(),
		"initialCapital": "0",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("zero capital: expected 400, got %d", resp.StatusCode)
	}
}

func TestBacktestNotFound(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/backtests/unknown-id")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestLiveStrategyEndpoints(t *testing.T) {
	ts := setupTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/live/strategies", testStrategy())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("activate: expected 201, got %d", resp.StatusCode)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	listResp, err := http.Get(ts.URL + "/api/v1/live/strategies")
	if err != nil {
		t.Fatalf("GET live strategies failed: %v", err)
	}
	defer listResp.Body.Close()
	var active []string
	if err := json.NewDecoder(listResp.Body).Decode(&active); err != nil {
		t.Fatalf("Failed to decode listing: %v", err)
	}
	if len(active) != 1 || active[0] != created.ID {
		t.Errorf("expected [%s], got %v", created.ID, active)
	}

	barResp := postJSON(t, ts.URL+"/api/v1/live/bars", map[string]interface{}{
		"symbol": "TESTUSDT",
		"bar": types.OHLCV{
			Timestamp: time.Now().UTC(),
			Open:      decimal.NewFromInt(100),
			High:      decimal.NewFromInt(101),
			Low:       decimal.NewFromInt(99),
			Close:     decimal.NewFromInt(100),
			Volume:    decimal.NewFromInt(1000),
		},
	})
	defer barResp.Body.Close()
	if barResp.StatusCode != http.StatusAccepted {
		t.Errorf("live bar: expected 202, got %d", barResp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/live/strategies/"+created.ID, nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE failed: %v", err)
	}
	defer delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Errorf("deactivate: expected 204, got %d", delResp.StatusCode)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/data/history/TESTUSDT?timeframe=1h")
	if err != nil {
		t.Fatalf("GET history failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var bars []types.OHLCV
	if err := json.NewDecoder(resp.Body).Decode(&bars); err != nil {
		t.Fatalf("Failed to decode bars: %v", err)
	}
	if len(bars) == 0 {
		t.Error("expected generated bars for an unknown symbol")
	}

	badResp, err := http.Get(ts.URL + "/api/v1/data/history/TESTUSDT?timeframe=2h")
	if err != nil {
		t.Fatalf("GET history failed: %v", err)
	}
	defer badResp.Body.Close()
	if badResp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown timeframe: expected 400, got %d", badResp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET metrics failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

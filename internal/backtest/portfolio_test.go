// Package backtest_test provides tests for the portfolio simulator,
// the backtest runner, and the metrics calculator.
package backtest_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradeforge/strategy-engine/internal/backtest"
)

func TestPortfolio(t *testing.T) {
	portfolio := backtest.NewPortfolio(decimal.NewFromInt(10000))

	if !portfolio.Cash().Equal(decimal.NewFromInt(10000)) {
		t.Errorf("Initial cash incorrect: %s", portfolio.Cash())
	}
	if !portfolio.Equity().Equal(decimal.NewFromInt(10000)) {
		t.Errorf("Initial equity incorrect: %s", portfolio.Equity())
	}

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	err := portfolio.Buy("SOLUSDT", decimal.NewFromInt(10), decimal.NewFromInt(100), decimal.NewFromInt(1), at)
	if err != nil {
		t.Fatalf("Buy failed: %v", err)
	}

	expectedCash := decimal.NewFromInt(10000 - 1000 - 1)
	if !portfolio.Cash().Equal(expectedCash) {
		t.Errorf("Cash after buy incorrect: expected %s, got %s", expectedCash, portfolio.Cash())
	}

	pos := portfolio.Position("SOLUSDT")
	if pos == nil {
		t.Fatal("Position not created")
	}
	if !pos.Quantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Position quantity incorrect: %s", pos.Quantity)
	}
	if !pos.EntryCommission.Equal(decimal.NewFromInt(1)) {
		t.Errorf("Entry commission incorrect: %s", pos.EntryCommission)
	}

	portfolio.MarkToMarket("SOLUSDT", decimal.NewFromInt(110))
	expectedEquity := expectedCash.Add(decimal.NewFromInt(10 * 110))
	if !portfolio.Equity().Equal(expectedEquity) {
		t.Errorf("Equity after mark incorrect: expected %s, got %s", expectedEquity, portfolio.Equity())
	}

	quantity, pnl, err := portfolio.Sell("SOLUSDT", decimal.NewFromInt(110), decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("Sell failed: %v", err)
	}
	if !quantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Closed quantity incorrect: %s", quantity)
	}

	// (110 - 100) * 10 minus both legs' commissions = 98.
	expectedPnL := decimal.NewFromInt(98)
	if !pnl.Equal(expectedPnL) {
		t.Errorf("PnL incorrect: expected %s, got %s", expectedPnL, pnl)
	}
	if !portfolio.RealizedPnL().Equal(expectedPnL) {
		t.Errorf("Realized PnL incorrect: %s", portfolio.RealizedPnL())
	}
	if portfolio.Position("SOLUSDT") != nil {
		t.Error("Position should be closed after sell")
	}
}

func TestPortfolioRejectsOverdraw(t *testing.T) {
	portfolio := backtest.NewPortfolio(decimal.NewFromInt(100))
	at := time.Now()

	err := portfolio.Buy("BTCUSDT", decimal.NewFromInt(1), decimal.NewFromInt(100), decimal.NewFromInt(1), at)
	if !errors.Is(err, backtest.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// The rejection must leave nothing behind.
	if !portfolio.Cash().Equal(decimal.NewFromInt(100)) {
		t.Errorf("Cash changed on a rejected buy: %s", portfolio.Cash())
	}
	if portfolio.Position("BTCUSDT") != nil {
		t.Error("Position created on a rejected buy")
	}
}

func TestPortfolioSellWithoutPosition(t *testing.T) {
	portfolio := backtest.NewPortfolio(decimal.NewFromInt(1000))
	_, _, err := portfolio.Sell("BTCUSDT", decimal.NewFromInt(100), decimal.Zero)
	if !errors.Is(err, backtest.ErrNoPosition) {
		t.Fatalf("expected ErrNoPosition, got %v", err)
	}
}

func TestPortfolioAveragesAdds(t *testing.T) {
	portfolio := backtest.NewPortfolio(decimal.NewFromInt(10000))
	at := time.Now()

	if err := portfolio.Buy("ETHUSDT", decimal.NewFromInt(10), decimal.NewFromInt(100), decimal.Zero, at); err != nil {
		t.Fatalf("first buy failed: %v", err)
	}
	if err := portfolio.Buy("ETHUSDT", decimal.NewFromInt(10), decimal.NewFromInt(200), decimal.Zero, at); err != nil {
		t.Fatalf("second buy failed: %v", err)
	}

	pos := portfolio.Position("ETHUSDT")
	if !pos.Quantity.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Quantity after add incorrect: %s", pos.Quantity)
	}
	if !pos.AveragePrice.Equal(decimal.NewFromInt(150)) {
		t.Errorf("Average price incorrect: %s", pos.AveragePrice)
	}
}

func TestPortfolioDrawdown(t *testing.T) {
	portfolio := backtest.NewPortfolio(decimal.NewFromInt(1000))
	at := time.Now()

	if err := portfolio.Buy("BTCUSDT", decimal.NewFromInt(10), decimal.NewFromInt(100), decimal.Zero, at); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	portfolio.MarkToMarket("BTCUSDT", decimal.NewFromInt(80))

	// Equity fell from the 1000 peak to 800.
	expected := decimal.NewFromFloat(0.2)
	if !portfolio.Drawdown().Equal(expected) {
		t.Errorf("Drawdown incorrect: expected %s, got %s", expected, portfolio.Drawdown())
	}
}

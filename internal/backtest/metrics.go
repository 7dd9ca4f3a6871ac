package backtest

import (
	"math"

	"github.com/shopspring/decimal"
	"github.com/tradeforge/strategy-engine/pkg/types"
)

// CalculateMetrics derives summary statistics from an equity curve and
// trade ledger. Money stays in decimal; the ratio statistics are
// computed in float64. riskFreeRate is annualized and converted to a
// per-bar rate from the timeframe. TotalTrades counts every fill, both
// legs, while WinRate divides winners by closed round trips only, so an
// open position never dilutes the rate. Every degenerate denominator
// maps to 0 rather than NaN, except profit factor, which reports +Inf
// when there are profits and no losses.
func CalculateMetrics(
	equityCurve []types.EquityPoint,
	trades []types.Trade,
	initialCapital decimal.Decimal,
	riskFreeRate float64,
	timeframe types.Timeframe,
) *types.Metrics {
	m := &types.Metrics{}

	var winners, losers int
	grossProfit := decimal.Zero
	grossLoss := decimal.Zero
	for _, trade := range trades {
		if !trade.Closing {
			continue
		}
		switch {
		case trade.PnL.IsPositive():
			winners++
			grossProfit = grossProfit.Add(trade.PnL)
		case trade.PnL.IsNegative():
			losers++
			grossLoss = grossLoss.Add(trade.PnL.Abs())
		}
	}

	m.TotalTrades = len(trades)
	m.WinningTrades = winners
	m.LosingTrades = losers
	if closed := winners + losers; closed > 0 {
		m.WinRate = float64(winners) / float64(closed) * 100
	}
	if winners > 0 {
		m.AverageWin = grossProfit.Div(decimal.NewFromInt(int64(winners)))
	}
	if losers > 0 {
		m.AverageLoss = grossLoss.Div(decimal.NewFromInt(int64(losers)))
	}

	switch {
	case grossLoss.IsPositive():
		pf, _ := grossProfit.Div(grossLoss).Float64()
		m.ProfitFactor = types.Ratio(pf)
	case grossProfit.IsPositive():
		m.ProfitFactor = types.Ratio(math.Inf(1))
	}

	if len(equityCurve) > 0 && initialCapital.IsPositive() {
		finalEquity := equityCurve[len(equityCurve)-1].Equity
		m.TotalReturn = finalEquity.Sub(initialCapital)
		m.TotalReturnPercent = m.TotalReturn.Div(initialCapital).Mul(decimal.NewFromInt(100))
	}

	m.MaxDrawdown, m.MaxDrawdownPercent = maxDrawdown(equityCurve)

	returns := periodReturns(equityCurve)
	periodsPerYear := timeframe.PeriodsPerYear()
	rfPerPeriod := riskFreeRate / periodsPerYear
	annualize := math.Sqrt(periodsPerYear)

	if sd := stdDev(returns); sd > 0 {
		excess := mean(returns) - rfPerPeriod
		m.SharpeRatio = excess / sd * annualize
	}
	if dd := downsideDeviation(returns); dd > 0 {
		excess := mean(returns) - rfPerPeriod
		m.SortinoRatio = excess / dd * annualize
	}

	return m
}

// maxDrawdown returns the largest peak-to-trough decline across the
// equity curve, in absolute value and as a percent of the peak.
func maxDrawdown(equityCurve []types.EquityPoint) (decimal.Decimal, decimal.Decimal) {
	maxDD := decimal.Zero
	maxDDPct := decimal.Zero
	if len(equityCurve) == 0 {
		return maxDD, maxDDPct
	}

	peak := equityCurve[0].Equity
	for _, point := range equityCurve {
		if point.Equity.GreaterThan(peak) {
			peak = point.Equity
		}
		dd := peak.Sub(point.Equity)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
		if peak.IsPositive() {
			ddPct := dd.Div(peak).Mul(decimal.NewFromInt(100))
			if ddPct.GreaterThan(maxDDPct) {
				maxDDPct = ddPct
			}
		}
	}
	return maxDD, maxDDPct
}

// periodReturns converts an equity curve into bar-over-bar returns.
func periodReturns(equityCurve []types.EquityPoint) []float64 {
	if len(equityCurve) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(equityCurve)-1)
	for i := 1; i < len(equityCurve); i++ {
		prev := equityCurve[i-1].Equity
		if !prev.IsPositive() {
			continue
		}
		ret, _ := equityCurve[i].Equity.Sub(prev).Div(prev).Float64()
		returns = append(returns, ret)
	}
	return returns
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mu := mean(values)
	var sumSq float64
	for _, v := range values {
		d := v - mu
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

// downsideDeviation is the standard deviation of the negative returns
// only; 0 when there are none.
func downsideDeviation(values []float64) float64 {
	var negative []float64
	for _, v := range values {
		if v < 0 {
			negative = append(negative, v)
		}
	}
	return stdDev(negative)
}

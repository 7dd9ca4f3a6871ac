package backtest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradeforge/strategy-engine/internal/indicator"
	"github.com/tradeforge/strategy-engine/internal/rules"
	"github.com/tradeforge/strategy-engine/pkg/types"
	"go.uber.org/zap"
)

// ProgressFunc receives periodic progress updates during a run.
type ProgressFunc func(types.BacktestProgress)

// progressEvery is the bar interval between progress callbacks.
const progressEvery = 500

// Runner executes one backtest: it validates the inputs, steps the
// strategy bar by bar, and assembles the immutable result. A Runner is
// single-use; concurrent backtests each get their own Runner with an
// isolated portfolio and indicator cache.
type Runner struct {
	mu     sync.RWMutex
	logger *zap.Logger
	config *types.BacktestConfig

	running   atomic.Bool
	cancelled atomic.Bool
	status    types.BacktestStatus

	portfolio   *Portfolio
	trades      []types.Trade
	equityCurve []types.EquityPoint
	currentBar  time.Time
	totalBars   int
	processed   int

	progressFn ProgressFunc
}

// NewRunner creates a runner for the given configuration.
func NewRunner(logger *zap.Logger, config *types.BacktestConfig) *Runner {
	return &Runner{
		logger: logger,
		config: config,
		status: types.BacktestPending,
	}
}

// OnProgress registers a progress callback. Must be called before Run.
func (r *Runner) OnProgress(fn ProgressFunc) {
	r.progressFn = fn
}

// Cancel requests a cooperative abort; the run stops between bars.
func (r *Runner) Cancel() {
	r.cancelled.Store(true)
}

// Status returns the current lifecycle state.
func (r *Runner) Status() types.BacktestStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Progress returns a snapshot of the run's progress.
func (r *Runner) Progress() types.BacktestProgress {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p := types.BacktestProgress{
		ID:             r.config.ID,
		Status:         r.status,
		BarsProcessed:  r.processed,
		TotalBars:      r.totalBars,
		CurrentDate:    r.currentBar,
		TradesExecuted: len(r.trades),
	}
	if r.totalBars > 0 {
		p.Progress = float64(r.processed) / float64(r.totalBars) * 100
	}
	if r.portfolio != nil {
		p.CurrentEquity = r.portfolio.Equity()
	}
	return p
}

// Run executes the backtest over the given bars. It returns a
// ConfigError or DataError without a result when the inputs are
// invalid; otherwise it returns a fully-populated result. No partial
// result is ever returned.
func (r *Runner) Run(ctx context.Context, bars []types.OHLCV) (*types.BacktestResult, error) {
	if r.running.Swap(true) {
		return nil, fmt.Errorf("backtest already running")
	}

	startedAt := time.Now()
	r.setStatus(types.BacktestRunning)

	result, err := r.run(ctx, bars)
	if err != nil {
		if r.cancelled.Load() {
			r.setStatus(types.BacktestCancelled)
		} else {
			r.setStatus(types.BacktestFailed)
		}
		return nil, err
	}

	result.StartedAt = startedAt
	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(startedAt)
	r.setStatus(types.BacktestCompleted)

	r.logger.Info("backtest completed",
		zap.String("id", r.config.ID),
		zap.Int("bars", result.BarsProcessed),
		zap.Int("trades", len(result.Trades)),
		zap.Duration("duration", result.Duration),
		zap.String("totalReturn", result.Metrics.TotalReturn.String()),
	)
	return result, nil
}

func (r *Runner) run(ctx context.Context, bars []types.OHLCV) (*types.BacktestResult, error) {
	cfg := r.config
	strategy := &cfg.Strategy

	if err := rules.ValidateStrategy(strategy); err != nil {
		return nil, &ConfigError{Reason: "invalid strategy", Err: err}
	}
	if cfg.InitialCapital.LessThanOrEqual(decimal.Zero) {
		return nil, &ConfigError{Reason: "initial capital must be positive"}
	}
	if cfg.Commission.IsNegative() {
		return nil, &ConfigError{Reason: "commission rate must not be negative"}
	}

	bars = filterBars(bars, cfg.StartDate, cfg.EndDate)
	if err := validateBars(bars); err != nil {
		return nil, err
	}

	warmup := rules.StrategyWarmup(strategy)
	if warmup >= len(bars) {
		return nil, &DataError{Reason: fmt.Sprintf(
			"series of %d bars is shorter than the %d-bar indicator warm-up", len(bars), warmup)}
	}

	cache := indicator.NewCache(bars)
	portfolio := NewPortfolio(cfg.InitialCapital)
	executor := NewExecutor(r.logger, cfg.Commission, cfg.ID)

	r.mu.Lock()
	r.portfolio = portfolio
	r.totalBars = len(bars) - warmup
	r.trades = make([]types.Trade, 0)
	r.equityCurve = make([]types.EquityPoint, 0, len(bars)-warmup)
	r.mu.Unlock()

	r.logger.Info("starting backtest",
		zap.String("id", cfg.ID),
		zap.String("symbol", strategy.Symbol),
		zap.Int("bars", len(bars)),
		zap.Int("warmup", warmup),
	)

	for i := warmup; i < len(bars); i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if r.cancelled.Load() {
			return nil, fmt.Errorf("backtest %s cancelled", cfg.ID)
		}

		bar := bars[i]
		trade := executor.Step(strategy, bar, i, portfolio, cache)

		r.mu.Lock()
		if trade != nil {
			r.trades = append(r.trades, *trade)
		}
		r.equityCurve = append(r.equityCurve, types.EquityPoint{
			Timestamp: bar.Timestamp,
			Equity:    portfolio.Equity(),
			Cash:      portfolio.Cash(),
			Drawdown:  portfolio.Drawdown(),
		})
		r.currentBar = bar.Timestamp
		r.processed = i - warmup + 1
		r.mu.Unlock()

		if r.progressFn != nil && (r.processed%progressEvery == 0 || i == len(bars)-1) {
			r.progressFn(r.Progress())
		}
	}

	metrics := CalculateMetrics(r.equityCurve, r.trades, cfg.InitialCapital, cfg.RiskFreeRate, strategy.Timeframe)

	return &types.BacktestResult{
		ID:            cfg.ID,
		Config:        cfg,
		Metrics:       metrics,
		EquityCurve:   r.equityCurve,
		Trades:        r.trades,
		BarsProcessed: r.processed,
	}, nil
}

func (r *Runner) setStatus(s types.BacktestStatus) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

// filterBars returns the bars inside [start, end]. Zero bounds are
// open-ended.
func filterBars(bars []types.OHLCV, start, end time.Time) []types.OHLCV {
	out := make([]types.OHLCV, 0, len(bars))
	for _, bar := range bars {
		if !start.IsZero() && bar.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && bar.Timestamp.After(end) {
			continue
		}
		out = append(out, bar)
	}
	return out
}

// validateBars checks that the series is non-empty with strictly
// increasing timestamps and positive prices.
func validateBars(bars []types.OHLCV) error {
	if len(bars) == 0 {
		return &DataError{Reason: "empty price series"}
	}
	for i, bar := range bars {
		if bar.Open.LessThanOrEqual(decimal.Zero) ||
			bar.High.LessThanOrEqual(decimal.Zero) ||
			bar.Low.LessThanOrEqual(decimal.Zero) ||
			bar.Close.LessThanOrEqual(decimal.Zero) {
			return &DataError{Reason: fmt.Sprintf("non-positive price at bar %d (%s)", i, bar.Timestamp)}
		}
		if i > 0 && !bar.Timestamp.After(bars[i-1].Timestamp) {
			return &DataError{Reason: fmt.Sprintf("timestamps not strictly increasing at bar %d (%s)", i, bar.Timestamp)}
		}
	}
	return nil
}

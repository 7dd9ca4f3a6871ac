// Package types provides configuration types for the strategy engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// BacktestConfig represents the configuration for a backtest run
type BacktestConfig struct {
	ID             string          `json:"id"`
	Strategy       Strategy        `json:"strategy"`
	StartDate      time.Time       `json:"startDate"`
	EndDate        time.Time       `json:"endDate"`
	InitialCapital decimal.Decimal `json:"initialCapital"`
	// Commission is a rate applied to notional value on every fill.
	Commission decimal.Decimal `json:"commission"`
	// RiskFreeRate is annualized; the metrics calculator converts it
	// to a per-bar rate using the strategy timeframe.
	RiskFreeRate float64 `json:"riskFreeRate"`
}

// BacktestStatus is the lifecycle state of a backtest run.
type BacktestStatus string

const (
	BacktestPending   BacktestStatus = "pending"
	BacktestRunning   BacktestStatus = "running"
	BacktestCompleted BacktestStatus = "completed"
	BacktestFailed    BacktestStatus = "failed"
	BacktestCancelled BacktestStatus = "cancelled"
)

// BacktestResult represents the results of a backtest. It is built
// once when the run completes and is immutable afterwards.
type BacktestResult struct {
	ID            string          `json:"id"`
	Config        *BacktestConfig `json:"config"`
	Metrics       *Metrics        `json:"metrics"`
	EquityCurve   []EquityPoint   `json:"equityCurve"`
	Trades        []Trade         `json:"trades"`
	BarsProcessed int             `json:"barsProcessed"`
	StartedAt     time.Time       `json:"startedAt"`
	CompletedAt   time.Time       `json:"completedAt"`
	Duration      time.Duration   `json:"duration"`
}

// BacktestProgress represents the progress of a running backtest
type BacktestProgress struct {
	ID             string          `json:"id"`
	Status         BacktestStatus  `json:"status"`
	Progress       float64         `json:"progress"` // 0-100
	BarsProcessed  int             `json:"barsProcessed"`
	TotalBars      int             `json:"totalBars"`
	CurrentDate    time.Time       `json:"currentDate"`
	TradesExecuted int             `json:"tradesExecuted"`
	CurrentEquity  decimal.Decimal `json:"currentEquity"`
	Error          string          `json:"error,omitempty"`
}

// ServerConfig configures the HTTP/WebSocket server.
type ServerConfig struct {
	Host          string        `json:"host" mapstructure:"host"`
	Port          int           `json:"port" mapstructure:"port"`
	ReadTimeout   time.Duration `json:"readTimeout" mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `json:"writeTimeout" mapstructure:"write_timeout"`
	WebSocketPath string        `json:"webSocketPath" mapstructure:"websocket_path"`
}

// EngineConfig carries engine-wide defaults applied when a request
// omits them.
type EngineConfig struct {
	DefaultCommission   decimal.Decimal `json:"defaultCommission" mapstructure:"default_commission"`
	DefaultRiskFreeRate float64         `json:"defaultRiskFreeRate" mapstructure:"default_risk_free_rate"`
	Workers             int             `json:"workers" mapstructure:"workers"`
	QueueSize           int             `json:"queueSize" mapstructure:"queue_size"`
}

// FetcherConfig configures the exchange REST klines client.
type FetcherConfig struct {
	Enabled        bool          `json:"enabled" mapstructure:"enabled"`
	BaseURL        string        `json:"baseUrl" mapstructure:"base_url"`
	RequestTimeout time.Duration `json:"requestTimeout" mapstructure:"request_timeout"`
	RequestsPerSec int           `json:"requestsPerSec" mapstructure:"requests_per_sec"`
	MaxRetries     int           `json:"maxRetries" mapstructure:"max_retries"`
}

// DataConfig configures the market data layer.
type DataConfig struct {
	Dir     string        `json:"dir" mapstructure:"dir"`
	Fetcher FetcherConfig `json:"fetcher" mapstructure:"fetcher"`
}

// Package backtest runs rule-based strategies over historical bars and
// produces an equity curve, a trade ledger, and summary metrics.
package backtest

import (
	"errors"
	"fmt"
)

// DataError aborts a run: the price series cannot support it at all
// (empty, unsorted, or containing non-positive prices).
type DataError struct {
	Reason string
}

func (e *DataError) Error() string {
	return "data error: " + e.Reason
}

// ConfigError rejects a run before it starts: the strategy or the run
// parameters are invalid.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config error: %s: %v", e.Reason, e.Err)
	}
	return "config error: " + e.Reason
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Order rejections are recoverable: the run continues and simply
// records no trade for the bar.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNoPosition        = errors.New("no open position")
)

// IsRejection reports whether err is a recoverable order rejection.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrNoPosition)
}

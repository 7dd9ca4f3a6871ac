package indicator

import (
	"fmt"

	"github.com/tradeforge/strategy-engine/pkg/types"
)

// Cache memoizes indicator series for one bar series. A cache belongs
// to a single run and is never shared between runs.
type Cache struct {
	bars   []types.OHLCV
	source map[types.PriceSource][]float64
	series map[string]Series
}

// NewCache builds a cache over the given bars.
func NewCache(bars []types.OHLCV) *Cache {
	return &Cache{
		bars:   bars,
		source: make(map[types.PriceSource][]float64, 4),
		series: make(map[string]Series),
	}
}

// Len returns the number of bars covered by the cache.
func (c *Cache) Len() int { return len(c.bars) }

func (c *Cache) sourceValues(src types.PriceSource) []float64 {
	if src == "" {
		src = types.SourceClose
	}
	if vals, ok := c.source[src]; ok {
		return vals
	}
	vals := make([]float64, len(c.bars))
	for i, bar := range c.bars {
		var v float64
		switch src {
		case types.SourceOpen:
			v, _ = bar.Open.Float64()
		case types.SourceHigh:
			v, _ = bar.High.Float64()
		case types.SourceLow:
			v, _ = bar.Low.Float64()
		default:
			v, _ = bar.Close.Float64()
		}
		vals[i] = v
	}
	c.source[src] = vals
	return vals
}

// Normalize fills in defaulted fields so that equivalent configs map
// to the same cache key.
func Normalize(cfg types.IndicatorConfig) types.IndicatorConfig {
	if cfg.Source == "" {
		cfg.Source = types.SourceClose
	}
	switch cfg.Type {
	case types.IndicatorMACD:
		if cfg.FastPeriod == 0 {
			cfg.FastPeriod = 12
		}
		if cfg.SlowPeriod == 0 {
			cfg.SlowPeriod = 26
		}
		if cfg.SignalPeriod == 0 {
			cfg.SignalPeriod = 9
		}
		if cfg.Component == "" {
			cfg.Component = types.MACDLine
		}
	case types.IndicatorBollinger:
		if cfg.Period == 0 {
			cfg.Period = 20
		}
		if cfg.StdDev == 0 {
			cfg.StdDev = 2
		}
		if cfg.Band == "" {
			cfg.Band = types.BandMiddle
		}
	}
	return cfg
}

// Get returns the series for the configured indicator, computing and
// caching it on first use.
func (c *Cache) Get(cfg types.IndicatorConfig) (Series, error) {
	cfg = Normalize(cfg)
	key := cfg.Key()
	if s, ok := c.series[key]; ok {
		return s, nil
	}

	values := c.sourceValues(cfg.Source)

	switch cfg.Type {
	case types.IndicatorSMA:
		c.series[key] = SMA(values, cfg.Period)
	case types.IndicatorEMA:
		c.series[key] = EMA(values, cfg.Period)
	case types.IndicatorRSI:
		c.series[key] = RSI(values, cfg.Period)
	case types.IndicatorMACD:
		line, sig, hist := MACD(values, cfg.FastPeriod, cfg.SlowPeriod, cfg.SignalPeriod)
		base := cfg
		base.Component = types.MACDLine
		c.series[base.Key()] = line
		base.Component = types.MACDSignal
		c.series[base.Key()] = sig
		base.Component = types.MACDHistogram
		c.series[base.Key()] = hist
	case types.IndicatorBollinger:
		upper, middle, lower := Bollinger(values, cfg.Period, cfg.StdDev)
		base := cfg
		base.Band = types.BandUpper
		c.series[base.Key()] = upper
		base.Band = types.BandMiddle
		c.series[base.Key()] = middle
		base.Band = types.BandLower
		c.series[base.Key()] = lower
	case types.IndicatorVolume:
		vals := make([]float64, len(c.bars))
		for i, bar := range c.bars {
			vals[i], _ = bar.Volume.Float64()
		}
		c.series[key] = Identity(vals)
	case types.IndicatorATR:
		c.series[key] = ATR(c.bars, cfg.Period)
	case types.IndicatorPrice:
		c.series[key] = Identity(values)
	default:
		return nil, fmt.Errorf("unknown indicator type %q", cfg.Type)
	}

	s, ok := c.series[key]
	if !ok {
		return nil, fmt.Errorf("indicator %q produced no series for component", cfg.Type)
	}
	return s, nil
}

// Value returns the indicator value at index i. The second return is
// false when the value is undefined (warm-up, out of range, or an
// unknown indicator type).
func (c *Cache) Value(cfg types.IndicatorConfig, i int) (float64, bool) {
	s, err := c.Get(cfg)
	if err != nil {
		return 0, false
	}
	v := s.At(i)
	if !s.Defined(i) {
		return v, false
	}
	return v, true
}

// Package indicator computes technical indicators over ordered price
// series. All functions are pure: they take a series and return a new
// Series of the same length, with NaN at every index before the
// indicator's warm-up period.
package indicator

import (
	"math"

	"github.com/tradeforge/strategy-engine/pkg/types"
)

// Series is an indicator output aligned index-for-index with the input
// bars. Indices before warm-up hold NaN.
type Series []float64

// At returns the value at i, or NaN when i is out of range.
func (s Series) At(i int) float64 {
	if i < 0 || i >= len(s) {
		return math.NaN()
	}
	return s[i]
}

// Defined reports whether the value at i is past warm-up.
func (s Series) Defined(i int) bool {
	return !math.IsNaN(s.At(i))
}

func nanSeries(n int) Series {
	s := make(Series, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

// SMA computes the simple moving average over period values.
func SMA(values []float64, period int) Series {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA computes the exponential moving average, seeded with the SMA of
// the first period defined values. Leading NaNs in the input (from an
// upstream indicator) shift the warm-up forward.
func EMA(values []float64, period int) Series {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}

	start := 0
	for start < len(values) && math.IsNaN(values[start]) {
		start++
	}
	if len(values)-start < period {
		return out
	}

	var seed float64
	for i := start; i < start+period; i++ {
		seed += values[i]
	}
	seed /= float64(period)

	k := 2.0 / float64(period+1)
	out[start+period-1] = seed
	for i := start + period; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// RSI computes Wilder's relative strength index. When the smoothed
// average loss is zero the output is the neutral 50 rather than 100,
// so a one-way market does not pin the oscillator.
func RSI(values []float64, period int) Series {
	out := nanSeries(len(values))
	if period <= 0 || len(values) <= period {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := values[i] - values[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss += -delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(values); i++ {
		delta := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 50
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACD computes the MACD line (fast EMA minus slow EMA), its signal
// line EMA, and the histogram.
func MACD(values []float64, fast, slow, signal int) (line, sig, hist Series) {
	fastEMA := EMA(values, fast)
	slowEMA := EMA(values, slow)

	line = nanSeries(len(values))
	for i := range values {
		if fastEMA.Defined(i) && slowEMA.Defined(i) {
			line[i] = fastEMA[i] - slowEMA[i]
		}
	}

	sig = EMA(line, signal)

	hist = nanSeries(len(values))
	for i := range values {
		if line.Defined(i) && sig.Defined(i) {
			hist[i] = line[i] - sig[i]
		}
	}
	return line, sig, hist
}

// Bollinger computes Bollinger Bands: SMA(period) plus/minus mult
// rolling sample standard deviations.
func Bollinger(values []float64, period int, mult float64) (upper, middle, lower Series) {
	middle = SMA(values, period)
	upper = nanSeries(len(values))
	lower = nanSeries(len(values))
	if period <= 1 || len(values) < period {
		return upper, middle, lower
	}

	for i := period - 1; i < len(values); i++ {
		mean := middle[i]
		var sumSq float64
		for j := i - period + 1; j <= i; j++ {
			d := values[j] - mean
			sumSq += d * d
		}
		sd := math.Sqrt(sumSq / float64(period-1))
		upper[i] = mean + mult*sd
		lower[i] = mean - mult*sd
	}
	return upper, middle, lower
}

// ATR computes Wilder's average true range over the bars.
func ATR(bars []types.OHLCV, period int) Series {
	out := nanSeries(len(bars))
	if period <= 0 || len(bars) < period {
		return out
	}

	tr := make([]float64, len(bars))
	for i, bar := range bars {
		high, _ := bar.High.Float64()
		low, _ := bar.Low.Float64()
		if i == 0 {
			tr[i] = high - low
			continue
		}
		prevClose, _ := bars[i-1].Close.Float64()
		tr[i] = math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
	}

	var seed float64
	for i := 0; i < period; i++ {
		seed += tr[i]
	}
	out[period-1] = seed / float64(period)
	for i := period; i < len(bars); i++ {
		out[i] = (out[i-1]*float64(period-1) + tr[i]) / float64(period)
	}
	return out
}

// Identity returns the input values unchanged, as a Series.
func Identity(values []float64) Series {
	out := make(Series, len(values))
	copy(out, values)
	return out
}

// Warmup returns the number of leading bars for which the configured
// indicator is undefined.
func Warmup(cfg types.IndicatorConfig) int {
	cfg = Normalize(cfg)
	switch cfg.Type {
	case types.IndicatorSMA, types.IndicatorEMA:
		return cfg.Period - 1
	case types.IndicatorRSI:
		return cfg.Period
	case types.IndicatorMACD:
		// Slow EMA defines at slow-1; the signal EMA needs another
		// signal-1 defined values on top of that.
		warm := cfg.SlowPeriod - 1
		if cfg.Component != types.MACDLine {
			warm += cfg.SignalPeriod - 1
		}
		return warm
	case types.IndicatorBollinger:
		return cfg.Period - 1
	case types.IndicatorATR:
		return cfg.Period - 1
	default:
		return 0
	}
}

package engine

import (
	"math"

	"go-smc/internal/model"

	"github.com/markcheno/go-talib"
)

const (
	atrPeriod    = 14
	rsiPeriod    = 14
	volumePeriod = 20
)

// ATR returns the simple rolling mean of the true range over the last period candles.
// The first candle's true range is its high-low range. Zero when fewer than period candles exist.
func ATR(candles []model.Candle, period int) float64 {
	n := len(candles)
	if n < period || period <= 0 {
		return 0
	}
	highs, lows, closes := highs(candles), lows(candles), closes(candles)
	tr := talib.TRange(highs, lows, closes)
	tr[0] = highs[0] - lows[0]
	return talib.Sma(tr, period)[n-1]
}

// RSI returns the simple-average relative strength index of the closes.
// Returns 50 when fewer than period+1 candles exist.
func RSI(candles []model.Candle, period int) float64 {
	n := len(candles)
	if n < period+1 || period <= 0 {
		return 50
	}
	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := 1; i < n; i++ {
		d := candles[i].Close - candles[i-1].Close
		if d > 0 {
			gains[i] = d
		} else {
			losses[i] = -d
		}
	}
	g := talib.Sma(gains, period)[n-1]
	l := talib.Sma(losses, period)[n-1]
	return 100 - 100/(1+g/math.Max(l, 1e-10))
}

// VolumeSMA returns the mean volume of the last period candles, or 0.
func VolumeSMA(candles []model.Candle, period int) float64 {
	n := len(candles)
	if n < period || period <= 0 {
		return 0
	}
	return talib.Sma(volumes(candles), period)[n-1]
}

// MACDLine returns EMA(fast) - EMA(slow) of the closes at the last candle.
func MACDLine(candles []model.Candle, fast, slow int) float64 {
	n := len(candles)
	if n < slow {
		return 0
	}
	c := closes(candles)
	return talib.Ema(c, fast)[n-1] - talib.Ema(c, slow)[n-1]
}

func closes(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func highs(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

func lows(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

func volumes(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func maxVal(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minVal(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// roundTo rounds v to the given number of decimal places.
func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

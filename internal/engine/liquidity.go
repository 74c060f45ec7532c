package engine

import (
	"math"
	"time"

	"go-smc/internal/model"
)

const (
	poolTolerance = 0.001
	sweepWindow   = 5
	gapScanLimit  = 50
)

// LiquidityAnalyzer finds liquidity pools, sweeps of those pools and fair value gaps.
type LiquidityAnalyzer struct {
	threshold  int
	fvgMinSize float64
}

// NewLiquidityAnalyzer creates an analyzer. threshold is the touch count that turns
// a cluster into a pool; fvgMinSize is the minimum gap as a fraction of price.
func NewLiquidityAnalyzer(threshold int, fvgMinSize float64) *LiquidityAnalyzer {
	return &LiquidityAnalyzer{threshold: threshold, fvgMinSize: fvgMinSize}
}

// Pools returns equal-high (buy side) and equal-low (sell side) clusters followed
// by the prior UTC day's high and low.
func (a *LiquidityAnalyzer) Pools(candles []model.Candle) []model.LiquidityPool {
	n := len(candles)
	if n == 0 {
		return nil
	}
	tol := candles[n-1].Close * poolTolerance

	var pools []model.LiquidityPool
	for _, lv := range a.equalLevels(highs(candles), tol) {
		pools = append(pools, model.LiquidityPool{Side: model.BuySide, Level: lv.level, Touches: lv.touches, Label: model.LabelEqualHighs})
	}
	for _, lv := range a.equalLevels(lows(candles), tol) {
		pools = append(pools, model.LiquidityPool{Side: model.SellSide, Level: lv.level, Touches: lv.touches, Label: model.LabelEqualLows})
	}
	if high, low, ok := priorDay(candles); ok {
		pools = append(pools,
			model.LiquidityPool{Side: model.BuySide, Level: high, Touches: 5, Label: model.LabelPriorDayHigh},
			model.LiquidityPool{Side: model.SellSide, Level: low, Touches: 5, Label: model.LabelPriorDayLow},
		)
	}
	return pools
}

type level struct {
	level   float64
	touches int
}

// equalLevels clusters values within tol of each anchor value. Each anchor counts
// itself plus every later value inside tolerance.
func (a *LiquidityAnalyzer) equalLevels(vals []float64, tol float64) []level {
	var out []level
	for i := 0; i < len(vals)-1; i++ {
		touches, sum := 1, vals[i]
		for j := i + 1; j < len(vals); j++ {
			if math.Abs(vals[j]-vals[i]) <= tol {
				touches++
				sum += vals[j]
			}
		}
		if touches < a.threshold {
			continue
		}
		avg := sum / float64(touches)
		dup := false
		for _, l := range out {
			if math.Abs(l.level-avg) <= tol {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, level{level: avg, touches: touches})
		}
	}
	return out
}

// priorDay returns the high and low of the second-to-last UTC date present.
func priorDay(candles []model.Candle) (high, low float64, ok bool) {
	lastDay := dayOf(candles[len(candles)-1].Time)
	var prev time.Time
	found := false
	for i := len(candles) - 1; i >= 0; i-- {
		d := dayOf(candles[i].Time)
		if d.Before(lastDay) {
			prev = d
			found = true
			break
		}
	}
	if !found {
		return 0, 0, false
	}
	high, low = math.Inf(-1), math.Inf(1)
	for _, c := range candles {
		if !dayOf(c.Time).Equal(prev) {
			continue
		}
		high = math.Max(high, c.High)
		low = math.Min(low, c.Low)
	}
	return high, low, true
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Sweeps scans the last five candles for each pool. A buy-side pool pierced by the
// high with a bearish close back below is a bearish sweep; sell-side mirrors it.
func (a *LiquidityAnalyzer) Sweeps(candles []model.Candle, pools []model.LiquidityPool) []model.Sweep {
	n := len(candles)
	var out []model.Sweep
	for _, pool := range pools {
		lv := pool.Level
		for k := sweepWindow; k >= 1; k-- {
			if k >= n {
				continue
			}
			c := candles[n-k]
			switch {
			case pool.Side == model.BuySide && c.High > lv && c.Close < lv && c.Bearish():
				out = append(out, model.Sweep{Direction: model.TrendBearish, Level: lv, Time: c.Time, Label: pool.Label})
			case pool.Side == model.SellSide && c.Low < lv && c.Close > lv && c.Bullish():
				out = append(out, model.Sweep{Direction: model.TrendBullish, Level: lv, Time: c.Time, Label: pool.Label})
			}
		}
	}
	return out
}

// DetectSweeps is Pools followed by Sweeps.
func (a *LiquidityAnalyzer) DetectSweeps(candles []model.Candle) []model.Sweep {
	return a.Sweeps(candles, a.Pools(candles))
}

// FairValueGaps returns unfilled three-candle gaps, most recent first.
func (a *LiquidityAnalyzer) FairValueGaps(candles []model.Candle) []model.FairValueGap {
	n := len(candles)
	var out []model.FairValueGap
	for i := 2; i < min(gapScanLimit, n); i++ {
		idx := n - 1 - i
		if idx < 0 || idx+2 >= n {
			continue
		}
		c1, c3 := candles[idx], candles[idx+2]
		ts := candles[idx+1].Time

		if c3.Low > c1.High {
			size := (c3.Low - c1.High) / c1.High
			if size >= a.fvgMinSize && !filledBelow(candles[idx+3:], c1.High) {
				out = append(out, model.FairValueGap{
					Direction: model.TrendBullish,
					Top:       c3.Low,
					Bottom:    c1.High,
					Midpoint:  (c3.Low + c1.High) / 2,
					SizePct:   size * 100,
					Time:      ts,
				})
			}
		}
		if c3.High < c1.Low {
			size := (c1.Low - c3.High) / c1.Low
			if size >= a.fvgMinSize && !filledAbove(candles[idx+3:], c1.Low) {
				out = append(out, model.FairValueGap{
					Direction: model.TrendBearish,
					Top:       c1.Low,
					Bottom:    c3.High,
					Midpoint:  (c1.Low + c3.High) / 2,
					SizePct:   size * 100,
					Time:      ts,
				})
			}
		}
	}
	return out
}

func filledBelow(later []model.Candle, level float64) bool {
	for _, c := range later {
		if c.Low <= level {
			return true
		}
	}
	return false
}

func filledAbove(later []model.Candle, level float64) bool {
	for _, c := range later {
		if c.High >= level {
			return true
		}
	}
	return false
}

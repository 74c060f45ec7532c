package engine

import (
	"time"

	"go-smc/internal/config"
	"go-smc/internal/model"
)

var t0 = time.Date(2024, 3, 4, 13, 0, 0, 0, time.UTC)

func candle(i int, o, h, l, c, v float64) model.Candle {
	return model.Candle{Time: t0.Add(time.Duration(i) * time.Minute), Open: o, High: h, Low: l, Close: c, Volume: v}
}

// doji returns a candle with equal open and close, neither bullish nor bearish.
func doji(i int, p float64) model.Candle {
	return candle(i, p, p+0.5, p-0.5, p, 10)
}

func flat(n int, p float64) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = candle(i, p, p, p, p, 1)
	}
	return out
}

// zigzag walks closes one unit per candle through the pivots. Highs and lows sit
// half a unit from the close so every pivot is a strict extreme.
func zigzag(pivots ...float64) []model.Candle {
	closes := []float64{pivots[0]}
	for k := 1; k < len(pivots); k++ {
		step := 1.0
		if pivots[k] < pivots[k-1] {
			step = -1
		}
		for p := pivots[k-1] + step; ; p += step {
			closes = append(closes, p)
			if p == pivots[k] {
				break
			}
		}
	}
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		o := c
		if i > 0 {
			o = c - 0.3*sign(c-closes[i-1])
		}
		out[i] = candle(i, o, c+0.5, c-0.5, c, 10)
	}
	return out
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func uptrend() []model.Candle {
	return zigzag(100, 110, 105, 115, 110, 120, 115, 125, 120, 128)
}

func downtrend() []model.Candle {
	return zigzag(200, 190, 195, 185, 190, 180, 185, 175, 180, 172)
}

func testStrategyConfig() config.StrategyConfig {
	cfg := config.Default().Strategy
	cfg.SwingLookback = 3
	return cfg
}

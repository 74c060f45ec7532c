package engine

import (
	"math"

	"go-smc/internal/model"
)

const (
	macdFast = 12
	macdSlow = 26
)

// FeatureInputs are the analysis results that feed the feature vector.
type FeatureInputs struct {
	Structure model.StructureState
	HTFTrend  model.Trend
	// Nearest is the block used for ob_distance; nil yields a distance of 1.
	Nearest *model.Block
	Blocks  int
	Sweeps  int
	Gaps    int
	Zone    model.Zone
	Session model.Session
	Bull    float64
	Bear    float64
}

// ExtractFeatures builds the fixed-schema feature record from candles and analysis results.
func ExtractFeatures(candles []model.Candle, in FeatureInputs) model.Features {
	n := len(candles)
	if n == 0 {
		return model.Features{}
	}
	last := candles[n-1]
	p := last.Close

	f := model.Features{
		RSI:               RSI(candles, rsiPeriod),
		VolRatio:          last.Volume / math.Max(VolumeSMA(candles, volumePeriod), 1),
		MACD:              MACDLine(candles, macdFast, macdSlow),
		Trend:             in.Structure.Trend.Code(),
		HTFTrend:          in.HTFTrend.Code(),
		StructureStrength: float64(in.Structure.Strength),
		BlockCount:        float64(in.Blocks),
		SweepCount:        float64(in.Sweeps),
		GapCount:          float64(in.Gaps),
		Zone:              in.Zone.Code(),
		KillZone:          in.Session.Score,
		BullScore:         in.Bull,
		BearScore:         in.Bear,
		BlockDistance:     1,
		SpreadScore:       in.Bull - in.Bear,
	}
	if p > 0 {
		f.ATRPct = ATR(candles, atrPeriod) / p * 100
	}
	if n >= 2 && candles[n-2].Close > 0 {
		f.PctChange1 = (p - candles[n-2].Close) / candles[n-2].Close * 100
	}
	if n > 5 && candles[n-5].Close > 0 {
		f.PctChange5 = (p - candles[n-5].Close) / candles[n-5].Close * 100
	}
	if in.Nearest != nil && p > 0 {
		f.BlockDistance = math.Abs(p-in.Nearest.Midpoint) / p
	}
	return f
}

package engine

import (
	"math"
	"sort"

	"go-smc/internal/model"

	"go.uber.org/zap"
)

const (
	maxBlocks          = 15
	htfBlockScanLimit  = 30
	minHTFCandles      = 10
	blockVolumeWindow  = 20
	liquidityAheadTol  = 0.002
	liquidityAheadHits = 3
)

// BlockDetector finds and scores order blocks.
type BlockDetector struct {
	lookback      int
	profileLevels int
	logger        *zap.Logger
}

// NewBlockDetector creates a detector scanning the last lookback candles.
func NewBlockDetector(lookback, profileLevels int) *BlockDetector {
	return &BlockDetector{lookback: lookback, profileLevels: profileLevels, logger: zap.NewNop()}
}

// SetLogger sets the structured logger for the detector.
func (d *BlockDetector) SetLogger(logger *zap.Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// FindBlocks detects candidate blocks, scores them against the last close and returns
// the non-zero ones sorted by descending score, at most fifteen. htf may be nil.
func (d *BlockDetector) FindBlocks(candles, htf []model.Candle) []model.Block {
	raw := scanBlocks(candles, d.lookback)

	var htfZones []model.ProfileZone
	var htfBlocks []model.Block
	if len(htf) >= minHTFCandles {
		htfZones = VolumeProfile(htf, d.profileLevels)
		htfBlocks = scanBlocks(htf, htfBlockScanLimit)
	}

	scored := make([]model.Block, 0, len(raw))
	for _, b := range raw {
		b = d.score(candles, b, htf != nil, htfZones, htfBlocks)
		if b.Score > 0 {
			scored = append(scored, b)
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > maxBlocks {
		scored = scored[:maxBlocks]
	}
	d.logger.Debug("blocks_scored", zap.Int("candidates", len(raw)), zap.Int("kept", len(scored)))
	return scored
}

// Best returns the highest-scored block of the given direction from a sorted list.
func Best(blocks []model.Block, dir model.Trend) *model.Block {
	for i := range blocks {
		if blocks[i].Direction == dir {
			b := blocks[i]
			return &b
		}
	}
	return nil
}

// scanBlocks walks back from the newest candles and returns raw bullish and bearish candidates.
func scanBlocks(candles []model.Candle, lookback int) []model.Block {
	n := len(candles)
	var out []model.Block
	for i := 2; i < min(lookback, n-3); i++ {
		idx := n - 1 - i
		if b, ok := bullishCandidate(candles, idx); ok {
			out = append(out, b)
		}
		if b, ok := bearishCandidate(candles, idx); ok {
			out = append(out, b)
		}
	}
	return out
}

// bullishCandidate checks for a bearish candle followed by two bullish candles
// that carry price at least 1.5 ranges above its low.
func bullishCandidate(candles []model.Candle, idx int) (model.Block, bool) {
	if idx < 0 || idx+3 >= len(candles) {
		return model.Block{}, false
	}
	c, n1, n2 := candles[idx], candles[idx+1], candles[idx+2]
	if !c.Bearish() {
		return model.Block{}, false
	}
	rng := c.Range()
	if rng == 0 {
		return model.Block{}, false
	}
	move := n2.Close - c.Low
	if move < rng*1.5 || !n1.Bullish() || !n2.Bullish() {
		return model.Block{}, false
	}

	top := math.Max(c.Open, c.Close)
	b := baseBlock(candles, idx, model.TrendBullish, top, c.Low, move)
	if n2.Low > c.High {
		b.HasGap = true
		b.GapSizePct = roundTo((n2.Low-c.High)/c.High*100, 3)
	}
	return b, true
}

// bearishCandidate mirrors bullishCandidate.
func bearishCandidate(candles []model.Candle, idx int) (model.Block, bool) {
	if idx < 0 || idx+3 >= len(candles) {
		return model.Block{}, false
	}
	c, n1, n2 := candles[idx], candles[idx+1], candles[idx+2]
	if !c.Bullish() {
		return model.Block{}, false
	}
	rng := c.Range()
	if rng == 0 {
		return model.Block{}, false
	}
	move := c.High - n2.Close
	if move < rng*1.5 || !n1.Bearish() || !n2.Bearish() {
		return model.Block{}, false
	}

	bottom := math.Min(c.Open, c.Close)
	b := baseBlock(candles, idx, model.TrendBearish, c.High, bottom, move)
	if n2.High < c.Low {
		b.HasGap = true
		b.GapSizePct = roundTo((c.Low-n2.High)/c.Low*100, 3)
	}
	return b, true
}

func baseBlock(candles []model.Candle, idx int, dir model.Trend, top, bottom, move float64) model.Block {
	c := candles[idx]
	rng := c.Range()
	volRatio := 1.0
	if avg := mean(volumes(candles[max(0, idx-blockVolumeWindow):idx])); avg > 0 {
		volRatio = c.Volume / avg
	}
	return model.Block{
		Direction: dir,
		Top:       top,
		Bottom:    bottom,
		Midpoint:  (top + bottom) / 2,
		Time:      c.Time,
		Index:     idx,
		Volume:    c.Volume,
		VolRatio:  roundTo(volRatio, 2),
		BodyRatio: roundTo(math.Abs(c.Open-c.Close)/rng, 2),
		MoveRatio: roundTo(move/rng, 2),
		Fresh:     true,
	}
}

// score applies the additive scoring model. A mitigated block scores zero.
func (d *BlockDetector) score(candles []model.Candle, b model.Block, hasHTF bool, htfZones []model.ProfileZone, htfBlocks []model.Block) model.Block {
	price := candles[len(candles)-1].Close

	b.Touches, b.Mitigated = touchStatus(candles, b)
	b.Fresh = b.Touches == 0
	if b.Mitigated {
		b.Score = 0
		return b
	}

	s := 0.0
	switch {
	case b.Fresh:
		s += 3
	case b.Touches == 1:
		s += 1
	default:
		s += 0.5
	}

	if b.HasGap {
		s += 2.5
	} else {
		s += 0.5
	}

	switch {
	case b.MoveRatio >= 3:
		s += 2
	case b.MoveRatio >= 2:
		s += 1.5
	default:
		s += 0.5
	}

	switch {
	case b.VolRatio >= 2:
		s += 1.5
	case b.VolRatio >= 1.3:
		s += 1
	}

	switch {
	case b.BodyRatio >= 0.7:
		s += 1
	case b.BodyRatio >= 0.5:
		s += 0.5
	}

	b.LiquidityAhead = liquidityAhead(candles, b, price)
	if b.LiquidityAhead {
		s -= 1
	} else {
		s += 2
	}

	dist := math.Abs(price-b.Midpoint) / price
	switch {
	case dist < 0.003:
		s += 1.5
	case dist < 0.008:
		s += 1
	case dist < 0.02:
		s += 0.5
	case dist > 0.05:
		s -= 1
	}

	if hasHTF {
		b.InHTFZone = alignsWithHTF(b, htfZones, htfBlocks)
		if b.InHTFZone {
			s += 2
		}
	}

	if (b.Direction == model.TrendBullish && price < b.Bottom) ||
		(b.Direction == model.TrendBearish && price > b.Top) {
		s = 0
	}

	b.Score = roundTo(math.Max(s, 0), 1)
	return b
}

// touchStatus counts revisits of the zone after formation and stops at the first
// close beyond the far boundary, which mitigates the block.
func touchStatus(candles []model.Candle, b model.Block) (touches int, mitigated bool) {
	for j := b.Index + 3; j < len(candles); j++ {
		c := candles[j]
		if b.Direction == model.TrendBullish {
			if c.Low <= b.Top && c.Low >= b.Bottom {
				touches++
			}
			if c.Close < b.Bottom {
				return touches, true
			}
		} else {
			if c.High >= b.Bottom && c.High <= b.Top {
				touches++
			}
			if c.Close > b.Top {
				return touches, true
			}
		}
	}
	return touches, false
}

// liquidityAhead reports a cluster of at least three equal lows (bullish) or highs
// (bearish) between the block and the current price.
func liquidityAhead(candles []model.Candle, b model.Block, price float64) bool {
	tol := price * liquidityAheadTol
	var zone []float64
	for _, c := range candles {
		if b.Direction == model.TrendBullish {
			if c.Low >= b.Bottom && c.Low <= price {
				zone = append(zone, c.Low)
			}
		} else if c.High >= price && c.High <= b.Top {
			zone = append(zone, c.High)
		}
	}
	if len(zone) < liquidityAheadHits {
		return false
	}
	for _, anchor := range zone {
		count := 0
		for _, v := range zone {
			if math.Abs(v-anchor) <= tol {
				count++
			}
		}
		if count >= liquidityAheadHits {
			return true
		}
	}
	return false
}

// alignsWithHTF reports whether the block midpoint sits inside a higher-timeframe
// demand (bullish) or supply (bearish) band, or inside a same-direction higher-timeframe block.
func alignsWithHTF(b model.Block, zones []model.ProfileZone, htfBlocks []model.Block) bool {
	want := model.Supply
	if b.Direction == model.TrendBullish {
		want = model.Demand
	}
	for _, z := range zones {
		if z.Side == want && z.Low <= b.Midpoint && b.Midpoint <= z.High {
			return true
		}
	}
	for _, h := range htfBlocks {
		if h.Direction == b.Direction && h.Contains(b.Midpoint) {
			return true
		}
	}
	return false
}

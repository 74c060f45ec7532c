package engine

import (
	"math"

	"go-smc/internal/model"

	"go.uber.org/zap"
)

const (
	sniperRSIBull     = 55
	sniperRSIBear     = 45
	sniperVolumeRatio = 1.2
	sniperBars        = 3
	structureTop      = 5
)

// MTF runs the four-timeframe analysis. Any frame may be nil; frames that are too
// short contribute a neutral assessment.
func (e *ConfluenceEngine) MTF(direction, structure, entry, sniper []model.Candle) model.Result {
	res := model.Result{Signal: model.Signal{Type: model.NoSignal}, Mode: model.ModeMTF}
	if n := len(entry); n > 0 {
		res.Time = entry[n-1].Time
	}

	a := model.MTFAnalysis{
		Direction: e.directionBias(direction),
		Structure: e.structureAssessment(structure),
		Entry:     e.entryTrigger(entry),
		Sniper:    e.sniperCheck(sniper),
	}
	a.ConfluenceScore = confluenceScore(a)
	res.Signal = e.finalSignal(a)
	res.MTF = &a

	if len(entry) >= e.cfg.MTF.MinCandles {
		res.Features = e.entryFeatures(entry, a.Structure.Trend, a.Entry)
	}

	e.logger.Info("mtf_analysis",
		zap.String("direction", a.Direction.Label()),
		zap.String("structure", string(a.Structure.Trend)),
		zap.String("entry", string(a.Entry.Type)),
		zap.Bool("sniper", a.Sniper.Confirmed),
		zap.Float64("score", a.ConfluenceScore),
		zap.String("final", string(res.Type)),
	)
	return res
}

// directionBias reads the slowest frame. Any break of structure marks the bias strong
// in the break's direction; the last break wins.
func (e *ConfluenceEngine) directionBias(candles []model.Candle) model.DirectionBias {
	bias := model.DirectionBias{Trend: model.TrendNeutral, Zone: model.ZoneEquilibrium}
	if len(candles) < e.cfg.MTF.MinCandles {
		return bias
	}
	s := e.structure.DetectStructure(candles)
	bias.Trend = s.Trend
	bias.Strength = s.Strength
	bias.Zone = premiumDiscount(candles, s.SwingHighs, s.SwingLows).Zone
	for _, b := range s.BOS {
		bias.Strong = true
		bias.Strength += 2
		if b.Type == model.BullishBOS {
			bias.Trend = model.TrendBullish
		} else {
			bias.Trend = model.TrendBearish
		}
	}
	return bias
}

func (e *ConfluenceEngine) structureAssessment(candles []model.Candle) model.StructureAssessment {
	a := model.StructureAssessment{Trend: model.TrendNeutral}
	if len(candles) < e.cfg.MTF.MinCandles {
		return a
	}
	s := e.structure.DetectStructure(candles)
	blocks := e.blocks.FindBlocks(candles, nil)
	gaps := e.liquidity.FairValueGaps(candles)

	a.Trend = s.Trend
	a.Strength = s.Strength
	a.BOS = s.BOS
	a.CHoCH = s.CHoCH
	a.Blocks = blocks[:min(structureTop, len(blocks))]
	a.Gaps = gaps[:min(structureTop, len(gaps))]

	price := candles[len(candles)-1].Close
	for i := range blocks {
		if a.KeyBlock == nil || math.Abs(price-blocks[i].Midpoint) < math.Abs(price-a.KeyBlock.Midpoint) {
			b := blocks[i]
			a.KeyBlock = &b
		}
	}
	return a
}

// entryTrigger scores the entry frame and sets levels when one side clearly leads.
func (e *ConfluenceEngine) entryTrigger(candles []model.Candle) model.EntryAssessment {
	a := model.EntryAssessment{Signal: model.Signal{Type: model.NoSignal}}
	if len(candles) < e.cfg.MTF.MinCandles {
		return a
	}
	s := e.structure.DetectStructure(candles)
	blocks := e.blocks.FindBlocks(candles, nil)
	sweeps := e.liquidity.DetectSweeps(candles)
	gaps := e.liquidity.FairValueGaps(candles)
	zone := premiumDiscount(candles, s.SwingHighs, s.SwingLows).Zone
	price := candles[len(candles)-1].Close
	atr := ATR(candles, atrPeriod)

	var bt, st float64
	var bullWhy, bearWhy []string

	for _, b := range s.BOS {
		if b.Type == model.BullishBOS {
			bt += 2
			bullWhy = append(bullWhy, "BOS")
		} else {
			st += 2
			bearWhy = append(bearWhy, "BOS")
		}
	}
	for _, c := range s.CHoCH {
		if c.Type == model.BullishCHoCH {
			bt += 1.5
			bullWhy = append(bullWhy, "CHoCH")
		} else {
			st += 1.5
			bearWhy = append(bearWhy, "CHoCH")
		}
	}
	for _, b := range blocks {
		d := math.Abs(price-b.Midpoint) / price
		bull := b.Direction == model.TrendBullish
		switch {
		case d < 0.003 && bull:
			bt += 2
			bullWhy = append(bullWhy, "OB")
		case d < 0.008 && bull:
			bt++
			bullWhy = append(bullWhy, "OB_near")
		case d < 0.003:
			st += 2
			bearWhy = append(bearWhy, "OB")
		case d < 0.008:
			st++
			bearWhy = append(bearWhy, "OB_near")
		}
	}
	for _, sw := range lastSweeps(sweeps, 3) {
		if sw.Direction == model.TrendBullish {
			bt += 1.5
			bullWhy = append(bullWhy, "Sweep")
		} else {
			st += 1.5
			bearWhy = append(bearWhy, "Sweep")
		}
		break
	}
	if zone.Discounted() {
		bt++
		bullWhy = append(bullWhy, "Discount")
	} else if zone.Premium() {
		st++
		bearWhy = append(bearWhy, "Premium")
	}
	for _, g := range gaps {
		if !g.Contains(price) {
			continue
		}
		if g.Direction == model.TrendBullish {
			bt++
			bullWhy = append(bullWhy, "FVG")
		} else {
			st++
			bearWhy = append(bearWhy, "FVG")
		}
		break
	}

	a.Bull, a.Bear = bt, st
	t := e.cfg.MTF
	rr := e.cfg.RiskRewardRatio
	switch {
	case bt >= t.EntryWeak && bt > st+t.EntryEdge:
		a.Type = model.Buy
		if bt >= t.EntryStrong {
			a.Type = model.StrongBuy
		}
		a.Direction = model.DirectionLong
		a.Confidence = math.Min(bt/8, 1)
		a.Triggers = bullWhy
		a.StopLoss = price - atr*e.cfg.Pro.FallbackStopATR
		if b := Best(blocks, model.TrendBullish); b != nil {
			a.StopLoss = b.Bottom - atr*e.cfg.Pro.BlockStopATR
		}
		a.Entry = price
		a.TakeProfit = price + math.Abs(price-a.StopLoss)*rr
	case st >= t.EntryWeak && st > bt+t.EntryEdge:
		a.Type = model.Sell
		if st >= t.EntryStrong {
			a.Type = model.StrongSell
		}
		a.Direction = model.DirectionShort
		a.Confidence = math.Min(st/8, 1)
		a.Triggers = bearWhy
		a.StopLoss = price + atr*e.cfg.Pro.FallbackStopATR
		if b := Best(blocks, model.TrendBearish); b != nil {
			a.StopLoss = b.Top + atr*e.cfg.Pro.BlockStopATR
		}
		a.Entry = price
		a.TakeProfit = price - math.Abs(a.StopLoss-price)*rr
	}
	return a
}

// sniperCheck confirms momentum on the fastest frame from RSI, volume and the last three candles.
func (e *ConfluenceEngine) sniperCheck(candles []model.Candle) model.SniperCheck {
	c := model.SniperCheck{Momentum: model.TrendNeutral, Direction: model.TrendNeutral, RSI: 50}
	if len(candles) < max(e.cfg.MTF.SniperMin, sniperBars) {
		return c
	}
	c.RSI = RSI(candles, rsiPeriod)
	switch {
	case c.RSI > sniperRSIBull:
		c.Momentum = model.TrendBullish
	case c.RSI < sniperRSIBear:
		c.Momentum = model.TrendBearish
	}
	last := candles[len(candles)-1]
	c.Volume = last.Volume > VolumeSMA(candles, volumePeriod)*sniperVolumeRatio

	bullish := 0
	for _, k := range candles[len(candles)-sniperBars:] {
		if k.Bullish() {
			bullish++
		}
	}
	switch {
	case bullish >= 2 && c.Momentum == model.TrendBullish:
		c.Confirmed, c.Direction = true, model.TrendBullish
	case bullish <= 1 && c.Momentum == model.TrendBearish:
		c.Confirmed, c.Direction = true, model.TrendBearish
	}
	return c
}

// confluenceScore sums the agreement across frames, capped at ten.
func confluenceScore(a model.MTFAnalysis) float64 {
	sc := 0.0
	switch {
	case a.Direction.Strong:
		sc += 3
	case a.Direction.Trend != model.TrendNeutral:
		sc += 2
	}
	if a.Direction.Trend == a.Structure.Trend {
		sc += 2
	}
	switch {
	case a.Entry.Type.Strong():
		sc += 3
	case a.Entry.Type.Tradeable():
		sc += 2
	}
	if a.Sniper.Confirmed {
		sc += 1.5
	}
	if a.Sniper.Volume {
		sc += 0.5
	}
	return math.Min(roundTo(sc, 1), 10)
}

// finalSignal gates the entry trigger on higher-frame agreement, score and sniper confirmation.
func (e *ConfluenceEngine) finalSignal(a model.MTFAnalysis) model.Signal {
	none := model.Signal{Type: model.NoSignal}
	entry := a.Entry.Signal
	if !entry.Type.Tradeable() {
		return none
	}
	dir := entry.Direction
	if a.Direction.Trend.Opposes(dir) || a.Structure.Trend.Opposes(dir) {
		return none
	}
	if a.ConfluenceScore < e.cfg.MTF.MinScore {
		return none
	}
	if !a.Sniper.Confirmed && !entry.Type.Strong() {
		return none
	}

	conf := entry.Confidence
	if a.Direction.Trend.Matches(dir) {
		conf *= 1.1
	}
	if a.Structure.Trend.Matches(dir) {
		conf *= 1.1
	}
	if a.Sniper.Confirmed {
		conf *= 1.1
	}
	entry.Confidence = math.Min(roundTo(conf, 3), 1)
	return entry
}

func (e *ConfluenceEngine) entryFeatures(candles []model.Candle, decisionTrend model.Trend, entry model.EntryAssessment) model.Features {
	s := e.structure.DetectStructure(candles)
	blocks := e.blocks.FindBlocks(candles, nil)
	last := candles[len(candles)-1]
	return ExtractFeatures(candles, FeatureInputs{
		Structure: s,
		HTFTrend:  decisionTrend,
		Nearest:   Best(blocks, model.TrendBullish),
		Blocks:    len(blocks),
		Sweeps:    len(e.liquidity.DetectSweeps(candles)),
		Gaps:      len(e.liquidity.FairValueGaps(candles)),
		Zone:      premiumDiscount(candles, s.SwingHighs, s.SwingLows).Zone,
		Session:   SessionAt(last.Time),
		Bull:      entry.Bull,
		Bear:      entry.Bear,
	})
}

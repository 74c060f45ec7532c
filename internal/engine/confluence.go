package engine

import (
	"math"

	"go-smc/internal/config"
	"go-smc/internal/model"

	"go.uber.org/zap"
)

const htfBiasMinCandles = 50

// ConfluenceEngine combines structure, blocks and liquidity into a directional signal.
// It owns its analyzers and keeps no state between calls.
type ConfluenceEngine struct {
	cfg       config.StrategyConfig
	structure *StructureAnalyzer
	blocks    *BlockDetector
	liquidity *LiquidityAnalyzer
	logger    *zap.Logger
}

// NewConfluenceEngine builds an engine and its analyzers from strategy settings.
func NewConfluenceEngine(cfg config.StrategyConfig) *ConfluenceEngine {
	return &ConfluenceEngine{
		cfg:       cfg,
		structure: NewStructureAnalyzer(cfg.SwingLookback),
		blocks:    NewBlockDetector(cfg.OBLookback, cfg.ProfileLevels),
		liquidity: NewLiquidityAnalyzer(cfg.LiquidityThreshold, cfg.FVGMinSize),
		logger:    zap.NewNop(),
	}
}

// SetLogger sets the structured logger for the engine and its detectors.
func (e *ConfluenceEngine) SetLogger(logger *zap.Logger) {
	if logger != nil {
		e.logger = logger
		e.blocks.SetLogger(logger)
	}
}

// Structure returns the structure analyzer.
func (e *ConfluenceEngine) Structure() *StructureAnalyzer { return e.structure }

// Blocks returns the block detector.
func (e *ConfluenceEngine) Blocks() *BlockDetector { return e.blocks }

// Liquidity returns the liquidity analyzer.
func (e *ConfluenceEngine) Liquidity() *LiquidityAnalyzer { return e.liquidity }

// proInputs gathers everything the single-timeframe scorer reads.
type proInputs struct {
	structure model.StructureState
	htfBias   model.Trend
	blocks    []model.Block
	bullBlock *model.Block
	bearBlock *model.Block
	sweeps    []model.Sweep
	gaps      []model.FairValueGap
	zone      model.PremiumDiscount
	session   model.Session
	profile   []model.ProfileZone
	price     float64
}

// Pro runs single-timeframe analysis on candles, using htf (may be nil) for the
// higher-timeframe bias, block alignment and volume profile.
func (e *ConfluenceEngine) Pro(candles, htf []model.Candle) model.Result {
	res := model.Result{Signal: model.Signal{Type: model.NoSignal}, Mode: model.ModePro}
	if len(candles) < e.cfg.MinCandles {
		return res
	}
	last := candles[len(candles)-1]
	res.Time = last.Time

	in := proInputs{
		structure: e.structure.DetectStructure(candles),
		htfBias:   model.TrendNeutral,
		price:     last.Close,
		session:   SessionAt(last.Time),
	}
	if len(htf) > htfBiasMinCandles {
		in.htfBias = e.structure.DetectStructure(htf).Trend
	}
	in.blocks = e.blocks.FindBlocks(candles, htf)
	in.bullBlock = Best(in.blocks, model.TrendBullish)
	in.bearBlock = Best(in.blocks, model.TrendBearish)
	in.sweeps = e.liquidity.DetectSweeps(candles)
	in.gaps = e.liquidity.FairValueGaps(candles)
	in.zone = premiumDiscount(candles, in.structure.SwingHighs, in.structure.SwingLows)
	profileSrc := candles
	if len(htf) > 0 {
		profileSrc = htf
	}
	in.profile = VolumeProfile(profileSrc, e.cfg.ProfileLevels)

	bull, bear := proScores(in, e.cfg.Pro.ProfileProximity)
	atr := ATR(candles, atrPeriod)
	res.Signal = e.proSignal(bull, bear, in, atr)
	res.Pro = &model.ProAnalysis{
		Structure:     in.structure.Trend,
		HTFBias:       in.htfBias,
		Blocks:        len(in.blocks),
		Sweeps:        len(in.sweeps),
		Gaps:          len(in.gaps),
		Zone:          in.zone.Zone,
		Session:       in.session,
		ProfileZones:  len(in.profile),
		Bull:          bull,
		Bear:          bear,
		BestBullBlock: in.bullBlock,
		BestBearBlock: in.bearBlock,
	}
	res.Features = ExtractFeatures(candles, FeatureInputs{
		Structure: in.structure,
		HTFTrend:  in.htfBias,
		Nearest:   in.bullBlock,
		Blocks:    len(in.blocks),
		Sweeps:    len(in.sweeps),
		Gaps:      len(in.gaps),
		Zone:      in.zone.Zone,
		Session:   in.session,
		Bull:      bull,
		Bear:      bear,
	})

	if res.Type.Tradeable() {
		e.logger.Debug("pro_signal",
			zap.String("signal", string(res.Type)),
			zap.Float64("bull", bull),
			zap.Float64("bear", bear),
			zap.Float64("entry", res.Entry),
			zap.Float64("stop_loss", res.StopLoss),
		)
	}
	return res
}

// proScores accumulates bullish and bearish evidence, each rounded to one decimal.
func proScores(in proInputs, proximity float64) (bull, bear float64) {
	switch in.structure.Trend {
	case model.TrendBullish:
		bull += 2
	case model.TrendBearish:
		bear += 2
	}

	switch in.htfBias {
	case model.TrendBullish:
		bull += 2
	case model.TrendBearish:
		bear += 2
	}

	bull += blockContribution(in.bullBlock)
	bear += blockContribution(in.bearBlock)

	for _, s := range lastSweeps(in.sweeps, 3) {
		if s.Direction == model.TrendBullish {
			bull += 1.5
		} else {
			bear += 1.5
		}
		break
	}

	if in.zone.Zone.Discounted() {
		bull++
	} else if in.zone.Zone.Premium() {
		bear++
	}

	if in.session.Score > 0 {
		bull += in.session.Score * 0.5
		bear += in.session.Score * 0.5
	}

	for _, b := range in.structure.BOS {
		if b.Type == model.BullishBOS {
			bull += 1.5
		} else {
			bear += 1.5
		}
		break
	}
	for _, c := range in.structure.CHoCH {
		if c.Type == model.BullishCHoCH {
			bull++
		} else {
			bear++
		}
	}

	for _, z := range in.profile {
		if math.Abs(in.price-z.Mid)/in.price >= proximity {
			continue
		}
		if z.Side == model.Demand {
			bull++
		} else {
			bear++
		}
		break
	}

	return roundTo(bull, 1), roundTo(bear, 1)
}

func blockContribution(b *model.Block) float64 {
	if b == nil {
		return 0
	}
	s := math.Min(b.Score/3, 5)
	if b.HasGap {
		s += 0.5
	}
	if b.Fresh {
		s += 0.5
	}
	return s
}

func lastSweeps(sweeps []model.Sweep, n int) []model.Sweep {
	if len(sweeps) <= n {
		return sweeps
	}
	return sweeps[len(sweeps)-n:]
}

// proSignal applies the thresholds and derives entry, stop and target.
func (e *ConfluenceEngine) proSignal(bull, bear float64, in proInputs, atr float64) model.Signal {
	t := e.cfg.Pro
	sig := model.Signal{Type: model.NoSignal}
	if in.session.Quality == model.QualityAvoid && math.Max(bull, bear) < t.SessionOverride {
		return sig
	}

	var block *model.Block
	var minBlock float64
	switch {
	case bull >= t.Strong && bear < t.OppositeMax:
		sig.Type, block, minBlock = model.StrongBuy, in.bullBlock, t.StrongBlock
	case bull >= t.Weak && bull > bear+t.Edge:
		sig.Type, block, minBlock = model.Buy, in.bullBlock, t.WeakBlock
	case bear >= t.Strong && bull < t.OppositeMax:
		sig.Type, block, minBlock = model.StrongSell, in.bearBlock, t.StrongBlock
	case bear >= t.Weak && bear > bull+t.Edge:
		sig.Type, block, minBlock = model.Sell, in.bearBlock, t.WeakBlock
	default:
		return sig
	}

	sig.Direction = sig.Type.Direction()
	side := sig.Direction.Sign()
	score := bull
	if sig.Direction == model.DirectionShort {
		score = bear
	}
	sig.Confidence = math.Min(score/15, 1)

	if block != nil && block.Score >= minBlock {
		sig.Entry = block.Midpoint
		if side > 0 {
			sig.StopLoss = block.Bottom - atr*t.BlockStopATR
		} else {
			sig.StopLoss = block.Top + atr*t.BlockStopATR
		}
		sig.BlockScore = block.Score
	} else {
		sig.Entry = in.price
		sig.StopLoss = in.price - side*atr*t.FallbackStopATR
	}
	risk := math.Abs(sig.Entry - sig.StopLoss)
	sig.TakeProfit = sig.Entry + side*risk*e.cfg.RiskRewardRatio
	return sig
}

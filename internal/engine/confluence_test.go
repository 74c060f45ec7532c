package engine

import (
	"testing"

	"go-smc/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bestSession() model.Session {
	return model.Session{Name: "overlap", Score: 2, Quality: model.QualityBest}
}

func TestProScores(t *testing.T) {
	in := proInputs{
		structure: model.StructureState{
			Trend: model.TrendBullish,
			BOS:   []model.StructureEvent{{Type: model.BullishBOS}, {Type: model.BearishBOS}},
			CHoCH: []model.StructureEvent{{Type: model.BearishCHoCH}},
		},
		htfBias:   model.TrendBullish,
		bullBlock: &model.Block{Score: 9, HasGap: true, Fresh: true},
		bearBlock: &model.Block{Score: 3},
		sweeps: []model.Sweep{
			{Direction: model.TrendBearish},
			{Direction: model.TrendBullish},
			{Direction: model.TrendBearish},
			{Direction: model.TrendBullish},
		},
		zone:    model.PremiumDiscount{Zone: model.ZoneSlightDiscount},
		session: bestSession(),
		profile: []model.ProfileZone{
			{Side: model.Supply, Mid: 110},
			{Side: model.Demand, Mid: 100.2},
			{Side: model.Supply, Mid: 100.1},
		},
		price: 100,
	}

	bull, bear := proScores(in, 0.005)

	// bull: trend 2, htf 2, block 3+0.5+0.5, sweep 1.5, zone 1, session 1, bos 1.5, profile 1
	assert.Equal(t, 14.0, bull)
	// bear: block 1, session 1, choch 1
	assert.Equal(t, 3.0, bear)
}

func TestProScores_SessionPenaltyIgnored(t *testing.T) {
	in := proInputs{
		structure: model.StructureState{Trend: model.TrendNeutral},
		htfBias:   model.TrendNeutral,
		session:   model.Session{Score: -0.5, Quality: model.QualityAvoid},
		zone:      model.PremiumDiscount{Zone: model.ZoneEquilibrium},
		price:     100,
	}
	bull, bear := proScores(in, 0.005)
	assert.Zero(t, bull)
	assert.Zero(t, bear)
}

func TestProSignal_StrongBuyFromBlock(t *testing.T) {
	e := NewConfluenceEngine(testStrategyConfig())
	in := proInputs{
		session:   bestSession(),
		bullBlock: &model.Block{Direction: model.TrendBullish, Top: 101, Bottom: 99, Midpoint: 100, Score: 9},
		price:     102,
	}

	sig := e.proSignal(13, 1, in, 2)

	assert.Equal(t, model.StrongBuy, sig.Type)
	assert.Equal(t, model.DirectionLong, sig.Direction)
	assert.Equal(t, 100.0, sig.Entry)
	assert.InDelta(t, 98.4, sig.StopLoss, 1e-9)
	assert.InDelta(t, 104.0, sig.TakeProfit, 1e-9)
	assert.InDelta(t, 13.0/15, sig.Confidence, 1e-9)
	assert.Equal(t, 9.0, sig.BlockScore)
	assert.True(t, sig.Valid())
}

func TestProSignal_WeakBuyFallsBackToATRStop(t *testing.T) {
	e := NewConfluenceEngine(testStrategyConfig())
	in := proInputs{
		session:   bestSession(),
		bullBlock: &model.Block{Direction: model.TrendBullish, Top: 101, Bottom: 99, Midpoint: 100, Score: 2},
		price:     100,
	}

	sig := e.proSignal(6, 1, in, 2)

	assert.Equal(t, model.Buy, sig.Type)
	assert.Equal(t, 100.0, sig.Entry)
	assert.InDelta(t, 97.0, sig.StopLoss, 1e-9)
	assert.InDelta(t, 107.5, sig.TakeProfit, 1e-9)
	assert.Zero(t, sig.BlockScore)
}

func TestProSignal_StrongSellFromBlock(t *testing.T) {
	e := NewConfluenceEngine(testStrategyConfig())
	in := proInputs{
		session:   bestSession(),
		bearBlock: &model.Block{Direction: model.TrendBearish, Top: 102, Bottom: 100, Midpoint: 101, Score: 6},
		price:     100,
	}

	sig := e.proSignal(1, 9, in, 2)

	assert.Equal(t, model.StrongSell, sig.Type)
	assert.Equal(t, model.DirectionShort, sig.Direction)
	assert.Equal(t, 101.0, sig.Entry)
	assert.InDelta(t, 102.6, sig.StopLoss, 1e-9)
	assert.InDelta(t, 97.0, sig.TakeProfit, 1e-9)
}

func TestProSignal_Rejections(t *testing.T) {
	e := NewConfluenceEngine(testStrategyConfig())
	avoid := proInputs{session: model.Session{Quality: model.QualityAvoid}, price: 100}

	assert.Equal(t, model.NoSignal, e.proSignal(9, 1, avoid, 2).Type, "avoid session below override")
	assert.Equal(t, model.StrongBuy, e.proSignal(10, 1, avoid, 2).Type, "avoid session overridden")

	good := proInputs{session: bestSession(), price: 100}
	assert.Equal(t, model.NoSignal, e.proSignal(6, 4.5, good, 2).Type, "edge too small")
	assert.Equal(t, model.NoSignal, e.proSignal(5, 0, good, 2).Type, "below weak")
	assert.Equal(t, model.Buy, e.proSignal(9, 4, good, 2).Type, "strong score with opposition is weak")
}

func TestPro_FlatSeriesHasNoSignal(t *testing.T) {
	e := NewConfluenceEngine(testStrategyConfig())

	res := e.Pro(flat(200, 100), nil)

	assert.Equal(t, model.NoSignal, res.Type)
	assert.Equal(t, model.ModePro, res.Mode)
	require.NotNil(t, res.Pro)
	assert.Zero(t, res.Pro.Blocks)
	assert.Equal(t, model.TrendNeutral, res.Pro.Structure)
	assert.Equal(t, 1.0, res.Features.BlockDistance)
}

func TestPro_TooFewCandles(t *testing.T) {
	res := NewConfluenceEngine(testStrategyConfig()).Pro(flat(10, 100), nil)
	assert.Equal(t, model.NoSignal, res.Type)
	assert.Nil(t, res.Pro)
}

func TestPro_ReportsStructureAndHTFBias(t *testing.T) {
	e := NewConfluenceEngine(testStrategyConfig())

	res := e.Pro(uptrend(), uptrend())

	require.NotNil(t, res.Pro)
	assert.Equal(t, model.TrendBullish, res.Pro.Structure)
	assert.Equal(t, model.TrendBullish, res.Pro.HTFBias)
	assert.Equal(t, model.ZonePremium, res.Pro.Zone)
	assert.Equal(t, 1.0, res.Features.Trend)
	assert.Equal(t, 1.0, res.Features.HTFTrend)
	if res.Type.Tradeable() {
		assert.True(t, res.Valid())
	}
}

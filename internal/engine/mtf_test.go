package engine

import (
	"testing"

	"go-smc/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rising(n int, lastVolume float64) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		c := 100 + float64(i)
		out[i] = candle(i, c-0.5, c+0.2, c-0.7, c, 10)
	}
	out[n-1].Volume = lastVolume
	return out
}

func TestDirectionBias(t *testing.T) {
	e := NewConfluenceEngine(testStrategyConfig())

	b := e.directionBias(uptrend())
	assert.Equal(t, model.TrendBullish, b.Trend)
	assert.True(t, b.Strong)
	assert.Equal(t, 8, b.Strength)
	assert.Equal(t, "strong_bullish", b.Label())
	assert.Equal(t, model.ZonePremium, b.Zone)

	short := e.directionBias(uptrend()[:20])
	assert.Equal(t, model.TrendNeutral, short.Trend)
	assert.False(t, short.Strong)
	assert.Equal(t, "neutral", short.Label())
}

func TestStructureAssessment(t *testing.T) {
	e := NewConfluenceEngine(testStrategyConfig())

	a := e.structureAssessment(downtrend())
	assert.Equal(t, model.TrendBearish, a.Trend)
	assert.Equal(t, 6, a.Strength)
	assert.Len(t, a.BOS, 1)
	assert.LessOrEqual(t, len(a.Blocks), 5)
	assert.LessOrEqual(t, len(a.Gaps), 5)

	assert.Equal(t, model.TrendNeutral, e.structureAssessment(nil).Trend)
}

func TestSniperCheck(t *testing.T) {
	e := NewConfluenceEngine(testStrategyConfig())

	c := e.sniperCheck(rising(30, 100))
	assert.True(t, c.Confirmed)
	assert.Equal(t, model.TrendBullish, c.Momentum)
	assert.Equal(t, model.TrendBullish, c.Direction)
	assert.True(t, c.Volume)
	assert.Greater(t, c.RSI, 99.0)

	quiet := e.sniperCheck(rising(30, 10))
	assert.True(t, quiet.Confirmed)
	assert.False(t, quiet.Volume)

	none := e.sniperCheck(rising(10, 10))
	assert.False(t, none.Confirmed)
	assert.Equal(t, 50.0, none.RSI)

	cfg := testStrategyConfig()
	cfg.MTF.SniperMin = 1
	short := NewConfluenceEngine(cfg)
	assert.NotPanics(t, func() {
		c := short.sniperCheck(rising(2, 10))
		assert.False(t, c.Confirmed)
	})
}

func TestConfluenceScore(t *testing.T) {
	a := model.MTFAnalysis{
		Direction: model.DirectionBias{Trend: model.TrendBullish, Strong: true},
		Structure: model.StructureAssessment{Trend: model.TrendBullish},
		Entry:     model.EntryAssessment{Signal: model.Signal{Type: model.StrongBuy}},
		Sniper:    model.SniperCheck{Confirmed: true, Volume: true},
	}
	assert.Equal(t, 10.0, confluenceScore(a))

	a.Direction = model.DirectionBias{Trend: model.TrendNeutral}
	a.Structure.Trend = model.TrendNeutral
	a.Entry.Type = model.Buy
	a.Sniper = model.SniperCheck{}
	// neutral bias matching neutral structure still counts
	assert.Equal(t, 4.0, confluenceScore(a))
}

func entryLong(sigType model.SignalType, conf float64) model.EntryAssessment {
	return model.EntryAssessment{Signal: model.Signal{
		Type: sigType, Direction: model.DirectionLong,
		Entry: 100, StopLoss: 98, TakeProfit: 105, Confidence: conf,
	}}
}

func TestFinalSignal(t *testing.T) {
	e := NewConfluenceEngine(testStrategyConfig())
	base := model.MTFAnalysis{
		Direction:       model.DirectionBias{Trend: model.TrendBullish, Strong: true},
		Structure:       model.StructureAssessment{Trend: model.TrendBullish},
		Entry:           entryLong(model.Buy, 0.6),
		Sniper:          model.SniperCheck{Confirmed: true},
		ConfluenceScore: 9.5,
	}

	sig := e.finalSignal(base)
	require.Equal(t, model.Buy, sig.Type)
	assert.InDelta(t, 0.799, sig.Confidence, 1e-12)
	assert.Equal(t, 100.0, sig.Entry)

	opposed := base
	opposed.Structure.Trend = model.TrendBearish
	assert.Equal(t, model.NoSignal, e.finalSignal(opposed).Type)

	opposedBias := base
	opposedBias.Direction.Trend = model.TrendBearish
	assert.Equal(t, model.NoSignal, e.finalSignal(opposedBias).Type)

	low := base
	low.ConfluenceScore = 4.5
	assert.Equal(t, model.NoSignal, e.finalSignal(low).Type)

	unconfirmed := base
	unconfirmed.Sniper.Confirmed = false
	assert.Equal(t, model.NoSignal, e.finalSignal(unconfirmed).Type)

	strong := unconfirmed
	strong.Entry = entryLong(model.StrongBuy, 0.95)
	sig = e.finalSignal(strong)
	assert.Equal(t, model.StrongBuy, sig.Type)
	assert.Equal(t, 1.0, sig.Confidence)

	assert.Equal(t, model.NoSignal, e.finalSignal(model.MTFAnalysis{}).Type)
}

func TestMTF_NeutralFramesGiveNoSignal(t *testing.T) {
	e := NewConfluenceEngine(testStrategyConfig())

	res := e.MTF(flat(40, 50), nil, flat(100, 50), nil)

	assert.Equal(t, model.NoSignal, res.Type)
	assert.Equal(t, model.ModeMTF, res.Mode)
	require.NotNil(t, res.MTF)
	assert.Equal(t, model.TrendNeutral, res.MTF.Direction.Trend)
	assert.False(t, res.MTF.Sniper.Confirmed)
}

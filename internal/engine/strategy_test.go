package engine

import (
	"math"
	"testing"

	"go-smc/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClassifier struct {
	pred     Prediction
	recorded []model.SignalType
}

func (s *stubClassifier) Predict(model.Features) Prediction { return s.pred }

func (s *stubClassifier) RecordAnalysis(_ model.Features, sig model.SignalType, _ float64) {
	s.recorded = append(s.recorded, sig)
}

func (s *stubClassifier) RecordOutcome(float64, float64, model.Direction) {}

func tradeable() model.Result {
	return model.Result{Signal: model.Signal{Type: model.Buy, Direction: model.DirectionLong, Entry: 100, StopLoss: 98, TakeProfit: 105}}
}

func TestAnalyze_InsufficientData(t *testing.T) {
	s := NewStrategy(testStrategyConfig(), nil, nil)

	res, err := s.Analyze(Frames{Entry: flat(10, 100)})

	require.ErrorIs(t, err, ErrInsufficientData)
	assert.Equal(t, model.NoSignal, res.Type)
}

func TestAnalyze_InvalidInput(t *testing.T) {
	s := NewStrategy(testStrategyConfig(), nil, nil)
	candles := flat(60, 100)
	candles[30].Close = math.NaN()

	res, err := s.Analyze(Frames{Entry: candles})

	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, model.NoSignal, res.Type)

	candles = flat(60, 100)
	_, err = s.Analyze(Frames{Entry: candles, Sniper: []model.Candle{{Open: 1, High: 1, Low: -1, Close: 1}}})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestAnalyze_DispatchesByFrames(t *testing.T) {
	s := NewStrategy(testStrategyConfig(), nil, nil)

	res, err := s.Analyze(Frames{Entry: flat(200, 100)})
	require.NoError(t, err)
	assert.Equal(t, model.ModePro, res.Mode)
	assert.NotNil(t, res.Pro)
	assert.Equal(t, model.NoSignal, res.Type)
	assert.Equal(t, 0.5, res.ClassifierConfidence)

	res, err = s.Analyze(Frames{Entry: flat(200, 100), Sniper: flat(40, 100)})
	require.NoError(t, err)
	assert.Equal(t, model.ModeMTF, res.Mode)
	assert.NotNil(t, res.MTF)
}

func TestApplyClassifier(t *testing.T) {
	t.Run("unready classifier never vetoes", func(t *testing.T) {
		c := &stubClassifier{pred: Prediction{Confidence: 0.2, ShouldTrade: false}}
		res := NewStrategy(testStrategyConfig(), c, nil).applyClassifier(tradeable())

		assert.Equal(t, model.Buy, res.Type)
		assert.False(t, res.Vetoed)
		assert.Equal(t, 0.2, res.ClassifierConfidence)
		assert.Equal(t, []model.SignalType{model.Buy}, c.recorded)
	})

	t.Run("ready classifier vetoes", func(t *testing.T) {
		c := &stubClassifier{pred: Prediction{Confidence: 0.4, ShouldTrade: false, Ready: true}}
		res := NewStrategy(testStrategyConfig(), c, nil).applyClassifier(tradeable())

		assert.Equal(t, model.NoSignal, res.Type)
		assert.True(t, res.Vetoed)
		assert.Empty(t, c.recorded)
	})

	t.Run("no signal skips the classifier", func(t *testing.T) {
		c := &stubClassifier{pred: Prediction{Confidence: 0.9, Ready: true}}
		res := NewStrategy(testStrategyConfig(), c, nil).applyClassifier(model.Result{Signal: model.Signal{Type: model.NoSignal}})

		assert.Equal(t, 0.5, res.ClassifierConfidence)
		assert.Empty(t, c.recorded)
	})
}

func TestExtractFeatures(t *testing.T) {
	candles := make([]model.Candle, 10)
	for i := range candles {
		c := 100 + float64(i)
		candles[i] = candle(i, c, c+1, c-1, c, 10)
	}

	f := ExtractFeatures(candles, FeatureInputs{
		Structure: model.StructureState{Trend: model.TrendBearish, Strength: 4},
		HTFTrend:  model.TrendBullish,
		Blocks:    3,
		Zone:      model.ZoneDiscount,
		Session:   model.Session{Score: 1.5},
		Bull:      6,
		Bear:      2.5,
	})

	assert.Equal(t, 50.0, f.RSI)
	assert.InDelta(t, 1.0/108*100, f.PctChange1, 1e-9)
	assert.InDelta(t, 4.0/105*100, f.PctChange5, 1e-9)
	assert.Equal(t, -1.0, f.Trend)
	assert.Equal(t, 1.0, f.HTFTrend)
	assert.Equal(t, 4.0, f.StructureStrength)
	assert.Equal(t, 3.0, f.BlockCount)
	assert.Equal(t, -1.0, f.Zone)
	assert.Equal(t, 1.5, f.KillZone)
	assert.Equal(t, 3.5, f.SpreadScore)
	assert.Equal(t, 1.0, f.BlockDistance)
	assert.Equal(t, 10.0, f.VolRatio)
	assert.Len(t, f.Map(), 18)

	f = ExtractFeatures(candles, FeatureInputs{Nearest: &model.Block{Midpoint: 108}})
	assert.InDelta(t, 1.0/109, f.BlockDistance, 1e-12)
}

func TestJournal(t *testing.T) {
	j := NewJournal()
	assert.True(t, j.Predict(model.Features{}).ShouldTrade)

	j.RecordAnalysis(model.Features{}, model.Buy, 100)
	j.RecordAnalysis(model.Features{}, model.Sell, 200)

	j.RecordOutcome(100.05, 102, model.DirectionLong)
	j.RecordOutcome(200, 190, model.DirectionShort)
	j.RecordOutcome(300, 310, model.DirectionLong)

	entries := j.Entries()
	require.Len(t, entries, 2)
	require.NotNil(t, entries[0].Outcome)
	assert.Equal(t, 1, *entries[0].Outcome)
	require.NotNil(t, entries[1].Outcome)
	assert.Equal(t, 1, *entries[1].Outcome)
	assert.InDelta(t, 5.0, entries[1].PnLPct, 1e-9)
	assert.Equal(t, 1.0, j.Accuracy())

	j.RecordAnalysis(model.Features{}, model.Buy, 50)
	j.RecordOutcome(50, 45, model.DirectionLong)
	assert.Equal(t, 2.0/3, j.Accuracy())
}

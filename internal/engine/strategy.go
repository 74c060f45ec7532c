package engine

import (
	"errors"
	"fmt"
	"math"

	"go-smc/internal/config"
	"go-smc/internal/model"

	"go.uber.org/zap"
)

var (
	// ErrInsufficientData is returned when the entry frame has too few candles.
	ErrInsufficientData = errors.New("insufficient candle data")
	// ErrInvalidInput is returned for candles with non-finite or non-positive prices.
	ErrInvalidInput = errors.New("invalid candle data")
)

// Frames holds the candle series for one analysis call. Entry is required.
// In single-timeframe mode Structure serves as the higher timeframe.
type Frames struct {
	Direction []model.Candle
	Structure []model.Candle
	Entry     []model.Candle
	Sniper    []model.Candle
}

// MultiFrame reports whether the four-timeframe mode applies.
func (f Frames) MultiFrame() bool {
	return len(f.Direction) > 0 || len(f.Sniper) > 0
}

// Strategy is the entry point used by the simulator and the paper runner.
// It is stateless apart from the classifier.
type Strategy struct {
	engine     *ConfluenceEngine
	classifier Classifier
	logger     *zap.Logger
}

// NewStrategy creates a strategy. A nil classifier means AllowAll.
func NewStrategy(cfg config.StrategyConfig, classifier Classifier, logger *zap.Logger) *Strategy {
	if classifier == nil {
		classifier = AllowAll{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	eng := NewConfluenceEngine(cfg)
	eng.SetLogger(logger)
	return &Strategy{engine: eng, classifier: classifier, logger: logger}
}

// Engine exposes the underlying confluence engine.
func (s *Strategy) Engine() *ConfluenceEngine { return s.engine }

// Classifier returns the configured classifier.
func (s *Strategy) Classifier() Classifier { return s.classifier }

// Analyze runs one analysis. On ErrInsufficientData or ErrInvalidInput the result
// still carries a NO_SIGNAL. A panic inside analysis is recovered and returned as an error.
func (s *Strategy) Analyze(f Frames) (res model.Result, err error) {
	res = model.Result{Signal: model.Signal{Type: model.NoSignal}, Mode: model.ModePro}
	if f.MultiFrame() {
		res.Mode = model.ModeMTF
	}
	if len(f.Entry) < s.engine.cfg.MinCandles {
		return res, fmt.Errorf("%w: %d entry candles, need %d", ErrInsufficientData, len(f.Entry), s.engine.cfg.MinCandles)
	}
	for _, series := range [][]model.Candle{f.Entry, f.Structure, f.Direction, f.Sniper} {
		if err := validateCandles(series); err != nil {
			return res, err
		}
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("analysis_panic", zap.Any("panic", r))
			res = model.Result{Signal: model.Signal{Type: model.NoSignal}, Mode: res.Mode}
			err = fmt.Errorf("analysis panic: %v", r)
		}
	}()

	if f.MultiFrame() {
		res = s.engine.MTF(f.Direction, f.Structure, f.Entry, f.Sniper)
	} else {
		res = s.engine.Pro(f.Entry, f.Structure)
	}
	return s.applyClassifier(res), nil
}

// applyClassifier consults the classifier for tradeable signals. Only a ready
// classifier can veto.
func (s *Strategy) applyClassifier(res model.Result) model.Result {
	res.ClassifierConfidence = 0.5
	if !res.Type.Tradeable() {
		return res
	}
	pred := s.classifier.Predict(res.Features)
	res.ClassifierConfidence = pred.Confidence
	if pred.Ready && !pred.ShouldTrade {
		s.logger.Info("signal_vetoed",
			zap.String("signal", string(res.Type)),
			zap.Float64("classifier_confidence", pred.Confidence),
		)
		res.Vetoed = true
		res.Signal = model.Signal{Type: model.NoSignal}
		return res
	}
	s.classifier.RecordAnalysis(res.Features, res.Type, res.Entry)
	return res
}

func validateCandles(candles []model.Candle) error {
	for i, c := range candles {
		for _, v := range []float64{c.Open, c.High, c.Low, c.Close} {
			if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
				return fmt.Errorf("%w: candle %d has price %v", ErrInvalidInput, i, v)
			}
		}
		if math.IsNaN(c.Volume) || c.Volume < 0 {
			return fmt.Errorf("%w: candle %d has volume %v", ErrInvalidInput, i, c.Volume)
		}
	}
	return nil
}

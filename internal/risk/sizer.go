package risk

import (
	"errors"
	"fmt"
	"math"

	"go-smc/internal/config"
)

var (
	// ErrInvalidPrice is returned when entry or stop is zero.
	ErrInvalidPrice = errors.New("entry and stop must be non-zero")
	// ErrZeroRisk is returned when entry equals stop.
	ErrZeroRisk = errors.New("zero risk distance")
	// ErrNonPositiveSize is returned when the computed size is not positive.
	ErrNonPositiveSize = errors.New("non-positive position size")
)

const (
	marginBuffer      = 0.95
	lossStreakStart   = 2
	lossStreakStep    = 0.15
	lossStreakFloor   = 0.3
	highClassifier    = 0.7
	lowClassifier     = 0.4
	sizeDecimalPlaces = 6
)

// SizeRequest carries the inputs of one sizing decision.
type SizeRequest struct {
	Balance    float64
	Entry      float64
	StopLoss   float64
	Confidence float64
	// ClassifierConfidence scales risk up above 0.7 and down below 0.4.
	ClassifierConfidence float64
	ConsecutiveLosses    int
}

// Sizer computes position sizes from a fixed fraction of balance at risk,
// capped by available leverage.
type Sizer struct {
	riskPerTrade float64
	leverage     float64
}

// NewSizer creates a sizer from the risk configuration.
func NewSizer(cfg config.RiskConfig) *Sizer {
	return &Sizer{riskPerTrade: cfg.RiskPerTrade, leverage: cfg.Leverage}
}

// RiskFraction returns the balance fraction to risk after confidence, classifier
// and loss-streak scaling.
func (s *Sizer) RiskFraction(confidence, classifierConf float64, losses int) float64 {
	rp := s.riskPerTrade * confidence
	switch {
	case classifierConf > highClassifier:
		rp *= 1.2
	case classifierConf < lowClassifier:
		rp *= 0.5
	}
	if losses >= lossStreakStart {
		rp *= math.Max(lossStreakFloor, 1-float64(losses)*lossStreakStep)
	}
	return rp
}

// Size returns the position size in base units.
func (s *Sizer) Size(req SizeRequest) (float64, error) {
	if req.Entry == 0 || req.StopLoss == 0 {
		return 0, ErrInvalidPrice
	}
	dist := math.Abs(req.Entry - req.StopLoss)
	if dist == 0 {
		return 0, ErrZeroRisk
	}
	rp := s.RiskFraction(req.Confidence, req.ClassifierConfidence, req.ConsecutiveLosses)
	size := math.Min(req.Balance*rp/dist, req.Balance*s.leverage*marginBuffer/req.Entry)
	p := math.Pow(10, sizeDecimalPlaces)
	size = math.Round(size*p) / p
	if size <= 0 || math.IsNaN(size) {
		return 0, fmt.Errorf("%w: %v", ErrNonPositiveSize, size)
	}
	return size, nil
}

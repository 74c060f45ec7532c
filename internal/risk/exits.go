package risk

import (
	"math"

	"go-smc/internal/model"
)

// ExitAction is what the staged exit machine asks the caller to do.
type ExitAction string

const (
	ActionHold         ExitAction = "hold"
	ActionPartialClose ExitAction = "partial_close"
	ActionTrail        ExitAction = "trail"
)

// stage is one partial take-profit step, in R multiples from entry.
type stage struct {
	trigger float64
	portion float64
	stop    float64
	target  float64 // 0 means trailing from here on
}

var stages = []stage{
	{trigger: 1, portion: 0.30, stop: 0.1, target: 2},
	{trigger: 2, portion: 0.30, stop: 1, target: 3},
	{trigger: 3, portion: 0.20, stop: 2},
}

const (
	runnerTrailATR = 0.8
	earlyTrailATR  = 1.2
	earlyTrailR    = 0.5
)

// ExitState is the part of an open position the exit machine reads.
type ExitState struct {
	Entry           float64
	Direction       model.Direction
	StopLoss        float64
	InitialStopLoss float64
	PartsTaken      int
}

// ExitDecision is the outcome of one evaluation. NewStop is always at least as
// protective as the current stop. NewTarget is zero when the target is unchanged.
type ExitDecision struct {
	Action       ExitAction `json:"action"`
	NewStop      float64    `json:"newStop"`
	ClosePortion float64    `json:"closePortion"`
	NewTarget    float64    `json:"newTarget,omitempty"`
	RLevel       float64    `json:"rLevel"`
	Trailing     bool       `json:"trailing"`
}

// StopMoved reports whether the decision tightens the stop.
func (d ExitDecision) StopMoved(current float64) bool {
	return d.NewStop != current
}

// Manage runs the staged take-profit machine at price. atr <= 0 falls back to the
// initial risk distance. Portions are fractions of the initial position size.
func Manage(p ExitState, price, atr float64) ExitDecision {
	hold := ExitDecision{Action: ActionHold, NewStop: p.StopLoss}
	risk := math.Abs(p.Entry - p.InitialStopLoss)
	side := p.Direction.Sign()
	if risk == 0 || side == 0 {
		return hold
	}
	if atr <= 0 {
		atr = risk
	}
	r := (price - p.Entry) * side / risk

	if p.PartsTaken < len(stages) {
		st := stages[p.PartsTaken]
		if r >= st.trigger {
			d := ExitDecision{
				Action:       ActionPartialClose,
				NewStop:      tighten(p.StopLoss, p.Entry+side*risk*st.stop, side),
				ClosePortion: st.portion,
				RLevel:       st.trigger,
				Trailing:     st.target == 0,
			}
			if st.target > 0 {
				d.NewTarget = p.Entry + side*risk*st.target
			}
			return d
		}
	}

	switch {
	case p.PartsTaken >= len(stages) && r >= 3:
		return ExitDecision{
			Action:   ActionTrail,
			NewStop:  tighten(p.StopLoss, price-side*atr*runnerTrailATR, side),
			RLevel:   r,
			Trailing: true,
		}
	case p.PartsTaken < len(stages) && r >= earlyTrailR:
		hold.NewStop = tighten(p.StopLoss, price-side*atr*earlyTrailATR, side)
		hold.RLevel = r
		if hold.NewStop != p.StopLoss {
			hold.Action = ActionTrail
		}
		return hold
	}
	return hold
}

// tighten returns the more protective of the current and proposed stops.
func tighten(current, proposed, side float64) float64 {
	if side > 0 {
		return math.Max(current, proposed)
	}
	return math.Min(current, proposed)
}

package model

import (
	"math"
	"time"
)

// ExitReason records why a position (or part of it) was closed.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitEndOfData  ExitReason = "end_of_data"
	ExitPartial    ExitReason = "partial_close"
	ExitManual     ExitReason = "manual"
)

// Fill is one partial close of a position.
type Fill struct {
	Time   time.Time  `json:"time"`
	Price  float64    `json:"price"`
	Size   float64    `json:"size"`
	PnL    float64    `json:"pnl"`
	RLevel float64    `json:"r_level"`
	Reason ExitReason `json:"reason"`
}

// Trade is a position owned by the simulator or paper runner while open
// and an immutable ledger record once closed.
type Trade struct {
	ID              int        `json:"id"`
	RunID           string     `json:"run_id,omitempty"`
	Symbol          string     `json:"symbol,omitempty"`
	Direction       Direction  `json:"direction"`
	Signal          SignalType `json:"signal"`
	Confidence      float64    `json:"confidence"`
	EntryPrice      float64    `json:"entry_price"`
	InitialStopLoss float64    `json:"initial_stop_loss"`
	StopLoss        float64    `json:"stop_loss"`
	TakeProfit      float64    `json:"take_profit"`
	InitialSize     float64    `json:"initial_size"`
	Size            float64    `json:"size"`
	EntryTime       time.Time  `json:"entry_time"`
	Open            bool       `json:"is_open"`
	ExitPrice       float64    `json:"exit_price"`
	ExitTime        time.Time  `json:"exit_time"`
	ExitReason      ExitReason `json:"exit_reason"`
	PartsTaken      int        `json:"parts_taken"`
	Trailing        bool       `json:"trailing"`
	Fills           []Fill     `json:"fills,omitempty"`
	Commission      float64    `json:"commission"`
	PnL             float64    `json:"pnl"`
	PnLPct          float64    `json:"pnl_pct"`
	RMultiple       float64    `json:"r_multiple"`
	MaxFavorable    float64    `json:"max_favorable"`
	MaxAdverse      float64    `json:"max_adverse"`
}

// Risk is the initial per-unit risk distance.
func (t *Trade) Risk() float64 {
	d := t.EntryPrice - t.InitialStopLoss
	if d < 0 {
		return -d
	}
	return d
}

// Unrealized is the open PnL of the remaining size at price.
func (t *Trade) Unrealized(price float64) float64 {
	if !t.Open {
		return 0
	}
	return (price - t.EntryPrice) * t.Direction.Sign() * t.Size
}

// Track widens the maximum favourable and adverse excursions with a candle range.
func (t *Trade) Track(high, low float64) {
	if t.Direction == DirectionLong {
		t.MaxFavorable = math.Max(t.MaxFavorable, high-t.EntryPrice)
		t.MaxAdverse = math.Max(t.MaxAdverse, t.EntryPrice-low)
		return
	}
	t.MaxFavorable = math.Max(t.MaxFavorable, t.EntryPrice-low)
	t.MaxAdverse = math.Max(t.MaxAdverse, high-t.EntryPrice)
}

// StopHit reports whether a candle range touches the stop.
func (t *Trade) StopHit(high, low float64) bool {
	if t.Direction == DirectionLong {
		return low <= t.StopLoss
	}
	return high >= t.StopLoss
}

// TargetHit reports whether a candle range touches the take-profit. A zero
// target never fills.
func (t *Trade) TargetHit(high, low float64) bool {
	if t.TakeProfit <= 0 {
		return false
	}
	if t.Direction == DirectionLong {
		return high >= t.TakeProfit
	}
	return low <= t.TakeProfit
}

// Reduce closes size units at price and returns the PnL net of commission.
// Commission is charged round-trip on the absolute gross PnL of the fill.
func (t *Trade) Reduce(size, price float64, at time.Time, reason ExitReason, rLevel, commission float64) float64 {
	size = math.Min(size, t.Size)
	gross := (price - t.EntryPrice) * t.Direction.Sign() * size
	cost := math.Abs(gross) * commission * 2
	t.Fills = append(t.Fills, Fill{Time: at, Price: price, Size: size, PnL: gross, RLevel: rLevel, Reason: reason})
	t.Size -= size
	t.Commission += cost
	t.PnL += gross - cost
	return gross - cost
}

// Close exits the remaining size and finalizes the record. PnLPct and RMultiple
// are measured on the gross PnL against the initial size.
func (t *Trade) Close(price float64, at time.Time, reason ExitReason, commission float64) float64 {
	var rLevel float64
	if r := t.Risk(); r > 0 {
		rLevel = (price - t.EntryPrice) * t.Direction.Sign() / r
	}
	net := t.Reduce(t.Size, price, at, reason, rLevel, commission)
	t.Size = 0
	t.Open = false
	t.ExitPrice = price
	t.ExitTime = at
	t.ExitReason = reason

	gross := t.PnL + t.Commission
	if t.EntryPrice > 0 && t.InitialSize > 0 {
		t.PnLPct = gross / (t.EntryPrice * t.InitialSize) * 100
	}
	if r := t.Risk(); r > 0 && t.InitialSize > 0 {
		t.RMultiple = gross / (r * t.InitialSize)
	}
	return net
}

// EquityPoint is one sample of the simulated equity curve.
type EquityPoint struct {
	Time    time.Time `json:"timestamp"`
	Equity  float64   `json:"equity"`
	Balance float64   `json:"balance"`
}

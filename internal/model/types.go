// Package model defines shared data types used across all go-smc modules.
package model

import "time"

// Direction represents a position direction.
type Direction string

const (
	DirectionNone  Direction = ""
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Sign returns +1 for long, -1 for short and 0 otherwise.
func (d Direction) Sign() float64 {
	switch d {
	case DirectionLong:
		return 1
	case DirectionShort:
		return -1
	}
	return 0
}

// Trend represents a market structure bias.
type Trend string

const (
	TrendNeutral Trend = "neutral"
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
)

// Code maps a trend to +1, -1 or 0.
func (t Trend) Code() float64 {
	switch t {
	case TrendBullish:
		return 1
	case TrendBearish:
		return -1
	}
	return 0
}

// Matches reports whether the trend agrees with a position direction.
func (t Trend) Matches(d Direction) bool {
	return (t == TrendBullish && d == DirectionLong) || (t == TrendBearish && d == DirectionShort)
}

// Opposes reports whether the trend contradicts a position direction.
func (t Trend) Opposes(d Direction) bool {
	return (t == TrendBearish && d == DirectionLong) || (t == TrendBullish && d == DirectionShort)
}

// Zone represents the position of price within the current swing range.
type Zone string

const (
	ZonePremium        Zone = "premium"
	ZoneSlightPremium  Zone = "slight_premium"
	ZoneEquilibrium    Zone = "equilibrium"
	ZoneSlightDiscount Zone = "slight_discount"
	ZoneDiscount       Zone = "discount"
)

// Code maps a zone to the numeric feature encoding.
func (z Zone) Code() float64 {
	switch z {
	case ZonePremium:
		return 1
	case ZoneSlightPremium:
		return 0.5
	case ZoneSlightDiscount:
		return -0.5
	case ZoneDiscount:
		return -1
	}
	return 0
}

// Discounted reports whether the zone favours longs.
func (z Zone) Discounted() bool {
	return z == ZoneDiscount || z == ZoneSlightDiscount
}

// Premium reports whether the zone favours shorts.
func (z Zone) Premium() bool {
	return z == ZonePremium || z == ZoneSlightPremium
}

// Candle is one OHLCV bucket.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Bullish reports a close strictly above the open.
func (c Candle) Bullish() bool { return c.Close > c.Open }

// Bearish reports a close strictly below the open.
func (c Candle) Bearish() bool { return c.Close < c.Open }

// Range returns high minus low.
func (c Candle) Range() float64 { return c.High - c.Low }

// SwingKind distinguishes swing highs from swing lows.
type SwingKind string

const (
	SwingHigh SwingKind = "high"
	SwingLow  SwingKind = "low"
)

// SwingPoint is a confirmed local extreme.
type SwingPoint struct {
	Index int       `json:"index"`
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
	Kind  SwingKind `json:"kind"`
}

// StructureEventType names a break-of-structure or change-of-character event.
type StructureEventType string

const (
	BullishBOS   StructureEventType = "bullish_bos"
	BearishBOS   StructureEventType = "bearish_bos"
	BullishCHoCH StructureEventType = "bullish_choch"
	BearishCHoCH StructureEventType = "bearish_choch"
)

// StructureEvent is a single BOS or CHoCH occurrence.
type StructureEvent struct {
	Type  StructureEventType `json:"type"`
	Level float64            `json:"level"`
	Time  time.Time          `json:"time"`
}

// Bullish reports whether the event points up.
func (e StructureEvent) Bullish() bool {
	return e.Type == BullishBOS || e.Type == BullishCHoCH
}

// StructureState is the outcome of one structure analysis.
type StructureState struct {
	Trend      Trend            `json:"trend"`
	Strength   int              `json:"strength"`
	BOS        []StructureEvent `json:"bos"`
	CHoCH      []StructureEvent `json:"choch"`
	LastHigh   float64          `json:"lastHigh"`
	LastLow    float64          `json:"lastLow"`
	SwingHighs []SwingPoint     `json:"-"`
	SwingLows  []SwingPoint     `json:"-"`
}

// PremiumDiscount describes where the close sits inside the swing range.
type PremiumDiscount struct {
	Zone        Zone    `json:"zone"`
	Level       float64 `json:"level"`
	Equilibrium float64 `json:"equilibrium"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
}

// Session is the time-of-day liquidity weighting.
type Session struct {
	Name    string  `json:"name"`
	Score   float64 `json:"score"`
	Quality string  `json:"quality"`
}

// Session qualities.
const (
	QualityBest  = "BEST"
	QualityGreat = "GREAT"
	QualityGood  = "GOOD"
	QualityAvoid = "AVOID"
)

// WSMessage represents a WebSocket message sent to dashboard clients.
type WSMessage struct {
	Type      string    `json:"type"` // signal, trade, status
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// APIResponse is the standard REST API response envelope.
type APIResponse struct {
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

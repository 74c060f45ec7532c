package model

import "time"

// Block is a scored order block.
type Block struct {
	Direction  Trend     `json:"direction"`
	Top        float64   `json:"top"`
	Bottom     float64   `json:"bottom"`
	Midpoint   float64   `json:"midpoint"`
	Time       time.Time `json:"time"`
	Index      int       `json:"index"`
	Volume     float64   `json:"volume"`
	VolRatio   float64   `json:"volRatio"`
	HasGap     bool      `json:"hasGap"`
	GapSizePct float64   `json:"gapSizePct"`
	BodyRatio  float64   `json:"bodyRatio"`
	MoveRatio  float64   `json:"moveRatio"`
	Touches    int       `json:"touches"`
	Fresh      bool      `json:"fresh"`
	Mitigated  bool      `json:"mitigated"`
	// LiquidityAhead is set when equal highs/lows sit between price and the block.
	LiquidityAhead bool    `json:"liquidityAhead"`
	InHTFZone      bool    `json:"inHtfZone"`
	Score          float64 `json:"score"`
}

// Contains reports whether price lies inside [Bottom, Top].
func (b Block) Contains(price float64) bool {
	return b.Bottom <= price && price <= b.Top
}

// LiquiditySide is the side of resting stop orders.
type LiquiditySide string

const (
	BuySide  LiquiditySide = "buy_side"
	SellSide LiquiditySide = "sell_side"
)

// Pool labels.
const (
	LabelEqualHighs   = "EQH"
	LabelEqualLows    = "EQL"
	LabelPriorDayHigh = "PDH"
	LabelPriorDayLow  = "PDL"
)

// LiquidityPool is a cluster of equal highs/lows or a prior-day extreme.
type LiquidityPool struct {
	Side    LiquiditySide `json:"side"`
	Level   float64       `json:"level"`
	Touches int           `json:"touches"`
	Label   string        `json:"label"`
}

// Sweep is a pierce-and-reject of a liquidity pool.
type Sweep struct {
	Direction Trend     `json:"direction"`
	Level     float64   `json:"level"`
	Time      time.Time `json:"time"`
	Label     string    `json:"label"`
}

// FairValueGap is an unfilled three-candle imbalance.
type FairValueGap struct {
	Direction Trend     `json:"direction"`
	Top       float64   `json:"top"`
	Bottom    float64   `json:"bottom"`
	Midpoint  float64   `json:"midpoint"`
	SizePct   float64   `json:"sizePct"`
	Time      time.Time `json:"time"`
}

// Contains reports whether price lies inside the gap.
func (g FairValueGap) Contains(price float64) bool {
	return g.Bottom <= price && price <= g.Top
}

// ZoneSide marks a volume-profile band as demand (below the point of control) or supply.
type ZoneSide string

const (
	Demand ZoneSide = "demand"
	Supply ZoneSide = "supply"
)

// NodeKind classifies a volume-profile band.
type NodeKind string

const (
	LowVolumeNode  NodeKind = "lvn"
	HighVolumeNode NodeKind = "hvn"
)

// ProfileZone is a low- or high-volume band of the volume profile.
type ProfileZone struct {
	Side     ZoneSide `json:"side"`
	Node     NodeKind `json:"node"`
	Low      float64  `json:"low"`
	High     float64  `json:"high"`
	Mid      float64  `json:"mid"`
	Volume   float64  `json:"volume"`
	Strength float64  `json:"strength"`
}

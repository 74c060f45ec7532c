package model

import "time"

// SignalType is the tagged outcome of a confluence analysis.
type SignalType string

const (
	NoSignal   SignalType = "NO_SIGNAL"
	Buy        SignalType = "BUY"
	StrongBuy  SignalType = "STRONG_BUY"
	Sell       SignalType = "SELL"
	StrongSell SignalType = "STRONG_SELL"
)

// Tradeable reports whether the signal asks for a position.
func (s SignalType) Tradeable() bool {
	return s == Buy || s == StrongBuy || s == Sell || s == StrongSell
}

// Strong reports the STRONG_ variants.
func (s SignalType) Strong() bool {
	return s == StrongBuy || s == StrongSell
}

// Direction returns the position direction implied by the signal.
func (s SignalType) Direction() Direction {
	switch s {
	case Buy, StrongBuy:
		return DirectionLong
	case Sell, StrongSell:
		return DirectionShort
	}
	return DirectionNone
}

// Analysis modes.
const (
	ModePro = "pro"
	ModeMTF = "mtf"
)

// Signal carries a directional decision with its levels.
type Signal struct {
	Type       SignalType `json:"signal"`
	Direction  Direction  `json:"direction,omitempty"`
	Entry      float64    `json:"entry,omitempty"`
	StopLoss   float64    `json:"stopLoss,omitempty"`
	TakeProfit float64    `json:"takeProfit,omitempty"`
	Confidence float64    `json:"confidence"`
	// BlockScore is the score of the order block used as entry, if any.
	BlockScore float64 `json:"blockScore,omitempty"`
}

// Valid reports a tradeable signal with usable levels.
func (s Signal) Valid() bool {
	return s.Type.Tradeable() && s.Entry > 0 && s.StopLoss > 0 && s.TakeProfit > 0
}

// ProAnalysis is the breakdown of a single-timeframe analysis.
type ProAnalysis struct {
	Structure     Trend   `json:"structure"`
	HTFBias       Trend   `json:"htfBias"`
	Blocks        int     `json:"blocks"`
	Sweeps        int     `json:"sweeps"`
	Gaps          int     `json:"gaps"`
	Zone          Zone    `json:"zone"`
	Session       Session `json:"session"`
	ProfileZones  int     `json:"profileZones"`
	Bull          float64 `json:"bull"`
	Bear          float64 `json:"bear"`
	BestBullBlock *Block  `json:"bestBullBlock,omitempty"`
	BestBearBlock *Block  `json:"bestBearBlock,omitempty"`
}

// DirectionBias is the slowest-timeframe assessment. Strong is set on a break of structure.
type DirectionBias struct {
	Trend    Trend `json:"trend"`
	Strong   bool  `json:"strong"`
	Strength int   `json:"strength"`
	Zone     Zone  `json:"zone"`
}

// Label renders the bias as neutral, bullish, strong_bullish and so on.
func (b DirectionBias) Label() string {
	if b.Strong {
		return "strong_" + string(b.Trend)
	}
	return string(b.Trend)
}

// StructureAssessment is the middle-timeframe assessment.
type StructureAssessment struct {
	Trend    Trend            `json:"trend"`
	Strength int              `json:"strength"`
	Blocks   []Block          `json:"blocks"`
	BOS      []StructureEvent `json:"bos"`
	CHoCH    []StructureEvent `json:"choch"`
	Gaps     []FairValueGap   `json:"gaps"`
	KeyBlock *Block           `json:"keyBlock,omitempty"`
}

// EntryAssessment is the entry-timeframe trigger.
type EntryAssessment struct {
	Signal
	Bull     float64  `json:"bull"`
	Bear     float64  `json:"bear"`
	Triggers []string `json:"triggers"`
}

// SniperCheck is the fastest-timeframe confirmation.
type SniperCheck struct {
	Confirmed bool    `json:"confirmed"`
	Momentum  Trend   `json:"momentum"`
	RSI       float64 `json:"rsi"`
	Volume    bool    `json:"volumeConfirmed"`
	Direction Trend   `json:"direction"`
}

// MTFAnalysis is the four-timeframe breakdown.
type MTFAnalysis struct {
	Direction       DirectionBias       `json:"direction"`
	Structure       StructureAssessment `json:"structure"`
	Entry           EntryAssessment     `json:"entry"`
	Sniper          SniperCheck         `json:"sniper"`
	ConfluenceScore float64             `json:"confluenceScore"`
}

// Result is the stateless output of one analysis call.
type Result struct {
	Signal
	Mode     string       `json:"mode"`
	Time     time.Time    `json:"time"`
	Pro      *ProAnalysis `json:"pro,omitempty"`
	MTF      *MTFAnalysis `json:"mtf,omitempty"`
	Features Features     `json:"features"`
	// ClassifierConfidence is the secondary classifier's confidence used for sizing.
	ClassifierConfidence float64 `json:"classifierConfidence"`
	// Vetoed is set when the classifier rejected an otherwise tradeable signal.
	Vetoed bool `json:"vetoed,omitempty"`
}

// Features is the fixed-schema numeric record handed to the classifier.
type Features struct {
	RSI               float64 `json:"rsi"`
	ATRPct            float64 `json:"atr_pct"`
	VolRatio          float64 `json:"vol_ratio"`
	PctChange1        float64 `json:"pct_change_1"`
	PctChange5        float64 `json:"pct_change_5"`
	MACD              float64 `json:"macd"`
	Trend             float64 `json:"trend"`
	HTFTrend          float64 `json:"htf_trend"`
	StructureStrength float64 `json:"structure_strength"`
	BlockCount        float64 `json:"ob_count"`
	SweepCount        float64 `json:"sweep_count"`
	GapCount          float64 `json:"fvg_count"`
	Zone              float64 `json:"zone"`
	KillZone          float64 `json:"kill_zone"`
	BullScore         float64 `json:"bull_score"`
	BearScore         float64 `json:"bear_score"`
	BlockDistance     float64 `json:"ob_distance"`
	SpreadScore       float64 `json:"spread_score"`
}

// Map returns the features keyed by their schema names.
func (f Features) Map() map[string]float64 {
	return map[string]float64{
		"rsi":                f.RSI,
		"atr_pct":            f.ATRPct,
		"vol_ratio":          f.VolRatio,
		"pct_change_1":       f.PctChange1,
		"pct_change_5":       f.PctChange5,
		"macd":               f.MACD,
		"trend":              f.Trend,
		"htf_trend":          f.HTFTrend,
		"structure_strength": f.StructureStrength,
		"ob_count":           f.BlockCount,
		"sweep_count":        f.SweepCount,
		"fvg_count":          f.GapCount,
		"zone":               f.Zone,
		"kill_zone":          f.KillZone,
		"bull_score":         f.BullScore,
		"bear_score":         f.BearScore,
		"ob_distance":        f.BlockDistance,
		"spread_score":       f.SpreadScore,
	}
}

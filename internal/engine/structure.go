package engine

import (
	"go-smc/internal/model"
)

// StructureAnalyzer extracts swing points and classifies market structure.
// It holds no state between calls.
type StructureAnalyzer struct {
	lookback int
}

// NewStructureAnalyzer creates an analyzer confirming swings over lookback bars on each side.
func NewStructureAnalyzer(lookback int) *StructureAnalyzer {
	if lookback < 1 {
		lookback = 1
	}
	return &StructureAnalyzer{lookback: lookback}
}

// Lookback returns the swing confirmation window.
func (a *StructureAnalyzer) Lookback() int {
	return a.lookback
}

// FindSwings returns swing highs and swing lows in time order. A candle is a swing high
// when its high is strictly greater than every high within lookback bars on both sides.
func (a *StructureAnalyzer) FindSwings(candles []model.Candle) (swingHighs, swingLows []model.SwingPoint) {
	lb := a.lookback
	for i := lb; i < len(candles)-lb; i++ {
		h, l := candles[i].High, candles[i].Low
		isHigh, isLow := true, true
		for j := 1; j <= lb && (isHigh || isLow); j++ {
			if candles[i-j].High >= h || candles[i+j].High >= h {
				isHigh = false
			}
			if candles[i-j].Low <= l || candles[i+j].Low <= l {
				isLow = false
			}
		}
		if isHigh {
			swingHighs = append(swingHighs, model.SwingPoint{Index: i, Time: candles[i].Time, Price: h, Kind: model.SwingHigh})
		}
		if isLow {
			swingLows = append(swingLows, model.SwingPoint{Index: i, Time: candles[i].Time, Price: l, Kind: model.SwingLow})
		}
	}
	return swingHighs, swingLows
}

// DetectStructure classifies trend, break of structure and change of character.
// Fewer than three swing highs or three swing lows yields a neutral state.
func (a *StructureAnalyzer) DetectStructure(candles []model.Candle) model.StructureState {
	sh, sl := a.FindSwings(candles)
	state := model.StructureState{Trend: model.TrendNeutral, SwingHighs: sh, SwingLows: sl}
	if len(sh) < 3 || len(sl) < 3 {
		return state
	}

	h := prices(sh)
	l := prices(sl)
	hh, lh := countSteps(h)
	hl, ll := countSteps(l)
	bull, bear := hh+hl, lh+ll
	switch {
	case bull >= 3 && bull > bear:
		state.Trend, state.Strength = model.TrendBullish, bull
	case bear >= 3 && bear > bull:
		state.Trend, state.Strength = model.TrendBearish, bear
	}

	lastHigh, lastLow := sh[len(sh)-1], sl[len(sl)-1]
	state.LastHigh, state.LastLow = lastHigh.Price, lastLow.Price

	price := candles[len(candles)-1].Close
	if price > lastHigh.Price {
		state.BOS = append(state.BOS, model.StructureEvent{Type: model.BullishBOS, Level: lastHigh.Price, Time: lastHigh.Time})
	}
	if price < lastLow.Price {
		state.BOS = append(state.BOS, model.StructureEvent{Type: model.BearishBOS, Level: lastLow.Price, Time: lastLow.Time})
	}

	nh, nl := len(h), len(l)
	if h[nh-3] > h[nh-2] && l[nl-1] > l[nl-2] && h[nh-1] > h[nh-2] {
		state.CHoCH = append(state.CHoCH, model.StructureEvent{Type: model.BullishCHoCH, Level: h[nh-2], Time: lastHigh.Time})
	}
	if l[nl-3] < l[nl-2] && h[nh-1] < h[nh-2] && l[nl-1] < l[nl-2] {
		state.CHoCH = append(state.CHoCH, model.StructureEvent{Type: model.BearishCHoCH, Level: l[nl-2], Time: lastLow.Time})
	}
	return state
}

// PremiumDiscount locates the last close inside [last swing low, last swing high].
func (a *StructureAnalyzer) PremiumDiscount(candles []model.Candle) model.PremiumDiscount {
	sh, sl := a.FindSwings(candles)
	return premiumDiscount(candles, sh, sl)
}

func premiumDiscount(candles []model.Candle, sh, sl []model.SwingPoint) model.PremiumDiscount {
	eq := model.PremiumDiscount{Zone: model.ZoneEquilibrium, Level: 0.5}
	if len(sh) == 0 || len(sl) == 0 {
		return eq
	}
	high, low := sh[len(sh)-1].Price, sl[len(sl)-1].Price
	r := high - low
	if r == 0 {
		return eq
	}
	p := (candles[len(candles)-1].Close - low) / r
	out := model.PremiumDiscount{Level: p, Equilibrium: low + r*0.5, High: high, Low: low}
	switch {
	case p > 0.7:
		out.Zone = model.ZonePremium
	case p < 0.3:
		out.Zone = model.ZoneDiscount
	case p > 0.5:
		out.Zone = model.ZoneSlightPremium
	case p < 0.5:
		out.Zone = model.ZoneSlightDiscount
	default:
		out.Zone = model.ZoneEquilibrium
	}
	return out
}

// countSteps compares each of the last (up to five) swings with its predecessor
// and returns how many stepped up and how many stepped down.
func countSteps(v []float64) (up, down int) {
	n := len(v)
	for i := 1; i < min(5, n); i++ {
		cur, prev := v[n-i], v[n-i-1]
		if cur > prev {
			up++
		} else if cur < prev {
			down++
		}
	}
	return up, down
}

func prices(points []model.SwingPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Price
	}
	return out
}

package engine

import (
	"math"

	"go-smc/internal/model"
)

const minProfileCandles = 10

// VolumeProfile splits the observed price range into levels equal bands, spreads each
// candle's volume over the bands it overlaps and returns the low- and high-volume bands.
// Bands below the point of control are demand, the rest supply.
func VolumeProfile(candles []model.Candle, levels int) []model.ProfileZone {
	if len(candles) < minProfileCandles || levels <= 0 {
		return nil
	}
	high := maxVal(highs(candles))
	low := minVal(lows(candles))
	span := high - low
	if span == 0 {
		return nil
	}

	size := span / float64(levels)
	vols := make([]float64, levels)
	for i := range vols {
		bandLow := low + float64(i)*size
		bandHigh := bandLow + size
		for _, c := range candles {
			if c.Low > bandHigh || c.High < bandLow {
				continue
			}
			r := c.Range()
			if r <= 0 {
				continue
			}
			overlap := math.Max(0, math.Min(c.High, bandHigh)-math.Max(c.Low, bandLow))
			vols[i] += c.Volume * overlap / r
		}
	}

	avg := mean(vols)
	poc := 0
	for i, v := range vols {
		if v > vols[poc] {
			poc = i
		}
	}
	pocMid := low + (float64(poc)+0.5)*size

	var zones []model.ProfileZone
	for i, v := range vols {
		var node model.NodeKind
		switch {
		case v < avg*0.5:
			node = model.LowVolumeNode
		case v > avg*1.5:
			node = model.HighVolumeNode
		default:
			continue
		}
		bandLow := low + float64(i)*size
		mid := bandLow + size/2
		side := model.Supply
		if mid < pocMid {
			side = model.Demand
		}
		zones = append(zones, model.ProfileZone{
			Side:     side,
			Node:     node,
			Low:      bandLow,
			High:     bandLow + size,
			Mid:      mid,
			Volume:   v,
			Strength: v / math.Max(avg, 1),
		})
	}
	return zones
}

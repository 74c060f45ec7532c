package engine

import (
	"time"

	"go-smc/internal/model"
)

// SessionAt scores the trading session containing t by its UTC hour.
func SessionAt(t time.Time) model.Session {
	h := t.UTC().Hour()
	switch {
	case h >= 13 && h < 16:
		return model.Session{Name: "London-NY Overlap", Score: 2.0, Quality: model.QualityBest}
	case h >= 8 && h < 10:
		return model.Session{Name: "London Open", Score: 1.5, Quality: model.QualityGreat}
	case h >= 10 && h < 13:
		return model.Session{Name: "London", Score: 1.0, Quality: model.QualityGood}
	case h >= 16 && h < 21:
		return model.Session{Name: "New York", Score: 1.0, Quality: model.QualityGood}
	case h < 8:
		return model.Session{Name: "Asia", Score: 0, Quality: model.QualityAvoid}
	default:
		return model.Session{Name: "Off", Score: -0.5, Quality: model.QualityAvoid}
	}
}

package storage

import (
	"strings"
	"testing"
	"time"

	"go-smc/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func TestCandleQuery(t *testing.T) {
	q := candleQuery("market", "BTCUSDT", "15m", t0, t0.Add(24*time.Hour), 300)

	assert.Contains(t, q, `from(bucket: "market")`)
	assert.Contains(t, q, "range(start: 2024-03-04T00:00:00Z, stop: 2024-03-05T00:00:00Z)")
	assert.Contains(t, q, `r.symbol == "BTCUSDT" and r.timeframe == "15m"`)
	assert.Contains(t, q, "limit(n: 300)")

	unbounded := candleQuery("market", `x") |> drop(`, "1h", t0, t0.Add(time.Hour), 0)
	assert.NotContains(t, unbounded, "limit(")
	assert.Contains(t, unbounded, `"x\") |> drop("`)
}

func TestPoints(t *testing.T) {
	c := model.Candle{Time: t0, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}
	p := candlePoint("BTCUSDT", "15m", c)
	assert.Equal(t, measurementCandles, p.Name())
	assert.Equal(t, t0, p.Time())
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{"symbol": "BTCUSDT", "timeframe": "15m"}, tags)
	require.Len(t, p.FieldList(), 5)

	e := equityPoint("run-1", "BTCUSDT", model.EquityPoint{Time: t0, Equity: 10100, Balance: 10000})
	assert.Equal(t, measurementEquity, e.Name())
	vals := map[string]any{}
	for _, f := range e.FieldList() {
		vals[f.Key] = f.Value
	}
	assert.Equal(t, 10100.0, vals["equity"])

	res := model.Result{Signal: model.Signal{Type: model.Buy, Entry: 100, Confidence: 7}, Mode: model.ModeMTF, Time: t0}
	s := signalPoint("BTCUSDT", res)
	assert.Equal(t, measurementSignals, s.Name())
	var names []string
	for _, tag := range s.TagList() {
		names = append(names, tag.Key+"="+tag.Value)
	}
	assert.Equal(t, "mode=mtf,signal=BUY,symbol=BTCUSDT", strings.Join(names, ","))
}

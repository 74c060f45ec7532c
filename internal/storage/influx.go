package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go-smc/internal/config"
	"go-smc/internal/market"
	"go-smc/internal/model"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	measurementCandles = "candles"
	measurementEquity  = "equity"
	measurementSignals = "signals"

	// candleLookback bounds Candles queries that have no explicit range.
	candleLookback = 400 * 24 * time.Hour
)

// Influx is the Series store and a read-back market.HistoryFeed.
type Influx struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	query  api.QueryAPI
	bucket string
}

// NewInflux connects and checks the server health.
func NewInflux(ctx context.Context, cfg config.InfluxConfig) (*Influx, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb health: %w", err)
	}
	if health == nil || health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("influxdb not ready: %+v", health)
	}
	return &Influx{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		query:  client.QueryAPI(cfg.Org),
		bucket: cfg.Bucket,
	}, nil
}

// Close releases the client.
func (s *Influx) Close() {
	s.client.Close()
}

// Name implements market.Feed.
func (s *Influx) Name() string { return "influx" }

// WriteCandles stores candles tagged by symbol and timeframe.
func (s *Influx) WriteCandles(ctx context.Context, symbol, timeframe string, candles []model.Candle) error {
	points := make([]*write.Point, 0, len(candles))
	for _, c := range candles {
		points = append(points, candlePoint(symbol, timeframe, c))
	}
	return s.writePoints(ctx, measurementCandles, points)
}

// WriteEquity stores an equity curve tagged by run and symbol.
func (s *Influx) WriteEquity(ctx context.Context, runID, symbol string, curve []model.EquityPoint) error {
	points := make([]*write.Point, 0, len(curve))
	for _, p := range curve {
		points = append(points, equityPoint(runID, symbol, p))
	}
	return s.writePoints(ctx, measurementEquity, points)
}

// WriteSignal stores one analysis result.
func (s *Influx) WriteSignal(ctx context.Context, symbol string, res model.Result) error {
	return s.writePoints(ctx, measurementSignals, []*write.Point{signalPoint(symbol, res)})
}

func (s *Influx) writePoints(ctx context.Context, measurement string, points []*write.Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := s.write.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("write %s: %w", measurement, err)
	}
	return nil
}

// Candles implements market.Feed with the latest limit stored candles.
func (s *Influx) Candles(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error) {
	now := time.Now().UTC()
	return s.readCandles(ctx, candleQuery(s.bucket, symbol, timeframe, now.Add(-candleLookback), now, limit))
}

// History implements market.HistoryFeed.
func (s *Influx) History(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]model.Candle, error) {
	return s.readCandles(ctx, candleQuery(s.bucket, symbol, timeframe, from, to.Add(time.Nanosecond), 0))
}

func (s *Influx) readCandles(ctx context.Context, flux string) ([]model.Candle, error) {
	result, err := s.query.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer result.Close()

	var out []model.Candle
	for result.Next() {
		rec := result.Record()
		c := model.Candle{Time: rec.Time().UTC()}
		c.Open, _ = rec.ValueByKey("open").(float64)
		c.High, _ = rec.ValueByKey("high").(float64)
		c.Low, _ = rec.ValueByKey("low").(float64)
		c.Close, _ = rec.ValueByKey("close").(float64)
		c.Volume, _ = rec.ValueByKey("volume").(float64)
		out = append(out, c)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read candles: %w", err)
	}
	return market.Normalize(out), nil
}

// candleQuery builds the Flux query for candles in [start, stop). A positive
// limit keeps the newest rows.
func candleQuery(bucket, symbol, timeframe string, start, stop time.Time, limit int) string {
	q := fmt.Sprintf(`from(bucket: %s)
	|> range(start: %s, stop: %s)
	|> filter(fn: (r) => r._measurement == %q)
	|> filter(fn: (r) => r.symbol == %s and r.timeframe == %s)
	|> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")`,
		strconv.Quote(bucket),
		start.UTC().Format(time.RFC3339Nano), stop.UTC().Format(time.RFC3339Nano),
		measurementCandles,
		strconv.Quote(symbol), strconv.Quote(timeframe),
	)
	if limit > 0 {
		q += fmt.Sprintf(`
	|> sort(columns: ["_time"], desc: true)
	|> limit(n: %d)`, limit)
	}
	return q
}

func candlePoint(symbol, timeframe string, c model.Candle) *write.Point {
	return influxdb2.NewPoint(measurementCandles,
		map[string]string{"symbol": symbol, "timeframe": timeframe},
		map[string]any{"open": c.Open, "high": c.High, "low": c.Low, "close": c.Close, "volume": c.Volume},
		c.Time,
	)
}

func equityPoint(runID, symbol string, p model.EquityPoint) *write.Point {
	return influxdb2.NewPoint(measurementEquity,
		map[string]string{"run_id": runID, "symbol": symbol},
		map[string]any{"equity": p.Equity, "balance": p.Balance},
		p.Time,
	)
}

func signalPoint(symbol string, res model.Result) *write.Point {
	return influxdb2.NewPoint(measurementSignals,
		map[string]string{"symbol": symbol, "mode": res.Mode, "signal": string(res.Type)},
		map[string]any{
			"entry":       res.Entry,
			"stop_loss":   res.StopLoss,
			"take_profit": res.TakeProfit,
			"confidence":  res.Confidence,
			"vetoed":      res.Vetoed,
		},
		res.Time,
	)
}

var (
	_ Series             = (*Influx)(nil)
	_ market.HistoryFeed = (*Influx)(nil)
	_ Ledger             = (*Postgres)(nil)
)

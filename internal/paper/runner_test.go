package paper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go-smc/internal/backtest"
	"go-smc/internal/config"
	"go-smc/internal/engine"
	"go-smc/internal/model"
	"go-smc/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func flat(n int, price float64) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = model.Candle{
			Time: t0.Add(time.Duration(i) * 15 * time.Minute),
			Open: price, High: price + 0.1, Low: price - 0.1, Close: price, Volume: 100,
		}
	}
	return out
}

type mapFeed struct {
	frames map[string][]model.Candle
	errs   map[string]error
}

func (f *mapFeed) Name() string { return "map" }

func (f *mapFeed) Candles(_ context.Context, _, tf string, _ int) ([]model.Candle, error) {
	if err := f.errs[tf]; err != nil {
		return nil, err
	}
	return f.frames[tf], nil
}

// vetoAll rejects every signal so tests control positions directly.
type vetoAll struct {
	outcomes int
}

func (v *vetoAll) Predict(model.Features) engine.Prediction {
	return engine.Prediction{Ready: true}
}

func (v *vetoAll) RecordAnalysis(model.Features, model.SignalType, float64) {}

func (v *vetoAll) RecordOutcome(float64, float64, model.Direction) { v.outcomes++ }

type recorder struct {
	mu    sync.Mutex
	types []string
}

func (r *recorder) Broadcast(msgType string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, msgType)
}

type memLedger struct {
	saved []model.Trade
	kinds []string
}

func (m *memLedger) SaveReport(context.Context, *backtest.Report) error { return nil }

func (m *memLedger) SaveTrade(_ context.Context, kind string, t model.Trade) error {
	m.kinds = append(m.kinds, kind)
	m.saved = append(m.saved, t)
	return nil
}

func (m *memLedger) Trades(context.Context, string, int) ([]model.Trade, error) { return m.saved, nil }

func (m *memLedger) Run(context.Context, string) (storage.Run, error) {
	return storage.Run{}, storage.ErrNotFound
}

func (m *memLedger) Runs(context.Context, int) ([]storage.Run, error) { return nil, nil }

func newRunner(t *testing.T, feed *mapFeed, opts Options) (*Runner, *vetoAll) {
	t.Helper()
	cfg := config.Default()
	cls := &vetoAll{}
	strategy := engine.NewStrategy(cfg.Strategy, cls, nil)
	return New(cfg, feed, strategy, opts), cls
}

func TestInterval(t *testing.T) {
	r, _ := newRunner(t, &mapFeed{}, Options{})
	assert.Equal(t, 890*time.Second, r.Interval())

	r.cfg.CycleSeconds = 5
	assert.Equal(t, 5*time.Second, r.Interval())
}

func TestStepFlatMarket(t *testing.T) {
	candles := flat(120, 100)
	feed := &mapFeed{frames: map[string][]model.Candle{"15m": candles, "4h": candles}}
	notes := &recorder{}
	r, _ := newRunner(t, feed, Options{Notifier: notes})

	require.NoError(t, r.Step(context.Background()))
	require.NoError(t, r.Step(context.Background()))

	st := r.Status()
	assert.Nil(t, st.Position)
	assert.Equal(t, 10000.0, st.Balance)
	assert.Equal(t, 10000.0, st.Equity)
	assert.Equal(t, "BTCUSDT", st.Symbol)
	assert.Equal(t, int64(2), st.Metrics.Cycles)
	assert.Zero(t, st.Metrics.Opened)
	assert.Equal(t, []string{MsgStatus, MsgStatus}, notes.types)
}

func TestStepEntryFrameRequired(t *testing.T) {
	feed := &mapFeed{errs: map[string]error{"15m": errors.New("down")}}
	r, _ := newRunner(t, feed, Options{})

	err := r.Step(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(1), r.Metrics().Errors)

	feed.errs = map[string]error{"1d": errors.New("down")}
	feed.frames = map[string][]model.Candle{"15m": flat(60, 100)}
	assert.NoError(t, r.Step(context.Background()), "higher frames are optional")

	feed.frames = nil
	feed.errs = nil
	assert.Error(t, r.Step(context.Background()), "empty entry frame")
}

func TestStepClosesOnStop(t *testing.T) {
	candles := flat(80, 100)
	candles[79].Low = 97
	feed := &mapFeed{frames: map[string][]model.Candle{"15m": candles}}
	ledger := &memLedger{}
	notes := &recorder{}
	r, cls := newRunner(t, feed, Options{Ledger: ledger, Notifier: notes})
	r.open = &model.Trade{
		ID: 1, RunID: r.sessionID, Symbol: "BTCUSDT", Direction: model.DirectionLong, Signal: model.Buy,
		EntryPrice: 100, InitialStopLoss: 98, StopLoss: 98, TakeProfit: 105,
		InitialSize: 10, Size: 10, EntryTime: t0, Open: true,
	}

	require.NoError(t, r.Step(context.Background()))

	assert.Nil(t, r.Status().Position)
	trades := r.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, model.ExitStopLoss, trades[0].ExitReason)
	assert.InDelta(t, -20.024, trades[0].PnL, 1e-9)
	assert.InDelta(t, 9979.976, r.Status().Balance, 1e-9)
	assert.Equal(t, 1, r.Status().Account.TotalTrades)
	assert.Equal(t, 1, cls.outcomes)

	require.Len(t, ledger.saved, 1)
	assert.Equal(t, storage.KindPaper, ledger.kinds[0])
	assert.Equal(t, []string{MsgTrade, MsgStatus}, notes.types)
}

func TestStepTakesPartial(t *testing.T) {
	candles := flat(80, 100)
	last := &candles[79]
	last.High, last.Close = 102.2, 102.1
	feed := &mapFeed{frames: map[string][]model.Candle{"15m": candles}}
	r, _ := newRunner(t, feed, Options{})
	r.cfg.Commission = 0
	r.open = &model.Trade{
		ID: 1, Direction: model.DirectionLong, Signal: model.Buy,
		EntryPrice: 100, InitialStopLoss: 98, StopLoss: 98, TakeProfit: 110,
		InitialSize: 10, Size: 10, EntryTime: t0, Open: true,
	}

	require.NoError(t, r.Step(context.Background()))

	pos := r.Status().Position
	require.NotNil(t, pos)
	assert.Equal(t, 1, pos.PartsTaken)
	assert.InDelta(t, 7, pos.Size, 1e-9)
	assert.Greater(t, pos.StopLoss, 98.0)
	assert.InDelta(t, 10006.3, r.Status().Balance, 1e-9)
}

func openLong(r *Runner) {
	r.open = &model.Trade{
		ID: 1, Direction: model.DirectionLong, Signal: model.Buy,
		EntryPrice: 100, InitialStopLoss: 98, StopLoss: 98, TakeProfit: 105,
		InitialSize: 10, Size: 10, EntryTime: t0, Open: true,
	}
}

func TestStepChecksFormingCandleEveryCycle(t *testing.T) {
	candles := flat(80, 100)
	feed := &mapFeed{frames: map[string][]model.Candle{"15m": candles}}
	r, _ := newRunner(t, feed, Options{})
	openLong(r)

	require.NoError(t, r.Step(context.Background()))
	require.NotNil(t, r.Status().Position)

	deeper := flat(80, 100)
	deeper[79].Low, deeper[79].Close = 97, 99.5
	feed.frames["15m"] = deeper
	require.NoError(t, r.Step(context.Background()))

	assert.Nil(t, r.Status().Position)
	trades := r.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, model.ExitStopLoss, trades[0].ExitReason)
	assert.Equal(t, 98.0, trades[0].ExitPrice)
}

func TestStepSettlesCompletedCandle(t *testing.T) {
	candles := flat(80, 100)
	feed := &mapFeed{frames: map[string][]model.Candle{"15m": candles}}
	r, _ := newRunner(t, feed, Options{})
	openLong(r)

	require.NoError(t, r.Step(context.Background()))
	require.NotNil(t, r.Status().Position)

	next := flat(81, 100)
	next[79].Low, next[79].Close = 97, 99.5
	next[80].Open, next[80].High, next[80].Low, next[80].Close = 99.5, 99.6, 99.4, 99.5
	feed.frames["15m"] = next
	require.NoError(t, r.Step(context.Background()))

	assert.Nil(t, r.Status().Position)
	trades := r.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, model.ExitStopLoss, trades[0].ExitReason)
	assert.True(t, trades[0].ExitTime.Equal(next[79].Time))
}

func TestRecentTradesCapped(t *testing.T) {
	r, _ := newRunner(t, &mapFeed{}, Options{})
	for i := 1; i <= recentCap+5; i++ {
		r.open = &model.Trade{ID: i, Direction: model.DirectionLong, EntryPrice: 100, InitialStopLoss: 99, StopLoss: 99, InitialSize: 1, Size: 1, Open: true}
		r.closeTrade(context.Background(), 101, t0.Add(time.Duration(i)*time.Hour), model.ExitTakeProfit)
	}
	trades := r.Trades()
	require.Len(t, trades, recentCap)
	assert.Equal(t, recentCap+5, trades[len(trades)-1].ID)
	assert.Equal(t, int64(recentCap+5), r.Metrics().Closed)
}

func TestRunStopsOnCancel(t *testing.T) {
	r, _ := newRunner(t, &mapFeed{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Run(ctx), context.Canceled)
	assert.Zero(t, r.Metrics().Cycles)
}

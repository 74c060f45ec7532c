package backtest

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"testing"
	"time"

	"go-smc/internal/config"
	"go-smc/internal/model"
	"go-smc/internal/risk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func flatCandles(n int, price float64) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = model.Candle{Time: t0.Add(time.Duration(i) * 15 * time.Minute), Open: price, High: price, Low: price, Close: price, Volume: 100}
	}
	return out
}

func newRun(balance float64) *run {
	return &run{id: "test", balance: balance, peak: balance, acct: risk.NewAccountState(balance), logger: zap.NewNop()}
}

func longTrade(size float64) *model.Trade {
	return &model.Trade{
		ID: 1, Direction: model.DirectionLong, Signal: model.Buy,
		EntryPrice: 100, InitialStopLoss: 98, StopLoss: 98, TakeProfit: 105,
		InitialSize: size, Size: size, EntryTime: t0, Open: true,
	}
}

func closed(id int, dir model.Direction, sig model.SignalType, pnl, r float64, reason model.ExitReason, entry time.Time) model.Trade {
	return model.Trade{
		ID: id, Direction: dir, Signal: sig, EntryPrice: 100, InitialStopLoss: 98, StopLoss: 98,
		PnL: pnl, RMultiple: r, ExitReason: reason, EntryTime: entry, ExitTime: entry.Add(time.Hour),
	}
}

func TestRun_FlatSeriesHasNoTrades(t *testing.T) {
	sim := New(config.Default(), nil, nil)

	rep := sim.Run(Input{Symbol: "BTCUSDT", Entry: flatCandles(200, 100)})

	assert.False(t, rep.HasTrades())
	assert.Equal(t, ErrNoTrades, rep.Error)
	assert.Empty(t, rep.Ledger)
	require.Len(t, rep.Equity, 150)
	for _, p := range rep.Equity {
		assert.Equal(t, 10000.0, p.Equity)
	}
	assert.NotEmpty(t, rep.RunID)
}

func TestRun_EmptyInput(t *testing.T) {
	rep := New(config.Default(), nil, nil).Run(Input{})
	assert.Equal(t, ErrNoTrades, rep.Error)
}

func TestCheckExits_StopBeforeTarget(t *testing.T) {
	sim := New(config.Default(), nil, nil)
	r := newRun(10000)
	r.open = longTrade(10)

	sim.checkExits(r, model.Candle{Time: t0, Open: 100, High: 110, Low: 90, Close: 100})

	require.Nil(t, r.open)
	require.Len(t, r.trades, 1)
	tr := r.trades[0]
	assert.Equal(t, model.ExitStopLoss, tr.ExitReason)
	assert.Equal(t, 98.0, tr.ExitPrice)
	// gross -20, commission 20*0.0006*2
	assert.InDelta(t, -20.024, tr.PnL, 1e-9)
	assert.InDelta(t, 9979.976, r.balance, 1e-9)
	assert.InDelta(t, -1.0, tr.RMultiple, 1e-9)
	assert.InDelta(t, 10.0, tr.MaxFavorable, 1e-9)
	assert.Equal(t, 1, r.acct.ConsecutiveLosses)
}

func TestCheckExits_TargetAndShort(t *testing.T) {
	sim := New(config.Default(), nil, nil)
	r := newRun(10000)
	r.open = longTrade(10)

	sim.checkExits(r, model.Candle{Time: t0, High: 106, Low: 99, Close: 105})
	require.Len(t, r.trades, 1)
	assert.Equal(t, model.ExitTakeProfit, r.trades[0].ExitReason)
	assert.InDelta(t, 2.5, r.trades[0].RMultiple, 1e-9)

	r.open = &model.Trade{
		ID: 2, Direction: model.DirectionShort, EntryPrice: 100, InitialStopLoss: 102, StopLoss: 102,
		TakeProfit: 95, InitialSize: 1, Size: 1, Open: true,
	}
	sim.checkExits(r, model.Candle{Time: t0, High: 101, Low: 99, Close: 100})
	assert.NotNil(t, r.open)
	sim.checkExits(r, model.Candle{Time: t0, High: 102.5, Low: 94, Close: 100})
	require.Len(t, r.trades, 2)
	assert.Equal(t, model.ExitStopLoss, r.trades[1].ExitReason)
}

func TestManage_PartialCloseAtOneR(t *testing.T) {
	sim := New(config.Default(), nil, nil)
	r := newRun(10000)
	r.open = longTrade(10)
	c := model.Candle{Time: t0, Open: 101, High: 102.5, Low: 101, Close: 102}

	sim.manage(r, []model.Candle{c}, c)

	tr := r.open
	require.NotNil(t, tr)
	assert.Equal(t, 1, tr.PartsTaken)
	assert.InDelta(t, 7.0, tr.Size, 1e-9)
	assert.InDelta(t, 100.2, tr.StopLoss, 1e-9)
	assert.InDelta(t, 104.0, tr.TakeProfit, 1e-9)
	require.Len(t, tr.Fills, 1)
	assert.Equal(t, model.ExitPartial, tr.Fills[0].Reason)
	// gross 3*2=6 less 6*0.0012 commission
	assert.InDelta(t, 10005.9928, r.balance, 1e-9)

	// the remaining size then exits at the raised stop
	sim.checkExits(r, model.Candle{Time: t0.Add(time.Hour), High: 101, Low: 100, Close: 100.5})
	require.Len(t, r.trades, 1)
	done := r.trades[0]
	assert.Equal(t, model.ExitStopLoss, done.ExitReason)
	assert.Len(t, done.Fills, 2)
	// gross 6 + 7*0.2 over risk 2 * initial size 10
	assert.InDelta(t, 7.4/20, done.RMultiple, 1e-9)
	assert.Greater(t, done.PnL, 0.0)
}

func TestOpen_AppliesSlippageAndSizing(t *testing.T) {
	sim := New(config.Default(), nil, nil)
	r := newRun(10000)
	res := model.Result{
		Signal:               model.Signal{Type: model.Buy, Direction: model.DirectionLong, Entry: 100, StopLoss: 98, TakeProfit: 105, Confidence: 1},
		ClassifierConfidence: 0.5,
	}

	sim.open(r, res, model.Candle{Time: t0})

	require.NotNil(t, r.open)
	assert.InDelta(t, 100.02, r.open.EntryPrice, 1e-9)
	assert.InDelta(t, 200/2.02, r.open.Size, 1e-6)
	assert.Equal(t, r.open.Size, r.open.InitialSize)
	assert.Equal(t, "test", r.open.RunID)

	// a missing stop is refused
	r = newRun(10000)
	res.StopLoss = 0
	sim.open(r, res, model.Candle{Time: t0})
	assert.Nil(t, r.open)
}

func TestMarkEquity_TracksDrawdown(t *testing.T) {
	r := newRun(1000)
	r.open = longTrade(10)

	r.markEquity(model.Candle{Time: t0, Close: 105})
	r.markEquity(model.Candle{Time: t0, Close: 99})
	r.markEquity(model.Candle{Time: t0, Close: 101})

	assert.Equal(t, 1050.0, r.peak)
	assert.InDelta(t, 60.0, r.mdd, 1e-9)
	assert.InDelta(t, 60.0/1050, r.mddPct, 1e-12)
	assert.Len(t, r.equity, 3)
}

func TestBuildReport_NoLosses(t *testing.T) {
	rep := BuildReport(ReportInput{
		InitialBalance: 1000,
		FinalBalance:   1150,
		Candles:        flatCandles(10, 100),
		Trades: []model.Trade{
			closed(1, model.DirectionLong, model.Buy, 100, 2, model.ExitTakeProfit, t0),
			closed(2, model.DirectionLong, model.StrongBuy, 50, 1, model.ExitTakeProfit, t0.AddDate(0, 1, 0)),
		},
	})

	require.True(t, rep.HasTrades())
	s := rep.Summary
	assert.Equal(t, 999.0, s.ProfitFactor)
	assert.Equal(t, 100.0, s.WinRate)
	assert.Equal(t, 15.0, s.TotalReturnPct)
	assert.Equal(t, 1.5, s.ExpectancyR)
	assert.Equal(t, 0.0, s.AvgLoss)
	assert.Equal(t, map[string]float64{"2024-03": 100, "2024-04": 50}, rep.MonthlyReturns)
	assert.Equal(t, 2, rep.DirectionStats.LongTrades)
	assert.Equal(t, 0.0, rep.DirectionStats.ShortWinRate)
}

func TestProfitFactor(t *testing.T) {
	assert.Equal(t, 999.0, profitFactor([]float64{10, 5}, nil))
	assert.Equal(t, 3.0, profitFactor([]float64{10, 5}, []float64{-5}))
	assert.Equal(t, 0.0, profitFactor([]float64{10}, []float64{0}), "break-even trade counts as a loss")
	assert.Equal(t, 0.0, profitFactor(nil, []float64{-4}))
}

func TestBuildReport_BreakEvenIsNotLossless(t *testing.T) {
	rep := BuildReport(ReportInput{
		InitialBalance: 1000,
		FinalBalance:   1100,
		Trades: []model.Trade{
			closed(1, model.DirectionLong, model.Buy, 100, 2, model.ExitTakeProfit, t0),
			closed(2, model.DirectionLong, model.Buy, 0, 0, model.ExitStopLoss, t0.Add(time.Hour)),
		},
	})

	s := rep.Summary
	assert.Equal(t, 1, s.LosingTrades)
	assert.NotEqual(t, 999.0, s.ProfitFactor)
	for _, issue := range Diagnose(rep) {
		assert.NotEqual(t, "LOSING_STRATEGY", issue.Type)
	}
}

func TestBuildReport_Mixed(t *testing.T) {
	rep := BuildReport(ReportInput{
		InitialBalance: 1000,
		FinalBalance:   1033.333,
		MaxDrawdown:    60,
		MaxDrawdownPct: 0.05,
		Trades: []model.Trade{
			closed(1, model.DirectionLong, model.Buy, 100, 2, model.ExitTakeProfit, t0),
			closed(2, model.DirectionShort, model.Sell, -40, -1, model.ExitStopLoss, t0),
			closed(3, model.DirectionShort, model.Sell, -26.66, -0.67, model.ExitStopLoss, t0),
		},
	})

	s := rep.Summary
	assert.Equal(t, 1033.33, s.FinalBalance)
	assert.Equal(t, 3, s.TotalTrades)
	assert.Equal(t, 1, s.WinningTrades)
	assert.Equal(t, 33.3, s.WinRate)
	assert.Equal(t, 1.5, s.ProfitFactor)
	assert.Equal(t, -33.33, s.AvgLoss)
	assert.Equal(t, 100.0, s.LargestWin)
	assert.Equal(t, -40.0, s.LargestLoss)
	assert.Equal(t, 5.0, s.MaxDrawdownPct)
	// (33.34/1000)/0.05
	assert.Equal(t, 0.67, s.CalmarRatio)
	assert.Equal(t, SignalStat{Trades: 2, Wins: 0, PnL: -66.66, WinRate: 0}, rep.SignalStats[model.Sell])
	assert.Equal(t, 100.0, rep.DirectionStats.LongWinRate)
	assert.Equal(t, -66.66, rep.DirectionStats.ShortPnL)
	require.Len(t, rep.Trades, 3)
	assert.Equal(t, -26.66, rep.Trades[2].PnL)
}

func TestRiskRatios(t *testing.T) {
	curve := []model.EquityPoint{
		{Time: t0, Equity: 90},
		{Time: t0.Add(20 * time.Hour), Equity: 100},
		{Time: t0.Add(30 * time.Hour), Equity: 110},
		{Time: t0.Add(50 * time.Hour), Equity: 115.5},
	}
	returns := dailyReturns(curve)
	require.Len(t, returns, 2)
	assert.InDelta(t, 0.1, returns[0], 1e-12)
	assert.InDelta(t, 0.05, returns[1], 1e-12)

	sharpe, sortino := riskRatios(returns)
	sd := math.Sqrt(2 * 0.025 * 0.025)
	assert.InDelta(t, 0.075/sd*math.Sqrt(365), sharpe, 1e-9)
	assert.Zero(t, sortino)

	sharpe, sortino = riskRatios([]float64{0.1})
	assert.Zero(t, sharpe)
	assert.Zero(t, sortino)

	_, sortino = riskRatios([]float64{0.05, -0.02, -0.04})
	assert.Less(t, sortino, 0.0)
}

func TestGradeSummary(t *testing.T) {
	g := GradeSummary(Summary{WinRate: 60, ProfitFactor: 2, TotalReturnPct: 100, MaxDrawdownPct: 5, SharpeRatio: 2})
	assert.Equal(t, Grade{Letter: "A+", Score: 100, Verdict: "EXCELLENT"}, g)

	g = GradeSummary(Summary{WinRate: 45, ProfitFactor: 1.3, TotalReturnPct: 12, MaxDrawdownPct: 18, SharpeRatio: 1.1})
	assert.Equal(t, 10+15+5+10+8, g.Score)
	assert.Equal(t, "C", g.Letter)

	g = GradeSummary(Summary{MaxDrawdownPct: 40})
	assert.Equal(t, Grade{Letter: "F", Score: 0, Verdict: "POOR"}, g)
}

func TestDiagnose(t *testing.T) {
	var trades []model.Trade
	for i := 0; i < 6; i++ {
		trades = append(trades, closed(i+1, model.DirectionLong, model.Buy, -10, -1, model.ExitStopLoss, t0.Add(time.Duration(i)*time.Hour)))
	}
	rep := BuildReport(ReportInput{InitialBalance: 1000, FinalBalance: 940, Candles: flatCandles(2000, 100), Trades: trades, MaxDrawdownPct: 0.06})

	issues := Diagnose(rep)
	types := make(map[string]Severity)
	for _, i := range issues {
		types[i.Type] = i.Severity
	}
	assert.Equal(t, SeverityHigh, types["SL_TOO_TIGHT"])
	assert.Equal(t, SeverityMedium, types["FULL_SL_HITS"])
	assert.Equal(t, SeverityMedium, types["NO_SHORTS"])
	assert.Equal(t, SeverityHigh, types["WEAK_SIGNAL"])
	assert.Equal(t, SeverityHigh, types["LONG_LOSING_STREAK"])
	assert.Equal(t, SeverityMedium, types["ASYMMETRIC_RESULTS"])
	assert.Equal(t, SeverityInfo, types["LOW_FREQUENCY"])
	assert.Equal(t, SeverityCritical, types["LOSING_STRATEGY"])
	assert.NotContains(t, types, "TIME_ANALYSIS")
	assert.NotContains(t, types, "SL_TOO_CLOSE")
	assert.Equal(t, "Strategy needs major fixes before use", Verdict(issues))

	assert.Nil(t, Diagnose(BuildReport(ReportInput{})))
	assert.Equal(t, "Strategy looks reasonable", Verdict(nil))
}

func TestSweepScore(t *testing.T) {
	s := Summary{TotalReturnPct: 300, WinRate: 50, ProfitFactor: 10, MaxDrawdownPct: 10, SharpeRatio: 1, TotalTrades: 5}
	// 50 + 10 + 8 - 2 + 1.5 + 5
	assert.Equal(t, 72.5, SweepScore(s))
}

func TestOptimizer_FlatSeries(t *testing.T) {
	assert.Len(t, DefaultGrid().Combinations(), 192)

	cfg := config.Default()
	cfg.Backtest.Parallelism = 2
	grid := Grid{RiskPerTrade: []float64{0.02}, RiskRewardRatio: []float64{2}, SwingLookback: []int{5, 10}, OBLookback: []int{50}}

	results, err := NewOptimizer(cfg, nil).Run(context.Background(), grid, Input{Entry: flatCandles(120, 100)})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 10, cfg.Strategy.SwingLookback, "base config untouched")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewOptimizer(cfg, nil).Run(ctx, grid, Input{Entry: flatCandles(120, 100)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReport_Save(t *testing.T) {
	dir := t.TempDir()
	rep := BuildReport(ReportInput{RunID: "r1"})

	path, err := rep.Save(dir, "flat")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "No trades", out["error"])
	assert.NotContains(t, out, "summary")
}

func TestLatestReport(t *testing.T) {
	dir := t.TempDir()
	_, err := LatestReport(dir)
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = BuildReport(ReportInput{RunID: "b"}).Save(dir, "bt_20240305_000000")
	require.NoError(t, err)
	_, err = BuildReport(ReportInput{RunID: "a"}).Save(dir, "bt_20240304_000000")
	require.NoError(t, err)

	rep, err := LatestReport(dir)
	require.NoError(t, err)
	assert.Equal(t, "b", rep.RunID)
	assert.False(t, rep.HasTrades())
}

func TestUpTo(t *testing.T) {
	c := flatCandles(10, 1)
	assert.Len(t, upTo(c, c[4].Time), 5)
	assert.Empty(t, upTo(c, t0.Add(-time.Minute)))
	assert.Nil(t, upTo(nil, t0))
}

func TestFrames_BoundedWindow(t *testing.T) {
	cfg := config.Default()
	require.Equal(t, 500, cfg.Backtest.MaxWindow)
	entry := flatCandles(2000, 100)
	in := Input{Entry: entry, HTF: entry, Sniper: entry[:300]}

	f := New(cfg, nil, nil).frames(in, 1999)
	require.Len(t, f.Entry, 500)
	assert.Equal(t, entry[1999].Time, f.Entry[499].Time)
	assert.Len(t, f.Structure, 500)
	assert.Len(t, f.Sniper, 300)
	assert.Empty(t, f.Direction)

	f = New(cfg, nil, nil).frames(in, 120)
	assert.Len(t, f.Entry, 121)

	cfg.Backtest.MaxWindow = -1
	f = New(cfg, nil, nil).frames(in, 1999)
	assert.Len(t, f.Entry, 2000)
	assert.Len(t, f.Structure, 2000)
}

func TestRun_LongSeriesUsesBoundedWindow(t *testing.T) {
	entry := flatCandles(5000, 100)
	for i := range entry {
		wave := float64(i%40) - 20
		if (i/40)%2 == 1 {
			wave = -wave
		}
		c := &entry[i]
		c.Open, c.Close = 100+wave*0.1, 100+wave*0.1+0.05
		c.High, c.Low = c.Close+0.2, c.Open-0.2
	}
	cfg := config.Default()
	cfg.Backtest.MaxWindow = 300

	rep := New(cfg, nil, nil).Run(Input{Symbol: "BTCUSDT", Entry: entry})

	require.Len(t, rep.Equity, len(entry)-cfg.Backtest.Warmup)
}

func TestRender(t *testing.T) {
	assert.Contains(t, Render(BuildReport(ReportInput{})), "No trades")

	rep := BuildReport(ReportInput{
		InitialBalance: 1000, FinalBalance: 1100, Candles: flatCandles(10, 100),
		Trades: []model.Trade{closed(1, model.DirectionLong, model.Buy, 100, 2, model.ExitTakeProfit, t0)},
	})
	out := Render(rep)
	assert.Contains(t, out, "BACKTEST RESULTS")
	assert.Contains(t, out, "GRADE:")
	assert.Contains(t, RenderTrades(rep), "take_profit")
	assert.Contains(t, RenderSweep(nil), "No valid results")
}

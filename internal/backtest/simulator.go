// Package backtest replays candle history through the strategy and aggregates
// the resulting trade ledger into a report.
package backtest

import (
	"sort"
	"time"

	"go-smc/internal/config"
	"go-smc/internal/engine"
	"go-smc/internal/model"
	"go-smc/internal/risk"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	balanceFloor = 0.5
	atrPeriod    = 14
	atrWindow    = 60
	progressStep = 20
)

// Input is the candle history of one run. Entry drives the bar loop; the other
// frames are sliced to the current bar time before each analysis.
type Input struct {
	Symbol    string
	Entry     []model.Candle
	HTF       []model.Candle
	Direction []model.Candle
	Sniper    []model.Candle
}

// Simulator replays history bar by bar with at most one open position.
// A Simulator holds no run state; each Run is isolated.
type Simulator struct {
	cfg      config.BacktestConfig
	riskCfg  config.RiskConfig
	strategy *engine.Strategy
	sizer    *risk.Sizer
	logger   *zap.Logger
}

// New creates a simulator. A nil strategy is built from cfg.Strategy.
func New(cfg *config.Config, strategy *engine.Strategy, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strategy == nil {
		strategy = engine.NewStrategy(cfg.Strategy, nil, logger)
	}
	return &Simulator{
		cfg:      cfg.Backtest,
		riskCfg:  cfg.Risk,
		strategy: strategy,
		sizer:    risk.NewSizer(cfg.Risk),
		logger:   logger,
	}
}

// run is the mutable state of a single simulation.
type run struct {
	id      string
	symbol  string
	balance float64
	peak    float64
	mdd     float64
	mddPct  float64
	open    *model.Trade
	trades  []model.Trade
	equity  []model.EquityPoint
	acct    risk.AccountState
	gate    *risk.Gate
	nextID  int
	skipped int
	logger  *zap.Logger
}

// Run simulates the input and returns the report. Analysis failures skip the
// bar's entry evaluation and never abort the run.
func (s *Simulator) Run(in Input) *Report {
	ib := s.cfg.InitialBalance
	r := &run{
		id:      uuid.NewString(),
		symbol:  in.Symbol,
		balance: ib,
		peak:    ib,
		acct:    risk.NewAccountState(ib),
	}
	r.logger = s.logger.With(zap.String("run_id", r.id), zap.String("symbol", in.Symbol))
	if s.cfg.UseGate {
		r.gate = risk.NewGate(s.riskCfg, ib, r.logger)
	}

	n := len(in.Entry)
	r.logger.Info("backtest_started",
		zap.Int("candles", n),
		zap.Float64("initial_balance", ib),
		zap.Bool("fixed_targets", s.cfg.FixedTargets),
	)
	started := time.Now()
	step := max(n/progressStep, 1)

	for i := s.cfg.Warmup; i < n; i++ {
		c := in.Entry[i]
		if i%step == 0 {
			r.logger.Debug("backtest_progress",
				zap.Int("candle", i),
				zap.Int("trades", len(r.trades)),
				zap.Float64("balance", r.balance),
			)
		}

		if r.open != nil {
			s.checkExits(r, c)
		}
		if r.open != nil && !s.cfg.FixedTargets {
			s.manage(r, in.Entry[max(0, i+1-atrWindow):i+1], c)
		}

		r.markEquity(c)

		if r.open != nil || r.balance < ib*balanceFloor {
			continue
		}
		s.evaluate(r, in, i)
	}

	if r.open != nil && n > 0 {
		last := in.Entry[n-1]
		s.closeTrade(r, last.Close, last.Time, model.ExitEndOfData)
	}

	rep := BuildReport(ReportInput{
		RunID:          r.id,
		Symbol:         in.Symbol,
		Candles:        in.Entry,
		InitialBalance: ib,
		FinalBalance:   r.balance,
		Trades:         r.trades,
		Equity:         r.equity,
		MaxDrawdown:    r.mdd,
		MaxDrawdownPct: r.mddPct,
		Skipped:        r.skipped,
	})
	r.logger.Info("backtest_done",
		zap.Int("trades", len(r.trades)),
		zap.Float64("final_balance", r.balance),
		zap.Float64("max_drawdown", r.mdd),
		zap.Int("skipped_candles", r.skipped),
		zap.Duration("elapsed", time.Since(started)),
	)
	return rep
}

// checkExits tests the open position against the bar range. The stop is
// evaluated first; the target only when the stop was not touched.
func (s *Simulator) checkExits(r *run, c model.Candle) {
	t := r.open
	t.Track(c.High, c.Low)
	switch {
	case t.StopHit(c.High, c.Low):
		s.closeTrade(r, t.StopLoss, c.Time, model.ExitStopLoss)
	case t.TargetHit(c.High, c.Low):
		s.closeTrade(r, t.TakeProfit, c.Time, model.ExitTakeProfit)
	}
}

// manage runs the staged exit machine at the bar close.
func (s *Simulator) manage(r *run, window []model.Candle, c model.Candle) {
	t := r.open
	d := risk.Manage(risk.ExitState{
		Entry:           t.EntryPrice,
		Direction:       t.Direction,
		StopLoss:        t.StopLoss,
		InitialStopLoss: t.InitialStopLoss,
		PartsTaken:      t.PartsTaken,
	}, c.Close, engine.ATR(window, atrPeriod))

	if d.StopMoved(t.StopLoss) {
		r.logger.Debug("stop_moved",
			zap.Int("trade_id", t.ID),
			zap.Float64("from", t.StopLoss),
			zap.Float64("to", d.NewStop),
			zap.String("action", string(d.Action)),
		)
		t.StopLoss = d.NewStop
	}
	if d.Action != risk.ActionPartialClose {
		return
	}

	t.PartsTaken++
	t.Trailing = d.Trailing
	if d.NewTarget > 0 {
		t.TakeProfit = d.NewTarget
	}
	net := t.Reduce(t.InitialSize*d.ClosePortion, c.Close, c.Time, model.ExitPartial, d.RLevel, s.cfg.Commission)
	r.balance += net
	r.logger.Info("partial_close",
		zap.Int("trade_id", t.ID),
		zap.Float64("r_level", d.RLevel),
		zap.Float64("portion", d.ClosePortion),
		zap.Float64("price", c.Close),
		zap.Float64("pnl", net),
		zap.Float64("remaining", t.Size),
	)
	if t.Size <= 0 {
		s.closeTrade(r, c.Close, c.Time, model.ExitPartial)
	}
}

// closeTrade exits the remaining size and records the outcome on the account.
func (s *Simulator) closeTrade(r *run, price float64, at time.Time, reason model.ExitReason) {
	t := r.open
	r.balance += t.Close(price, at, reason, s.cfg.Commission)
	r.acct = risk.Apply(r.acct, t.PnL, r.balance, at)
	if r.gate != nil {
		r.gate.Record(t.PnL, r.balance, at)
	}
	s.strategy.Classifier().RecordOutcome(t.EntryPrice, price, t.Direction)

	r.trades = append(r.trades, *t)
	r.open = nil
	r.logger.Info("trade_closed",
		zap.Int("trade_id", t.ID),
		zap.String("reason", string(reason)),
		zap.Float64("exit", price),
		zap.Float64("pnl", t.PnL),
		zap.Float64("r_multiple", t.RMultiple),
		zap.Float64("balance", r.balance),
	)
}

// markEquity samples balance plus unrealized PnL at the bar close and updates
// the peak and the maximum drawdown.
func (r *run) markEquity(c model.Candle) {
	eq := r.balance
	if r.open != nil {
		eq += r.open.Unrealized(c.Close)
	}
	r.equity = append(r.equity, model.EquityPoint{Time: c.Time, Equity: eq, Balance: r.balance})
	if eq > r.peak {
		r.peak = eq
	}
	dd := r.peak - eq
	if dd > r.mdd {
		r.mdd = dd
		if r.peak > 0 {
			r.mddPct = dd / r.peak
		}
	}
}

// evaluate analyses the window ending at bar i and opens a position on a valid signal.
func (s *Simulator) evaluate(r *run, in Input, i int) {
	c := in.Entry[i]
	res, err := s.strategy.Analyze(s.frames(in, i))
	if err != nil {
		r.skipped++
		r.logger.Debug("analysis_skipped", zap.Time("time", c.Time), zap.Error(err))
		return
	}
	if !res.Valid() {
		return
	}
	if r.gate != nil && !r.gate.CanOpen(r.balance, c.Time).Allowed {
		return
	}
	s.open(r, res, c)
}

// open sizes and opens a position with slippage applied to the entry.
func (s *Simulator) open(r *run, res model.Result, c model.Candle) {
	dir := res.Type.Direction()
	entry := res.Entry * (1 + dir.Sign()*s.cfg.Slippage)

	size, err := s.sizer.Size(risk.SizeRequest{
		Balance:              r.balance,
		Entry:                entry,
		StopLoss:             res.StopLoss,
		Confidence:           res.Confidence,
		ClassifierConfidence: res.ClassifierConfidence,
		ConsecutiveLosses:    r.acct.ConsecutiveLosses,
	})
	if err != nil {
		r.logger.Debug("trade_rejected", zap.Time("time", c.Time), zap.Error(err))
		return
	}

	r.nextID++
	r.open = &model.Trade{
		ID:              r.nextID,
		RunID:           r.id,
		Symbol:          r.symbol,
		Direction:       dir,
		Signal:          res.Type,
		Confidence:      res.Confidence,
		EntryPrice:      entry,
		InitialStopLoss: res.StopLoss,
		StopLoss:        res.StopLoss,
		TakeProfit:      res.TakeProfit,
		InitialSize:     size,
		Size:            size,
		EntryTime:       c.Time,
		Open:            true,
	}
	r.logger.Info("trade_opened",
		zap.Int("trade_id", r.nextID),
		zap.String("signal", string(res.Type)),
		zap.String("mode", res.Mode),
		zap.Float64("entry", entry),
		zap.Float64("stop_loss", res.StopLoss),
		zap.Float64("take_profit", res.TakeProfit),
		zap.Float64("size", size),
		zap.Float64("confidence", res.Confidence),
	)
}

// upTo returns the prefix of a time-ordered series with candles at or before t.
// frames returns the analysis window ending at entry bar i. Each frame keeps at
// most MaxWindow candles so the per-bar cost does not grow with the history.
func (s *Simulator) frames(in Input, i int) engine.Frames {
	t := in.Entry[i].Time
	return engine.Frames{
		Entry:     tail(in.Entry[:i+1], s.cfg.MaxWindow),
		Structure: tail(upTo(in.HTF, t), s.cfg.MaxWindow),
		Direction: tail(upTo(in.Direction, t), s.cfg.MaxWindow),
		Sniper:    tail(upTo(in.Sniper, t), s.cfg.MaxWindow),
	}
}

// tail returns the last n candles; n <= 0 keeps all of them.
func tail(candles []model.Candle, n int) []model.Candle {
	if n <= 0 || len(candles) <= n {
		return candles
	}
	return candles[len(candles)-n:]
}

func upTo(candles []model.Candle, t time.Time) []model.Candle {
	if len(candles) == 0 {
		return nil
	}
	n := sort.Search(len(candles), func(i int) bool { return candles[i].Time.After(t) })
	return candles[:n]
}

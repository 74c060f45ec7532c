// Package paper runs the strategy against live candles with a simulated
// account: one position at a time, managed each cycle by the staged exits.
package paper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go-smc/internal/config"
	"go-smc/internal/engine"
	"go-smc/internal/market"
	"go-smc/internal/model"
	"go-smc/internal/risk"
	"go-smc/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	recentCap = 50
	atrPeriod = 14
	atrWindow = 60
)

// Message types pushed to the Notifier.
const (
	MsgSignal = "signal"
	MsgTrade  = "trade"
	MsgStatus = "status"
)

// Notifier receives runner events.
type Notifier interface {
	Broadcast(msgType string, data any)
}

// Options holds the optional collaborators of a Runner.
type Options struct {
	Ledger   storage.Ledger
	Series   storage.Series
	Notifier Notifier
	Logger   *zap.Logger
}

// Metrics counts runner activity.
type Metrics struct {
	Cycles       int64     `json:"cycles"`
	Errors       int64     `json:"errors"`
	Signals      int64     `json:"signals"`
	Opened       int64     `json:"opened"`
	Closed       int64     `json:"closed"`
	LastCycleAt  time.Time `json:"lastCycleAt"`
	LastSignalAt time.Time `json:"lastSignalAt"`
}

// Status is the runner state exposed to API consumers.
type Status struct {
	SessionID  string        `json:"sessionId"`
	Symbol     string        `json:"symbol"`
	Timeframe  string        `json:"timeframe"`
	Time       time.Time     `json:"time"`
	StartedAt  time.Time     `json:"startedAt"`
	Balance    float64       `json:"balance"`
	Equity     float64       `json:"equity"`
	Account    risk.Stats    `json:"account"`
	Position   *model.Trade  `json:"position,omitempty"`
	LastSignal *model.Result `json:"lastSignal,omitempty"`
	Metrics    Metrics       `json:"metrics"`
}

// Runner is the paper trading loop.
type Runner struct {
	symbol     string
	tf         config.TimeframeConfig
	cfg        config.PaperConfig
	feed       market.Feed
	strategy   *engine.Strategy
	sizer      *risk.Sizer
	gate       *risk.Gate
	ledger     storage.Ledger
	series     storage.Series
	notifier   Notifier
	logger     *zap.Logger
	sessionID  string
	started    time.Time
	mu         sync.Mutex
	balance    float64
	open       *model.Trade
	lastPrice  float64
	lastBar    time.Time
	lastSignal *model.Result
	recent     []model.Trade
	metrics    Metrics
	nextID     int
}

// New creates a runner for cfg.Exchange.Symbol on the configured timeframes.
// A nil strategy is built from cfg.Strategy.
func New(cfg *config.Config, feed market.Feed, strategy *engine.Strategy, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if strategy == nil {
		strategy = engine.NewStrategy(cfg.Strategy, nil, logger)
	}
	id := uuid.NewString()
	logger = logger.With(zap.String("session_id", id), zap.String("symbol", cfg.Exchange.Symbol))
	return &Runner{
		symbol:    cfg.Exchange.Symbol,
		tf:        cfg.Timeframes,
		cfg:       cfg.Paper,
		feed:      feed,
		strategy:  strategy,
		sizer:     risk.NewSizer(cfg.Risk),
		gate:      risk.NewGate(cfg.Risk, cfg.Paper.InitialBalance, logger),
		ledger:    opts.Ledger,
		series:    opts.Series,
		notifier:  opts.Notifier,
		logger:    logger,
		sessionID: id,
		started:   time.Now().UTC(),
		balance:   cfg.Paper.InitialBalance,
	}
}

// SetNotifier sets the event receiver. Call before Run.
func (r *Runner) SetNotifier(n Notifier) {
	r.mu.Lock()
	r.notifier = n
	r.mu.Unlock()
}

// Interval is the time between cycles.
func (r *Runner) Interval() time.Duration {
	if r.cfg.CycleSeconds > 0 {
		return time.Duration(r.cfg.CycleSeconds) * time.Second
	}
	return market.CycleInterval(r.tf.Entry)
}

// Run cycles until ctx is cancelled. Cycle errors are logged and counted.
func (r *Runner) Run(ctx context.Context) error {
	interval := r.Interval()
	r.logger.Info("paper_started",
		zap.String("timeframe", r.tf.Entry),
		zap.Duration("interval", interval),
		zap.Float64("balance", r.cfg.InitialBalance),
	)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			r.logger.Info("paper_stopped", zap.Int64("cycles", r.Metrics().Cycles))
			return err
		}
		if err := r.Step(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("cycle_failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

// Step runs one cycle. Exits are checked against the latest snapshot of the
// forming candle on every cycle; entries are evaluated once per candle.
func (r *Runner) Step(ctx context.Context) error {
	frames, err := r.fetch(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics.Cycles++
	r.metrics.LastCycleAt = time.Now().UTC()
	if err != nil {
		r.metrics.Errors++
		return err
	}

	bar := frames.Entry[len(frames.Entry)-1]
	r.lastPrice = bar.Close
	newBar := bar.Time.After(r.lastBar)
	if newBar && r.open != nil {
		r.settle(ctx, frames.Entry)
	}
	if r.open != nil {
		r.checkExits(ctx, bar)
	}
	if r.open != nil {
		window := frames.Entry[max(0, len(frames.Entry)-atrWindow):]
		r.manage(ctx, window, bar)
	}
	if newBar {
		r.lastBar = bar.Time
		r.writeEquity(ctx, bar)
		if r.open == nil {
			r.evaluate(ctx, frames, bar)
		}
	}
	r.notify(MsgStatus, r.statusLocked())
	return nil
}

// settle checks exits against the final range of the previously seen candle,
// which was only observed while it was still forming.
func (r *Runner) settle(ctx context.Context, entry []model.Candle) {
	for i := len(entry) - 2; i >= 0; i-- {
		if entry[i].Time.Equal(r.lastBar) {
			r.checkExits(ctx, entry[i])
			return
		}
		if entry[i].Time.Before(r.lastBar) {
			return
		}
	}
}

func (r *Runner) writeEquity(ctx context.Context, bar model.Candle) {
	if r.series == nil {
		return
	}
	eq := r.equityLocked()
	if err := r.series.WriteEquity(ctx, r.sessionID, r.symbol, []model.EquityPoint{{Time: bar.Time, Equity: eq, Balance: r.balance}}); err != nil {
		r.logger.Warn("equity_write_failed", zap.Error(err))
	}
}

// fetch loads the four frames. Only the entry frame is required.
func (r *Runner) fetch(ctx context.Context) (engine.Frames, error) {
	var f engine.Frames
	entry, err := r.feed.Candles(ctx, r.symbol, r.tf.Entry, r.cfg.CandleLimit)
	if err != nil {
		return f, fmt.Errorf("entry candles: %w", err)
	}
	if len(entry) == 0 {
		return f, fmt.Errorf("entry candles: %w", market.ErrNoData)
	}
	f.Entry = entry

	optional := []struct {
		tf  string
		dst *[]model.Candle
	}{
		{r.tf.Structure, &f.Structure},
		{r.tf.Direction, &f.Direction},
		{r.tf.Sniper, &f.Sniper},
	}
	for _, o := range optional {
		if o.tf == "" {
			continue
		}
		candles, err := r.feed.Candles(ctx, r.symbol, o.tf, r.cfg.CandleLimit)
		if err != nil {
			if ctx.Err() != nil {
				return f, ctx.Err()
			}
			r.logger.Debug("frame_unavailable", zap.String("timeframe", o.tf), zap.Error(err))
			continue
		}
		*o.dst = candles
	}
	return f, nil
}

func (r *Runner) evaluate(ctx context.Context, frames engine.Frames, bar model.Candle) {
	res, err := r.strategy.Analyze(frames)
	if err != nil {
		r.logger.Debug("analysis_skipped", zap.Time("time", bar.Time), zap.Error(err))
		return
	}
	r.lastSignal = &res
	if !res.Valid() {
		return
	}

	r.metrics.Signals++
	r.metrics.LastSignalAt = bar.Time
	r.logger.Info("signal_emitted",
		zap.String("signal", string(res.Type)),
		zap.String("mode", res.Mode),
		zap.Float64("entry", res.Entry),
		zap.Float64("confidence", res.Confidence),
	)
	r.notify(MsgSignal, res)
	if r.series != nil {
		if err := r.series.WriteSignal(ctx, r.symbol, res); err != nil {
			r.logger.Warn("signal_write_failed", zap.Error(err))
		}
	}

	if d := r.gate.CanOpen(r.balance, bar.Time); !d.Allowed {
		return
	}
	size, err := r.sizer.Size(risk.SizeRequest{
		Balance:              r.balance,
		Entry:                res.Entry,
		StopLoss:             res.StopLoss,
		Confidence:           res.Confidence,
		ClassifierConfidence: res.ClassifierConfidence,
		ConsecutiveLosses:    r.gate.State().ConsecutiveLosses,
	})
	if err != nil {
		r.logger.Info("trade_rejected", zap.Error(err))
		return
	}

	r.nextID++
	r.open = &model.Trade{
		ID:              r.nextID,
		RunID:           r.sessionID,
		Symbol:          r.symbol,
		Direction:       res.Type.Direction(),
		Signal:          res.Type,
		Confidence:      res.Confidence,
		EntryPrice:      res.Entry,
		InitialStopLoss: res.StopLoss,
		StopLoss:        res.StopLoss,
		TakeProfit:      res.TakeProfit,
		InitialSize:     size,
		Size:            size,
		EntryTime:       bar.Time,
		Open:            true,
	}
	r.metrics.Opened++
	r.logger.Info("trade_opened",
		zap.Int("trade_id", r.nextID),
		zap.String("signal", string(res.Type)),
		zap.Float64("entry", res.Entry),
		zap.Float64("stop_loss", res.StopLoss),
		zap.Float64("take_profit", res.TakeProfit),
		zap.Float64("size", size),
	)
	r.notify(MsgTrade, *r.open)
}

func (r *Runner) checkExits(ctx context.Context, bar model.Candle) {
	t := r.open
	t.Track(bar.High, bar.Low)
	switch {
	case t.StopHit(bar.High, bar.Low):
		r.closeTrade(ctx, t.StopLoss, bar.Time, model.ExitStopLoss)
	case t.TargetHit(bar.High, bar.Low):
		r.closeTrade(ctx, t.TakeProfit, bar.Time, model.ExitTakeProfit)
	}
}

func (r *Runner) manage(ctx context.Context, window []model.Candle, bar model.Candle) {
	t := r.open
	d := risk.Manage(risk.ExitState{
		Entry:           t.EntryPrice,
		Direction:       t.Direction,
		StopLoss:        t.StopLoss,
		InitialStopLoss: t.InitialStopLoss,
		PartsTaken:      t.PartsTaken,
	}, bar.Close, engine.ATR(window, atrPeriod))

	if d.StopMoved(t.StopLoss) {
		r.logger.Info("stop_moved",
			zap.Int("trade_id", t.ID),
			zap.Float64("from", t.StopLoss),
			zap.Float64("to", d.NewStop),
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
	net := t.Reduce(t.InitialSize*d.ClosePortion, bar.Close, bar.Time, model.ExitPartial, d.RLevel, r.cfg.Commission)
	r.balance += net
	r.logger.Info("partial_close",
		zap.Int("trade_id", t.ID),
		zap.Float64("r_level", d.RLevel),
		zap.Float64("pnl", net),
		zap.Float64("remaining", t.Size),
	)
	r.notify(MsgTrade, *t)
	if t.Size <= 0 {
		r.closeTrade(ctx, bar.Close, bar.Time, model.ExitPartial)
	}
}

func (r *Runner) closeTrade(ctx context.Context, price float64, at time.Time, reason model.ExitReason) {
	t := r.open
	r.balance += t.Close(price, at, reason, r.cfg.Commission)
	r.gate.Record(t.PnL, r.balance, at)
	r.strategy.Classifier().RecordOutcome(t.EntryPrice, price, t.Direction)

	r.recent = append(r.recent, *t)
	if len(r.recent) > recentCap {
		r.recent = r.recent[len(r.recent)-recentCap:]
	}
	r.open = nil
	r.metrics.Closed++
	r.logger.Info("trade_closed",
		zap.Int("trade_id", t.ID),
		zap.String("reason", string(reason)),
		zap.Float64("pnl", t.PnL),
		zap.Float64("r_multiple", t.RMultiple),
		zap.Float64("balance", r.balance),
	)
	r.notify(MsgTrade, *t)
	if r.ledger != nil {
		if err := r.ledger.SaveTrade(ctx, storage.KindPaper, *t); err != nil {
			r.logger.Error("trade_persist_failed", zap.Int("trade_id", t.ID), zap.Error(err))
		}
	}
}

func (r *Runner) notify(msgType string, data any) {
	if r.notifier != nil {
		r.notifier.Broadcast(msgType, data)
	}
}

func (r *Runner) equityLocked() float64 {
	if r.open == nil {
		return r.balance
	}
	return r.balance + r.open.Unrealized(r.lastPrice)
}

// Status returns a snapshot of the runner.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()
}

func (r *Runner) statusLocked() Status {
	st := Status{
		SessionID: r.sessionID,
		Symbol:    r.symbol,
		Timeframe: r.tf.Entry,
		Time:      time.Now().UTC(),
		StartedAt: r.started,
		Balance:   r.balance,
		Equity:    r.equityLocked(),
		Account:   r.gate.Stats(),
		Metrics:   r.metrics,
	}
	if r.open != nil {
		pos := *r.open
		st.Position = &pos
	}
	if r.lastSignal != nil {
		sig := *r.lastSignal
		st.LastSignal = &sig
	}
	return st
}

// Trades returns the most recent closed trades, oldest first.
func (r *Runner) Trades() []model.Trade {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Trade(nil), r.recent...)
}

// Metrics returns the activity counters.
func (r *Runner) Metrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics
}

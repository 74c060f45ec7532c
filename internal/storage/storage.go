// Package storage persists run output: the trade ledger and run summaries in
// Postgres, and equity curves, emitted signals and candles in InfluxDB.
package storage

import (
	"context"
	"errors"
	"time"

	"go-smc/internal/backtest"
	"go-smc/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// Run kinds.
const (
	KindBacktest = "backtest"
	KindPaper    = "paper"
)

// Run is one stored backtest or paper session.
type Run struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Symbol    string            `json:"symbol"`
	CreatedAt time.Time         `json:"created_at"`
	Summary   *backtest.Summary `json:"summary,omitempty"`
}

// Ledger stores runs and their closed trades.
type Ledger interface {
	SaveReport(ctx context.Context, rep *backtest.Report) error
	SaveTrade(ctx context.Context, kind string, trade model.Trade) error
	Trades(ctx context.Context, runID string, limit int) ([]model.Trade, error)
	Run(ctx context.Context, runID string) (Run, error)
	Runs(ctx context.Context, limit int) ([]Run, error)
}

// Series stores time-indexed run output.
type Series interface {
	WriteEquity(ctx context.Context, runID, symbol string, points []model.EquityPoint) error
	WriteSignal(ctx context.Context, symbol string, res model.Result) error
	WriteCandles(ctx context.Context, symbol, timeframe string, candles []model.Candle) error
}

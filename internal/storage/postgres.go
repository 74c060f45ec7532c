package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go-smc/internal/backtest"
	"go-smc/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schema string

// Postgres is the Ledger backed by a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres connects, pings and migrates the schema.
func NewPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Postgres{pool: pool, logger: logger}, nil
}

// Close closes the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

const (
	upsertRun = `
INSERT INTO runs (id, kind, symbol, summary) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET summary = COALESCE(EXCLUDED.summary, runs.summary)`

	insertTrade = `
INSERT INTO trades (run_id, trade_id, symbol, direction, signal, confidence, entry_price,
    exit_price, initial_stop, final_stop, take_profit, initial_size, commission, pnl,
    pnl_pct, r_multiple, parts_taken, exit_reason, entry_time, exit_time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
ON CONFLICT (run_id, trade_id) DO NOTHING`

	selectTrades = `
SELECT trade_id, symbol, direction, signal, confidence, entry_price, exit_price,
    initial_stop, final_stop, take_profit, initial_size, commission, pnl, pnl_pct,
    r_multiple, parts_taken, exit_reason, entry_time, exit_time
FROM trades WHERE run_id = $1 ORDER BY exit_time DESC, trade_id DESC LIMIT $2`

	selectRun  = `SELECT id, kind, symbol, created_at, summary FROM runs WHERE id = $1`
	selectRuns = `SELECT id, kind, symbol, created_at, summary FROM runs ORDER BY created_at DESC LIMIT $1`
)

// SaveReport stores a backtest run with its summary and full trade ledger in
// one transaction.
func (p *Postgres) SaveReport(ctx context.Context, rep *backtest.Report) error {
	var summary []byte
	if rep.Summary != nil {
		var err error
		if summary, err = json.Marshal(rep.Summary); err != nil {
			return fmt.Errorf("encode summary: %w", err)
		}
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, upsertRun, rep.RunID, KindBacktest, rep.Symbol, summary); err != nil {
		return fmt.Errorf("save run %s: %w", rep.RunID, err)
	}
	batch := &pgx.Batch{}
	for _, t := range rep.Ledger {
		t.RunID = rep.RunID
		batch.Queue(insertTrade, tradeArgs(t)...)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("save trades of %s: %w", rep.RunID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit run %s: %w", rep.RunID, err)
	}
	p.logger.Info("report_saved", zap.String("run_id", rep.RunID), zap.Int("trades", len(rep.Ledger)))
	return nil
}

// SaveTrade stores one closed trade, creating its run on first use.
func (p *Postgres) SaveTrade(ctx context.Context, kind string, trade model.Trade) error {
	if trade.RunID == "" {
		return errors.New("trade has no run id")
	}
	if _, err := p.pool.Exec(ctx, upsertRun, trade.RunID, kind, trade.Symbol, nil); err != nil {
		return fmt.Errorf("save run %s: %w", trade.RunID, err)
	}
	if _, err := p.pool.Exec(ctx, insertTrade, tradeArgs(trade)...); err != nil {
		return fmt.Errorf("save trade %d: %w", trade.ID, err)
	}
	return nil
}

// Trades returns the most recent closed trades of a run, newest first.
func (p *Postgres) Trades(ctx context.Context, runID string, limit int) ([]model.Trade, error) {
	rows, err := p.pool.Query(ctx, selectTrades, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		t := model.Trade{RunID: runID}
		if err := rows.Scan(
			&t.ID, &t.Symbol, &t.Direction, &t.Signal, &t.Confidence, &t.EntryPrice, &t.ExitPrice,
			&t.InitialStopLoss, &t.StopLoss, &t.TakeProfit, &t.InitialSize, &t.Commission, &t.PnL, &t.PnLPct,
			&t.RMultiple, &t.PartsTaken, &t.ExitReason, &t.EntryTime, &t.ExitTime,
		); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Run returns one stored run or ErrNotFound.
func (p *Postgres) Run(ctx context.Context, runID string) (Run, error) {
	run, err := scanRun(p.pool.QueryRow(ctx, selectRun, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return run, err
}

// Runs lists the newest runs.
func (p *Postgres) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := p.pool.Query(ctx, selectRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanRun(row pgx.Row) (Run, error) {
	var (
		run     Run
		summary []byte
	)
	if err := row.Scan(&run.ID, &run.Kind, &run.Symbol, &run.CreatedAt, &summary); err != nil {
		return Run{}, err
	}
	if len(summary) > 0 {
		run.Summary = &backtest.Summary{}
		if err := json.Unmarshal(summary, run.Summary); err != nil {
			return Run{}, fmt.Errorf("decode summary of %s: %w", run.ID, err)
		}
	}
	return run, nil
}

func tradeArgs(t model.Trade) []any {
	return []any{
		t.RunID, t.ID, t.Symbol, string(t.Direction), string(t.Signal), t.Confidence, t.EntryPrice,
		t.ExitPrice, t.InitialStopLoss, t.StopLoss, t.TakeProfit, t.InitialSize, t.Commission, t.PnL,
		t.PnLPct, t.RMultiple, t.PartsTaken, string(t.ExitReason), t.EntryTime, t.ExitTime,
	}
}

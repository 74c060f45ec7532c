package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"go-smc/internal/backtest"
	"go-smc/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *Postgres {
	t.Helper()
	if os.Getenv("SMC_INTEGRATION") != "1" {
		t.Skip("set SMC_INTEGRATION=1 to run postgres tests")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("smc"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := NewPostgres(ctx, dsn, nil)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func closedTrade(id int, runID string, pnl float64, exit time.Time) model.Trade {
	return model.Trade{
		ID: id, RunID: runID, Symbol: "BTCUSDT", Direction: model.DirectionLong, Signal: model.Buy,
		Confidence: 6, EntryPrice: 100, InitialStopLoss: 98, StopLoss: 98, TakeProfit: 105,
		InitialSize: 10, ExitPrice: 100 + pnl/10, PnL: pnl, ExitReason: model.ExitTakeProfit,
		EntryTime: exit.Add(-time.Hour), ExitTime: exit,
	}
}

func TestPostgresReportLedger(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()

	rep := &backtest.Report{
		RunID:   "bt-1",
		Symbol:  "BTCUSDT",
		Summary: &backtest.Summary{TotalTrades: 2, WinRate: 50, TotalPnL: 30},
		Ledger: []model.Trade{
			closedTrade(1, "", 50, t0.Add(time.Hour)),
			closedTrade(2, "", -20, t0.Add(2*time.Hour)),
		},
	}
	require.NoError(t, db.SaveReport(ctx, rep))
	require.NoError(t, db.SaveReport(ctx, rep), "saving twice is idempotent")

	run, err := db.Run(ctx, "bt-1")
	require.NoError(t, err)
	assert.Equal(t, KindBacktest, run.Kind)
	require.NotNil(t, run.Summary)
	assert.Equal(t, 2, run.Summary.TotalTrades)

	trades, err := db.Trades(ctx, "bt-1", 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, 2, trades[0].ID, "newest first")
	assert.Equal(t, model.DirectionLong, trades[0].Direction)
	assert.InDelta(t, -20, trades[0].PnL, 1e-9)
	assert.True(t, trades[1].ExitTime.Equal(t0.Add(time.Hour)))

	_, err = db.Run(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresPaperTrades(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()

	require.NoError(t, db.SaveTrade(ctx, KindPaper, closedTrade(1, "paper-1", 10, t0)))
	require.NoError(t, db.SaveTrade(ctx, KindPaper, closedTrade(2, "paper-1", 12, t0.Add(time.Minute))))
	assert.Error(t, db.SaveTrade(ctx, KindPaper, closedTrade(3, "", 1, t0)))

	runs, err := db.Runs(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, KindPaper, runs[0].Kind)
	assert.Nil(t, runs[0].Summary)

	trades, err := db.Trades(ctx, "paper-1", 1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 2, trades[0].ID)
}

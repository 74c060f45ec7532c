// Package app wires the paper trading daemon: feeds, storage, runner and API.
package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go-smc/internal/api"
	"go-smc/internal/backtest"
	"go-smc/internal/config"
	"go-smc/internal/engine"
	"go-smc/internal/logging"
	"go-smc/internal/paper"
	"go-smc/internal/storage"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Version is reported at startup.
const Version = "0.3.0"

// App is the application lifecycle manager.
type App struct {
	cfg *config.Config
}

// New creates a new App instance.
func New(cfg *config.Config) *App {
	return &App{cfg: cfg}
}

// Run starts the feeds, the paper runner and the API, and blocks until
// SIGINT/SIGTERM or a fatal component error.
func (a *App) Run() error {
	log, err := logging.Build(a.cfg.App.LogLevel, a.cfg.App.LogFile)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	log.Info("starting smcd",
		zap.String("version", Version),
		zap.String("env", a.cfg.App.Env),
		zap.String("symbol", a.cfg.Exchange.Symbol),
		zap.String("entry_tf", a.cfg.Timeframes.Entry),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	feeds, err := BuildFeeds(ctx, a.cfg, log)
	if err != nil {
		return err
	}
	defer feeds.Close()

	var (
		ledger storage.Ledger
		series storage.Series
	)
	if feeds.Influx != nil {
		series = feeds.Influx
	}
	if dsn := a.cfg.Storage.Postgres; dsn != "" {
		pg, err := storage.NewPostgres(ctx, dsn, log)
		if err != nil {
			return err
		}
		defer pg.Close()
		ledger = pg
	}

	strategy := engine.NewStrategy(a.cfg.Strategy, engine.NewJournal(), log)
	runner := paper.New(a.cfg, feeds.Feed, strategy, paper.Options{
		Ledger: ledger,
		Series: series,
		Logger: log,
	})
	server := api.NewServer(a.cfg.API.ListenAddress, runner, ledger, log)
	runner.SetNotifier(server.Hub())

	if rep, err := backtest.LatestReport(a.cfg.Backtest.ReportDir); err == nil {
		server.SetReport(rep)
		log.Info("report_loaded", zap.String("run_id", rep.RunID))
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Warn("report_load_failed", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error {
		feeds.SweepCache(gctx, log)
		return nil
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("fatal_error", zap.Error(err))
		return err
	}
	if feeds.Cached != nil {
		st := feeds.Cached.Stats()
		log.Info("cache_stats", zap.Int64("hits", st.Hits), zap.Int64("misses", st.Misses))
	}
	log.Info("smcd stopped")
	return nil
}

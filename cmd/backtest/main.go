// backtest replays candle history through the strategy and prints a graded
// report, or sweeps the parameter grid with -optimize.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go-smc/internal/app"
	"go-smc/internal/backtest"
	"go-smc/internal/config"
	"go-smc/internal/logging"
	"go-smc/internal/market"
	"go-smc/internal/model"
	"go-smc/internal/storage"

	"go.uber.org/zap"
)

type options struct {
	config     string
	symbol     string
	tf         string
	htf        string
	days       int
	balance    float64
	commission float64
	slippage   float64
	csv        string
	htfCSV     string
	preset     string
	mode       string
	save       bool
	optimize   bool
	json       bool
	logLevel   string
}

func main() {
	var o options
	flag.StringVar(&o.config, "config", "config/config.yaml", "configuration file; defaults apply when missing")
	flag.StringVar(&o.symbol, "symbol", "", "trading pair (default from config)")
	flag.StringVar(&o.tf, "tf", "", "entry timeframe (default from config)")
	flag.StringVar(&o.htf, "htf", "", "higher timeframe (default from config)")
	flag.IntVar(&o.days, "days", 0, "days of history to fetch")
	flag.Float64Var(&o.balance, "balance", 0, "initial balance")
	flag.Float64Var(&o.commission, "commission", -1, "commission per side")
	flag.Float64Var(&o.slippage, "slippage", -1, "entry slippage")
	flag.StringVar(&o.csv, "csv", "", "entry candles CSV file instead of the feed")
	flag.StringVar(&o.htfCSV, "htf-csv", "", "higher timeframe CSV file")
	flag.StringVar(&o.preset, "preset", "", "scalp, intraday or swing")
	flag.StringVar(&o.mode, "mode", model.ModePro, "pro or mtf")
	flag.BoolVar(&o.save, "save", false, "save the report as JSON and to configured storage")
	flag.BoolVar(&o.optimize, "optimize", false, "run the parameter sweep")
	flag.BoolVar(&o.json, "json", false, "print the report as JSON")
	flag.StringVar(&o.logLevel, "log-level", "warn", "log level")
	flag.Parse()

	if err := run(o); err != nil {
		fmt.Fprintf(os.Stderr, "backtest: %v\n", err)
		os.Exit(1)
	}
}

func run(o options) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	log, err := logging.Console(o.logLevel)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, feeds, err := loadInput(ctx, cfg, o, log)
	if feeds != nil {
		defer feeds.Close()
	}
	if err != nil {
		return err
	}
	if len(in.Entry) == 0 {
		return fmt.Errorf("no %s %s candles", in.Symbol, cfg.Timeframes.Entry)
	}

	if o.optimize {
		results, err := backtest.NewOptimizer(cfg, log).Run(ctx, backtest.DefaultGrid(), in)
		if err != nil {
			return err
		}
		if o.json {
			return printJSON(results)
		}
		fmt.Println(backtest.RenderSweep(results))
		return nil
	}

	rep := backtest.New(cfg, nil, log).Run(in)
	if o.json {
		if err := printJSON(rep); err != nil {
			return err
		}
	} else {
		fmt.Println(backtest.Render(rep))
		fmt.Println(backtest.RenderTrades(rep))
		issues := backtest.Diagnose(rep)
		fmt.Println(backtest.RenderIssues(issues))
		fmt.Println(backtest.Verdict(issues))
	}

	if o.save {
		return save(ctx, cfg, rep, feeds, log)
	}
	return nil
}

func loadConfig(o options) (*config.Config, error) {
	cfg := config.Default()
	if _, err := os.Stat(o.config); err == nil {
		if cfg, err = config.Load(o.config); err != nil {
			return nil, err
		}
	}
	if o.preset != "" {
		if err := cfg.ApplyPreset(o.preset); err != nil {
			return nil, err
		}
	}
	if o.symbol != "" {
		cfg.Exchange.Symbol = o.symbol
	}
	if o.tf != "" {
		cfg.Timeframes.Entry = o.tf
	}
	if o.htf != "" {
		cfg.Timeframes.Structure = o.htf
	}
	if o.days > 0 {
		cfg.Backtest.Days = o.days
	}
	if o.balance > 0 {
		cfg.Backtest.InitialBalance = o.balance
	}
	if o.commission >= 0 {
		cfg.Backtest.Commission = o.commission
	}
	if o.slippage >= 0 {
		cfg.Backtest.Slippage = o.slippage
	}
	if o.mode != model.ModePro && o.mode != model.ModeMTF {
		return nil, fmt.Errorf("unknown mode %q", o.mode)
	}
	return cfg, cfg.Validate()
}

type frame struct {
	tf  string
	dst *[]model.Candle
}

// loadInput reads CSV files when given, otherwise fetches history through the
// configured feeds. The returned Feeds, when non-nil, must be closed.
func loadInput(ctx context.Context, cfg *config.Config, o options, log *zap.Logger) (backtest.Input, *app.Feeds, error) {
	in := backtest.Input{Symbol: cfg.Exchange.Symbol}
	if o.csv != "" {
		entry, err := market.LoadCSV(o.csv)
		if err != nil {
			return in, nil, err
		}
		in.Entry = entry
		if o.htfCSV != "" {
			if in.HTF, err = market.LoadCSV(o.htfCSV); err != nil {
				return in, nil, err
			}
		}
		return in, nil, nil
	}

	feeds, err := app.BuildFeeds(ctx, cfg, log)
	if err != nil {
		return in, nil, err
	}
	tf := cfg.Timeframes
	days := cfg.Backtest.Days
	fmt.Fprintf(os.Stderr, "fetching %d days of %s %s...\n", days, in.Symbol, tf.Entry)

	frames := []frame{{tf.Entry, &in.Entry}, {tf.Structure, &in.HTF}}
	if o.mode == model.ModeMTF {
		frames = append(frames, frame{tf.Direction, &in.Direction}, frame{tf.Sniper, &in.Sniper})
	}
	for _, f := range frames {
		candles, err := feeds.History(ctx, in.Symbol, f.tf, days)
		if err != nil {
			return in, feeds, fmt.Errorf("%s history: %w", f.tf, err)
		}
		*f.dst = candles
	}
	return in, feeds, nil
}

func save(ctx context.Context, cfg *config.Config, rep *backtest.Report, feeds *app.Feeds, log *zap.Logger) error {
	path, err := rep.Save(cfg.Backtest.ReportDir, "")
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "report saved to %s\n", path)

	var errs []error
	if dsn := cfg.Storage.Postgres; dsn != "" {
		pg, err := storage.NewPostgres(ctx, dsn, log)
		if err != nil {
			errs = append(errs, err)
		} else {
			defer pg.Close()
			errs = append(errs, pg.SaveReport(ctx, rep))
		}
	}
	if feeds != nil && feeds.Influx != nil {
		errs = append(errs, feeds.Influx.WriteEquity(ctx, rep.RunID, rep.Symbol, rep.Equity))
	}
	return errors.Join(errs...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

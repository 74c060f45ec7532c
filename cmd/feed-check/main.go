// feed-check fetches candles through the configured feed chain and cache and
// prints them, to verify exchange and fallback connectivity.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go-smc/internal/app"
	"go-smc/internal/config"
	"go-smc/internal/logging"
	"go-smc/internal/market"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "configuration file; defaults apply when missing")
	symbol := flag.String("symbol", "", "trading pair (default from config)")
	tf := flag.String("tf", "", "timeframe (default: entry timeframe)")
	limit := flag.Int("limit", 10, "candles to fetch")
	repeat := flag.Bool("repeat", true, "fetch twice to exercise the cache")
	flag.Parse()

	cfg := config.Default()
	if _, err := os.Stat(*configPath); err == nil {
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
	}
	if *symbol != "" {
		cfg.Exchange.Symbol = *symbol
	}
	if *tf == "" {
		*tf = cfg.Timeframes.Entry
	}

	log, err := logging.Console("info")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	feeds, err := app.BuildFeeds(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[feed-check] %v\n", err)
		os.Exit(1)
	}
	defer feeds.Close()

	rounds := 1
	if *repeat {
		rounds = 2
	}
	for i := 0; i < rounds; i++ {
		start := time.Now()
		candles, err := feeds.Feed.Candles(ctx, cfg.Exchange.Symbol, *tf, *limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[feed-check] %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("[feed-check] %s %s %s: %d candles in %s\n", feeds.Feed.Name(), cfg.Exchange.Symbol, *tf, len(candles), time.Since(start).Round(time.Millisecond))
		if i == 0 {
			if err := market.WriteCSV(os.Stdout, candles); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		}
	}
	if feeds.Cached != nil {
		st := feeds.Cached.Stats()
		fmt.Printf("[feed-check] cache hits=%d misses=%d ttl=%s\n", st.Hits, st.Misses, market.CacheTTL(*tf))
	}
}

package app

import (
	"context"
	"time"

	"go-smc/internal/config"
	"go-smc/internal/market"
	"go-smc/internal/model"
	"go-smc/internal/storage"

	"go.uber.org/zap"
)

const sweepInterval = time.Minute

// Feeds is the configured candle source with the resources it owns.
type Feeds struct {
	Feed   market.Feed
	Memory *market.MemoryCache
	Cached *market.CachedFeed
	Influx *storage.Influx

	history market.HistoryFeed
	closers []func()
}

// Close releases caches and database clients opened by BuildFeeds.
func (f *Feeds) Close() {
	for i := len(f.closers) - 1; i >= 0; i-- {
		f.closers[i]()
	}
}

// BuildFeeds assembles the Binance feed, the configured fallbacks and the
// candle cache. An enabled InfluxDB store is returned for reuse as a Series.
func BuildFeeds(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Feeds, error) {
	out := &Feeds{}
	feeds := []market.Feed{market.NewBinanceFeed(cfg.Exchange, log)}

	if cfg.Storage.Influx.Enabled() {
		influx, err := storage.NewInflux(ctx, cfg.Storage.Influx)
		if err != nil {
			return nil, err
		}
		out.Influx = influx
		out.closers = append(out.closers, influx.Close)
	}
	for _, name := range cfg.Exchange.Fallback {
		switch name {
		case "influx":
			if out.Influx == nil {
				log.Warn("fallback_unavailable", zap.String("feed", name), zap.String("reason", "influx url not set"))
				continue
			}
			feeds = append(feeds, out.Influx)
		case "csv":
			if cfg.Feed.CSVDir == "" {
				log.Warn("fallback_unavailable", zap.String("feed", name), zap.String("reason", "csv dir not set"))
				continue
			}
			feeds = append(feeds, market.NewCSVFeed(cfg.Feed.CSVDir))
		}
	}

	chain := market.NewChain(log, feeds...)
	out.history = chain
	var feed market.Feed = chain

	var cache market.Cache
	switch cfg.Cache.Backend {
	case "memory":
		out.Memory = market.NewMemoryCache()
		cache = out.Memory
	case "redis":
		rc, err := market.NewRedisCache(ctx, cfg.Cache)
		if err != nil {
			out.Close()
			return nil, err
		}
		out.closers = append(out.closers, func() { _ = rc.Close() })
		cache = rc
	}
	if cache != nil {
		out.Cached = market.NewCachedFeed(feed, cache, cfg.Cache.KeyPrefix, log)
		feed = out.Cached
	}
	out.Feed = feed
	log.Info("feed_ready", zap.String("feed", feed.Name()), zap.String("cache", cfg.Cache.Backend))
	return out, nil
}

// History returns candles of the last days from the uncached feed chain.
func (f *Feeds) History(ctx context.Context, symbol, timeframe string, days int) ([]model.Candle, error) {
	to := time.Now().UTC()
	return f.history.History(ctx, symbol, timeframe, to.AddDate(0, 0, -days), to)
}

// SweepCache drops expired memory-cache entries every minute until ctx ends.
func (f *Feeds) SweepCache(ctx context.Context, log *zap.Logger) {
	if f.Memory == nil {
		return
	}
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := f.Memory.Sweep(); n > 0 {
				log.Debug("cache_swept", zap.Int("removed", n), zap.Int("remaining", f.Memory.Len()))
			}
		}
	}
}

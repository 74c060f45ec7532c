// Package market supplies ordered candle sequences to the strategy: exchange,
// file and database feeds, a fallback chain and a per-timeframe cache.
package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go-smc/internal/model"

	"go.uber.org/zap"
)

var (
	// ErrNoData is returned when no feed produced candles.
	ErrNoData = errors.New("no candle data")
	// ErrCacheMiss is returned by caches for absent or expired keys.
	ErrCacheMiss = errors.New("cache miss")
)

// Feed returns the most recent candles of a symbol and timeframe, oldest first.
type Feed interface {
	Name() string
	Candles(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error)
}

// HistoryFeed additionally serves a closed time range.
type HistoryFeed interface {
	Feed
	History(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]model.Candle, error)
}

// Normalize sorts candles by time and drops repeated timestamps, keeping the
// first occurrence. The input slice is reordered in place.
func Normalize(candles []model.Candle) []model.Candle {
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
	out := candles[:0]
	for i, c := range candles {
		if i > 0 && c.Time.Equal(out[len(out)-1].Time) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Chain tries feeds in order and returns the first non-empty answer.
type Chain struct {
	feeds  []Feed
	logger *zap.Logger
}

// NewChain creates a fallback chain over feeds.
func NewChain(logger *zap.Logger, feeds ...Feed) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{feeds: feeds, logger: logger}
}

// Name lists the chained feeds.
func (c *Chain) Name() string {
	name := "chain("
	for i, f := range c.feeds {
		if i > 0 {
			name += ","
		}
		name += f.Name()
	}
	return name + ")"
}

// Candles asks each feed in turn. Errors are logged and the next feed is tried.
func (c *Chain) Candles(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error) {
	return c.first(ctx, symbol, timeframe, func(f Feed) ([]model.Candle, error) {
		return f.Candles(ctx, symbol, timeframe, limit)
	})
}

// History asks each feed that serves ranges in turn.
func (c *Chain) History(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]model.Candle, error) {
	return c.first(ctx, symbol, timeframe, func(f Feed) ([]model.Candle, error) {
		hf, ok := f.(HistoryFeed)
		if !ok {
			return nil, nil
		}
		return hf.History(ctx, symbol, timeframe, from, to)
	})
}

func (c *Chain) first(ctx context.Context, symbol, timeframe string, fetch func(Feed) ([]model.Candle, error)) ([]model.Candle, error) {
	var errs []error
	for _, f := range c.feeds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		candles, err := fetch(f)
		if err != nil {
			c.logger.Warn("feed_failed",
				zap.String("feed", f.Name()),
				zap.String("symbol", symbol),
				zap.String("timeframe", timeframe),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", f.Name(), err))
			continue
		}
		if len(candles) > 0 {
			return Normalize(candles), nil
		}
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w for %s %s", ErrNoData, symbol, timeframe)
	}
	return nil, fmt.Errorf("%w for %s %s: %w", ErrNoData, symbol, timeframe, errors.Join(errs...))
}

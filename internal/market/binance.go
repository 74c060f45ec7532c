package market

import (
	"context"
	"fmt"
	"time"

	"go-smc/internal/config"
	"go-smc/internal/model"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	klineMaxLimit = 1500
	fetchAttempts = 3
	retryDelay    = time.Second
	pagePause     = 250 * time.Millisecond
)

// BinanceFeed reads USDⓈ-M futures klines.
type BinanceFeed struct {
	client *futures.Client
	logger *zap.Logger
}

// NewBinanceFeed creates a futures kline feed. Public market data needs no keys.
func NewBinanceFeed(cfg config.ExchangeConfig, logger *zap.Logger) *BinanceFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	futures.UseTestnet = cfg.Testnet
	return &BinanceFeed{client: futures.NewClient(cfg.APIKey, cfg.Secret), logger: logger}
}

// Name implements Feed.
func (f *BinanceFeed) Name() string { return "binance" }

// Candles returns the latest limit klines, retrying transient failures.
func (f *BinanceFeed) Candles(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error) {
	if _, err := Duration(timeframe); err != nil {
		return nil, err
	}
	limit = min(max(limit, 1), klineMaxLimit)

	var lastErr error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		klines, err := f.client.NewKlinesService().
			Symbol(symbol).
			Interval(timeframe).
			Limit(limit).
			Do(ctx)
		if err == nil {
			return convertKlines(klines)
		}
		lastErr = err
		f.logger.Debug("kline_fetch_retry",
			zap.String("symbol", symbol),
			zap.String("timeframe", timeframe),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return nil, fmt.Errorf("fetching %s %s klines: %w", symbol, timeframe, lastErr)
}

// History pages forward through [from, to] in batches of the maximum limit.
func (f *BinanceFeed) History(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]model.Candle, error) {
	if _, err := Duration(timeframe); err != nil {
		return nil, err
	}
	var out []model.Candle
	start := from.UnixMilli()
	end := to.UnixMilli()
	for start < end {
		klines, err := f.client.NewKlinesService().
			Symbol(symbol).
			Interval(timeframe).
			StartTime(start).
			EndTime(end).
			Limit(klineMaxLimit).
			Do(ctx)
		if err != nil {
			if len(out) > 0 {
				f.logger.Warn("history_truncated", zap.String("symbol", symbol), zap.Int("candles", len(out)), zap.Error(err))
				break
			}
			return nil, fmt.Errorf("fetching %s %s history: %w", symbol, timeframe, err)
		}
		if len(klines) == 0 {
			break
		}
		batch, err := convertKlines(klines)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		start = klines[len(klines)-1].OpenTime + 1
		if len(klines) < klineMaxLimit {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pagePause):
		}
	}
	f.logger.Info("history_fetched",
		zap.String("symbol", symbol),
		zap.String("timeframe", timeframe),
		zap.Int("candles", len(out)),
	)
	return Normalize(out), nil
}

func convertKlines(klines []*futures.Kline) ([]model.Candle, error) {
	out := make([]model.Candle, 0, len(klines))
	for _, k := range klines {
		c := model.Candle{Time: time.UnixMilli(k.OpenTime).UTC()}
		fields := []struct {
			raw string
			dst *float64
		}{
			{k.Open, &c.Open}, {k.High, &c.High}, {k.Low, &c.Low}, {k.Close, &c.Close}, {k.Volume, &c.Volume},
		}
		for _, fl := range fields {
			d, err := decimal.NewFromString(fl.raw)
			if err != nil {
				return nil, fmt.Errorf("parsing kline value %q: %w", fl.raw, err)
			}
			*fl.dst = d.InexactFloat64()
		}
		out = append(out, c)
	}
	return out, nil
}

package market

import (
	"fmt"
	"time"
)

var timeframes = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

// cacheTTL is slightly shorter than one candle.
var cacheTTL = map[string]time.Duration{
	"1m":  50 * time.Second,
	"3m":  150 * time.Second,
	"5m":  250 * time.Second,
	"15m": 800 * time.Second,
	"30m": 1700 * time.Second,
	"1h":  3400 * time.Second,
	"4h":  13000 * time.Second,
	"1d":  80000 * time.Second,
}

var cycleInterval = map[string]time.Duration{
	"1m":  55 * time.Second,
	"3m":  170 * time.Second,
	"5m":  290 * time.Second,
	"15m": 890 * time.Second,
	"30m": 1790 * time.Second,
	"1h":  3590 * time.Second,
	"4h":  14390 * time.Second,
}

const (
	defaultTTL   = 300 * time.Second
	defaultCycle = 60 * time.Second
)

// Duration returns the length of one candle.
func Duration(tf string) (time.Duration, error) {
	d, ok := timeframes[tf]
	if !ok {
		return 0, fmt.Errorf("unknown timeframe %q", tf)
	}
	return d, nil
}

// CacheTTL returns the cache lifetime of a timeframe's candles.
func CacheTTL(tf string) time.Duration {
	if d, ok := cacheTTL[tf]; ok {
		return d
	}
	return defaultTTL
}

// CycleInterval returns the paper runner cycle for an entry timeframe.
func CycleInterval(tf string) time.Duration {
	if d, ok := cycleInterval[tf]; ok {
		return d
	}
	return defaultCycle
}

// CandlesFor returns how many candles of tf cover days, or 0 for an unknown timeframe.
func CandlesFor(days int, tf string) int {
	d, ok := timeframes[tf]
	if !ok {
		return 0
	}
	return int(time.Duration(days) * 24 * time.Hour / d)
}

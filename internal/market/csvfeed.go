package market

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go-smc/internal/model"
)

// CSVFeed reads candles from <dir>/<SYMBOL>_<timeframe>.csv files with a
// timestamp,open,high,low,close,volume header. Timestamps are unix
// milliseconds or RFC 3339.
type CSVFeed struct {
	dir string
}

// NewCSVFeed creates a file feed rooted at dir.
func NewCSVFeed(dir string) *CSVFeed {
	return &CSVFeed{dir: dir}
}

// Name implements Feed.
func (f *CSVFeed) Name() string { return "csv" }

// Path returns the file backing a symbol and timeframe.
func (f *CSVFeed) Path(symbol, timeframe string) string {
	return filepath.Join(f.dir, fmt.Sprintf("%s_%s.csv", strings.ToUpper(symbol), timeframe))
}

// Candles returns the last limit candles of the file. A missing file is no data.
func (f *CSVFeed) Candles(_ context.Context, symbol, timeframe string, limit int) ([]model.Candle, error) {
	candles, err := f.load(symbol, timeframe)
	if err != nil || limit <= 0 || len(candles) <= limit {
		return candles, err
	}
	return candles[len(candles)-limit:], nil
}

// History returns the candles inside [from, to].
func (f *CSVFeed) History(_ context.Context, symbol, timeframe string, from, to time.Time) ([]model.Candle, error) {
	candles, err := f.load(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	var out []model.Candle
	for _, c := range candles {
		if !c.Time.Before(from) && !c.Time.After(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *CSVFeed) load(symbol, timeframe string) ([]model.Candle, error) {
	candles, err := LoadCSV(f.Path(symbol, timeframe))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return candles, err
}

// LoadCSV reads one candle file and returns it normalized.
func LoadCSV(path string) ([]model.Candle, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening candle file: %w", err)
	}
	defer file.Close()

	candles, err := ReadCSV(file)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return candles, nil
}

// ReadCSV parses candle rows. The header row is skipped when its first cell
// is not a timestamp.
func ReadCSV(r io.Reader) ([]model.Candle, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 6
	reader.TrimLeadingSpace = true

	var out []model.Candle
	for line := 1; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		ts, err := parseTimestamp(rec[0])
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		c := model.Candle{Time: ts}
		for i, dst := range []*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume} {
			v, err := strconv.ParseFloat(rec[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: %w", line, i+2, err)
			}
			*dst = v
		}
		out = append(out, c)
	}
	return Normalize(out), nil
}

// WriteCSV writes candles in the format ReadCSV accepts.
func WriteCSV(w io.Writer, candles []model.Candle) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	for _, c := range candles {
		rec := []string{
			strconv.FormatInt(c.Time.UnixMilli(), 10),
			strconv.FormatFloat(c.Open, 'f', -1, 64),
			strconv.FormatFloat(c.High, 'f', -1, 64),
			strconv.FormatFloat(c.Low, 'f', -1, 64),
			strconv.FormatFloat(c.Close, 'f', -1, 64),
			strconv.FormatFloat(c.Volume, 'f', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func parseTimestamp(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

package backtest

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"go-smc/internal/model"

	"github.com/shopspring/decimal"
)

// ErrNoTrades is the report error text of a run that closed no trades.
const ErrNoTrades = "No trades"

const (
	noLossProfitFactor = 999
	annualization      = 365
	monthLayout        = "2006-01"
)

// Summary is the headline block of a report. Money fields are in quote
// currency, *_pct fields are percentages and R fields are risk multiples.
type Summary struct {
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
	TotalCandles   int       `json:"total_candles"`
	InitialBalance float64   `json:"initial_balance"`
	FinalBalance   float64   `json:"final_balance"`
	TotalPnL       float64   `json:"total_pnl"`
	TotalReturnPct float64   `json:"total_return_pct"`
	TotalTrades    int       `json:"total_trades"`
	WinningTrades  int       `json:"winning_trades"`
	LosingTrades   int       `json:"losing_trades"`
	WinRate        float64   `json:"win_rate"`
	ProfitFactor   float64   `json:"profit_factor"`
	AvgWin         float64   `json:"avg_win"`
	AvgLoss        float64   `json:"avg_loss"`
	LargestWin     float64   `json:"largest_win"`
	LargestLoss    float64   `json:"largest_loss"`
	AvgRMultiple   float64   `json:"avg_r_multiple"`
	ExpectancyR    float64   `json:"expectancy_r"`
	MaxDrawdown    float64   `json:"max_drawdown"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	SharpeRatio    float64   `json:"sharpe_ratio"`
	SortinoRatio   float64   `json:"sortino_ratio"`
	CalmarRatio    float64   `json:"calmar_ratio"`
}

// DirectionStats splits results by position direction.
type DirectionStats struct {
	LongTrades   int     `json:"long_trades"`
	LongWinRate  float64 `json:"long_win_rate"`
	LongPnL      float64 `json:"long_pnl"`
	ShortTrades  int     `json:"short_trades"`
	ShortWinRate float64 `json:"short_win_rate"`
	ShortPnL     float64 `json:"short_pnl"`
}

// SignalStat aggregates trades opened by one signal type.
type SignalStat struct {
	Trades  int     `json:"trades"`
	Wins    int     `json:"wins"`
	PnL     float64 `json:"pnl"`
	WinRate float64 `json:"win_rate"`
}

// TradeRecord is the serialized form of a closed trade.
type TradeRecord struct {
	ID            int              `json:"id"`
	Direction     model.Direction  `json:"direction"`
	Signal        model.SignalType `json:"signal"`
	EntryPrice    float64          `json:"entry_price"`
	ExitPrice     float64          `json:"exit_price"`
	StopLoss      float64          `json:"stop_loss"`
	FinalStopLoss float64          `json:"final_stop_loss"`
	TakeProfit    float64          `json:"take_profit"`
	Size          float64          `json:"size"`
	PnL           float64          `json:"pnl"`
	PnLPct        float64          `json:"pnl_pct"`
	RMultiple     float64          `json:"r_multiple"`
	Commission    float64          `json:"commission"`
	PartsTaken    int              `json:"parts_taken"`
	ExitReason    model.ExitReason `json:"exit_reason"`
	EntryTime     time.Time        `json:"entry_time"`
	ExitTime      time.Time        `json:"exit_time"`
}

// Report is the aggregated outcome of one run. Error is set, and the
// aggregate sections are absent, when the run closed no trades.
type Report struct {
	RunID          string                          `json:"run_id"`
	Symbol         string                          `json:"symbol,omitempty"`
	Error          string                          `json:"error,omitempty"`
	Summary        *Summary                        `json:"summary,omitempty"`
	DirectionStats *DirectionStats                 `json:"direction_stats,omitempty"`
	SignalStats    map[model.SignalType]SignalStat `json:"signal_stats,omitempty"`
	MonthlyReturns map[string]float64              `json:"monthly_returns,omitempty"`
	Trades         []TradeRecord                   `json:"trades,omitempty"`
	SkippedCandles int                             `json:"skipped_candles"`

	// Ledger and Equity keep the unrounded run output for persistence.
	Ledger []model.Trade       `json:"-"`
	Equity []model.EquityPoint `json:"-"`
}

// HasTrades reports whether the run closed at least one trade.
func (r *Report) HasTrades() bool {
	return r != nil && r.Error == "" && r.Summary != nil
}

// ReportInput is the raw output of a simulation.
type ReportInput struct {
	RunID          string
	Symbol         string
	Candles        []model.Candle
	InitialBalance float64
	FinalBalance   float64
	Trades         []model.Trade
	Equity         []model.EquityPoint
	MaxDrawdown    float64
	// MaxDrawdownPct is a fraction of the peak equity.
	MaxDrawdownPct float64
	Skipped        int
}

// BuildReport aggregates a finished run. Wins are trades with positive net PnL.
func BuildReport(in ReportInput) *Report {
	rep := &Report{
		RunID:          in.RunID,
		Symbol:         in.Symbol,
		SkippedCandles: in.Skipped,
		Ledger:         in.Trades,
		Equity:         in.Equity,
	}
	if len(in.Trades) == 0 {
		rep.Error = ErrNoTrades
		return rep
	}

	var wins, losses, all, rs []float64
	for _, t := range in.Trades {
		all = append(all, t.PnL)
		rs = append(rs, t.RMultiple)
		if t.PnL > 0 {
			wins = append(wins, t.PnL)
		} else {
			losses = append(losses, t.PnL)
		}
	}
	total := sum(all)
	ib := in.InitialBalance

	sharpe, sortino := riskRatios(dailyReturns(in.Equity))
	calmar := 0.0
	if in.MaxDrawdownPct > 0 && ib > 0 {
		calmar = (total / ib) / in.MaxDrawdownPct
	}

	s := &Summary{
		TotalCandles:   len(in.Candles),
		InitialBalance: ib,
		FinalBalance:   round(in.FinalBalance, 2),
		TotalPnL:       round(total, 2),
		TotalTrades:    len(in.Trades),
		WinningTrades:  len(wins),
		LosingTrades:   len(losses),
		WinRate:        round(float64(len(wins))/float64(len(in.Trades))*100, 1),
		ProfitFactor:   round(profitFactor(wins, losses), 2),
		AvgWin:         round(mean(wins), 2),
		AvgLoss:        round(mean(losses), 2),
		LargestWin:     round(slices.Max(all), 2),
		LargestLoss:    round(slices.Min(all), 2),
		AvgRMultiple:   round(mean(rs), 2),
		ExpectancyR:    round(mean(rs), 2),
		MaxDrawdown:    round(in.MaxDrawdown, 2),
		MaxDrawdownPct: round(in.MaxDrawdownPct*100, 2),
		SharpeRatio:    round(sharpe, 2),
		SortinoRatio:   round(sortino, 2),
		CalmarRatio:    round(calmar, 2),
	}
	if ib > 0 {
		s.TotalReturnPct = round(total/ib*100, 2)
	}
	if len(in.Candles) > 0 {
		s.PeriodStart = in.Candles[0].Time
		s.PeriodEnd = in.Candles[len(in.Candles)-1].Time
	}
	rep.Summary = s
	rep.DirectionStats = directionStats(in.Trades)
	rep.SignalStats = signalStats(in.Trades)
	rep.MonthlyReturns = monthlyReturns(in.Trades)
	for _, t := range in.Trades {
		rep.Trades = append(rep.Trades, tradeRecord(t))
	}
	return rep
}

// profitFactor is gross win over gross loss, or 999 without losing trades.
// Losing trades that are all break-even leave the ratio undefined and give 0.
func profitFactor(wins, losses []float64) float64 {
	if len(losses) == 0 {
		return noLossProfitFactor
	}
	l := sum(losses)
	if l == 0 {
		return 0
	}
	return math.Abs(sum(wins)) / math.Abs(l)
}

func directionStats(trades []model.Trade) *DirectionStats {
	var d DirectionStats
	var longWins, shortWins int
	for _, t := range trades {
		switch t.Direction {
		case model.DirectionLong:
			d.LongTrades++
			d.LongPnL += t.PnL
			if t.PnL > 0 {
				longWins++
			}
		case model.DirectionShort:
			d.ShortTrades++
			d.ShortPnL += t.PnL
			if t.PnL > 0 {
				shortWins++
			}
		}
	}
	d.LongWinRate = round(float64(longWins)/float64(max(d.LongTrades, 1))*100, 1)
	d.ShortWinRate = round(float64(shortWins)/float64(max(d.ShortTrades, 1))*100, 1)
	d.LongPnL = round(d.LongPnL, 2)
	d.ShortPnL = round(d.ShortPnL, 2)
	return &d
}

func signalStats(trades []model.Trade) map[model.SignalType]SignalStat {
	out := make(map[model.SignalType]SignalStat)
	for _, t := range trades {
		st := out[t.Signal]
		st.Trades++
		st.PnL += t.PnL
		if t.PnL > 0 {
			st.Wins++
		}
		out[t.Signal] = st
	}
	for k, st := range out {
		st.WinRate = round(float64(st.Wins)/float64(max(st.Trades, 1))*100, 1)
		st.PnL = round(st.PnL, 2)
		out[k] = st
	}
	return out
}

// monthlyReturns buckets net PnL by the UTC month of the entry.
func monthlyReturns(trades []model.Trade) map[string]float64 {
	out := make(map[string]float64)
	for _, t := range trades {
		out[t.EntryTime.UTC().Format(monthLayout)] += t.PnL
	}
	for k, v := range out {
		out[k] = round(v, 2)
	}
	return out
}

func tradeRecord(t model.Trade) TradeRecord {
	return TradeRecord{
		ID:            t.ID,
		Direction:     t.Direction,
		Signal:        t.Signal,
		EntryPrice:    round(t.EntryPrice, 2),
		ExitPrice:     round(t.ExitPrice, 2),
		StopLoss:      round(t.InitialStopLoss, 2),
		FinalStopLoss: round(t.StopLoss, 2),
		TakeProfit:    round(t.TakeProfit, 2),
		Size:          round(t.InitialSize, 6),
		PnL:           round(t.PnL, 2),
		PnLPct:        round(t.PnLPct, 4),
		RMultiple:     round(t.RMultiple, 2),
		Commission:    round(t.Commission, 2),
		PartsTaken:    t.PartsTaken,
		ExitReason:    t.ExitReason,
		EntryTime:     t.EntryTime,
		ExitTime:      t.ExitTime,
	}
}

// dailyReturns resamples the equity curve to the last sample of each UTC day
// and returns the day-over-day percentage changes.
func dailyReturns(curve []model.EquityPoint) []float64 {
	if len(curve) == 0 {
		return nil
	}
	last := make(map[time.Time]float64)
	for _, p := range curve {
		y, m, d := p.Time.UTC().Date()
		last[time.Date(y, m, d, 0, 0, 0, 0, time.UTC)] = p.Equity
	}
	days := make([]time.Time, 0, len(last))
	for d := range last {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	var out []float64
	for i := 1; i < len(days); i++ {
		prev := last[days[i-1]]
		if prev == 0 {
			continue
		}
		out = append(out, last[days[i]]/prev-1)
	}
	return out
}

// riskRatios returns the annualized Sharpe and Sortino ratios. Sortino divides
// the mean of all returns by the deviation of the negative ones.
func riskRatios(returns []float64) (sharpe, sortino float64) {
	if len(returns) > 1 {
		if sd := stdDev(returns); sd > 0 {
			sharpe = mean(returns) / sd * math.Sqrt(annualization)
		}
	}
	var neg []float64
	for _, r := range returns {
		if r < 0 {
			neg = append(neg, r)
		}
	}
	if len(neg) > 1 {
		if sd := stdDev(neg); sd > 0 {
			sortino = mean(returns) / sd * math.Sqrt(annualization)
		}
	}
	return sharpe, sortino
}

// Save writes the report as indented JSON to dir/name.json. An empty name
// derives one from the current time.
func (r *Report) Save(dir, name string) (string, error) {
	if name == "" {
		name = "bt_" + time.Now().UTC().Format("20060102_150405")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating report dir %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding report: %w", err)
	}
	path := filepath.Join(dir, name+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing report %s: %w", path, err)
	}
	return path, nil
}

// LoadReport reads a report written by Save.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding report %s: %w", path, err)
	}
	return &r, nil
}

// LatestReport loads the newest bt_*.json report in dir. Names sort by time.
func LatestReport(dir string) (*Report, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "bt_*.json"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no reports in %s: %w", dir, os.ErrNotExist)
	}
	slices.Sort(matches)
	return LoadReport(matches[len(matches)-1])
}

// round rounds half away from zero to the given decimal places.
func round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

func sum(v []float64) float64 {
	t := 0.0
	for _, x := range v {
		t += x
	}
	return t
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return sum(v) / float64(len(v))
}

// stdDev is the sample standard deviation.
func stdDev(v []float64) float64 {
	if len(v) < 2 {
		return 0
	}
	m := mean(v)
	ss := 0.0
	for _, x := range v {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(v)-1))
}

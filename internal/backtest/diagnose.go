package backtest

import (
	"fmt"
	"math"
	"sort"

	"go-smc/internal/model"
)

// Severity ranks a diagnostic finding.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityInfo     Severity = "INFO"
)

// Issue is one finding over a finished report.
type Issue struct {
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail"`
	Fix      string   `json:"fix"`
}

// Diagnose runs the trade-level rule list over a report with trades.
func Diagnose(r *Report) []Issue {
	if !r.HasTrades() {
		return nil
	}
	trades := r.Ledger
	s := r.Summary
	var issues []Issue
	add := func(typ string, sev Severity, fix, format string, args ...any) {
		issues = append(issues, Issue{Type: typ, Severity: sev, Detail: fmt.Sprintf(format, args...), Fix: fix})
	}

	var stops []model.Trade
	for _, t := range trades {
		if t.ExitReason == model.ExitStopLoss {
			stops = append(stops, t)
		}
	}
	if slPct := float64(len(stops)) / float64(len(trades)) * 100; slPct > 65 {
		dist := 0.0
		for _, t := range trades {
			dist += math.Abs(t.EntryPrice-t.InitialStopLoss) / math.Max(t.EntryPrice, 1) * 100
		}
		add("SL_TOO_TIGHT", SeverityHigh,
			"Increase stop distance or use an ATR-based stop; try riskRewardRatio 2.0 or swingLookback 15",
			"Stop loss hit %.0f%% of trades. Avg stop distance: %.2f%%", slPct, dist/float64(len(trades)))
	}

	var negR []float64
	for _, t := range trades {
		if t.RMultiple < 0 {
			negR = append(negR, t.RMultiple)
		}
	}
	if avg := mean(negR); len(negR) > 0 && avg < -0.8 {
		add("FULL_SL_HITS", SeverityMedium,
			"Consider a trailing stop or moving to break-even earlier",
			"Average losing R: %.2fR, trades are hitting the full stop", avg)
	}

	d := r.DirectionStats
	switch {
	case d.LongTrades > 0 && d.ShortTrades == 0:
		add("NO_SHORTS", SeverityMedium,
			"Check bearish signal thresholds",
			"No short trades taken. Strategy is long-only.")
	case d.ShortTrades > 0 && d.LongTrades == 0:
		add("NO_LONGS", SeverityMedium,
			"Check bullish signal thresholds",
			"No long trades taken.")
	}

	sigs := make([]model.SignalType, 0, len(r.SignalStats))
	for sig := range r.SignalStats {
		sigs = append(sigs, sig)
	}
	sort.Slice(sigs, func(i, j int) bool { return sigs[i] < sigs[j] })
	for _, sig := range sigs {
		st := r.SignalStats[sig]
		if st.Trades >= 3 && st.WinRate < 30 {
			add("WEAK_SIGNAL", SeverityHigh,
				fmt.Sprintf("Consider disabling %s or raising its confluence threshold", sig),
				"Signal %s has %.1f%% WR (%d trades)", sig, st.WinRate, st.Trades)
		}
	}

	if streak := longestLosingStreak(trades); streak >= 5 {
		add("LONG_LOSING_STREAK", SeverityHigh,
			"Enable the admission gate cool-down or reduce size after 3 losses",
			"Max %d consecutive losses", streak)
	}

	if best, worst := entryHours(trades); len(best) > 0 && len(worst) > 0 {
		add("TIME_ANALYSIS", SeverityInfo,
			"Consider limiting trading to the best performing hours",
			"Best hours (UTC): %v | Worst: %v", best, worst)
	}

	var bigWins, bigLosses int
	for _, t := range trades {
		if t.PnL > 0 && t.RMultiple > 1.5 {
			bigWins++
		}
		if t.PnL < 0 && t.RMultiple < -0.9 {
			bigLosses++
		}
	}
	if bigLosses > bigWins*2 {
		add("ASYMMETRIC_RESULTS", SeverityMedium,
			"Risk-reward may be too aggressive or entries poorly timed",
			"Big losses (%d) >> big wins (%d)", bigLosses, bigWins)
	}

	if s.MaxDrawdownPct > 20 {
		add("HIGH_DRAWDOWN", SeverityHigh,
			"Reduce riskPerTrade to 0.01 or enable the max drawdown gate",
			"Max drawdown %.2f%% is too high", s.MaxDrawdownPct)
	}

	if s.TotalCandles > 0 {
		per100 := float64(len(trades)) / (float64(s.TotalCandles) / 100)
		switch {
		case per100 < 0.5:
			add("LOW_FREQUENCY", SeverityInfo,
				"Lower the confluence threshold or add more signal types",
				"Only %.1f trades per 100 candles", per100)
		case per100 > 5:
			add("OVERTRADING", SeverityMedium,
				"Raise the confluence threshold or add more filters",
				"%.1f trades per 100 candles", per100)
		}
	}

	if s.ProfitFactor < 1 && s.TotalPnL <= 0 {
		add("LOSING_STRATEGY", SeverityCritical,
			"Review entry logic, stop and target levels or confluence requirements",
			"Profit factor %.2f < 1.0, the strategy loses money", s.ProfitFactor)
	}

	early := 0
	for _, t := range stops {
		if t.RMultiple > -0.3 {
			early++
		}
	}
	if len(stops) > 3 && float64(early) > float64(len(stops))*0.3 {
		add("SL_TOO_CLOSE", SeverityHigh,
			"Use a wider stop with a smaller position size",
			"%d/%d stop hits were very close to entry", early, len(stops))
	}
	return issues
}

// Verdict summarizes a diagnostic run.
func Verdict(issues []Issue) string {
	counts := make(map[Severity]int)
	for _, i := range issues {
		counts[i.Severity]++
	}
	switch {
	case counts[SeverityCritical] > 0:
		return "Strategy needs major fixes before use"
	case counts[SeverityHigh] >= 2:
		return "Several issues need attention"
	case counts[SeverityHigh] == 1:
		return "Minor issues, fixable with parameter tuning"
	}
	return "Strategy looks reasonable"
}

func longestLosingStreak(trades []model.Trade) int {
	best, cur := 0, 0
	for _, t := range trades {
		if t.PnL <= 0 {
			cur++
			best = max(best, cur)
			continue
		}
		cur = 0
	}
	return best
}

// entryHours returns the three most frequent UTC entry hours of winners and of losers.
func entryHours(trades []model.Trade) (best, worst []int) {
	wins := make(map[int]int)
	losses := make(map[int]int)
	for _, t := range trades {
		h := t.EntryTime.UTC().Hour()
		if t.PnL > 0 {
			wins[h]++
		} else {
			losses[h]++
		}
	}
	return topHours(wins, 3), topHours(losses, 3)
}

func topHours(counts map[int]int, n int) []int {
	hours := make([]int, 0, len(counts))
	for h := range counts {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool {
		if counts[hours[i]] != counts[hours[j]] {
			return counts[hours[i]] > counts[hours[j]]
		}
		return hours[i] < hours[j]
	})
	if len(hours) > n {
		hours = hours[:n]
	}
	return hours
}

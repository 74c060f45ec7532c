package backtest

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	accentColor = lipgloss.Color("#0077cc")
	profitColor = lipgloss.Color("#33cc33")
	lossColor   = lipgloss.Color("#cc3300")
	warnColor   = lipgloss.Color("#cccc00")
	mutedColor  = lipgloss.Color("#999999")

	boxStyle = lipgloss.NewStyle().
			Padding(0, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accentColor)
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(accentColor).
			Padding(0, 1)
	labelStyle  = lipgloss.NewStyle().Foreground(mutedColor).Width(15)
	profitStyle = lipgloss.NewStyle().Foreground(profitColor)
	lossStyle   = lipgloss.NewStyle().Foreground(lossColor)
	warnStyle   = lipgloss.NewStyle().Foreground(warnColor)
	ruleStyle   = lipgloss.NewStyle().Foreground(mutedColor)
)

const (
	ruleWidth    = 54
	monthsShown  = 6
	tradesShown  = 20
	sweepResults = 10
)

// Render formats a report for the terminal.
func Render(r *Report) string {
	if !r.HasTrades() {
		return boxStyle.Render(warnStyle.Render(r.Error))
	}
	s := r.Summary
	d := r.DirectionStats
	g := GradeSummary(*s)

	var b strings.Builder
	line := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + value + "\n")
	}
	rule := func() { b.WriteString(ruleStyle.Render(strings.Repeat("─", ruleWidth)) + "\n") }

	b.WriteString(titleStyle.Render("BACKTEST RESULTS") + "\n")
	line("Period", fmt.Sprintf("%s to %s", s.PeriodStart.Format("2006-01-02"), s.PeriodEnd.Format("2006-01-02")))
	line("Candles", fmt.Sprint(s.TotalCandles))
	rule()
	line("Return", signed(s.TotalReturnPct, "%+.2f%%"))
	line("Balance", fmt.Sprintf("$%.2f -> $%.2f", s.InitialBalance, s.FinalBalance))
	line("Total PnL", signed(s.TotalPnL, "$%+.2f"))
	rule()
	line("Trades", fmt.Sprintf("%d (%dW / %dL)", s.TotalTrades, s.WinningTrades, s.LosingTrades))
	line("Win Rate", fmt.Sprintf("%.1f%%", s.WinRate))
	line("Profit Factor", fmt.Sprintf("%.2f", s.ProfitFactor))
	line("Avg Win", signed(s.AvgWin, "$%+.2f"))
	line("Avg Loss", signed(s.AvgLoss, "$%+.2f"))
	line("Avg R", fmt.Sprintf("%.2fR", s.AvgRMultiple))
	rule()
	line("Max Drawdown", fmt.Sprintf("%.2f%% ($%.2f)", s.MaxDrawdownPct, s.MaxDrawdown))
	line("Sharpe", fmt.Sprintf("%.2f", s.SharpeRatio))
	line("Sortino", fmt.Sprintf("%.2f", s.SortinoRatio))
	line("Calmar", fmt.Sprintf("%.2f", s.CalmarRatio))
	rule()
	line("Long", fmt.Sprintf("%dt WR:%.1f%% PnL:%s", d.LongTrades, d.LongWinRate, signed(d.LongPnL, "$%+.2f")))
	line("Short", fmt.Sprintf("%dt WR:%.1f%% PnL:%s", d.ShortTrades, d.ShortWinRate, signed(d.ShortPnL, "$%+.2f")))

	if len(r.SignalStats) > 0 {
		rule()
		keys := slices.Sorted(maps.Keys(r.SignalStats))
		for _, k := range keys {
			st := r.SignalStats[k]
			line(string(k), fmt.Sprintf("%dt WR:%.1f%% %s", st.Trades, st.WinRate, signed(st.PnL, "$%+.2f")))
		}
	}
	if len(r.MonthlyReturns) > 0 {
		rule()
		months := slices.Sorted(maps.Keys(r.MonthlyReturns))
		if len(months) > monthsShown {
			months = months[len(months)-monthsShown:]
		}
		for _, m := range months {
			line(m, signed(r.MonthlyReturns[m], "$%+.2f"))
		}
	}
	rule()
	b.WriteString(titleStyle.Render(fmt.Sprintf("GRADE: %s (%d/100) - %s", g.Letter, g.Score, g.Verdict)))
	return boxStyle.Render(b.String())
}

// RenderTrades formats the last closed trades as a table.
func RenderTrades(r *Report) string {
	if len(r.Trades) == 0 {
		return "  No trades"
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%4s %6s %12s %11s %11s %10s %7s %14s\n", "#", "Dir", "Signal", "Entry", "Exit", "PnL", "R", "Reason"))
	trades := r.Trades
	if len(trades) > tradesShown {
		trades = trades[len(trades)-tradesShown:]
	}
	for _, t := range trades {
		style := profitStyle
		if t.PnL <= 0 {
			style = lossStyle
		}
		b.WriteString(fmt.Sprintf("%4d %6s %12s %11.2f %11.2f %s %s %14s\n",
			t.ID, t.Direction, t.Signal, t.EntryPrice, t.ExitPrice,
			style.Render(fmt.Sprintf("%10.2f", t.PnL)),
			style.Render(fmt.Sprintf("%+6.2fR", t.RMultiple)),
			t.ExitReason))
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// RenderIssues formats diagnostic findings with the overall verdict.
func RenderIssues(issues []Issue) string {
	if len(issues) == 0 {
		return profitStyle.Render("No significant issues found")
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("DIAGNOSTICS") + "\n")
	for _, i := range issues {
		style := warnStyle
		switch i.Severity {
		case SeverityCritical, SeverityHigh:
			style = lossStyle
		case SeverityInfo:
			style = ruleStyle
		}
		b.WriteString(fmt.Sprintf("\n%s (%s)\n  %s\n  %s\n",
			style.Bold(true).Render(i.Type), i.Severity, i.Detail, profitStyle.Render("Fix: "+i.Fix)))
	}
	b.WriteString("\n" + titleStyle.Render("VERDICT: "+Verdict(issues)))
	return boxStyle.Render(b.String())
}

// RenderSweep formats the top sweep results and the best parameters.
func RenderSweep(results []SweepResult) string {
	if len(results) == 0 {
		return lossStyle.Render("No valid results")
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%3s %8s %6s %6s %7s %7s %6s %6s\n", "#", "Return", "WR", "PF", "DD", "Sharpe", "Trades", "Score"))
	for i, r := range results[:min(len(results), sweepResults)] {
		row := fmt.Sprintf("%3d %+7.1f%% %5.1f%% %6.2f %6.1f%% %7.2f %6d %6.1f",
			i+1, r.Return, r.WinRate, r.ProfitFactor, r.Drawdown, r.Sharpe, r.Trades, r.Score)
		if i < 3 {
			row = profitStyle.Render(row)
		}
		b.WriteString(row + "\n")
	}
	p := results[0].Params
	b.WriteString("\n" + titleStyle.Render("BEST PARAMETERS") + "\n")
	b.WriteString(fmt.Sprintf("riskPerTrade     %g\nriskRewardRatio  %g\nswingLookback    %d\nobLookback       %d",
		p.RiskPerTrade, p.RiskRewardRatio, p.SwingLookback, p.OBLookback))
	return boxStyle.Render(b.String())
}

func signed(v float64, format string) string {
	s := fmt.Sprintf(format, v)
	switch {
	case v > 0:
		return profitStyle.Render(s)
	case v < 0:
		return lossStyle.Render(s)
	}
	return s
}

// Package risk holds position sizing, the trade admission gate and the staged exit machine.
package risk

import (
	"math"
	"time"
)

const historyCap = 500

// ClosedResult is one realized trade outcome recorded against the account.
type ClosedResult struct {
	Time    time.Time `json:"timestamp"`
	PnL     float64   `json:"pnl"`
	Balance float64   `json:"balance"`
}

// AccountState is the mutable account record updated at trade-close boundaries.
type AccountState struct {
	Balance           float64        `json:"balance"`
	PeakBalance       float64        `json:"peakBalance"`
	DrawdownPct       float64        `json:"drawdownPct"`
	Day               time.Time      `json:"day"`
	DailyPnL          float64        `json:"dailyPnl"`
	DailyTrades       int            `json:"dailyTrades"`
	ConsecutiveLosses int            `json:"consecutiveLosses"`
	History           []ClosedResult `json:"history"`
}

// NewAccountState starts an account at the given balance.
func NewAccountState(balance float64) AccountState {
	return UpdateDrawdown(AccountState{Balance: balance})
}

// UpdateDrawdown refreshes the peak balance and the drawdown percentage.
func UpdateDrawdown(acct AccountState) AccountState {
	if acct.Balance > acct.PeakBalance || acct.PeakBalance == 0 {
		acct.PeakBalance = acct.Balance
	}
	if acct.PeakBalance > 0 {
		acct.DrawdownPct = (acct.PeakBalance - acct.Balance) / acct.PeakBalance * 100
	}
	return acct
}

// rollDay resets the daily counters when at falls on a later UTC day.
func (a *AccountState) rollDay(at time.Time) {
	y, m, d := at.UTC().Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if !day.Equal(a.Day) {
		a.Day = day
		a.DailyPnL = 0
		a.DailyTrades = 0
	}
}

// Stats summarizes the recorded trade history.
type Stats struct {
	TotalTrades       int     `json:"total_trades"`
	WinRate           float64 `json:"win_rate"`
	AvgWin            float64 `json:"avg_win"`
	AvgLoss           float64 `json:"avg_loss"`
	TotalPnL          float64 `json:"total_pnl"`
	DailyPnL          float64 `json:"daily_pnl"`
	DailyTrades       int     `json:"daily_trades"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
	PeakBalance       float64 `json:"peak_balance"`
	ProfitFactor      float64 `json:"profit_factor"`
}

// Stats computes statistics over the retained history. Zero-PnL trades count as losses.
func (a AccountState) Stats() Stats {
	s := Stats{
		DailyPnL:          a.DailyPnL,
		DailyTrades:       a.DailyTrades,
		ConsecutiveLosses: a.ConsecutiveLosses,
		PeakBalance:       a.PeakBalance,
	}
	if len(a.History) == 0 {
		return s
	}
	var wins, losses []float64
	for _, r := range a.History {
		s.TotalPnL += r.PnL
		if r.PnL > 0 {
			wins = append(wins, r.PnL)
		} else {
			losses = append(losses, r.PnL)
		}
	}
	s.TotalTrades = len(a.History)
	s.WinRate = float64(len(wins)) / float64(s.TotalTrades) * 100
	s.AvgWin = sum(wins) / math.Max(float64(len(wins)), 1)
	s.AvgLoss = sum(losses) / math.Max(float64(len(losses)), 1)
	s.ProfitFactor = 999
	if len(losses) > 0 {
		s.ProfitFactor = math.Abs(sum(wins)) / math.Max(math.Abs(sum(losses)), 1)
	}
	return s
}

func sum(v []float64) float64 {
	t := 0.0
	for _, x := range v {
		t += x
	}
	return t
}

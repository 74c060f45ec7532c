package risk

import (
	"sync"
	"time"

	"go-smc/internal/config"

	"go.uber.org/zap"
)

// Rejection reasons returned by CanOpen.
const (
	ReasonMaxTrades   = "max trades"
	ReasonDailyLoss   = "daily loss limit"
	ReasonMaxDrawdown = "max drawdown"
	ReasonCooldown    = "cool-down"
)

// Decision is the admission gate's answer.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Gate owns the account state and decides whether a new trade may open.
// It is safe for concurrent use.
type Gate struct {
	mu     sync.Mutex
	cfg    config.RiskConfig
	acct   AccountState
	logger *zap.Logger
}

// NewGate creates a gate for an account starting at balance.
func NewGate(cfg config.RiskConfig, balance float64, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{cfg: cfg, acct: NewAccountState(balance), logger: logger}
}

// CanOpen checks the daily trade count, daily loss, drawdown from peak and the
// loss-streak cool-down. Daily counters roll over on the UTC day of at.
func (g *Gate) CanOpen(balance float64, at time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.acct.rollDay(at)

	d := Decision{Allowed: true}
	a := g.acct
	switch {
	case a.DailyTrades >= g.cfg.MaxOpenTrades:
		d = Decision{Reason: ReasonMaxTrades}
	case a.DailyPnL <= -balance*g.cfg.MaxDailyLoss:
		d = Decision{Reason: ReasonDailyLoss}
	case a.PeakBalance > 0 && (a.PeakBalance-balance)/a.PeakBalance >= g.cfg.MaxDrawdown:
		d = Decision{Reason: ReasonMaxDrawdown}
	case a.ConsecutiveLosses >= g.cfg.CooldownLosses:
		d = Decision{Reason: ReasonCooldown}
	}
	if !d.Allowed {
		g.logger.Info("admission_rejected",
			zap.String("reason", d.Reason),
			zap.Float64("balance", balance),
			zap.Int("daily_trades", a.DailyTrades),
			zap.Float64("daily_pnl", a.DailyPnL),
			zap.Int("consecutive_losses", a.ConsecutiveLosses),
		)
	}
	return d
}

// Record applies a closed trade's PnL and the resulting balance.
func (g *Gate) Record(pnl, balance float64, at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.acct = Apply(g.acct, pnl, balance, at)
}

// State returns a copy of the account state.
func (g *Gate) State() AccountState {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.acct
	out.History = append([]ClosedResult(nil), g.acct.History...)
	return out
}

// Stats returns statistics over the account history.
func (g *Gate) Stats() Stats {
	return g.State().Stats()
}

// Apply records a closed trade on an account: daily counters, loss streak,
// peak balance and the capped history.
func Apply(acct AccountState, pnl, balance float64, at time.Time) AccountState {
	acct.rollDay(at)
	acct.DailyPnL += pnl
	acct.DailyTrades++
	if pnl > 0 {
		acct.ConsecutiveLosses = 0
	} else {
		acct.ConsecutiveLosses++
	}
	acct.Balance = balance
	acct.History = append(acct.History, ClosedResult{Time: at.UTC(), PnL: pnl, Balance: balance})
	if len(acct.History) > historyCap {
		acct.History = acct.History[len(acct.History)-historyCap:]
	}
	return UpdateDrawdown(acct)
}

package backtest

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"

	"go-smc/internal/config"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Grid is the parameter space of a sweep.
type Grid struct {
	RiskPerTrade    []float64
	RiskRewardRatio []float64
	SwingLookback   []int
	OBLookback      []int
}

// DefaultGrid is the standard 192-combination sweep.
func DefaultGrid() Grid {
	return Grid{
		RiskPerTrade:    []float64{0.01, 0.015, 0.02, 0.025},
		RiskRewardRatio: []float64{1.5, 2.0, 2.5, 3.0},
		SwingLookback:   []int{5, 8, 10, 15},
		OBLookback:      []int{30, 50, 70},
	}
}

// Params is one point of the grid.
type Params struct {
	RiskPerTrade    float64 `json:"risk_per_trade"`
	RiskRewardRatio float64 `json:"risk_reward_ratio"`
	SwingLookback   int     `json:"swing_lookback"`
	OBLookback      int     `json:"ob_lookback"`
}

// Apply overlays the parameters on cfg.
func (p Params) Apply(cfg *config.Config) {
	cfg.Risk.RiskPerTrade = p.RiskPerTrade
	cfg.Strategy.RiskRewardRatio = p.RiskRewardRatio
	cfg.Strategy.SwingLookback = p.SwingLookback
	cfg.Strategy.OBLookback = p.OBLookback
}

// Combinations expands the grid in declaration order.
func (g Grid) Combinations() []Params {
	var out []Params
	for _, rp := range g.RiskPerTrade {
		for _, rr := range g.RiskRewardRatio {
			for _, sw := range g.SwingLookback {
				for _, ob := range g.OBLookback {
					out = append(out, Params{RiskPerTrade: rp, RiskRewardRatio: rr, SwingLookback: sw, OBLookback: ob})
				}
			}
		}
	}
	return out
}

// SweepResult is the ranked outcome of one combination.
type SweepResult struct {
	Params       Params  `json:"params"`
	Score        float64 `json:"score"`
	Return       float64 `json:"return_pct"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
	Drawdown     float64 `json:"max_drawdown_pct"`
	Sharpe       float64 `json:"sharpe_ratio"`
	Trades       int     `json:"total_trades"`
}

// SweepScore ranks a summary by return, win rate, profit factor, drawdown and
// Sharpe, with a bonus for at least five trades.
func SweepScore(s Summary) float64 {
	score := math.Min(s.TotalReturnPct, 200)*0.25 +
		s.WinRate*0.2 +
		math.Min(s.ProfitFactor, 5)*8*0.2 -
		s.MaxDrawdownPct*0.2 +
		math.Min(s.SharpeRatio, 3)*10*0.15
	if s.TotalTrades >= 5 {
		score += 5
	}
	return round(score, 1)
}

// Optimizer runs every grid combination as an isolated backtest.
type Optimizer struct {
	base   *config.Config
	limit  int
	logger *zap.Logger
}

// NewOptimizer creates an optimizer. Parallelism 0 uses one worker per CPU.
func NewOptimizer(base *config.Config, logger *zap.Logger) *Optimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := base.Backtest.Parallelism
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	return &Optimizer{base: base, limit: limit, logger: logger}
}

// Run sweeps the grid over the input and returns results ranked by score.
// Combinations without trades are dropped. Each run gets its own config copy,
// strategy and account.
func (o *Optimizer) Run(ctx context.Context, grid Grid, in Input) ([]SweepResult, error) {
	combos := grid.Combinations()
	results := make([]*SweepResult, len(combos))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.limit)
	for i, p := range combos {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cfg := o.base.Clone()
			p.Apply(cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("combination %d: %w", i, err)
			}
			rep := New(cfg, nil, nil).Run(in)
			if !rep.HasTrades() {
				return nil
			}
			s := rep.Summary
			results[i] = &SweepResult{
				Params:       p,
				Score:        SweepScore(*s),
				Return:       s.TotalReturnPct,
				WinRate:      s.WinRate,
				ProfitFactor: s.ProfitFactor,
				Drawdown:     s.MaxDrawdownPct,
				Sharpe:       s.SharpeRatio,
				Trades:       s.TotalTrades,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("parameter sweep: %w", err)
	}

	out := make([]SweepResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	o.logger.Info("sweep_done",
		zap.Int("combinations", len(combos)),
		zap.Int("with_trades", len(out)),
		zap.Int("workers", o.limit),
	)
	return out, nil
}

package backtest

// Grade is a 0-100 quality score of a report with its letter and verdict.
type Grade struct {
	Letter  string `json:"grade"`
	Score   int    `json:"score"`
	Verdict string `json:"verdict"`
}

type bucket struct {
	min    float64
	points int
}

var gradeLetters = []struct {
	min     int
	letter  string
	verdict string
}{
	{85, "A+", "EXCELLENT"},
	{75, "A", "VERY GOOD"},
	{65, "B+", "GOOD"},
	{55, "B", "DECENT"},
	{45, "C", "AVERAGE"},
	{35, "D", "BELOW AVG"},
}

// GradeSummary scores win rate, profit factor, return, drawdown and Sharpe.
func GradeSummary(s Summary) Grade {
	score := points(s.WinRate, []bucket{{60, 20}, {50, 15}, {40, 10}}) +
		points(s.ProfitFactor, []bucket{{2, 25}, {1.5, 20}, {1.2, 15}, {1, 8}}) +
		points(s.SharpeRatio, []bucket{{2, 15}, {1.5, 12}, {1, 8}})

	switch r := s.TotalReturnPct; {
	case r >= 100:
		score += 20
	case r >= 50:
		score += 15
	case r >= 20:
		score += 10
	case r > 0:
		score += 5
	}
	switch dd := s.MaxDrawdownPct; {
	case dd < 10:
		score += 20
	case dd < 15:
		score += 15
	case dd < 25:
		score += 10
	}

	for _, g := range gradeLetters {
		if score >= g.min {
			return Grade{Letter: g.letter, Score: score, Verdict: g.verdict}
		}
	}
	return Grade{Letter: "F", Score: score, Verdict: "POOR"}
}

// points returns the points of the first bucket whose minimum v reaches.
func points(v float64, buckets []bucket) int {
	for _, b := range buckets {
		if v >= b.min {
			return b.points
		}
	}
	return 0
}

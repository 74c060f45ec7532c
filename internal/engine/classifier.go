package engine

import (
	"math"
	"sync"
	"time"

	"go-smc/internal/model"
)

// Prediction is a classifier's opinion on a tradeable signal.
type Prediction struct {
	Confidence  float64 `json:"confidence"`
	ShouldTrade bool    `json:"shouldTrade"`
	// Ready is false until the classifier has a trained model; an unready
	// classifier never vetoes.
	Ready bool `json:"ready"`
}

// Classifier is the optional secondary filter consulted for tradeable signals.
type Classifier interface {
	Predict(f model.Features) Prediction
	RecordAnalysis(f model.Features, signal model.SignalType, price float64)
	RecordOutcome(entry, exit float64, dir model.Direction)
}

// AllowAll is the default classifier. It approves every signal at confidence 0.5.
type AllowAll struct{}

func (AllowAll) Predict(model.Features) Prediction {
	return Prediction{Confidence: 0.5, ShouldTrade: true}
}

func (AllowAll) RecordAnalysis(model.Features, model.SignalType, float64) {}

func (AllowAll) RecordOutcome(float64, float64, model.Direction) {}

const (
	journalCap      = 2000
	outcomeMatchTol = 0.001
)

// JournalEntry is one recorded analysis and, once known, its outcome.
type JournalEntry struct {
	Time     time.Time        `json:"timestamp"`
	Features model.Features   `json:"features"`
	Signal   model.SignalType `json:"signal"`
	Entry    float64          `json:"entry_price"`
	Outcome  *int             `json:"outcome"`
	PnLPct   float64          `json:"pnl_pct,omitempty"`
}

// Journal records analyses and their outcomes so a model can be trained offline.
// It behaves like AllowAll when predicting.
type Journal struct {
	mu      sync.Mutex
	entries []JournalEntry
	total   int
	correct int
	now     func() time.Time
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{now: time.Now}
}

func (j *Journal) Predict(f model.Features) Prediction {
	return AllowAll{}.Predict(f)
}

// RecordAnalysis appends an unresolved entry, keeping the newest entries only.
func (j *Journal) RecordAnalysis(f model.Features, signal model.SignalType, price float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, JournalEntry{Time: j.now().UTC(), Features: f, Signal: signal, Entry: price})
	if len(j.entries) > journalCap {
		j.entries = j.entries[len(j.entries)-journalCap:]
	}
}

// RecordOutcome resolves the newest open entry whose price is within 0.1% of entry.
func (j *Journal) RecordOutcome(entry, exit float64, dir model.Direction) {
	if entry <= 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(j.entries) - 1; i >= 0; i-- {
		e := &j.entries[i]
		if e.Outcome != nil || math.Abs(e.Entry-entry) >= entry*outcomeMatchTol {
			continue
		}
		pnl := (exit - entry) / entry * 100 * dir.Sign()
		win := 0
		if pnl > 0 {
			win = 1
			j.correct++
		}
		e.Outcome = &win
		e.PnLPct = roundTo(pnl, 4)
		j.total++
		return
	}
}

// Entries returns a copy of the recorded entries.
func (j *Journal) Entries() []JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]JournalEntry(nil), j.entries...)
}

// Accuracy returns the share of resolved entries that were profitable.
func (j *Journal) Accuracy() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.total == 0 {
		return 0
	}
	return float64(j.correct) / float64(j.total)
}

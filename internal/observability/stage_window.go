package observability

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// Pipeline stages observed per chat turn.
const (
	StageTriage          = "triage"
	StageSummaryRefresh  = "summary_refresh"
	StageModelFirstDelta = "model_first_delta"
	StageModelCall       = "model_call"
	StageTurnTotal       = "turn_total"
)

// stageBudgets are the p95 latencies a healthy deployment stays under.
var stageBudgets = map[string]time.Duration{
	StageTriage:          5 * time.Millisecond,
	StageSummaryRefresh:  4 * time.Second,
	StageModelFirstDelta: 1500 * time.Millisecond,
	StageModelCall:       8 * time.Second,
	StageTurnTotal:       12 * time.Second,
}

type StageStats struct {
	Stage      string `json:"stage"`
	Samples    int    `json:"samples"`
	P50MS      int64  `json:"p50_ms"`
	P95MS      int64  `json:"p95_ms"`
	MaxMS      int64  `json:"max_ms"`
	BudgetMS   int64  `json:"budget_ms,omitempty"`
	OverBudget int    `json:"over_budget"`
}

type StageSnapshot struct {
	WindowSize int            `json:"window_size"`
	Stages     []StageStats   `json:"stages"`
	Counters   map[string]int `json:"counters,omitempty"`
}

// StageWindow keeps the last N durations of every turn stage plus plain
// event counters (fallbacks and the like).
type StageWindow struct {
	mu       sync.Mutex
	size     int
	samples  map[string][]time.Duration
	counters map[string]int
}

func NewStageWindow(size int) *StageWindow {
	if size <= 0 {
		size = 256
	}
	return &StageWindow{
		size:     size,
		samples:  make(map[string][]time.Duration),
		counters: make(map[string]int),
	}
}

func (w *StageWindow) Observe(stage string, d time.Duration) {
	if w == nil || stage == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	s := append(w.samples[stage], d)
	if len(s) > w.size {
		s = s[len(s)-w.size:]
	}
	w.samples[stage] = s
}

// ObserveIndicator bumps a named counter.
func (w *StageWindow) ObserveIndicator(name string) {
	name = strings.TrimSpace(name)
	if w == nil || name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.counters[name]++
}

func (w *StageWindow) Snapshot() StageSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := StageSnapshot{WindowSize: w.size, Stages: make([]StageStats, 0, len(w.samples))}
	for stage, s := range w.samples {
		sorted := slices.Clone(s)
		slices.Sort(sorted)
		budget := stageBudgets[stage]
		over := 0
		if budget > 0 {
			for _, d := range sorted {
				if d > budget {
					over++
				}
			}
		}
		snap.Stages = append(snap.Stages, StageStats{
			Stage:      stage,
			Samples:    len(sorted),
			P50MS:      nearestRank(sorted, 50).Milliseconds(),
			P95MS:      nearestRank(sorted, 95).Milliseconds(),
			MaxMS:      sorted[len(sorted)-1].Milliseconds(),
			BudgetMS:   budget.Milliseconds(),
			OverBudget: over,
		})
	}
	slices.SortFunc(snap.Stages, func(a, b StageStats) int { return strings.Compare(a.Stage, b.Stage) })
	if len(w.counters) > 0 {
		snap.Counters = make(map[string]int, len(w.counters))
		for k, v := range w.counters {
			snap.Counters[k] = v
		}
	}
	return snap
}

// nearestRank returns the p-th percentile of a sorted, non-empty slice.
func nearestRank(sorted []time.Duration, p int) time.Duration {
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

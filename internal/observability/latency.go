package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// LatencyWindow keeps the most recent durations of each turn stage, split by
// the outcome of the turn they belonged to. Stage owners declare their p95
// budgets; the snapshot flags series running over budget.
type LatencyWindow struct {
	mu      sync.Mutex
	size    int
	targets map[string]time.Duration
	series  map[seriesKey]*durationRing
	events  map[string]int
}

type seriesKey struct {
	stage   string
	outcome string
}

type durationRing struct {
	values []time.Duration
	cursor int
	last   time.Duration
}

func (r *durationRing) add(d time.Duration) {
	if len(r.values) < cap(r.values) {
		r.values = append(r.values, d)
	} else {
		r.values[r.cursor] = d
		r.cursor = (r.cursor + 1) % len(r.values)
	}
	r.last = d
}

type StageLatency struct {
	Stage       string  `json:"stage"`
	Outcome     string  `json:"outcome"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	MeanMS      float64 `json:"mean_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	MaxMS       float64 `json:"max_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	OverTarget  bool    `json:"over_target,omitempty"`
}

type LatencySnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WindowSize  int            `json:"window_size"`
	Stages      []StageLatency `json:"stages"`
	Events      map[string]int `json:"events,omitempty"`
}

func NewLatencyWindow(size int) *LatencyWindow {
	if size <= 0 {
		size = 256
	}
	return &LatencyWindow{
		size:    size,
		targets: make(map[string]time.Duration),
		series:  make(map[seriesKey]*durationRing),
		events:  make(map[string]int),
	}
}

// DeclareTarget sets the p95 budget for a stage. Zero removes it.
func (w *LatencyWindow) DeclareTarget(stage string, p95 time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p95 <= 0 {
		delete(w.targets, stage)
		return
	}
	w.targets[stage] = p95
}

func (w *LatencyWindow) Record(stage, outcome string, d time.Duration) {
	stage = strings.TrimSpace(stage)
	if stage == "" || d < 0 {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	key := seriesKey{stage: stage, outcome: outcome}
	w.mu.Lock()
	defer w.mu.Unlock()
	ring, ok := w.series[key]
	if !ok {
		ring = &durationRing{values: make([]time.Duration, 0, w.size)}
		w.series[key] = ring
	}
	ring.add(d)
}

func (w *LatencyWindow) Count(event string) {
	event = strings.TrimSpace(event)
	if event == "" {
		return
	}
	w.mu.Lock()
	w.events[event]++
	w.mu.Unlock()
}

func (w *LatencyWindow) Snapshot() LatencySnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageLatency, 0, len(w.series)),
	}
	for key, ring := range w.series {
		if len(ring.values) == 0 {
			continue
		}
		sorted := append([]time.Duration(nil), ring.values...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		var sum time.Duration
		for _, v := range sorted {
			sum += v
		}
		st := StageLatency{
			Stage:   key.stage,
			Outcome: key.outcome,
			Samples: len(sorted),
			LastMS:  millis(ring.last),
			MeanMS:  millis(sum / time.Duration(len(sorted))),
			P50MS:   millis(nearestRank(sorted, 0.50)),
			P95MS:   millis(nearestRank(sorted, 0.95)),
			MaxMS:   millis(sorted[len(sorted)-1]),
		}
		if target, ok := w.targets[key.stage]; ok {
			st.TargetP95MS = millis(target)
			st.OverTarget = nearestRank(sorted, 0.95) > target
		}
		out.Stages = append(out.Stages, st)
	}
	sort.Slice(out.Stages, func(i, j int) bool {
		if out.Stages[i].Stage != out.Stages[j].Stage {
			return out.Stages[i].Stage < out.Stages[j].Stage
		}
		return out.Stages[i].Outcome < out.Stages[j].Outcome
	})
	if len(w.events) > 0 {
		out.Events = make(map[string]int, len(w.events))
		for k, v := range w.events {
			out.Events[k] = v
		}
	}
	return out
}

// Reset drops samples and event counts; declared targets stay.
func (w *LatencyWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.series = make(map[seriesKey]*durationRing)
	w.events = make(map[string]int)
}

func nearestRank(sorted []time.Duration, q float64) time.Duration {
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func millis(d time.Duration) float64 {
	return math.Round(float64(d.Microseconds())/10) / 100
}

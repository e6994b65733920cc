package observability

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

type LatencyStats struct {
	Kind        string  `json:"kind"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// LatencySnapshot summarizes the most recent samples of each latency kind.
type LatencySnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WindowSize  int            `json:"window_size"`
	Kinds       []LatencyStats `json:"kinds"`
	Indicators  []Indicator    `json:"indicators,omitempty"`
}

// p95 goals for the kinds a user feels directly.
var latencyTargets = map[string]float64{
	"recognition": 500,
	"first_token": 900,
	"first_audio": 700,
}

const defaultWindowSize = 256

// latencyWindow keeps the last size samples of every latency kind plus a
// counter per indicator (busy drops, superseded transcripts).
type latencyWindow struct {
	mu         sync.RWMutex
	size       int
	rings      map[string]*ring
	indicators map[string]int
}

// ring is a fixed-capacity buffer that overwrites its oldest value.
type ring struct {
	buf  []float64
	head int
	n    int
	last float64
}

func (r *ring) push(v float64) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	r.n = min(r.n+1, len(r.buf))
	r.last = v
}

// sorted returns a sorted copy of the held samples.
func (r *ring) sorted() []float64 {
	out := slices.Clone(r.buf[:r.n])
	slices.Sort(out)
	return out
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = defaultWindowSize
	}
	w := &latencyWindow{size: size}
	w.clear()
	return w
}

func (w *latencyWindow) clear() {
	w.rings = make(map[string]*ring)
	w.indicators = make(map[string]int)
}

func (w *latencyWindow) Observe(kind string, ms float64) {
	if kind == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.rings[kind]
	if r == nil {
		r = &ring{buf: make([]float64, w.size)}
		w.rings[kind] = r
	}
	r.push(ms)
}

func (w *latencyWindow) ObserveIndicator(name string) {
	if w == nil {
		return
	}
	if name = strings.TrimSpace(name); name == "" {
		return
	}
	w.mu.Lock()
	w.indicators[name]++
	w.mu.Unlock()
}

func (w *latencyWindow) Reset() {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.clear()
	w.mu.Unlock()
}

func (w *latencyWindow) Snapshot() LatencySnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap := LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Kinds:       make([]LatencyStats, 0, len(w.rings)),
	}
	for _, kind := range sortedKeys(w.rings) {
		if r := w.rings[kind]; r.n > 0 {
			snap.Kinds = append(snap.Kinds, r.stats(kind))
		}
	}
	for _, name := range sortedKeys(w.indicators) {
		if count := w.indicators[name]; count > 0 {
			snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: count})
		}
	}
	return snap
}

func (r *ring) stats(kind string) LatencyStats {
	samples := r.sorted()
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return LatencyStats{
		Kind:        kind,
		Samples:     len(samples),
		LastMS:      round2(r.last),
		AvgMS:       round2(sum / float64(len(samples))),
		P50MS:       round2(quantile(samples, 0.50)),
		P95MS:       round2(quantile(samples, 0.95)),
		P99MS:       round2(quantile(samples, 0.99)),
		TargetP95MS: latencyTargets[kind],
	}
}

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// quantile interpolates linearly between the closest ranks of sorted.
func quantile(sorted []float64, q float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := newLatencyWindow(8)
	w.Observe("first_audio", 500)
	w.Observe("first_audio", 700)
	w.Observe("first_audio", 900)
	w.Observe("", 10)
	w.Observe("first_token", -1)
	w.ObserveIndicator("busy_drop")
	w.ObserveIndicator("busy_drop")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Kinds) != 1 {
		t.Fatalf("len(Kinds) = %d, want 1", len(snap.Kinds))
	}
	s := snap.Kinds[0]
	if s.Kind != "first_audio" || s.Samples != 3 || s.LastMS != 900 || s.P50MS != 700 {
		t.Fatalf("stats = %+v", s)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 700 {
		t.Fatalf("TargetP95MS = %.2f, want 700", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v", snap.Indicators)
	}
}

func TestLatencyWindowWraps(t *testing.T) {
	w := newLatencyWindow(3)
	for i := 1; i <= 5; i++ {
		w.Observe("recognition", float64(i*100))
	}
	s := w.Snapshot().Kinds[0]
	if s.Samples != 3 || s.AvgMS != 400 || s.LastMS != 500 {
		t.Fatalf("stats = %+v, want 3 samples avg 400 last 500", s)
	}
	w.Reset()
	if len(w.Snapshot().Kinds) != 0 {
		t.Fatalf("Reset() left samples")
	}
}

func TestMetricsObserveLatencyAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("ushi", reg)
	m.ObserveLatency("first_token", 250*time.Millisecond)
	m.DroppedTranscripts.WithLabelValues("busy").Inc()

	if got := testutil.ToFloat64(m.DroppedTranscripts.WithLabelValues("busy")); got != 1 {
		t.Fatalf("dropped = %v, want 1", got)
	}
	snap := m.SnapshotLatency()
	if len(snap.Kinds) != 1 || snap.Kinds[0].LastMS != 250 {
		t.Fatalf("snapshot = %+v", snap)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `ushi_cycle_latency_ms_count{kind="first_token"} 1`) {
		t.Fatalf("metrics output missing histogram:\n%s", body)
	}

	var nilMetrics *Metrics
	nilMetrics.ObserveLatency("first_token", time.Second)
	nilMetrics.ObserveIndicator("x")
}

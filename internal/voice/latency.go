package voice

import (
	"context"
	"log/slog"
	"time"

	"github.com/jurayed/ushi-project-sub000/internal/observability"
	"github.com/jurayed/ushi-project-sub000/internal/protocol"
)

// Latency kinds reported per cycle.
const (
	LatencyRecognition = "recognition"
	LatencyFirstToken  = "first_token"
	LatencyFirstAudio  = "first_audio"
)

// latencyEmitter pushes one latency_metric per measurement and records it in
// the shared histograms.
type latencyEmitter struct {
	sessionID string
	observer  Observer
	metrics   *observability.Metrics
	logger    *slog.Logger
}

func (e latencyEmitter) emit(ctx context.Context, cycleID, kind string, d time.Duration, segment int) {
	if d < 0 {
		d = 0
	}
	e.metrics.ObserveLatency(kind, d)
	msg := protocol.LatencyMetric{
		Type:      protocol.TypeLatencyMetric,
		SessionID: e.sessionID,
		CycleID:   cycleID,
		Kind:      kind,
		Ms:        d.Milliseconds(),
		Segment:   segment,
	}
	if err := e.observer.Emit(ctx, msg); err != nil {
		e.logger.Debug("latency metric not delivered", "kind", kind, "error", err)
	}
}

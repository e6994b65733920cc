package voice

import (
	"context"

	"github.com/jurayed/ushi-project-sub000/internal/observability"
	"github.com/jurayed/ushi-project-sub000/internal/protocol"
)

// Observer receives every client-facing event of a session. Emit is called
// from several goroutines; implementations must be safe for that and should
// return promptly once ctx is done.
type Observer interface {
	Emit(ctx context.Context, msg any) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, msg any) error

func (f ObserverFunc) Emit(ctx context.Context, msg any) error { return f(ctx, msg) }

// ChannelObserver forwards events to a connection's outbound queue. Every
// event type waits for queue space or for ctx, so interim transcripts and
// latency samples reach the client in emit order like everything else.
type ChannelObserver struct {
	out     chan<- any
	metrics *observability.Metrics
}

func NewChannelObserver(out chan<- any, metrics *observability.Metrics) *ChannelObserver {
	return &ChannelObserver{out: out, metrics: metrics}
}

func (o *ChannelObserver) Emit(ctx context.Context, msg any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case o.out <- msg:
		o.record(messageType(msg))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *ChannelObserver) record(msgType string) {
	if o.metrics != nil {
		o.metrics.WSMessages.WithLabelValues("outbound", msgType).Inc()
	}
}

func messageType(msg any) string {
	switch m := msg.(type) {
	case protocol.STTInterim:
		return string(m.Type)
	case protocol.STTFinal:
		return string(m.Type)
	case protocol.AssistantTextDelta:
		return string(m.Type)
	case protocol.AssistantAudio:
		return string(m.Type)
	case protocol.GenerationComplete:
		return string(m.Type)
	case protocol.LatencyMetric:
		return string(m.Type)
	case protocol.ErrorEvent:
		return string(m.Type)
	case protocol.SessionState:
		return string(m.Type)
	default:
		return "unknown"
	}
}

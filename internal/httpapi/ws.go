package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jurayed/ushi-project-sub000/internal/audio"
	"github.com/jurayed/ushi-project-sub000/internal/failure"
	"github.com/jurayed/ushi-project-sub000/internal/protocol"
	"github.com/jurayed/ushi-project-sub000/internal/session"
	"github.com/jurayed/ushi-project-sub000/internal/voice"
)

// VoiceStarter starts a voice session bound to one connection.
type VoiceStarter interface {
	Start(ctx context.Context, cfg session.Config, format audio.Format, observer voice.Observer) (*voice.Session, error)
}

const (
	wsReadTimeout    = 120 * time.Second
	wsWriteTimeout   = 10 * time.Second
	wsReadLimit      = 2 << 20
	stopDrainTimeout = 2 * time.Second
)

// connection is the per-websocket state. Only the read loop touches it.
type connection struct {
	srv      *Server
	ctx      context.Context
	outbound chan any
	observer voice.Observer
	active   *voice.Session
}

func (s *Server) handleVoiceWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Voice == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "voice pipeline not configured")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.sessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	writerDone := make(chan struct{})
	write := func(msg any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Debug("websocket write failed", "error", err)
			cancel()
			return false
		}
		return true
	}
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				// Flush what is already queued, e.g. the final session_state.
				for {
					select {
					case msg := <-outbound:
						if !write(msg) {
							return
						}
					default:
						return
					}
				}
			case msg := <-outbound:
				if !write(msg) {
					return
				}
			}
		}
	}()

	c := &connection{
		srv:      s,
		ctx:      ctx,
		outbound: outbound,
		observer: voice.NewChannelObserver(outbound, s.metrics),
	}

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType == websocket.BinaryMessage {
			s.countInbound("audio_binary")
			c.feed(data)
			continue
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			c.sendError("", failure.ConfigurationError("client_message", "%v", err).WithCode("invalid_client_message"))
			continue
		}
		if !c.handle(parsed) {
			break
		}
	}

	c.stopActive()
	cancel()
	<-writerDone
	s.sessionEvent("ws_disconnected")
}

// handle applies one client message and reports whether to keep reading.
func (c *connection) handle(msg any) bool {
	switch m := msg.(type) {
	case protocol.Start:
		c.srv.countInbound(string(m.Type))
		c.start(m)
	case protocol.AudioChunk:
		c.srv.countInbound(string(m.Type))
		pcm, err := base64.StdEncoding.DecodeString(m.PCM16Base64)
		if err != nil {
			c.sendError("", failure.ConfigurationError("audio_chunk", "invalid base64 audio").WithCode("invalid_audio"))
			return true
		}
		c.feed(pcm)
	case protocol.Commit:
		c.srv.countInbound(string(m.Type))
		if c.active == nil {
			c.sendError("", notStarted())
			return true
		}
		if err := c.active.Commit(c.ctx); err != nil && !errors.Is(err, voice.ErrSessionStopped) {
			c.srv.logger.Debug("commit failed", "session_id", c.active.ID(), "error", err)
		}
	case protocol.Stop:
		c.srv.countInbound(string(m.Type))
		return false
	}
	return true
}

func (c *connection) start(m protocol.Start) {
	if c.active != nil && c.active.State() != session.StateStopped {
		c.sendError(c.active.ID(), failure.ConfigurationError("start", "session already started").WithCode("already_started"))
		return
	}
	c.stopActive()

	sampleRate := m.SampleRate
	if sampleRate <= 0 {
		sampleRate = c.srv.cfg.InputSampleRate
	}
	cfg := session.Config{
		UserID:       m.UserID,
		ProviderID:   m.ProviderID,
		ModelID:      m.ModelID,
		SystemPrompt: m.SystemPrompt,
		VoiceID:      m.VoiceID,
		Language:     firstNonEmpty(m.Language, c.srv.cfg.DefaultLanguage),
	}
	vs, err := c.srv.deps.Voice.Start(c.ctx, cfg, audio.Format{SampleRate: sampleRate}, c.observer)
	if err != nil {
		fe := failure.Classify(err, failure.Configuration, "start")
		c.srv.logger.Warn("voice session rejected", "provider", m.ProviderID, "user_id", m.UserID, "error", fe)
		c.sendError("", fe)
		return
	}
	c.active = vs
	c.srv.sessions.Add(vs.VoiceSession(), vs)
	// A session can stop itself, e.g. after a recognition failure.
	go func() {
		<-vs.Done()
		c.srv.sessions.Remove(vs.ID())
	}()
}

func (c *connection) feed(pcm []byte) {
	if c.active == nil {
		c.sendError("", notStarted())
		return
	}
	if err := c.active.Feed(c.ctx, pcm); err != nil && !errors.Is(err, voice.ErrSessionStopped) {
		// Recognition failures also surface through the session's own error event.
		c.srv.logger.Debug("audio feed failed", "session_id", c.active.ID(), "error", err)
	}
}

// stopActive stops the current session without waiting for in-flight model
// or synthesis calls; Stop has already queued the final session_state.
func (c *connection) stopActive() {
	if c.active == nil {
		return
	}
	vs := c.active
	c.active = nil
	c.srv.sessions.Remove(vs.ID())
	vs.Stop()
	go c.srv.watchDrain(vs)
}

// watchDrain reports sessions whose goroutines outlive their stop.
func (s *Server) watchDrain(vs *voice.Session) {
	timer := time.NewTimer(stopDrainTimeout)
	defer timer.Stop()
	select {
	case <-vs.Done():
	case <-timer.C:
		s.logger.Warn("voice session did not drain", "session_id", vs.ID())
	}
}

// sendError queues an error without blocking the read loop; it is dropped
// when the outbound queue is saturated.
func (c *connection) sendError(sessionID string, fe *failure.Error) {
	msg := protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Kind:      string(fe.Kind),
		Code:      fe.Code,
		Message:   fe.Error(),
		Retryable: fe.Retryable,
	}
	select {
	case c.outbound <- msg:
	default:
		c.srv.sessionEvent("outbound_drop")
	}
}

func notStarted() *failure.Error {
	return failure.ConfigurationError("audio", "send start first").WithCode("session_not_started")
}

func (s *Server) countInbound(msgType string) {
	if s.metrics != nil {
		s.metrics.WSMessages.WithLabelValues("inbound", msgType).Inc()
	}
}

func (s *Server) sessionEvent(event string) {
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

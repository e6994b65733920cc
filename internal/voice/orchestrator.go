// Package voice runs the per-session voice loop: recognized speech becomes a
// model prompt, the streamed reply is cut into sentences and each sentence is
// synthesized while the model keeps generating.
package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/jurayed/ushi-project-sub000/internal/audio"
	"github.com/jurayed/ushi-project-sub000/internal/failure"
	"github.com/jurayed/ushi-project-sub000/internal/history"
	"github.com/jurayed/ushi-project-sub000/internal/identity"
	"github.com/jurayed/ushi-project-sub000/internal/llm"
	"github.com/jurayed/ushi-project-sub000/internal/logging"
	"github.com/jurayed/ushi-project-sub000/internal/observability"
	"github.com/jurayed/ushi-project-sub000/internal/protocol"
	"github.com/jurayed/ushi-project-sub000/internal/session"
	"github.com/jurayed/ushi-project-sub000/internal/stt"
	"github.com/jurayed/ushi-project-sub000/internal/tts"
)

// BusyPolicy decides what happens to a final transcript that arrives while a
// cycle is already in flight.
type BusyPolicy string

const (
	// BusyDrop discards the transcript.
	BusyDrop BusyPolicy = "drop"
	// BusyQueue keeps the latest such transcript and runs it once the
	// current cycle ends.
	BusyQueue BusyPolicy = "queue"
)

func ParseBusyPolicy(raw string) (BusyPolicy, error) {
	switch BusyPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", BusyDrop:
		return BusyDrop, nil
	case BusyQueue:
		return BusyQueue, nil
	default:
		return "", fmt.Errorf("unknown busy policy %q", raw)
	}
}

const (
	defaultHistoryLimit         = 8
	defaultSynthesisConcurrency = 2
	historyWriteTimeout         = 2 * time.Second
	stopNotifyTimeout           = 250 * time.Millisecond

	DefaultSystemPrompt = "You are Ushi, a warm voice assistant. Answer in short spoken sentences, without markdown or lists."
)

var ErrSessionStopped = errors.New("voice: session stopped")

type Options struct {
	HistoryLimit     int
	BusyPolicy       BusyPolicy
	PersistUserTurns bool
	// SynthesisConcurrency bounds parallel synthesis calls within a cycle.
	SynthesisConcurrency int
	HistoryWriteTimeout  time.Duration
	SystemPrompt         string
	// Voice fills in what the client leaves empty.
	Voice tts.VoiceProfile
}

// Deps are the collaborators shared by every session. History, Identity and
// Metrics are optional.
type Deps struct {
	Recognizer  stt.Recognizer
	Providers   *llm.Registry
	Synthesizer tts.Synthesizer
	History     history.Store
	Identity    identity.Directory
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// Orchestrator starts sessions. It holds no per-session state.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
}

func NewOrchestrator(deps Deps, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Recognizer == nil:
		return nil, failure.ConfigurationError("orchestrator", "speech recognizer is required")
	case deps.Providers == nil:
		return nil, failure.ConfigurationError("orchestrator", "provider registry is required")
	case deps.Synthesizer == nil:
		return nil, failure.ConfigurationError("orchestrator", "speech synthesizer is required")
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.SynthesisConcurrency <= 0 {
		opts.SynthesisConcurrency = defaultSynthesisConcurrency
	}
	if opts.HistoryWriteTimeout <= 0 {
		opts.HistoryWriteTimeout = historyWriteTimeout
	}
	if opts.BusyPolicy == "" {
		opts.BusyPolicy = BusyDrop
	}
	if strings.TrimSpace(opts.SystemPrompt) == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	logger := logging.OrDefault(deps.Logger).With("component", "voice")
	return &Orchestrator{deps: deps, opts: opts, logger: logger}, nil
}

// Start validates cfg, opens the recognizer and begins listening. Provider
// and model problems are reported here, before any audio is accepted.
func (o *Orchestrator) Start(ctx context.Context, cfg session.Config, format audio.Format, observer Observer) (*Session, error) {
	if observer == nil {
		return nil, failure.ConfigurationError("start", "observer is required")
	}
	if strings.TrimSpace(cfg.UserID) == "" {
		return nil, failure.ConfigurationError("start", "user_id is required")
	}
	provider, model, err := o.deps.Providers.Lookup(cfg.ProviderID, cfg.ModelID)
	if err != nil {
		return nil, err
	}
	cfg.ProviderID = provider.ID()
	cfg.ModelID = model
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = o.opts.SystemPrompt
	}

	vs := session.New(cfg)
	sctx, cancel := context.WithCancel(ctx)
	handle, err := o.deps.Recognizer.Open(sctx, stt.OpenOptions{
		SessionID: vs.ID,
		Language:  cfg.Language,
		Format:    format,
	})
	if err != nil {
		cancel()
		return nil, failure.Classify(err, failure.Recognition, "open")
	}

	logger := o.logger.With("session_id", vs.ID, "user_id", cfg.UserID, "provider", cfg.ProviderID)
	s := &Session{
		o:        o,
		vs:       vs,
		provider: provider,
		observer: observer,
		handle:   handle,
		ctx:      sctx,
		cancel:   cancel,
		logger:   logger,
		done:     make(chan struct{}),
		voice: tts.VoiceProfile{
			VoiceID:  firstNonEmpty(cfg.VoiceID, o.opts.Voice.VoiceID),
			ModelID:  o.opts.Voice.ModelID,
			Language: firstNonEmpty(cfg.Language, o.opts.Voice.Language),
			Speed:    o.opts.Voice.Speed,
		},
		latency: latencyEmitter{
			sessionID: vs.ID,
			observer:  observer,
			metrics:   o.deps.Metrics,
			logger:    logger,
		},
		lastFinal: time.Now(),
	}
	vs.Listen()
	o.sessionEvent("started")
	if o.deps.Metrics != nil {
		o.deps.Metrics.ActiveSessions.Inc()
	}
	logger.Info("voice session started", "model", model)
	s.emitState(sctx, session.StateListening)

	s.wg.Add(1)
	go s.runEvents()
	return s, nil
}

// Session is one running voice loop. It implements session.Handle.
type Session struct {
	o        *Orchestrator
	vs       *session.VoiceSession
	provider llm.Provider
	observer Observer
	handle   stt.Handle
	voice    tts.VoiceProfile
	latency  latencyEmitter
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// wg counts the event loop, cycle and synthesis goroutines.
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once

	// pendingMu orders slot hand-off against queued transcripts.
	pendingMu sync.Mutex
	pending   string

	// lastFinal is only touched by the event loop.
	lastFinal time.Time
}

func (s *Session) ID() string { return s.vs.ID }

func (s *Session) VoiceSession() *session.VoiceSession { return s.vs }

func (s *Session) State() session.State { return s.vs.State() }

// Done is closed once every goroutine of the session has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Feed forwards microphone audio to the recognizer.
func (s *Session) Feed(ctx context.Context, chunk []byte) error {
	if s.ctx.Err() != nil {
		return ErrSessionStopped
	}
	s.vs.Touch()
	return s.handle.Feed(ctx, chunk)
}

// Commit tells the recognizer the current utterance is over.
func (s *Session) Commit(ctx context.Context) error {
	if s.ctx.Err() != nil {
		return ErrSessionStopped
	}
	s.vs.Touch()
	return s.handle.Commit(ctx)
}

// Stop ends the session. The recognizer is closed right away; model and
// synthesis calls still running are canceled and their results dropped.
// Calling Stop more than once is a no-op.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.vs.Stop()
		s.cancel()
		if err := s.handle.Close(); err != nil {
			s.logger.Debug("recognizer close failed", "error", err)
		}

		notifyCtx, cancel := context.WithTimeout(context.Background(), stopNotifyTimeout)
		s.emitState(notifyCtx, session.StateStopped)
		cancel()

		if s.o.deps.Metrics != nil {
			s.o.deps.Metrics.ActiveSessions.Dec()
		}
		s.o.sessionEvent("stopped")
		s.logger.Info("voice session stopped")

		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
}

func (s *Session) runEvents() {
	defer s.wg.Done()
	for evt := range s.handle.Events() {
		if s.ctx.Err() != nil {
			continue
		}
		s.vs.Touch()
		if !evt.Final {
			s.emit(s.ctx, protocol.STTInterim{
				Type:       protocol.TypeSTTInterim,
				SessionID:  s.vs.ID,
				Text:       evt.Text,
				Confidence: evt.Confidence,
				TSMs:       evt.At.UnixMilli(),
			})
			continue
		}

		text := strings.TrimSpace(evt.Text)
		s.emit(s.ctx, protocol.STTFinal{
			Type:      protocol.TypeSTTFinal,
			SessionID: s.vs.ID,
			Text:      text,
			TSMs:      evt.At.UnixMilli(),
		})
		s.vs.MarkStage(session.StageRecognitionStart, s.lastFinal)
		s.vs.MarkStage(session.StageRecognitionEnd, evt.At)
		s.latency.emit(s.ctx, "", LatencyRecognition, evt.At.Sub(s.lastFinal), 0)
		s.lastFinal = evt.At
		s.onFinal(text)
	}

	if err := s.handle.Err(); err != nil && s.ctx.Err() == nil {
		fe := failure.Classify(err, failure.Recognition, "stream")
		s.logger.Error("speech recognition failed", "error", fe, "retryable", fe.Retryable)
		s.reportError(s.ctx, "", fe, "stt")
		s.Stop()
	}
}

func (s *Session) onFinal(text string) {
	s.pendingMu.Lock()
	token, ok := s.vs.TryBeginCycle()
	if !ok {
		if s.vs.State() == session.StateStopped {
			s.pendingMu.Unlock()
			return
		}
		if s.o.opts.BusyPolicy == BusyQueue {
			superseded := s.pending != ""
			s.pending = text
			s.pendingMu.Unlock()
			if superseded {
				s.o.dropped("superseded")
			}
			s.logger.Debug("final transcript queued while busy")
			return
		}
		s.pendingMu.Unlock()
		s.o.dropped("busy")
		s.o.observeIndicator("transcript_dropped")
		s.logger.Info("final transcript dropped while busy", "chars", len(text))
		return
	}
	s.wg.Add(1)
	s.pendingMu.Unlock()

	go s.runCycles(token, text)
}

// runCycles runs one cycle, then any transcript queued meanwhile, keeping the
// slot across the hand-off.
func (s *Session) runCycles(token uint64, text string) {
	defer s.wg.Done()
	for {
		s.emitState(s.ctx, session.StateGenerating)
		s.runCycle(text)

		s.pendingMu.Lock()
		s.vs.EndCycle(token)
		next := s.pending
		s.pending = ""
		ok := false
		if next != "" {
			token, ok = s.vs.TryBeginCycle()
		}
		s.pendingMu.Unlock()

		if !ok {
			if s.ctx.Err() == nil {
				s.emitState(s.ctx, session.StateListening)
			}
			return
		}
		text = next
	}
}

func (s *Session) runCycle(userText string) {
	ctx := s.ctx
	cycleID := uuid.NewString()
	logger := s.logger.With("cycle_id", cycleID)
	s.vs.ResetStages()

	req := s.buildRequest(ctx, userText, logger)
	if s.o.opts.PersistUserTurns {
		s.appendTurn(userText, history.RoleUser, logger)
	}

	c := &cycle{
		s:   s,
		id:  cycleID,
		ctx: ctx,
		sem: semaphore.NewWeighted(int64(s.o.opts.SynthesisConcurrency)),
		seq: newAudioSequencer(func(msg any) { s.emit(ctx, msg) }),
	}

	started := time.Now()
	s.vs.MarkStage(session.StageGenerationStart, started)
	var reply strings.Builder
	gotToken := false
	onDelta := func(delta string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if delta == "" {
			return nil
		}
		if !gotToken {
			gotToken = true
			now := time.Now()
			s.vs.MarkStage(session.StageGenerationFirstToken, now)
			s.latency.emit(ctx, cycleID, LatencyFirstToken, now.Sub(started), 0)
		}
		reply.WriteString(delta)
		if err := s.observer.Emit(ctx, protocol.AssistantTextDelta{
			Type:      protocol.TypeAssistantTextDelta,
			SessionID: s.vs.ID,
			CycleID:   cycleID,
			TextDelta: delta,
		}); err != nil {
			return err
		}
		if seg, ok := c.seg.Push(delta); ok {
			c.dispatch(seg)
		}
		return nil
	}

	resp, err := s.provider.StreamChat(ctx, req, onDelta)
	if err == nil && reply.Len() == 0 && resp.Text != "" {
		err = onDelta(resp.Text)
	}
	if err != nil {
		if ctx.Err() != nil {
			s.o.cycleOutcome("canceled")
			logger.Debug("cycle canceled")
			return
		}
		fe := failure.Classify(err, failure.Generation, s.provider.ID()+".stream")
		s.o.cycleOutcome("failed")
		s.o.observeIndicator("generation_failed")
		logger.Warn("generation failed", "error", fe, "retryable", fe.Retryable)
		s.reportError(ctx, cycleID, fe, s.provider.ID())
		return
	}

	if seg, ok := c.seg.Finish(); ok {
		c.dispatch(seg)
	}
	text := reply.String()
	s.emit(ctx, protocol.GenerationComplete{
		Type:      protocol.TypeGenerationComplete,
		SessionID: s.vs.ID,
		CycleID:   cycleID,
		Text:      text,
		Segments:  c.seg.Count(),
	})
	s.o.cycleOutcome("completed")
	logger.Info("cycle completed",
		"segments", c.seg.Count(),
		"chars", len(text),
		"generation_ms", time.Since(started).Milliseconds(),
	)
	if strings.TrimSpace(text) != "" {
		s.appendTurn(text, history.RoleAssistant, logger)
	}
}

func (s *Session) buildRequest(ctx context.Context, userText string, logger *slog.Logger) llm.ChatRequest {
	cfg := s.vs.Config
	name, err := identity.Resolve(ctx, s.o.deps.Identity, cfg.UserID)
	if err != nil && !errors.Is(err, identity.ErrNotFound) {
		logger.Warn("display name lookup failed", "error", err)
	}

	var msgs []llm.Message
	if s.o.deps.History != nil {
		turns, err := s.o.deps.History.FetchRecentTurns(ctx, cfg.UserID, s.o.opts.HistoryLimit)
		if err != nil {
			logger.Warn("history fetch failed", "error", err)
		}
		msgs = make([]llm.Message, 0, len(turns))
		for _, t := range turns {
			role := llm.RoleUser
			if t.Role == history.RoleAssistant {
				role = llm.RoleAssistant
			}
			msgs = append(msgs, llm.Message{Role: role, Content: t.Text})
		}
	}

	return llm.ChatRequest{
		SystemPrompt: composeSystemPrompt(cfg.SystemPrompt, name),
		History:      msgs,
		UserText:     userText,
		Model:        cfg.ModelID,
	}
}

// appendTurn writes to history even when the session is stopping, bounded by
// a short timeout.
func (s *Session) appendTurn(text string, role history.Role, logger *slog.Logger) {
	if s.o.deps.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), s.o.opts.HistoryWriteTimeout)
	defer cancel()
	if err := s.o.deps.History.AppendTurn(ctx, s.vs.Config.UserID, text, role); err != nil {
		s.o.sessionEvent("history_append_failed")
		logger.Warn("history append failed", "role", role, "error", err)
	}
}

func (s *Session) reportError(ctx context.Context, cycleID string, fe *failure.Error, provider string) {
	if s.o.deps.Metrics != nil {
		s.o.deps.Metrics.PipelineErrors.WithLabelValues(string(fe.Kind), provider).Inc()
	}
	s.emit(ctx, protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: s.vs.ID,
		CycleID:   cycleID,
		Kind:      string(fe.Kind),
		Code:      fe.Code,
		Message:   fe.Error(),
		Retryable: fe.Retryable,
	})
}

func (s *Session) emitState(ctx context.Context, state session.State) {
	s.emit(ctx, protocol.SessionState{
		Type:      protocol.TypeSessionState,
		SessionID: s.vs.ID,
		State:     string(state),
	})
}

func (s *Session) emit(ctx context.Context, msg any) {
	if err := s.observer.Emit(ctx, msg); err != nil && ctx.Err() == nil {
		s.logger.Warn("observer rejected event", "type", fmt.Sprintf("%T", msg), "error", err)
	}
}

// cycle is the state of one transcript-to-speech pass.
type cycle struct {
	s   *Session
	id  string
	ctx context.Context
	seg Segmenter
	sem *semaphore.Weighted
	seq *audioSequencer
	say speechFilter
}

// dispatch hands a segment to the synthesizer without waiting for it.
func (c *cycle) dispatch(seg Segment) {
	s := c.s
	dispatched := time.Now()
	if seg.Index == 0 {
		s.vs.MarkStage(session.StageSynthesisStart, dispatched)
	}
	text := c.say.speakable(seg.Text)
	if text == "" {
		c.seq.skip(seg.Index)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := c.sem.Acquire(c.ctx, 1); err != nil {
			return
		}
		defer c.sem.Release(1)

		out, err := s.o.deps.Synthesizer.Synthesize(c.ctx, text, s.voice)
		if c.ctx.Err() != nil {
			return
		}
		if err != nil {
			fe := failure.Classify(err, failure.Synthesis, "synthesize")
			s.o.observeIndicator("segment_failed")
			s.logger.Warn("segment synthesis failed", "cycle_id", c.id, "segment", seg.Index, "error", fe)
			if s.o.deps.Metrics != nil {
				s.o.deps.Metrics.PipelineErrors.WithLabelValues(string(fe.Kind), "tts").Inc()
			}
			c.seq.deliver(seg.Index, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: s.vs.ID,
				CycleID:   c.id,
				Kind:      string(fe.Kind),
				Code:      fe.Code,
				Message:   fe.Error(),
				Retryable: fe.Retryable,
			})
			return
		}

		now := time.Now()
		s.vs.MarkStage(session.StageSynthesisEnd, now)
		s.latency.emit(c.ctx, c.id, LatencyFirstAudio, now.Sub(dispatched), seg.Index)
		c.seq.deliver(seg.Index, protocol.AssistantAudio{
			Type:        protocol.TypeAssistantAudio,
			SessionID:   s.vs.ID,
			CycleID:     c.id,
			Segment:     seg.Index,
			Text:        seg.Text,
			Format:      out.Format,
			SampleRate:  out.SampleRate,
			AudioBase64: base64.StdEncoding.EncodeToString(out.Data),
		})
	}()
}

// audioSequencer releases per-segment results in segment order, whatever
// order synthesis finishes in. A nil result marks a segment with nothing to
// send.
type audioSequencer struct {
	mu    sync.Mutex
	next  int
	ready map[int]any
	emit  func(any)
}

func newAudioSequencer(emit func(any)) *audioSequencer {
	return &audioSequencer{ready: make(map[int]any), emit: emit}
}

func (q *audioSequencer) deliver(index int, msg any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready[index] = msg
	for {
		msg, ok := q.ready[q.next]
		if !ok {
			return
		}
		delete(q.ready, q.next)
		q.next++
		if msg != nil {
			q.emit(msg)
		}
	}
}

func (q *audioSequencer) skip(index int) { q.deliver(index, nil) }

func composeSystemPrompt(base, displayName string) string {
	base = strings.TrimSpace(base)
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return base
	}
	line := fmt.Sprintf("You are talking with %s.", displayName)
	if base == "" {
		return line
	}
	return base + "\n\n" + line
}

func (o *Orchestrator) sessionEvent(event string) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}

func (o *Orchestrator) cycleOutcome(outcome string) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.Cycles.WithLabelValues(outcome).Inc()
	}
}

func (o *Orchestrator) dropped(reason string) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.DroppedTranscripts.WithLabelValues(reason).Inc()
	}
}

func (o *Orchestrator) observeIndicator(name string) {
	o.deps.Metrics.ObserveIndicator(name)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

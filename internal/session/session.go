package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateGenerating State = "generating"
	StateStopped    State = "stopped"
)

// Config is what a client chose when starting the session.
type Config struct {
	UserID       string `json:"user_id"`
	ProviderID   string `json:"provider_id"`
	ModelID      string `json:"model_id"`
	SystemPrompt string `json:"-"`
	VoiceID      string `json:"voice_id"`
	Language     string `json:"language"`
}

type Stage string

const (
	StageRecognitionStart     Stage = "recognition_start"
	StageRecognitionEnd       Stage = "recognition_end"
	StageGenerationStart      Stage = "generation_start"
	StageGenerationFirstToken Stage = "generation_first_token"
	StageSynthesisStart       Stage = "synthesis_start"
	StageSynthesisEnd         Stage = "synthesis_end"
)

// StageTimes holds the timestamps of the current (or last) cycle. Each cycle
// overwrites them.
type StageTimes struct {
	RecognitionStart     time.Time `json:"recognition_start"`
	RecognitionEnd       time.Time `json:"recognition_end"`
	GenerationStart      time.Time `json:"generation_start"`
	GenerationFirstToken time.Time `json:"generation_first_token"`
	SynthesisStart       time.Time `json:"synthesis_start"`
	SynthesisEnd         time.Time `json:"synthesis_end"`
}

// VoiceSession is the per-connection conversation state. At most one
// generation cycle is in flight at a time; TryBeginCycle and EndCycle are the
// only way to take and release that slot.
type VoiceSession struct {
	ID        string    `json:"session_id"`
	Config    Config    `json:"config"`
	StartedAt time.Time `json:"started_at"`

	mu           sync.Mutex
	state        State
	inFlight     bool
	cycleToken   uint64
	cycles       int
	stages       StageTimes
	lastActivity time.Time
}

func New(cfg Config) *VoiceSession {
	now := time.Now().UTC()
	return &VoiceSession{
		ID:           uuid.NewString(),
		Config:       cfg,
		StartedAt:    now,
		state:        StateIdle,
		lastActivity: now,
	}
}

func (s *VoiceSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Listen moves an idle session to listening. It reports false once stopped.
func (s *VoiceSession) Listen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return false
	}
	if s.state == StateIdle {
		s.state = StateListening
	}
	return true
}

// TryBeginCycle takes the in-flight slot. The returned token must be passed
// to EndCycle.
func (s *VoiceSession) TryBeginCycle() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight || s.state == StateStopped {
		return 0, false
	}
	s.inFlight = true
	s.cycleToken++
	s.cycles++
	s.state = StateGenerating
	s.lastActivity = time.Now().UTC()
	return s.cycleToken, true
}

// EndCycle releases the slot held by token. A stale token is ignored.
func (s *VoiceSession) EndCycle(token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inFlight || token != s.cycleToken {
		return false
	}
	s.inFlight = false
	if s.state != StateStopped {
		s.state = StateListening
	}
	s.lastActivity = time.Now().UTC()
	return true
}

func (s *VoiceSession) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Stop moves the session to its terminal state and clears the in-flight
// slot. Only the first call reports true.
func (s *VoiceSession) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return false
	}
	s.state = StateStopped
	s.inFlight = false
	s.cycleToken++
	return true
}

func (s *VoiceSession) MarkStage(stage Stage, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch stage {
	case StageRecognitionStart:
		s.stages.RecognitionStart = at
	case StageRecognitionEnd:
		s.stages.RecognitionEnd = at
	case StageGenerationStart:
		s.stages.GenerationStart = at
	case StageGenerationFirstToken:
		s.stages.GenerationFirstToken = at
	case StageSynthesisStart:
		s.stages.SynthesisStart = at
	case StageSynthesisEnd:
		s.stages.SynthesisEnd = at
	}
}

// ResetStages clears the per-cycle timestamps, keeping RecognitionStart and
// RecognitionEnd which belong to the utterance that triggered the cycle.
func (s *VoiceSession) ResetStages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages = StageTimes{
		RecognitionStart: s.stages.RecognitionStart,
		RecognitionEnd:   s.stages.RecognitionEnd,
	}
}

func (s *VoiceSession) Stages() StageTimes {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stages
}

func (s *VoiceSession) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now().UTC()
}

func (s *VoiceSession) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Info is a point-in-time view for listings and logs.
type Info struct {
	ID             string     `json:"session_id"`
	UserID         string     `json:"user_id"`
	ProviderID     string     `json:"provider_id"`
	ModelID        string     `json:"model_id"`
	State          State      `json:"state"`
	Cycles         int        `json:"cycles"`
	StartedAt      time.Time  `json:"started_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	Stages         StageTimes `json:"stages"`
}

func (s *VoiceSession) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:             s.ID,
		UserID:         s.Config.UserID,
		ProviderID:     s.Config.ProviderID,
		ModelID:        s.Config.ModelID,
		State:          s.state,
		Cycles:         s.cycles,
		StartedAt:      s.StartedAt,
		LastActivityAt: s.lastActivity,
		Stages:         s.stages,
	}
}

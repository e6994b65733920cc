package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jurayed/ushi-project-sub000/internal/failure"
)

// MockConfig scripts the deterministic local provider.
type MockConfig struct {
	ID     string
	Models []string
	// Fragments replaces the echo reply with a fixed fragment sequence.
	Fragments []string
	// Err, when set, makes StreamChat fail after FailAfter fragments were
	// delivered.
	Err       error
	FailAfter int
	// FragmentDelay is slept before each fragment.
	FragmentDelay time.Duration
	// Gate, when set, blocks every call until it is closed or ctx ends.
	Gate <-chan struct{}
}

// Mock answers without a network. By default it echoes the user and recalls
// the last assistant turn, streamed word by word.
type Mock struct {
	cfg MockConfig

	mu       sync.Mutex
	requests []ChatRequest
}

func NewMock(cfg MockConfig) *Mock {
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = "mock"
	}
	if len(cfg.Models) == 0 {
		cfg.Models = []string{"mock-1"}
	}
	return &Mock{cfg: cfg}
}

func (m *Mock) ID() string { return m.cfg.ID }

func (m *Mock) FetchModels(context.Context) ([]Model, error) {
	out := make([]Model, 0, len(m.cfg.Models))
	for _, id := range m.cfg.Models {
		out = append(out, Model{ID: id})
	}
	return out, nil
}

func (m *Mock) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	return m.StreamChat(ctx, req, nil)
}

func (m *Mock) StreamChat(ctx context.Context, req ChatRequest, onDelta DeltaHandler) (ChatResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.cfg.Gate != nil {
		select {
		case <-m.cfg.Gate:
		case <-ctx.Done():
			return ChatResponse{}, ctx.Err()
		}
	}

	fragments := m.cfg.Fragments
	if fragments == nil {
		fragments = splitWords(buildMockReply(req))
	}

	var out strings.Builder
	for i, f := range fragments {
		if m.cfg.Err != nil && i >= m.cfg.FailAfter {
			return ChatResponse{}, failure.GenerationFailure(m.cfg.ID+".stream", m.cfg.Err)
		}
		if m.cfg.FragmentDelay > 0 {
			select {
			case <-time.After(m.cfg.FragmentDelay):
			case <-ctx.Done():
				return ChatResponse{}, ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return ChatResponse{}, err
		}
		out.WriteString(f)
		if onDelta != nil {
			if err := onDelta(f); err != nil {
				return ChatResponse{}, err
			}
		}
	}
	if m.cfg.Err != nil {
		return ChatResponse{}, failure.GenerationFailure(m.cfg.ID+".stream", m.cfg.Err)
	}
	return ChatResponse{Text: out.String(), Model: firstNonEmpty(req.Model, m.cfg.Models[0])}, nil
}

// Requests returns a copy of every request received.
func (m *Mock) Requests() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatRequest(nil), m.requests...)
}

func buildMockReply(req ChatRequest) string {
	base := strings.TrimSpace(req.UserText)
	if base == "" {
		base = "I am listening."
	}
	for i := len(req.History) - 1; i >= 0; i-- {
		if req.History[i].Role != RoleAssistant {
			continue
		}
		if last := strings.TrimSpace(req.History[i].Content); last != "" {
			return fmt.Sprintf("I heard you: %s\nI also remember: %s", base, last)
		}
		break
	}
	return fmt.Sprintf("I heard you: %s", base)
}

// splitWords keeps separators attached so the fragments concatenate back to s.
func splitWords(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if i > start && (r == ' ' || r == '\n') {
			out = append(out, s[start:i])
			start = i
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

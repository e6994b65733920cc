// Package llm exposes language-model backends through one capability set so
// the voice pipeline never branches on which vendor it talks to.
package llm

import (
	"context"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is one generation request. History is chronological and does
// not include UserText, which is always sent last.
type ChatRequest struct {
	SystemPrompt string
	History      []Message
	UserText     string
	Model        string
}

// Messages flattens the request into the chat-completions message order.
func (r ChatRequest) Messages() []Message {
	out := make([]Message, 0, len(r.History)+2)
	if s := strings.TrimSpace(r.SystemPrompt); s != "" {
		out = append(out, Message{Role: RoleSystem, Content: s})
	}
	for _, m := range r.History {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, m)
	}
	return append(out, Message{Role: RoleUser, Content: r.UserText})
}

type ChatResponse struct {
	Text  string
	Model string
}

type Model struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

// DeltaHandler receives text fragments in generation order. Returning an error
// aborts the stream.
type DeltaHandler func(delta string) error

// Provider is the capability set every backend offers. StreamChat delivers
// fragments through onDelta and returns the concatenated text.
type Provider interface {
	ID() string
	FetchModels(ctx context.Context) ([]Model, error)
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	StreamChat(ctx context.Context, req ChatRequest, onDelta DeltaHandler) (ChatResponse, error)
}

// Completer is a backend that can only answer in one piece. Wrap it with
// NewBuffered to get a Provider.
type Completer interface {
	ID() string
	FetchModels(ctx context.Context) ([]Model, error)
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

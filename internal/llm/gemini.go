package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/jurayed/ushi-project-sub000/internal/failure"
	"github.com/jurayed/ushi-project-sub000/internal/reliability"
)

type GeminiConfig struct {
	ID           string
	APIKey       string
	DefaultModel string
	// BaseURL overrides the Gemini API endpoint.
	BaseURL string
}

// Gemini streams from the Gemini API through the genai SDK.
type Gemini struct {
	cfg    GeminiConfig
	client *genai.Client
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = "gemini"
	}
	if strings.TrimSpace(cfg.DefaultModel) == "" {
		cfg.DefaultModel = "gemini-2.5-flash"
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{cfg: cfg, client: client}, nil
}

func (g *Gemini) ID() string { return g.cfg.ID }

func (g *Gemini) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	model := firstNonEmpty(req.Model, g.cfg.DefaultModel)
	contents, config := geminiRequest(req)
	resp, err := g.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return ChatResponse{}, g.classify(ctx, "generate", err)
	}
	return ChatResponse{Text: resp.Text(), Model: model}, nil
}

func (g *Gemini) StreamChat(ctx context.Context, req ChatRequest, onDelta DeltaHandler) (ChatResponse, error) {
	model := firstNonEmpty(req.Model, g.cfg.DefaultModel)
	contents, config := geminiRequest(req)

	var out strings.Builder
	for resp, err := range g.client.Models.GenerateContentStream(ctx, model, contents, config) {
		if err != nil {
			return ChatResponse{}, g.classify(ctx, "stream", err)
		}
		delta := resp.Text()
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return ChatResponse{}, err
			}
		}
	}
	return ChatResponse{Text: out.String(), Model: model}, nil
}

func (g *Gemini) FetchModels(ctx context.Context) ([]Model, error) {
	var out []Model
	for m, err := range g.client.Models.All(ctx) {
		if err != nil {
			return nil, g.classify(ctx, "fetch_models", err)
		}
		id := strings.TrimPrefix(m.Name, "models/")
		if id == "" {
			continue
		}
		out = append(out, Model{ID: id, DisplayName: m.DisplayName})
	}
	return out, nil
}

func geminiRequest(req ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		// The role constants are untyped strings.
		var role genai.Role = genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(req.UserText, genai.RoleUser))

	var config *genai.GenerateContentConfig
	if s := strings.TrimSpace(req.SystemPrompt); s != "" {
		config = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(s, genai.RoleUser),
		}
	}
	return contents, config
}

func (g *Gemini) classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	fe := failure.GenerationFailure(g.cfg.ID+"."+op, err)
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		code = apiErrPtr.Code
	}
	if code > 0 {
		return fe.WithCode(fmt.Sprintf("http_%d", code)).
			WithRetryable(reliability.IsRetryableHTTPStatus(code))
	}
	return fe.WithRetryable(reliability.IsTransientError(err))
}

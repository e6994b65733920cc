package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jurayed/ushi-project-sub000/internal/failure"
	"github.com/jurayed/ushi-project-sub000/internal/reliability"
)

// HTTPJSON posts the whole conversation to a plain JSON endpoint and reads a
// single answer back. It has no incremental delivery; register it through
// NewBuffered.
type HTTPJSON struct {
	id     string
	url    string
	apiKey string
	models []string
	client *http.Client
}

type HTTPJSONConfig struct {
	ID      string
	URL     string
	APIKey  string
	Models  []string
	Timeout time.Duration
}

func NewHTTPJSON(cfg HTTPJSONConfig) *HTTPJSON {
	id := strings.TrimSpace(cfg.ID)
	if id == "" {
		id = "http"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPJSON{
		id:     id,
		url:    strings.TrimSpace(cfg.URL),
		apiKey: strings.TrimSpace(cfg.APIKey),
		models: cfg.Models,
		client: &http.Client{Timeout: timeout},
	}
}

func (a *HTTPJSON) ID() string { return a.id }

// FetchModels reports the configured models; the endpoint has no listing.
func (a *HTTPJSON) FetchModels(context.Context) ([]Model, error) {
	out := make([]Model, 0, len(a.models))
	for _, m := range a.models {
		out = append(out, Model{ID: m})
	}
	return out, nil
}

type httpJSONRequest struct {
	Model        string    `json:"model,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	History      []Message `json:"history,omitempty"`
	InputText    string    `json:"input_text"`
}

func (a *HTTPJSON) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	payload, err := json.Marshal(httpJSONRequest{
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		History:      req.History,
		InputText:    req.UserText,
	})
	if err != nil {
		return ChatResponse{}, failure.GenerationFailure(a.id+".marshal_request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return ChatResponse{}, failure.GenerationFailure(a.id+".create_request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	res, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ChatResponse{}, ctx.Err()
		}
		return ChatResponse{}, failure.GenerationFailure(a.id+".send_request", err).
			WithRetryable(reliability.IsTransientError(err))
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return ChatResponse{}, failure.GenerationFailure(a.id+".send_request",
			fmt.Errorf("http status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))).
			WithCode(fmt.Sprintf("http_%d", res.StatusCode)).
			WithRetryable(reliability.IsRetryableHTTPStatus(res.StatusCode))
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return ChatResponse{}, failure.GenerationFailure(a.id+".read_response", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		// Plain-text answers are accepted as-is.
		return ChatResponse{Text: strings.TrimSpace(string(body)), Model: req.Model}, nil
	}
	return ChatResponse{Text: extractText(obj), Model: req.Model}, nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "output", "message", "reply", "content"} {
		if s, ok := obj[k].(string); ok {
			return s
		}
	}
	return ""
}

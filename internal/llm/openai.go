package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jurayed/ushi-project-sub000/internal/failure"
	"github.com/jurayed/ushi-project-sub000/internal/reliability"
)

type OpenAIConfig struct {
	// ID names the provider in the registry ("openai", "groq", "openrouter"...).
	ID           string
	BaseURL      string
	APIKey       string
	DefaultModel string
	// Headers are added to every request (OpenRouter's HTTP-Referer, etc.).
	Headers    map[string]string
	HTTPClient *http.Client
}

// OpenAICompatible talks to any /chat/completions endpoint that follows the
// OpenAI wire format, streaming with server-sent events.
type OpenAICompatible struct {
	cfg    OpenAIConfig
	client *http.Client
}

func NewOpenAICompatible(cfg OpenAIConfig) *OpenAICompatible {
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = "openai"
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	client := cfg.HTTPClient
	if client == nil {
		// No overall timeout: streams end when the model is done or ctx is canceled.
		client = &http.Client{Transport: http.DefaultTransport}
	}
	return &OpenAICompatible{cfg: cfg, client: client}
}

func (p *OpenAICompatible) ID() string { return p.cfg.ID }

type chatCompletionsRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream,omitempty"`
}

type chatCompletionsResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

type chatChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

func (p *OpenAICompatible) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	res, err := p.post(ctx, req, false)
	if err != nil {
		return ChatResponse{}, err
	}
	defer res.Body.Close()

	var out chatCompletionsResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return ChatResponse{}, p.fail("decode_response", err)
	}
	if len(out.Choices) == 0 {
		return ChatResponse{}, p.fail("decode_response", fmt.Errorf("empty choices"))
	}
	return ChatResponse{Text: out.Choices[0].Message.Content, Model: firstNonEmpty(out.Model, p.model(req))}, nil
}

func (p *OpenAICompatible) StreamChat(ctx context.Context, req ChatRequest, onDelta DeltaHandler) (ChatResponse, error) {
	res, err := p.post(ctx, req, true)
	if err != nil {
		return ChatResponse{}, err
	}
	defer res.Body.Close()

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if !strings.Contains(ct, "text/event-stream") {
		// Some gateways ignore stream:true and answer in one piece.
		var out chatCompletionsResponse
		if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
			return ChatResponse{}, p.fail("decode_response", err)
		}
		if len(out.Choices) == 0 {
			return ChatResponse{}, p.fail("decode_response", fmt.Errorf("empty choices"))
		}
		text := out.Choices[0].Message.Content
		if text != "" && onDelta != nil {
			if err := onDelta(text); err != nil {
				return ChatResponse{}, err
			}
		}
		return ChatResponse{Text: text, Model: firstNonEmpty(out.Model, p.model(req))}, nil
	}
	return p.consumeStream(ctx, res.Body, p.model(req), onDelta)
}

func (p *OpenAICompatible) consumeStream(ctx context.Context, body io.Reader, model string, onDelta DeltaHandler) (ChatResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return ChatResponse{Text: out.String(), Model: model}, nil
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			return ChatResponse{}, p.fail("stream", fmt.Errorf("upstream error: %s", chunk.Error.Message))
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
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
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ChatResponse{}, ctx.Err()
		}
		return ChatResponse{}, p.fail("stream", fmt.Errorf("stream read: %w", err)).WithRetryable(true)
	}
	// Stream ended without [DONE]; keep what arrived.
	return ChatResponse{Text: out.String(), Model: model}, nil
}

func (p *OpenAICompatible) FetchModels(ctx context.Context) ([]Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/models", nil)
	if err != nil {
		return nil, p.fail("fetch_models", err)
	}
	p.setHeaders(httpReq)

	res, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.fail("fetch_models", err).WithRetryable(reliability.IsTransientError(err))
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, p.statusError("fetch_models", res)
	}

	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		return nil, p.fail("fetch_models", err)
	}
	out := make([]Model, 0, len(list.Data))
	for _, m := range list.Data {
		if m.ID != "" {
			out = append(out, Model{ID: m.ID})
		}
	}
	return out, nil
}

func (p *OpenAICompatible) post(ctx context.Context, req ChatRequest, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(chatCompletionsRequest{
		Model:    p.model(req),
		Messages: req.Messages(),
		Stream:   stream,
	})
	if err != nil {
		return nil, p.fail("marshal_request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, p.fail("create_request", err)
	}
	p.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	res, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, p.fail("send_request", err).WithRetryable(reliability.IsTransientError(err))
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer res.Body.Close()
		return nil, p.statusError("send_request", res)
	}
	return res, nil
}

func (p *OpenAICompatible) setHeaders(req *http.Request) {
	if key := strings.TrimSpace(p.cfg.APIKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	for k, v := range p.cfg.Headers {
		req.Header.Set(k, v)
	}
}

func (p *OpenAICompatible) model(req ChatRequest) string {
	return firstNonEmpty(req.Model, p.cfg.DefaultModel)
}

func (p *OpenAICompatible) fail(op string, err error) *failure.Error {
	return failure.GenerationFailure(p.cfg.ID+"."+op, err)
}

func (p *OpenAICompatible) statusError(op string, res *http.Response) *failure.Error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	return p.fail(op, fmt.Errorf("http status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))).
		WithCode(fmt.Sprintf("http_%d", res.StatusCode)).
		WithRetryable(reliability.IsRetryableHTTPStatus(res.StatusCode))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/jurayed/ushi-project-sub000/internal/failure"
)

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	r.Register(NewMock(MockConfig{ID: "groq"}), RegisterOptions{AllowedModels: []string{"llama-3.1-8b", "mixtral"}})
	r.Register(NewMock(MockConfig{ID: "off"}), RegisterOptions{Disabled: true})

	p, model, err := r.Lookup("GROQ", "")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if p.ID() != "groq" || model != "llama-3.1-8b" {
		t.Fatalf("Lookup() = %s/%s, want groq/llama-3.1-8b", p.ID(), model)
	}

	cases := []struct {
		provider, model string
		want            error
	}{
		{"missing", "", ErrUnknownProvider},
		{"off", "", ErrProviderDisabled},
		{"groq", "gpt-4o", ErrModelNotAllowed},
	}
	for _, tc := range cases {
		_, _, err := r.Lookup(tc.provider, tc.model)
		if !errors.Is(err, tc.want) {
			t.Fatalf("Lookup(%q, %q) error = %v, want %v", tc.provider, tc.model, err, tc.want)
		}
		if !failure.IsKind(err, failure.Configuration) {
			t.Fatalf("Lookup(%q) kind = %q, want configuration", tc.provider, failure.KindOf(err))
		}
	}

	infos := r.Providers()
	if len(infos) != 2 || infos[0].ID != "groq" || infos[1].Enabled {
		t.Fatalf("Providers() = %+v", infos)
	}
}

func TestChatRequestMessagesOrder(t *testing.T) {
	req := ChatRequest{
		SystemPrompt: "be brief",
		History: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: " "},
			{Role: RoleAssistant, Content: "hello"},
		},
		UserText: "how are you",
	}
	msgs := req.Messages()
	var roles []string
	for _, m := range msgs {
		roles = append(roles, string(m.Role))
	}
	if got := strings.Join(roles, ","); got != "system,user,assistant,user" {
		t.Fatalf("roles = %s", got)
	}
	if msgs[len(msgs)-1].Content != "how are you" {
		t.Fatalf("last message = %+v", msgs[len(msgs)-1])
	}
}

func TestOpenAICompatibleStreamChat(t *testing.T) {
	var got chatCompletionsRequest
	var auth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range []string{"Привет", "! Как", " ты?"} {
			b, _ := json.Marshal(map[string]any{
				"model":   "llama",
				"choices": []map[string]any{{"delta": map[string]string{"content": d}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", b)
		}
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer ts.Close()

	p := NewOpenAICompatible(OpenAIConfig{ID: "groq", BaseURL: ts.URL + "/v1/", APIKey: "secret", DefaultModel: "llama"})
	var deltas []string
	resp, err := p.StreamChat(context.Background(), ChatRequest{SystemPrompt: "sys", UserText: "q"}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamChat() error = %v", err)
	}
	if strings.Join(deltas, "|") != "Привет|! Как| ты?" {
		t.Fatalf("deltas = %q", deltas)
	}
	if resp.Text != "Привет! Как ты?" || resp.Model != "llama" {
		t.Fatalf("resp = %+v", resp)
	}
	if !got.Stream || got.Model != "llama" || len(got.Messages) != 2 || auth != "Bearer secret" {
		t.Fatalf("request = %+v auth=%q", got, auth)
	}
}

func TestOpenAICompatibleStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	p := NewOpenAICompatible(OpenAIConfig{BaseURL: ts.URL})
	_, err := p.StreamChat(context.Background(), ChatRequest{UserText: "q"}, nil)
	var fe *failure.Error
	if !errors.As(err, &fe) || fe.Kind != failure.Generation || !fe.Retryable || fe.Code != "http_503" {
		t.Fatalf("StreamChat() error = %v (%+v)", err, fe)
	}
}

func TestOpenAICompatibleJSONFallbackAndModels(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/models":
			_, _ = w.Write([]byte(`{"data":[{"id":"a"},{"id":""},{"id":"b"}]}`))
		default:
			_, _ = w.Write([]byte(`{"model":"m","choices":[{"message":{"role":"assistant","content":"whole answer."}}]}`))
		}
	}))
	defer ts.Close()

	p := NewOpenAICompatible(OpenAIConfig{BaseURL: ts.URL})
	var deltas []string
	resp, err := p.StreamChat(context.Background(), ChatRequest{UserText: "q"}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil || resp.Text != "whole answer." || len(deltas) != 1 {
		t.Fatalf("StreamChat() = %+v, %v (deltas %q)", resp, err, deltas)
	}
	models, err := p.FetchModels(context.Background())
	if err != nil || len(models) != 2 || models[1].ID != "b" {
		t.Fatalf("FetchModels() = %+v, %v", models, err)
	}
}

func TestOpenAICompatibleDeltaHandlerAbort(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n")
	}))
	defer ts.Close()

	stop := errors.New("stop")
	calls := 0
	_, err := NewOpenAICompatible(OpenAIConfig{BaseURL: ts.URL}).StreamChat(context.Background(), ChatRequest{}, func(string) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Fatalf("StreamChat() error = %v calls = %d", err, calls)
	}
}

func TestHTTPJSONBufferedReplay(t *testing.T) {
	answer := "Sure. Here is a longer explanation without much punctuation that keeps going and going for a while"
	var got httpJSONRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]string{"text": answer})
	}))
	defer ts.Close()

	p := NewBuffered(NewHTTPJSON(HTTPJSONConfig{ID: "custom", URL: ts.URL}), 16)
	if p.ID() != "custom" {
		t.Fatalf("ID() = %q", p.ID())
	}
	var deltas []string
	resp, err := p.StreamChat(context.Background(), ChatRequest{UserText: "explain", Model: "x"}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamChat() error = %v", err)
	}
	if len(deltas) < 3 {
		t.Fatalf("deltas = %q, want several fragments", deltas)
	}
	if deltas[0] != "Sure." {
		t.Fatalf("first fragment = %q, want Sure.", deltas[0])
	}
	if strings.Join(deltas, "") != answer || resp.Text != answer {
		t.Fatalf("fragments do not reassemble the answer: %q", deltas)
	}
	if got.InputText != "explain" || got.Model != "x" {
		t.Fatalf("request = %+v", got)
	}
}

func TestPhraseChunkerKeepsRunesWhole(t *testing.T) {
	text := strings.Repeat("жжжжжжжжжж", 10)
	c := newPhraseChunker(7)
	parts := append(c.Consume(text), c.Finalize()...)
	if strings.Join(parts, "") != text {
		t.Fatalf("parts do not reassemble the text")
	}
	for _, p := range parts {
		if !utf8.ValidString(p) {
			t.Fatalf("fragment %q splits a rune", p)
		}
	}
}

func TestMockEchoAndScript(t *testing.T) {
	m := NewMock(MockConfig{})
	var deltas []string
	resp, err := m.StreamChat(context.Background(), ChatRequest{
		UserText: "hello there",
		History:  []Message{{Role: RoleAssistant, Content: "earlier"}},
	}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamChat() error = %v", err)
	}
	want := "I heard you: hello there\nI also remember: earlier"
	if resp.Text != want || strings.Join(deltas, "") != want {
		t.Fatalf("resp = %q deltas = %q", resp.Text, deltas)
	}

	failing := NewMock(MockConfig{Fragments: []string{"a", "b", "c"}, Err: errors.New("boom"), FailAfter: 2})
	deltas = nil
	_, err = failing.StreamChat(context.Background(), ChatRequest{}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if !failure.IsKind(err, failure.Generation) || strings.Join(deltas, "") != "ab" {
		t.Fatalf("StreamChat() = %q, %v", deltas, err)
	}
	if len(failing.Requests()) != 1 {
		t.Fatalf("Requests() = %d, want 1", len(failing.Requests()))
	}
}

func TestGeminiStreamChat(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":streamGenerateContent") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hello", " world."} {
			b, _ := json.Marshal(map[string]any{
				"candidates": []map[string]any{{
					"content": map[string]any{"role": "model", "parts": []map[string]string{{"text": part}}},
				}},
			})
			fmt.Fprintf(w, "data: %s\n\n", b)
		}
	}))
	defer ts.Close()

	g, err := NewGemini(context.Background(), GeminiConfig{APIKey: "k", BaseURL: ts.URL + "/"})
	if err != nil {
		t.Fatalf("NewGemini() error = %v", err)
	}
	var deltas []string
	resp, err := g.StreamChat(context.Background(), ChatRequest{SystemPrompt: "s", UserText: "hi"}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamChat() error = %v", err)
	}
	if resp.Text != "Hello world." || len(deltas) != 2 {
		t.Fatalf("resp = %q deltas = %q", resp.Text, deltas)
	}
}

func TestGeminiRequestMapsRoles(t *testing.T) {
	contents, config := geminiRequest(ChatRequest{
		SystemPrompt: "Будь краток.",
		History: []Message{
			{Role: RoleUser, Content: "Привет"},
			{Role: RoleAssistant, Content: "Здравствуй!"},
			{Role: RoleUser, Content: "  "},
		},
		UserText: "Как дела?",
	})
	if len(contents) != 3 {
		t.Fatalf("len(contents) = %d, want 3", len(contents))
	}
	wantRoles := []string{"user", "model", "user"}
	for i, c := range contents {
		if string(c.Role) != wantRoles[i] {
			t.Fatalf("contents[%d].Role = %q, want %q", i, c.Role, wantRoles[i])
		}
	}
	if got := contents[2].Parts[0].Text; got != "Как дела?" {
		t.Fatalf("last text = %q, want user text", got)
	}
	if config == nil || config.SystemInstruction.Parts[0].Text != "Будь краток." {
		t.Fatalf("config = %+v, want system instruction", config)
	}
}

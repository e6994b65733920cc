package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jurayed/ushi-project-sub000/internal/config"
	"github.com/jurayed/ushi-project-sub000/internal/llm"
)

func buildProviders(ctx context.Context, cfg config.Config, logger *slog.Logger) (*llm.Registry, error) {
	reg := llm.NewRegistry()
	disabled := make(map[string]bool, len(cfg.LLMDisabledProviders))
	for _, id := range cfg.LLMDisabledProviders {
		disabled[id] = true
	}

	for _, p := range cfg.LLMProviders {
		provider, err := buildProvider(ctx, p, cfg.LLMBufferMinChars)
		if err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", p.ID, err)
		}
		reg.Register(provider, llm.RegisterOptions{
			Disabled:      disabled[p.ID],
			AllowedModels: p.Models,
		})
		logger.Info("llm provider registered", "provider", p.ID, "kind", p.Kind, "disabled", disabled[p.ID])
	}
	return reg, nil
}

func buildProvider(ctx context.Context, p config.LLMProvider, minChars int) (llm.Provider, error) {
	defaultModel := ""
	if len(p.Models) > 0 {
		defaultModel = p.Models[0]
	}
	switch p.Kind {
	case "openai":
		cfg := llm.OpenAIConfig{
			ID:           p.ID,
			BaseURL:      p.BaseURL,
			APIKey:       p.APIKey,
			DefaultModel: defaultModel,
		}
		if p.ID == "openrouter" {
			cfg.Headers = map[string]string{"X-Title": "ushi"}
		}
		return llm.NewOpenAICompatible(cfg), nil
	case "gemini":
		return llm.NewGemini(ctx, llm.GeminiConfig{
			ID:           p.ID,
			APIKey:       p.APIKey,
			DefaultModel: defaultModel,
			BaseURL:      p.BaseURL,
		})
	case "http_json":
		return llm.NewBuffered(llm.NewHTTPJSON(llm.HTTPJSONConfig{
			ID:     p.ID,
			URL:    p.BaseURL,
			APIKey: p.APIKey,
			Models: p.Models,
		}), minChars), nil
	case "mock":
		return llm.NewMock(llm.MockConfig{ID: p.ID, Models: p.Models}), nil
	default:
		return nil, fmt.Errorf("unknown kind %q", p.Kind)
	}
}

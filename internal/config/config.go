package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LLMProvider is one language model backend enabled through the environment.
type LLMProvider struct {
	ID string
	// Kind is "openai" (chat completions), "gemini", "http_json" or "mock".
	Kind    string
	BaseURL string
	APIKey  string
	Models  []string
}

// Config contains all runtime settings for the voice service.
type Config struct {
	BindAddr                 string
	AppEnv                   string
	LogLevel                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	DatabaseURL           string
	HistoryLimit          int
	HistoryMemoryMaxTurns int
	PersistUserTurns      bool
	// HistoryRedactPII masks emails, phones and card numbers before turns are stored.
	HistoryRedactPII bool

	BusyPolicy           string
	SynthesisConcurrency int
	SystemPrompt         string
	DefaultLanguage      string
	InputSampleRate      int

	// STTProvider is "auto", "elevenlabs" or "mock".
	STTProvider string
	// TTSProviders is the synthesizer fallback order.
	TTSProviders []string

	ElevenLabsAPIKey            string
	ElevenLabsBaseURL           string
	ElevenLabsWSBaseURL         string
	ElevenLabsSTTModel          string
	ElevenLabsSTTCommitStrategy string
	ElevenLabsTTSVoice          string
	ElevenLabsTTSModel          string
	ElevenLabsTTSSampleRate     int

	GoogleTTSAPIKey   string
	GoogleTTSEndpoint string
	GoogleTTSVoice    string
	GoogleTTSLanguage string
	// GoogleTTSUseADC enables the Google synthesizer with application
	// default credentials when no API key is set.
	GoogleTTSUseADC bool

	LLMProviders         []LLMProvider
	LLMDisabledProviders []string
	LLMBufferMinChars    int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		AppEnv:           envOrDefault("APP_ENV", "development"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "ushi"),

		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),

		BusyPolicy:      envOrDefault("VOICE_BUSY_POLICY", "drop"),
		SystemPrompt:    strings.TrimSpace(os.Getenv("VOICE_SYSTEM_PROMPT")),
		DefaultLanguage: envOrDefault("VOICE_LANGUAGE", "en"),

		STTProvider:  strings.ToLower(envOrDefault("STT_PROVIDER", "auto")),
		TTSProviders: lowerAll(listFromEnv("TTS_PROVIDERS", []string{"elevenlabs", "google"})),

		ElevenLabsAPIKey:            strings.TrimSpace(os.Getenv("ELEVENLABS_API_KEY")),
		ElevenLabsBaseURL:           envOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsWSBaseURL:         envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		ElevenLabsSTTModel:          envOrDefault("ELEVENLABS_STT_MODEL_ID", "scribe_v2_realtime"),
		ElevenLabsSTTCommitStrategy: envOrDefault("ELEVENLABS_STT_COMMIT_STRATEGY", "vad"),
		ElevenLabsTTSVoice:          envOrDefault("ELEVENLABS_TTS_VOICE_ID", "cgSgspJ2msm6clMCkdW9"),
		ElevenLabsTTSModel:          envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_flash_v2_5"),

		GoogleTTSAPIKey:   strings.TrimSpace(os.Getenv("GOOGLE_TTS_API_KEY")),
		GoogleTTSEndpoint: strings.TrimSpace(os.Getenv("GOOGLE_TTS_ENDPOINT")),
		GoogleTTSVoice:    strings.TrimSpace(os.Getenv("GOOGLE_TTS_VOICE")),
		GoogleTTSLanguage: envOrDefault("GOOGLE_TTS_LANGUAGE", "en-US"),

		LLMDisabledProviders: lowerAll(listFromEnv("LLM_DISABLED_PROVIDERS", nil)),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
		HistoryLimit:             8,
		HistoryMemoryMaxTurns:    200,
		SynthesisConcurrency:     2,
		InputSampleRate:          16000,
		ElevenLabsTTSSampleRate:  24000,
		LLMBufferMinChars:        48,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryLimit, err = intFromEnv("HISTORY_LIMIT", cfg.HistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryMemoryMaxTurns, err = intFromEnv("HISTORY_MEMORY_MAX_TURNS", cfg.HistoryMemoryMaxTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.PersistUserTurns, err = boolFromEnv("HISTORY_PERSIST_USER_TURNS", cfg.PersistUserTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryRedactPII, err = boolFromEnv("HISTORY_REDACT_PII", cfg.HistoryRedactPII)
	if err != nil {
		return Config{}, err
	}
	cfg.SynthesisConcurrency, err = intFromEnv("VOICE_SYNTHESIS_CONCURRENCY", cfg.SynthesisConcurrency)
	if err != nil {
		return Config{}, err
	}
	cfg.InputSampleRate, err = intFromEnv("VOICE_INPUT_SAMPLE_RATE", cfg.InputSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.ElevenLabsTTSSampleRate, err = intFromEnv("ELEVENLABS_TTS_SAMPLE_RATE", cfg.ElevenLabsTTSSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.GoogleTTSUseADC, err = boolFromEnv("GOOGLE_TTS_USE_ADC", cfg.GoogleTTSUseADC)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMBufferMinChars, err = intFromEnv("LLM_BUFFER_MIN_CHARS", cfg.LLMBufferMinChars)
	if err != nil {
		return Config{}, err
	}

	cfg.LLMProviders = loadLLMProviders()

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.HistoryLimit <= 0 {
		return Config{}, fmt.Errorf("HISTORY_LIMIT must be positive")
	}
	if cfg.SynthesisConcurrency <= 0 {
		return Config{}, fmt.Errorf("VOICE_SYNTHESIS_CONCURRENCY must be positive")
	}
	if cfg.InputSampleRate < 8000 || cfg.InputSampleRate > 48000 {
		return Config{}, fmt.Errorf("VOICE_INPUT_SAMPLE_RATE must be between 8000 and 48000")
	}
	switch strings.ToLower(cfg.BusyPolicy) {
	case "drop", "queue":
		cfg.BusyPolicy = strings.ToLower(cfg.BusyPolicy)
	default:
		return Config{}, fmt.Errorf("VOICE_BUSY_POLICY must be drop or queue")
	}
	switch cfg.STTProvider {
	case "auto", "elevenlabs", "mock":
	default:
		return Config{}, fmt.Errorf("STT_PROVIDER must be auto, elevenlabs or mock")
	}
	if cfg.STTProvider == "elevenlabs" && cfg.ElevenLabsAPIKey == "" {
		return Config{}, fmt.Errorf("STT_PROVIDER=elevenlabs requires ELEVENLABS_API_KEY")
	}
	for _, p := range cfg.TTSProviders {
		switch p {
		case "elevenlabs", "google", "mock":
		default:
			return Config{}, fmt.Errorf("TTS_PROVIDERS: unknown synthesizer %q", p)
		}
	}

	return cfg, nil
}

// loadLLMProviders enables every provider whose key (or URL) is set. The
// mock provider is added when nothing else is configured or MOCK_LLM_ENABLED
// is true.
func loadLLMProviders() []LLMProvider {
	var out []LLMProvider
	openAICompatible := []struct {
		id, keyEnv, urlEnv, modelsEnv, defaultURL string
		defaultModels                             []string
	}{
		{"openai", "OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODELS", "https://api.openai.com/v1", []string{"gpt-4o-mini"}},
		{"groq", "GROQ_API_KEY", "GROQ_BASE_URL", "GROQ_MODELS", "https://api.groq.com/openai/v1", []string{"llama-3.1-8b-instant"}},
		{"cerebras", "CEREBRAS_API_KEY", "CEREBRAS_BASE_URL", "CEREBRAS_MODELS", "https://api.cerebras.ai/v1", []string{"llama3.1-8b"}},
		{"openrouter", "OPENROUTER_API_KEY", "OPENROUTER_BASE_URL", "OPENROUTER_MODELS", "https://openrouter.ai/api/v1", nil},
	}
	for _, p := range openAICompatible {
		key := strings.TrimSpace(os.Getenv(p.keyEnv))
		if key == "" {
			continue
		}
		out = append(out, LLMProvider{
			ID:      p.id,
			Kind:    "openai",
			BaseURL: envOrDefault(p.urlEnv, p.defaultURL),
			APIKey:  key,
			Models:  listFromEnv(p.modelsEnv, p.defaultModels),
		})
	}
	if key := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); key != "" {
		out = append(out, LLMProvider{
			ID:      "gemini",
			Kind:    "gemini",
			BaseURL: strings.TrimSpace(os.Getenv("GEMINI_BASE_URL")),
			APIKey:  key,
			Models:  listFromEnv("GEMINI_MODELS", []string{"gemini-2.5-flash"}),
		})
	}
	if url := strings.TrimSpace(os.Getenv("CUSTOM_LLM_URL")); url != "" {
		out = append(out, LLMProvider{
			ID:      envOrDefault("CUSTOM_LLM_ID", "custom"),
			Kind:    "http_json",
			BaseURL: url,
			APIKey:  strings.TrimSpace(os.Getenv("CUSTOM_LLM_API_KEY")),
			Models:  listFromEnv("CUSTOM_LLM_MODELS", nil),
		})
	}
	mock, err := boolFromEnv("MOCK_LLM_ENABLED", len(out) == 0)
	if err != nil {
		mock = len(out) == 0
	}
	if mock {
		out = append(out, LLMProvider{ID: "mock", Kind: "mock"})
	}
	return out
}

// IsProduction reports whether logs should be JSON.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func listFromEnv(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func lowerAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

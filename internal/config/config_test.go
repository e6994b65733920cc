package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" || cfg.MetricsNamespace != "ushi" {
		t.Fatalf("BindAddr/MetricsNamespace = %q/%q", cfg.BindAddr, cfg.MetricsNamespace)
	}
	if cfg.BusyPolicy != "drop" {
		t.Fatalf("BusyPolicy = %q, want drop", cfg.BusyPolicy)
	}
	if cfg.PersistUserTurns {
		t.Fatalf("PersistUserTurns = true, want false by default")
	}
	if cfg.SessionInactivityTimeout != 2*time.Minute {
		t.Fatalf("SessionInactivityTimeout = %v, want 2m", cfg.SessionInactivityTimeout)
	}
	if len(cfg.LLMProviders) != 1 || cfg.LLMProviders[0].ID != "mock" {
		t.Fatalf("LLMProviders = %+v, want only mock", cfg.LLMProviders)
	}
	if strings.Join(cfg.TTSProviders, ",") != "elevenlabs,google" {
		t.Fatalf("TTSProviders = %v", cfg.TTSProviders)
	}
	if cfg.IsProduction() {
		t.Fatalf("IsProduction() = true for default env")
	}
}

func TestLoadEnablesKeyedProviders(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("GROQ_API_KEY", "gsk")
	t.Setenv("GROQ_MODELS", "llama-3.1-8b-instant, Mixtral-8x7b")
	t.Setenv("GEMINI_API_KEY", "g")
	t.Setenv("CUSTOM_LLM_URL", "http://localhost:9000/chat")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	var ids []string
	for _, p := range cfg.LLMProviders {
		ids = append(ids, p.ID+":"+p.Kind)
	}
	if got := strings.Join(ids, ","); got != "groq:openai,gemini:gemini,custom:http_json" {
		t.Fatalf("providers = %s", got)
	}
	groq := cfg.LLMProviders[0]
	if groq.BaseURL != "https://api.groq.com/openai/v1" || len(groq.Models) != 2 || groq.Models[1] != "Mixtral-8x7b" {
		t.Fatalf("groq = %+v", groq)
	}
}

func TestLoadMockCanBeForced(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("OPENAI_API_KEY", "sk")
	t.Setenv("MOCK_LLM_ENABLED", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if n := len(cfg.LLMProviders); n != 2 || cfg.LLMProviders[1].ID != "mock" {
		t.Fatalf("LLMProviders = %+v", cfg.LLMProviders)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"VOICE_BUSY_POLICY":              "latest",
		"APP_SESSION_INACTIVITY_TIMEOUT": "1s",
		"HISTORY_LIMIT":                  "0",
		"VOICE_SYNTHESIS_CONCURRENCY":    "abc",
		"VOICE_INPUT_SAMPLE_RATE":        "4000",
		"STT_PROVIDER":                   "whisper",
		"TTS_PROVIDERS":                  "elevenlabs,polly",
		"APP_ALLOW_ANY_ORIGIN":           "maybe",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q error = nil", key, value)
			}
		})
	}
}

func TestLoadElevenLabsSTTNeedsKey(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("STT_PROVIDER", "elevenlabs")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want missing key error")
	}
	t.Setenv("ELEVENLABS_API_KEY", "xi")
	if _, err := Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_ENV",
		"LOG_LEVEL",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"DATABASE_URL",
		"HISTORY_LIMIT",
		"HISTORY_MEMORY_MAX_TURNS",
		"HISTORY_PERSIST_USER_TURNS",
		"HISTORY_REDACT_PII",
		"VOICE_BUSY_POLICY",
		"VOICE_SYNTHESIS_CONCURRENCY",
		"VOICE_SYSTEM_PROMPT",
		"VOICE_LANGUAGE",
		"VOICE_INPUT_SAMPLE_RATE",
		"STT_PROVIDER",
		"TTS_PROVIDERS",
		"ELEVENLABS_API_KEY",
		"ELEVENLABS_BASE_URL",
		"ELEVENLABS_WS_BASE_URL",
		"ELEVENLABS_STT_MODEL_ID",
		"ELEVENLABS_STT_COMMIT_STRATEGY",
		"ELEVENLABS_TTS_VOICE_ID",
		"ELEVENLABS_TTS_MODEL_ID",
		"ELEVENLABS_TTS_SAMPLE_RATE",
		"GOOGLE_TTS_API_KEY",
		"GOOGLE_TTS_ENDPOINT",
		"GOOGLE_TTS_VOICE",
		"GOOGLE_TTS_LANGUAGE",
		"GOOGLE_TTS_USE_ADC",
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODELS",
		"GROQ_API_KEY", "GROQ_BASE_URL", "GROQ_MODELS",
		"CEREBRAS_API_KEY", "CEREBRAS_BASE_URL", "CEREBRAS_MODELS",
		"OPENROUTER_API_KEY", "OPENROUTER_BASE_URL", "OPENROUTER_MODELS",
		"GEMINI_API_KEY", "GEMINI_BASE_URL", "GEMINI_MODELS",
		"CUSTOM_LLM_URL", "CUSTOM_LLM_ID", "CUSTOM_LLM_API_KEY", "CUSTOM_LLM_MODELS",
		"MOCK_LLM_ENABLED",
		"LLM_DISABLED_PROVIDERS",
		"LLM_BUFFER_MIN_CHARS",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

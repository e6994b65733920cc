package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jurayed/ushi-project-sub000/internal/audio"
	"github.com/jurayed/ushi-project-sub000/internal/logging"
)

const providerElevenLabs = "elevenlabs"

type ElevenLabsConfig struct {
	APIKey  string
	BaseURL string
	// VoiceID is used when a request does not name one.
	VoiceID string
	ModelID string
	// SampleRate selects the pcm_<rate> output format.
	SampleRate      int
	Stability       float64
	SimilarityBoost float64
	Timeout         time.Duration
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// ElevenLabs synthesizes through the ElevenLabs REST endpoint, requesting raw
// PCM and wrapping it as WAV.
type ElevenLabs struct {
	cfg    ElevenLabsConfig
	client *http.Client
	logger *slog.Logger
}

func NewElevenLabs(cfg ElevenLabsConfig) (*ElevenLabs, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "eleven_flash_v2_5"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if cfg.Stability == 0 {
		cfg.Stability = 0.5
	}
	if cfg.SimilarityBoost == 0 {
		cfg.SimilarityBoost = 0.75
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &ElevenLabs{
		cfg:    cfg,
		client: client,
		logger: logging.OrDefault(cfg.Logger).With("component", "tts.elevenlabs"),
	}, nil
}

type elevenRequest struct {
	Text          string              `json:"text"`
	ModelID       string              `json:"model_id"`
	LanguageCode  string              `json:"language_code,omitempty"`
	VoiceSettings elevenVoiceSettings `json:"voice_settings"`
}

type elevenVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

func (e *ElevenLabs) Synthesize(ctx context.Context, text string, voice VoiceProfile) (Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Audio{}, synthesisError(providerElevenLabs, ErrEmptyText)
	}
	voiceID := firstNonEmpty(voice.VoiceID, e.cfg.VoiceID)
	if voiceID == "" {
		return Audio{}, synthesisError(providerElevenLabs, ErrNoVoiceID)
	}

	body, err := json.Marshal(elevenRequest{
		Text:         text,
		ModelID:      firstNonEmpty(voice.ModelID, e.cfg.ModelID),
		LanguageCode: strings.TrimSpace(voice.Language),
		VoiceSettings: elevenVoiceSettings{
			Stability:       e.cfg.Stability,
			SimilarityBoost: e.cfg.SimilarityBoost,
			Speed:           voice.Speed,
		},
	})
	if err != nil {
		return Audio{}, synthesisError(providerElevenLabs, fmt.Errorf("marshal payload: %w", err))
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=pcm_%s",
		strings.TrimRight(e.cfg.BaseURL, "/"), url.PathEscape(voiceID), strconv.Itoa(e.cfg.SampleRate))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Audio{}, synthesisError(providerElevenLabs, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("xi-api-key", e.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/pcm")

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return Audio{}, synthesisError(providerElevenLabs, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Audio{}, synthesisError(providerElevenLabs, parseElevenError(resp))
	}
	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, synthesisError(providerElevenLabs, fmt.Errorf("read response: %w", err))
	}

	e.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(pcm),
		"latency_ms", time.Since(start).Milliseconds(),
		"model", firstNonEmpty(voice.ModelID, e.cfg.ModelID),
	)

	return Audio{
		Data:       audio.EncodeWAV(pcm, e.cfg.SampleRate),
		Format:     FormatWAV,
		SampleRate: e.cfg.SampleRate,
		Duration:   pcmDuration(len(pcm), e.cfg.SampleRate),
	}, nil
}

func parseElevenError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Detail struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"detail"`
	}
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		Provider:   providerElevenLabs,
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Detail.Message != "" {
		apiErr.Message = errResp.Detail.Message
		apiErr.Code = errResp.Detail.Status
	}
	return apiErr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/texttospeech/v1"

	"github.com/jurayed/ushi-project-sub000/internal/logging"
)

const providerGoogle = "google"

type GoogleConfig struct {
	// APIKey authenticates with a key; when empty, application default
	// credentials are used.
	APIKey string
	// Endpoint overrides the service base URL.
	Endpoint     string
	VoiceName    string
	LanguageCode string
	SampleRate   int
	Logger       *slog.Logger
	// ClientOptions are appended after the credential options.
	ClientOptions []option.ClientOption
}

// Google synthesizes through Google Cloud Text-to-Speech. LINEAR16 output
// already carries a WAV header.
type Google struct {
	cfg    GoogleConfig
	svc    *texttospeech.Service
	logger *slog.Logger
}

func NewGoogle(ctx context.Context, cfg GoogleConfig) (*Google, error) {
	if strings.TrimSpace(cfg.LanguageCode) == "" {
		cfg.LanguageCode = "en-US"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}

	var opts []option.ClientOption
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	} else if len(cfg.ClientOptions) == 0 {
		ts, err := google.DefaultTokenSource(ctx, texttospeech.CloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("google default credentials: %w", err)
		}
		opts = append(opts, option.WithTokenSource(ts))
	}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	opts = append(opts, cfg.ClientOptions...)

	svc, err := texttospeech.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create texttospeech service: %w", err)
	}
	return &Google{
		cfg:    cfg,
		svc:    svc,
		logger: logging.OrDefault(cfg.Logger).With("component", "tts.google"),
	}, nil
}

func (g *Google) Synthesize(ctx context.Context, text string, voice VoiceProfile) (Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Audio{}, synthesisError(providerGoogle, ErrEmptyText)
	}

	req := &texttospeech.SynthesizeSpeechRequest{
		Input: &texttospeech.SynthesisInput{Text: text},
		Voice: &texttospeech.VoiceSelectionParams{
			LanguageCode: firstNonEmpty(voice.Language, g.cfg.LanguageCode),
			Name:         firstNonEmpty(voice.VoiceID, g.cfg.VoiceName),
		},
		AudioConfig: &texttospeech.AudioConfig{
			AudioEncoding:   "LINEAR16",
			SampleRateHertz: int64(g.cfg.SampleRate),
			SpeakingRate:    voice.Speed,
		},
	}
	resp, err := g.svc.Text.Synthesize(req).Context(ctx).Do()
	if err != nil {
		var gErr *googleapi.Error
		if errors.As(err, &gErr) {
			return Audio{}, synthesisError(providerGoogle, &APIError{
				StatusCode: gErr.Code,
				Message:    gErr.Message,
				Provider:   providerGoogle,
			})
		}
		return Audio{}, synthesisError(providerGoogle, err)
	}

	data, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return Audio{}, synthesisError(providerGoogle, fmt.Errorf("decode audio content: %w", err))
	}
	g.logger.Debug("synthesized audio", "chars", len(text), "bytes", len(data))

	pcmBytes := len(data) - 44
	if pcmBytes < 0 {
		pcmBytes = 0
	}
	return Audio{
		Data:       data,
		Format:     FormatWAV,
		SampleRate: g.cfg.SampleRate,
		Duration:   pcmDuration(pcmBytes, g.cfg.SampleRate),
	}, nil
}

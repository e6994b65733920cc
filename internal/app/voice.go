package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jurayed/ushi-project-sub000/internal/config"
	"github.com/jurayed/ushi-project-sub000/internal/stt"
	"github.com/jurayed/ushi-project-sub000/internal/tts"
)

// voiceSetup is the resolved speech stack plus a human-readable summary for
// the startup log.
type voiceSetup struct {
	recognizer  stt.Recognizer
	synthesizer tts.Synthesizer
	sttDetail   string
	ttsDetail   []string
}

func resolveVoiceProviders(ctx context.Context, cfg config.Config, logger *slog.Logger) (voiceSetup, error) {
	var out voiceSetup

	sttMode := strings.ToLower(strings.TrimSpace(cfg.STTProvider))
	if sttMode == "" {
		sttMode = "auto"
	}
	switch {
	case sttMode == "elevenlabs" || (sttMode == "auto" && cfg.ElevenLabsAPIKey != ""):
		out.recognizer = stt.NewElevenLabs(stt.ElevenLabsConfig{
			APIKey:         cfg.ElevenLabsAPIKey,
			WSBaseURL:      cfg.ElevenLabsWSBaseURL,
			ModelID:        cfg.ElevenLabsSTTModel,
			CommitStrategy: cfg.ElevenLabsSTTCommitStrategy,
		})
		out.sttDetail = "elevenlabs realtime"
	default:
		out.recognizer = stt.NewMock(stt.MockConfig{FinalEvery: 20})
		out.sttDetail = "mock"
	}

	var chain []tts.Synthesizer
	for _, name := range cfg.TTSProviders {
		s, err := buildSynthesizer(ctx, name, cfg, logger)
		if err != nil {
			logger.Warn("tts provider unavailable", "provider", name, "error", err)
			continue
		}
		if s == nil {
			continue
		}
		chain = append(chain, s)
		out.ttsDetail = append(out.ttsDetail, name)
	}
	if len(chain) == 0 {
		chain = append(chain, tts.NewMock())
		out.ttsDetail = append(out.ttsDetail, "mock")
	}
	if len(chain) == 1 {
		out.synthesizer = chain[0]
		return out, nil
	}
	synth, err := tts.NewChain(logger, chain...)
	if err != nil {
		return voiceSetup{}, fmt.Errorf("tts chain: %w", err)
	}
	out.synthesizer = synth
	return out, nil
}

// buildSynthesizer returns nil without error when a provider is listed but
// has no credentials.
func buildSynthesizer(ctx context.Context, name string, cfg config.Config, logger *slog.Logger) (tts.Synthesizer, error) {
	switch name {
	case "elevenlabs":
		if cfg.ElevenLabsAPIKey == "" {
			return nil, nil
		}
		return tts.NewElevenLabs(tts.ElevenLabsConfig{
			APIKey:     cfg.ElevenLabsAPIKey,
			BaseURL:    cfg.ElevenLabsBaseURL,
			VoiceID:    cfg.ElevenLabsTTSVoice,
			ModelID:    cfg.ElevenLabsTTSModel,
			SampleRate: cfg.ElevenLabsTTSSampleRate,
			Logger:     logger,
		})
	case "google":
		if cfg.GoogleTTSAPIKey == "" && !cfg.GoogleTTSUseADC {
			return nil, nil
		}
		return tts.NewGoogle(ctx, tts.GoogleConfig{
			APIKey:       cfg.GoogleTTSAPIKey,
			Endpoint:     cfg.GoogleTTSEndpoint,
			VoiceName:    cfg.GoogleTTSVoice,
			LanguageCode: cfg.GoogleTTSLanguage,
			Logger:       logger,
		})
	case "mock":
		return tts.NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown tts provider %q", name)
	}
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jurayed/ushi-project-sub000/internal/config"
	"github.com/jurayed/ushi-project-sub000/internal/history"
	"github.com/jurayed/ushi-project-sub000/internal/httpapi"
	"github.com/jurayed/ushi-project-sub000/internal/llm"
	"github.com/jurayed/ushi-project-sub000/internal/logging"
	"github.com/jurayed/ushi-project-sub000/internal/observability"
	"github.com/jurayed/ushi-project-sub000/internal/session"
	"github.com/jurayed/ushi-project-sub000/internal/tts"
	"github.com/jurayed/ushi-project-sub000/internal/voice"
)

type VoiceInfo struct {
	STT string
	TTS []string
}

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     *session.Registry
	Orchestrator *voice.Orchestrator
	Providers    *llm.Registry
	Metrics      *observability.Metrics
	Voice        VoiceInfo

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	logger = logging.OrDefault(logger)
	busy, err := voice.ParseBusyPolicy(cfg.BusyPolicy)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(cfg.MetricsNamespace, reg)

	store, err := newStorage(ctx, cfg.DatabaseURL, cfg.HistoryMemoryMaxTurns, logger)
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}

	if cfg.HistoryRedactPII {
		store.history = history.NewRedactingStore(store.history)
	}

	providers, err := buildProviders(ctx, cfg, logger)
	if err != nil {
		_ = store.close()
		return nil, err
	}

	voiceSetup, err := resolveVoiceProviders(ctx, cfg, logger)
	if err != nil {
		_ = store.close()
		return nil, err
	}

	orchestrator, err := voice.NewOrchestrator(voice.Deps{
		Recognizer:  voiceSetup.recognizer,
		Providers:   providers,
		Synthesizer: voiceSetup.synthesizer,
		History:     store.history,
		Identity:    store.identity,
		Metrics:     metrics,
		Logger:      logger,
	}, voice.Options{
		HistoryLimit:         cfg.HistoryLimit,
		BusyPolicy:           busy,
		PersistUserTurns:     cfg.PersistUserTurns,
		SynthesisConcurrency: cfg.SynthesisConcurrency,
		SystemPrompt:         cfg.SystemPrompt,
		Voice: tts.VoiceProfile{
			VoiceID:  cfg.ElevenLabsTTSVoice,
			ModelID:  cfg.ElevenLabsTTSModel,
			Language: cfg.DefaultLanguage,
		},
	})
	if err != nil {
		_ = store.close()
		return nil, err
	}

	api := httpapi.New(cfg, httpapi.Deps{
		Voice:       orchestrator,
		Providers:   providers,
		Synthesizer: voiceSetup.synthesizer,
		Metrics:     metrics,
		Logger:      logger,
		Ready:       store.ready,
	})

	cleanup := func() error {
		var errs []string
		if err := store.close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     api.Sessions(),
		Orchestrator: orchestrator,
		Providers:    providers,
		Metrics:      metrics,
		Voice: VoiceInfo{
			STT: voiceSetup.sttDetail,
			TTS: voiceSetup.ttsDetail,
		},
		Cleanup: cleanup,
	}, nil
}

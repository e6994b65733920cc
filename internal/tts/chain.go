package tts

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jurayed/ushi-project-sub000/internal/logging"
)

// Chain tries synthesizers in order; the first success wins.
type Chain struct {
	providers []Synthesizer
	logger    *slog.Logger
}

func NewChain(logger *slog.Logger, providers ...Synthesizer) (*Chain, error) {
	filtered := make([]Synthesizer, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			filtered = append(filtered, p)
		}
	}
	if len(filtered) == 0 {
		return nil, ErrProviderUnavailable
	}
	return &Chain{
		providers: filtered,
		logger:    logging.OrDefault(logger).With("component", "tts.chain"),
	}, nil
}

func (c *Chain) Synthesize(ctx context.Context, text string, voice VoiceProfile) (Audio, error) {
	var errs []error
	for i, p := range c.providers {
		out, err := p.Synthesize(ctx, text, voice)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback provider succeeded", "provider_index", i, "chars", len(text))
			}
			return out, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
		c.logger.Warn("provider failed, trying next", "provider_index", i, "error", err)
	}
	// The last error keeps its failure kind; the joined chain is for logs.
	last := errs[len(errs)-1]
	if len(errs) > 1 {
		c.logger.Debug("all providers failed", "errors", errors.Join(errs...))
	}
	return Audio{}, synthesisError("chain", last)
}

func (c *Chain) Len() int { return len(c.providers) }

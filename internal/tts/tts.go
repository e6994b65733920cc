// Package tts turns finished speech segments into playable audio.
//
// Every backend implements Synthesizer. Calls are one-shot per segment and
// failures are reported as *failure.Error values of kind synthesis.
package tts

import (
	"context"
	"errors"
	"time"
)

const (
	FormatWAV = "wav"
	FormatMP3 = "mp3"
)

// VoiceProfile selects how a segment is spoken. Empty fields fall back to the
// backend's configured defaults.
type VoiceProfile struct {
	VoiceID  string
	ModelID  string
	Language string
	// Speed is a playback rate multiplier; 0 means the backend default.
	Speed float64
}

// Audio is one synthesized segment, ready to hand to a client.
type Audio struct {
	Data       []byte
	Format     string
	SampleRate int
	Duration   time.Duration
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (Audio, error)
}

var (
	ErrNoAPIKey            = errors.New("tts: API key required")
	ErrNoVoiceID           = errors.New("tts: voice ID required")
	ErrEmptyText           = errors.New("tts: nothing to synthesize")
	ErrProviderUnavailable = errors.New("tts: no providers available")
)

func pcmDuration(pcmBytes, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := pcmBytes / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

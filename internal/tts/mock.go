package tts

import (
	"context"
	"sync"
	"time"

	"github.com/jurayed/ushi-project-sub000/internal/audio"
)

const mockSampleRate = 16000

// Mock synthesizes silence, roughly 20ms per character. SynthesizeFunc, when
// set, replaces the default behaviour; every call is recorded either way.
type Mock struct {
	SynthesizeFunc func(ctx context.Context, text string, voice VoiceProfile) (Audio, error)

	mu    sync.Mutex
	calls []MockCall
}

type MockCall struct {
	Text  string
	Voice VoiceProfile
	Time  time.Time
}

func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Synthesize(ctx context.Context, text string, voice VoiceProfile) (Audio, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Text: text, Voice: voice, Time: time.Now()})
	fn := m.SynthesizeFunc
	m.mu.Unlock()

	if fn != nil {
		out, err := fn(ctx, text, voice)
		if err != nil {
			return Audio{}, synthesisError("mock", err)
		}
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return Audio{}, synthesisError("mock", err)
	}
	pcm := make([]byte, len([]rune(text))*mockSampleRate/50*2)
	return Audio{
		Data:       audio.EncodeWAV(pcm, mockSampleRate),
		Format:     FormatWAV,
		SampleRate: mockSampleRate,
		Duration:   pcmDuration(len(pcm), mockSampleRate),
	}, nil
}

// Calls returns a copy of the recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Texts returns the text of every recorded call, in call order.
func (m *Mock) Texts() []string {
	calls := m.Calls()
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Text)
	}
	return out
}

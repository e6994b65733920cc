package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jurayed/ushi-project-sub000/internal/audio"
	"github.com/jurayed/ushi-project-sub000/internal/failure"
)

// MockConfig drives the deterministic local recognizer used when no
// recognition backend is configured.
type MockConfig struct {
	// Transcripts are returned in turn for successive finals; the last entry
	// repeats. Empty means "simulated voice input".
	Transcripts []string
	// FinalEvery emits a final after this many frames. Zero disables
	// automatic finals; Commit always finalizes.
	FinalEvery int
	// FailAfterFrames makes the stream fail after this many frames (0 = never).
	FailAfterFrames int
}

type Mock struct {
	cfg MockConfig
}

func NewMock(cfg MockConfig) *Mock {
	return &Mock{cfg: cfg}
}

func (m *Mock) Open(_ context.Context, opts OpenOptions) (Handle, error) {
	format := opts.Format.Normalized()
	return &mockHandle{
		cfg:    m.cfg,
		sink:   newEventSink(64),
		frames: audio.NewFrameBuffer(format.BytesFor(frameDuration)),
	}, nil
}

type mockHandle struct {
	cfg    MockConfig
	sink   *eventSink
	frames *audio.FrameBuffer

	mu         sync.Mutex
	frameCount int
	sinceFinal int
	finals     int
}

var errMockUpstream = errors.New("mock upstream failure")

func (h *mockHandle) Feed(_ context.Context, chunk []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sink.isClosed() {
		return failure.RecognitionFailure("feed", errHandleClosed)
	}
	for range h.frames.Write(chunk) {
		h.frameCount++
		h.sinceFinal++
		if h.cfg.FailAfterFrames > 0 && h.frameCount >= h.cfg.FailAfterFrames {
			h.sink.finish(failure.RecognitionFailure("mock", errMockUpstream))
			return nil
		}
		h.sink.emit(TranscriptEvent{Text: strings.Repeat(".", 1+h.sinceFinal%3), Confidence: 0.5})
		if h.cfg.FinalEvery > 0 && h.sinceFinal >= h.cfg.FinalEvery {
			h.finalizeLocked()
		}
	}
	return nil
}

func (h *mockHandle) Commit(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sink.isClosed() {
		return nil
	}
	if h.frames.Flush() != nil {
		h.sinceFinal++
	}
	if h.sinceFinal == 0 {
		return nil
	}
	h.finalizeLocked()
	return nil
}

func (h *mockHandle) finalizeLocked() {
	h.sinceFinal = 0
	text := "simulated voice input"
	if n := len(h.cfg.Transcripts); n > 0 {
		idx := h.finals
		if idx >= n {
			idx = n - 1
		}
		text = h.cfg.Transcripts[idx]
	}
	h.finals++
	h.sink.emit(TranscriptEvent{Text: text, Final: true, Confidence: 0.9})
}

func (h *mockHandle) Events() <-chan TranscriptEvent { return h.sink.Events() }
func (h *mockHandle) Err() error                     { return h.sink.Err() }

func (h *mockHandle) Close() error {
	h.sink.finish(nil)
	return nil
}

var errHandleClosed = fmt.Errorf("recognition handle closed")

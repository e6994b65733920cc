// Package stt adapts streaming speech recognition engines to a single
// push-audio, pull-transcripts contract.
package stt

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jurayed/ushi-project-sub000/internal/audio"
)

// TranscriptEvent is one recognition result. Interim events may be superseded
// by later events for the same utterance; a Final event closes the utterance.
type TranscriptEvent struct {
	Text       string
	Final      bool
	Confidence float64
	At         time.Time
}

type OpenOptions struct {
	SessionID string
	Language  string
	Format    audio.Format
}

// Handle is one open recognition stream.
//
// Events yields transcripts in arrival order until Close is called or the
// upstream fails; after the channel closes, Err reports the failure (a
// *failure.Error of kind recognition) or nil on a clean close.
type Handle interface {
	Feed(ctx context.Context, chunk []byte) error
	// Commit hints that the current utterance ended (push-to-talk release).
	Commit(ctx context.Context) error
	Events() <-chan TranscriptEvent
	Err() error
	Close() error
}

type Recognizer interface {
	Open(ctx context.Context, opts OpenOptions) (Handle, error)
}

// frameDuration is how much audio is batched before it is sent upstream.
const frameDuration = 100 * time.Millisecond

// eventSink owns the events channel of a handle. Only finish closes the
// channel, and emit never blocks past stop, so producers and Close can't race.
type eventSink struct {
	mu       sync.Mutex
	events   chan TranscriptEvent
	done     chan struct{}
	stopOnce sync.Once
	closed   bool
	err      error
}

func newEventSink(buffer int) *eventSink {
	return &eventSink{
		events: make(chan TranscriptEvent, buffer),
		done:   make(chan struct{}),
	}
}

// emit forwards evt unless the sink is closed. Finals without text are never
// forwarded as finals: only a final with content may trigger generation.
func (s *eventSink) emit(evt TranscriptEvent) bool {
	if evt.Final && strings.TrimSpace(evt.Text) == "" {
		return true
	}
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- evt:
		return true
	case <-s.done:
		return false
	}
}

func (s *eventSink) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *eventSink) finish(err error) {
	s.stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.events)
}

func (s *eventSink) Events() <-chan TranscriptEvent { return s.events }

func (s *eventSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *eventSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

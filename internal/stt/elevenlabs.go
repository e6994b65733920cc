package stt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jurayed/ushi-project-sub000/internal/audio"
	"github.com/jurayed/ushi-project-sub000/internal/failure"
	"github.com/jurayed/ushi-project-sub000/internal/reliability"
)

type ElevenLabsConfig struct {
	APIKey    string
	WSBaseURL string
	ModelID   string
	// CommitStrategy is "vad" (server-side endpointing) or "manual".
	CommitStrategy string
	Dialer         *websocket.Dialer
}

// ElevenLabs streams PCM16 audio to the ElevenLabs realtime transcription
// websocket.
type ElevenLabs struct {
	cfg ElevenLabsConfig
}

func NewElevenLabs(cfg ElevenLabsConfig) *ElevenLabs {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "scribe_v2_realtime"
	}
	if strings.TrimSpace(cfg.CommitStrategy) == "" {
		cfg.CommitStrategy = "vad"
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &ElevenLabs{cfg: cfg}
}

func (p *ElevenLabs) Open(ctx context.Context, opts OpenOptions) (Handle, error) {
	format := opts.Format.Normalized()
	if format.Encoding != audio.EncodingPCM16LE {
		return nil, failure.ConfigurationError("stt_open", "unsupported audio encoding %q", format.Encoding)
	}

	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v1/speech-to-text/realtime")
	if err != nil {
		return nil, failure.ConfigurationError("stt_open", "invalid websocket url: %v", err)
	}
	q := u.Query()
	q.Set("model_id", p.cfg.ModelID)
	q.Set("commit_strategy", p.cfg.CommitStrategy)
	q.Set("audio_format", fmt.Sprintf("pcm_%d", format.SampleRate))
	if lang := strings.TrimSpace(opts.Language); lang != "" {
		q.Set("language_code", lang)
	}
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", p.cfg.APIKey)

	conn, res, err := p.cfg.Dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		retryable := reliability.IsTransientError(err)
		if res != nil {
			retryable = reliability.IsRetryableHTTPStatus(res.StatusCode)
		}
		return nil, failure.RecognitionFailure("stt_connect", fmt.Errorf("dial stt websocket: %w", err)).WithRetryable(retryable)
	}

	h := &elevenHandle{
		conn:       conn,
		sink:       newEventSink(256),
		frames:     audio.NewFrameBuffer(format.BytesFor(frameDuration)),
		sampleRate: format.SampleRate,
	}
	go h.readLoop()
	return h, nil
}

type elevenHandle struct {
	conn       *websocket.Conn
	sink       *eventSink
	sampleRate int

	writeMu sync.Mutex
	frames  *audio.FrameBuffer
	closing atomic.Bool
}

type elevenAudioChunk struct {
	MessageType string `json:"message_type"`
	AudioBase64 string `json:"audio_base_64"`
	Commit      bool   `json:"commit"`
	SampleRate  int    `json:"sample_rate"`
}

type elevenMessage struct {
	MessageType string `json:"message_type"`
	Text        string `json:"text"`
	Error       string `json:"error"`
}

func (h *elevenHandle) Feed(_ context.Context, chunk []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if h.closing.Load() || h.sink.isClosed() {
		return failure.RecognitionFailure("feed", errHandleClosed)
	}
	for _, frame := range h.frames.Write(chunk) {
		if err := h.writeFrameLocked(frame, false); err != nil {
			return err
		}
	}
	return nil
}

func (h *elevenHandle) Commit(_ context.Context) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if h.closing.Load() || h.sink.isClosed() {
		return nil
	}
	return h.writeFrameLocked(h.frames.Flush(), true)
}

// elevenWriteTimeout bounds a single audio frame write.
const elevenWriteTimeout = 5 * time.Second

func (h *elevenHandle) writeFrameLocked(frame []byte, commit bool) error {
	_ = h.conn.SetWriteDeadline(time.Now().Add(elevenWriteTimeout))
	err := h.conn.WriteJSON(elevenAudioChunk{
		MessageType: "input_audio_chunk",
		AudioBase64: base64.StdEncoding.EncodeToString(frame),
		Commit:      commit,
		SampleRate:  h.sampleRate,
	})
	if err != nil {
		return failure.RecognitionFailure("send_audio", err).WithRetryable(true)
	}
	return nil
}

func (h *elevenHandle) Events() <-chan TranscriptEvent { return h.sink.Events() }
func (h *elevenHandle) Err() error                     { return h.sink.Err() }

func (h *elevenHandle) Close() error {
	if !h.closing.CompareAndSwap(false, true) {
		return nil
	}
	h.sink.stop()
	// A Feed blocked mid-write holds writeMu; closing the conn below is what
	// releases it, so the tail flush is skipped rather than waited for.
	if h.writeMu.TryLock() {
		if rest := h.frames.Flush(); len(rest) > 0 {
			_ = h.writeFrameLocked(rest, true)
		}
		_ = h.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		h.writeMu.Unlock()
	}
	err := h.conn.Close()
	h.sink.finish(nil)
	return err
}

func (h *elevenHandle) readLoop() {
	for {
		_, data, err := h.conn.ReadMessage()
		if err != nil {
			if h.closing.Load() {
				h.sink.finish(nil)
				return
			}
			h.sink.finish(failure.RecognitionFailure("read", err).WithRetryable(reliability.IsTransientError(err)))
			_ = h.conn.Close()
			return
		}
		var msg elevenMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.MessageType {
		case "partial_transcript":
			h.sink.emit(TranscriptEvent{Text: msg.Text})
		case "committed_transcript", "committed_transcript_with_timestamps":
			h.sink.emit(TranscriptEvent{Text: msg.Text, Final: true})
		case "session_started", "", "input_audio_chunk":
		case "commit_throttled":
			// Commit with too little uncommitted audio; harmless.
		default:
			detail := strings.TrimSpace(msg.Error)
			if detail == "" {
				detail = msg.MessageType
			}
			fe := failure.RecognitionFailure("upstream", errors.New(detail)).
				WithCode(msg.MessageType).
				WithRetryable(reliability.IsRetryableRealtimeMessageType(msg.MessageType))
			h.sink.finish(fe)
			_ = h.conn.Close()
			return
		}
	}
}

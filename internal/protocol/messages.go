// Package protocol defines the websocket JSON envelopes exchanged with voice
// clients.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Client -> server.
	TypeStart      MessageType = "start"
	TypeAudioChunk MessageType = "audio_chunk"
	TypeCommit     MessageType = "commit"
	TypeStop       MessageType = "stop"

	// Server -> client.
	TypeSessionState       MessageType = "session_state"
	TypeSTTInterim         MessageType = "stt_interim"
	TypeSTTFinal           MessageType = "stt_final"
	TypeAssistantTextDelta MessageType = "assistant_text_delta"
	TypeAssistantAudio     MessageType = "assistant_audio"
	TypeGenerationComplete MessageType = "generation_complete"
	TypeLatencyMetric      MessageType = "latency_metric"
	TypeErrorEvent         MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type Start struct {
	Type         MessageType `json:"type"`
	ProviderID   string      `json:"provider_id"`
	ModelID      string      `json:"model_id,omitempty"`
	SystemPrompt string      `json:"system_prompt,omitempty"`
	UserID       string      `json:"user_id"`
	VoiceID      string      `json:"voice_id,omitempty"`
	Language     string      `json:"language,omitempty"`
	SampleRate   int         `json:"sample_rate,omitempty"`
}

type AudioChunk struct {
	Type        MessageType `json:"type"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate,omitempty"`
}

type Commit struct {
	Type MessageType `json:"type"`
}

type Stop struct {
	Type   MessageType `json:"type"`
	Reason string      `json:"reason,omitempty"`
}

type SessionState struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	State     string      `json:"state"`
}

type STTInterim struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence,omitempty"`
	TSMs       int64       `json:"ts_ms"`
}

type STTFinal struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms"`
}

type AssistantTextDelta struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	CycleID   string      `json:"cycle_id"`
	TextDelta string      `json:"text_delta"`
}

type AssistantAudio struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	CycleID     string      `json:"cycle_id"`
	Segment     int         `json:"segment"`
	Text        string      `json:"text"`
	Format      string      `json:"format"`
	SampleRate  int         `json:"sample_rate,omitempty"`
	AudioBase64 string      `json:"audio_base64"`
}

type GenerationComplete struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	CycleID   string      `json:"cycle_id"`
	Text      string      `json:"text"`
	Segments  int         `json:"segments"`
}

type LatencyMetric struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	CycleID   string      `json:"cycle_id,omitempty"`
	Kind      string      `json:"kind"`
	Ms        int64       `json:"ms"`
	Segment   int         `json:"segment,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	CycleID   string      `json:"cycle_id,omitempty"`
	Kind      string      `json:"kind"`
	Code      string      `json:"code,omitempty"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
}

// ParseClientMessage decodes one text frame from a client.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeStart:
		var msg Start
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.ProviderID) == "" {
			return nil, errors.New("invalid start: provider_id is required")
		}
		return msg, nil
	case TypeAudioChunk:
		var msg AudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.PCM16Base64 == "" || msg.SampleRate < 0 {
			return nil, errors.New("invalid audio_chunk")
		}
		return msg, nil
	case TypeCommit:
		return Commit{Type: TypeCommit}, nil
	case TypeStop:
		var msg Stop
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

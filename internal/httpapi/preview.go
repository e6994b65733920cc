package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jurayed/ushi-project-sub000/internal/failure"
	"github.com/jurayed/ushi-project-sub000/internal/tts"
)

const (
	previewMaxRunes = 280
	previewTimeout  = 20 * time.Second
	previewFallback = "Hi, this is how I sound."
)

type previewTTSRequest struct {
	Text     string  `json:"text"`
	VoiceID  string  `json:"voice_id"`
	Language string  `json:"language"`
	Speed    float64 `json:"speed"`
}

// handlePreviewTTS synthesizes a short sample with the configured
// synthesizer chain and returns the raw audio.
func (s *Server) handlePreviewTTS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Synthesizer == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "speech synthesis not configured")
		return
	}
	var req previewTTSRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		text = previewFallback
	}
	if utf8.RuneCountInString(text) > previewMaxRunes {
		respondError(w, http.StatusBadRequest, "text_too_long", "preview text is limited to "+strconv.Itoa(previewMaxRunes)+" characters")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), previewTimeout)
	defer cancel()
	out, err := s.deps.Synthesizer.Synthesize(ctx, text, tts.VoiceProfile{
		VoiceID:  firstNonEmpty(strings.TrimSpace(req.VoiceID), s.cfg.ElevenLabsTTSVoice),
		ModelID:  s.cfg.ElevenLabsTTSModel,
		Language: firstNonEmpty(strings.TrimSpace(req.Language), s.cfg.DefaultLanguage),
		Speed:    req.Speed,
	})
	if err != nil {
		fe := failure.Classify(err, failure.Synthesis, "preview")
		s.logger.Warn("tts preview failed", "error", fe)
		respondError(w, http.StatusBadGateway, firstNonEmpty(fe.Code, "tts_preview_failed"), fe.Error())
		return
	}

	w.Header().Set("Content-Type", mimeForFormat(out.Format))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Audio-Format", out.Format)
	if out.SampleRate > 0 {
		w.Header().Set("X-Audio-Sample-Rate", strconv.Itoa(out.SampleRate))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Data)
}

func mimeForFormat(format string) string {
	switch format {
	case tts.FormatWAV:
		return "audio/wav"
	case tts.FormatMP3:
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jurayed/ushi-project-sub000/internal/audio"
	"github.com/jurayed/ushi-project-sub000/internal/config"
	"github.com/jurayed/ushi-project-sub000/internal/history"
	"github.com/jurayed/ushi-project-sub000/internal/llm"
	"github.com/jurayed/ushi-project-sub000/internal/logging"
	"github.com/jurayed/ushi-project-sub000/internal/observability"
	"github.com/jurayed/ushi-project-sub000/internal/stt"
	"github.com/jurayed/ushi-project-sub000/internal/tts"
	"github.com/jurayed/ushi-project-sub000/internal/voice"
)

type testServer struct {
	srv   *Server
	ts    *httptest.Server
	store *history.InMemoryStore
	synth *tts.Mock
}

func newTestServer(t *testing.T, ready func(context.Context) error) testServer {
	t.Helper()
	return newTestServerWithSynth(t, ready, tts.NewMock())
}

func newTestServerWithSynth(t *testing.T, ready func(context.Context) error, synth *tts.Mock) testServer {
	t.Helper()
	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		InputSampleRate:          16000,
		DefaultLanguage:          "ru",
	}
	metrics := observability.NewMetrics("ushi_httpapi_test", prometheus.NewRegistry())
	providers := llm.NewRegistry()
	providers.Register(llm.NewMock(llm.MockConfig{Fragments: []string{"Привет", "! Как", " ты?"}}), llm.RegisterOptions{})
	providers.Register(llm.NewMock(llm.MockConfig{ID: "off"}), llm.RegisterOptions{Disabled: true})
	store := history.NewInMemoryStore(0)

	orch, err := voice.NewOrchestrator(voice.Deps{
		Recognizer:  stt.NewMock(stt.MockConfig{Transcripts: []string{"Привет"}}),
		Providers:   providers,
		Synthesizer: synth,
		History:     store,
		Metrics:     metrics,
		Logger:      logging.Discard(),
	}, voice.Options{})
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	srv := New(cfg, Deps{
		Voice:       orch,
		Providers:   providers,
		Synthesizer: synth,
		Metrics:     metrics,
		Logger:      logging.Discard(),
		Ready:       ready,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return testServer{srv: srv, ts: ts, store: store, synth: synth}
}

func TestHealthAndReady(t *testing.T) {
	env := newTestServer(t, func(context.Context) error { return errors.New("db down") })

	res, err := http.Get(env.ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("/healthz status = %d, want 200", res.StatusCode)
	}

	res, err = http.Get(env.ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("/readyz status = %d, want 503", res.StatusCode)
	}
}

func TestListProvidersAndModels(t *testing.T) {
	env := newTestServer(t, nil)

	res, err := http.Get(env.ts.URL + "/v1/llm/providers")
	if err != nil {
		t.Fatalf("GET providers error = %v", err)
	}
	defer res.Body.Close()
	var body struct {
		Providers []llm.ProviderInfo `json:"providers"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode providers: %v", err)
	}
	if len(body.Providers) != 2 || body.Providers[0].ID != "mock" || !body.Providers[0].Enabled || body.Providers[1].Enabled {
		t.Fatalf("providers = %+v", body.Providers)
	}

	res2, err := http.Get(env.ts.URL + "/v1/llm/providers/mock/models")
	if err != nil {
		t.Fatalf("GET models error = %v", err)
	}
	defer res2.Body.Close()
	if res2.StatusCode != http.StatusOK {
		t.Fatalf("models status = %d, want 200", res2.StatusCode)
	}

	res3, err := http.Get(env.ts.URL + "/v1/llm/providers/nope/models")
	if err != nil {
		t.Fatalf("GET models error = %v", err)
	}
	res3.Body.Close()
	if res3.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown provider status = %d, want 404", res3.StatusCode)
	}
}

func TestPreviewTTS(t *testing.T) {
	env := newTestServer(t, nil)

	body, _ := json.Marshal(map[string]string{"text": "Как дела?", "voice_id": "v1"})
	res, err := http.Post(env.ts.URL+"/v1/voice/tts/preview", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST preview error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK || res.Header.Get("Content-Type") != "audio/wav" {
		t.Fatalf("preview status = %d content-type = %q", res.StatusCode, res.Header.Get("Content-Type"))
	}
	calls := env.synth.Calls()
	if len(calls) != 1 || calls[0].Text != "Как дела?" || calls[0].Voice.VoiceID != "v1" || calls[0].Voice.Language != "ru" {
		t.Fatalf("synth calls = %+v", calls)
	}
}

func TestPerfLatencyEndpoint(t *testing.T) {
	env := newTestServer(t, nil)
	env.srv.metrics.ObserveLatency(voice.LatencyFirstToken, 300*time.Millisecond)

	res, err := http.Get(env.ts.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("GET perf error = %v", err)
	}
	defer res.Body.Close()
	var snap observability.LatencySnapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	found := false
	for _, k := range snap.Kinds {
		if k.Kind == voice.LatencyFirstToken && k.Samples == 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("snapshot = %+v, want one first_token sample", snap)
	}
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/voice/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads JSON messages until stop returns true for one of them.
func readUntil(t *testing.T, conn *websocket.Conn, stop func(map[string]any) bool) []map[string]any {
	t.Helper()
	var out []map[string]any
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON() error = %v after %d messages", err, len(out))
		}
		out = append(out, msg)
		if stop(msg) {
			return out
		}
	}
}

func isType(msg map[string]any, typ string) bool { return msg["type"] == typ }

func TestVoiceWebSocketRoundTrip(t *testing.T) {
	env := newTestServer(t, nil)
	conn := dialWS(t, env.ts)

	if err := conn.WriteJSON(map[string]any{"type": "start", "provider_id": "mock", "user_id": "u1"}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	first := readUntil(t, conn, func(m map[string]any) bool { return isType(m, "session_state") })
	if first[len(first)-1]["state"] != "listening" {
		t.Fatalf("first state = %v", first[len(first)-1])
	}
	if env.srv.Sessions().ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", env.srv.Sessions().ActiveCount())
	}

	pcm := base64.StdEncoding.EncodeToString(make([]byte, audio.Format{SampleRate: 16000}.BytesFor(100*time.Millisecond)))
	if err := conn.WriteJSON(map[string]any{"type": "audio_chunk", "pcm16_base64": pcm, "sample_rate": 16000}); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	if err := conn.WriteJSON(map[string]any{"type": "commit"}); err != nil {
		t.Fatalf("write commit: %v", err)
	}

	var final, complete, listening bool
	audioClips := 0
	var deltas strings.Builder
	readUntil(t, conn, func(m map[string]any) bool {
		switch m["type"] {
		case "stt_final":
			final = m["text"] == "Привет"
		case "assistant_text_delta":
			deltas.WriteString(m["text_delta"].(string))
		case "assistant_audio":
			audioClips++
		case "generation_complete":
			complete = m["text"] == "Привет! Как ты?"
		case "session_state":
			listening = m["state"] == "listening"
		}
		return complete && listening && audioClips == 2
	})
	if !final || deltas.String() != "Привет! Как ты?" {
		t.Fatalf("final = %v deltas = %q", final, deltas.String())
	}

	if err := conn.WriteJSON(map[string]any{"type": "stop"}); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	readUntil(t, conn, func(m map[string]any) bool { return isType(m, "session_state") && m["state"] == "stopped" })

	deadline := time.Now().Add(2 * time.Second)
	for env.srv.Sessions().ActiveCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := env.srv.Sessions().ActiveCount(); n != 0 {
		t.Fatalf("ActiveCount() after stop = %d, want 0", n)
	}
	turns, _ := env.store.FetchRecentTurns(context.Background(), "u1", 10)
	if len(turns) != 1 || turns[0].Text != "Привет! Как ты?" {
		t.Fatalf("history = %+v", turns)
	}
}

func TestVoiceWebSocketStopDoesNotWaitForSynthesis(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	synth := tts.NewMock()
	// Ignores ctx, like a provider call stuck on the network.
	synth.SynthesizeFunc = func(context.Context, string, tts.VoiceProfile) (tts.Audio, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return tts.Audio{}, errors.New("released")
	}
	env := newTestServerWithSynth(t, nil, synth)
	t.Cleanup(func() { close(release) })
	conn := dialWS(t, env.ts)

	if err := conn.WriteJSON(map[string]any{"type": "start", "provider_id": "mock", "user_id": "u2"}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	readUntil(t, conn, func(m map[string]any) bool { return isType(m, "session_state") })
	pcm := base64.StdEncoding.EncodeToString(make([]byte, audio.Format{SampleRate: 16000}.BytesFor(100*time.Millisecond)))
	_ = conn.WriteJSON(map[string]any{"type": "audio_chunk", "pcm16_base64": pcm})
	_ = conn.WriteJSON(map[string]any{"type": "commit"})
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatalf("synthesis never started")
	}

	stopAt := time.Now()
	if err := conn.WriteJSON(map[string]any{"type": "stop"}); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	readUntil(t, conn, func(m map[string]any) bool { return isType(m, "session_state") && m["state"] == "stopped" })
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
	}
	if elapsed := time.Since(stopAt); elapsed > time.Second {
		t.Fatalf("connection closed %v after stop, want under 1s", elapsed)
	}
}

func TestVoiceWebSocketRejectsBadStart(t *testing.T) {
	env := newTestServer(t, nil)
	conn := dialWS(t, env.ts)

	if err := conn.WriteJSON(map[string]any{"type": "start", "provider_id": "off", "user_id": "u1"}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	msgs := readUntil(t, conn, func(m map[string]any) bool { return isType(m, "error_event") })
	if msgs[len(msgs)-1]["kind"] != "configuration" {
		t.Fatalf("error = %v, want configuration kind", msgs[len(msgs)-1])
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 320)); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	msgs = readUntil(t, conn, func(m map[string]any) bool { return isType(m, "error_event") })
	if msgs[len(msgs)-1]["code"] != "session_not_started" {
		t.Fatalf("error = %v, want session_not_started", msgs[len(msgs)-1])
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)); err != nil {
		t.Fatalf("write unknown: %v", err)
	}
	msgs = readUntil(t, conn, func(m map[string]any) bool { return isType(m, "error_event") })
	if msgs[len(msgs)-1]["code"] != "invalid_client_message" {
		t.Fatalf("error = %v, want invalid_client_message", msgs[len(msgs)-1])
	}
	if env.srv.Sessions().ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", env.srv.Sessions().ActiveCount())
	}
}

func TestCheckOriginSameHostOnly(t *testing.T) {
	srv := New(config.Config{SessionInactivityTimeout: time.Minute}, Deps{Logger: logging.Discard()})
	req := httptest.NewRequest(http.MethodGet, "http://ushi.local/v1/voice/ws", nil)
	req.Host = "ushi.local"

	req.Header.Set("Origin", "http://ushi.local")
	if !srv.upgrader.CheckOrigin(req) {
		t.Fatalf("same-origin request rejected")
	}
	req.Header.Set("Origin", "https://evil.example")
	if srv.upgrader.CheckOrigin(req) {
		t.Fatalf("cross-origin request accepted")
	}
	req.Header.Del("Origin")
	if !srv.upgrader.CheckOrigin(req) {
		t.Fatalf("request without Origin rejected")
	}
}

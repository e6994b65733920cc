// Command perfvoice replays synthesized utterances against a running server
// over the voice websocket and reports the latency metrics it emits.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jurayed/ushi-project-sub000/internal/audio"
	"github.com/jurayed/ushi-project-sub000/internal/protocol"
)

const (
	replayDeadline  = 8 * time.Minute
	maxPreviewBytes = 40 << 20
)

type options struct {
	baseURL     string
	userID      string
	providerID  string
	modelID     string
	voiceID     string
	language    string
	turns       int
	chunkMS     int
	realtime    float64
	turnTimeout time.Duration
	texts       []string
	verbose     bool
}

func (o options) validate() error {
	switch {
	case o.baseURL == "":
		return errors.New("-base-url must not be empty")
	case o.turns < 1:
		return fmt.Errorf("-turns=%d, need at least 1", o.turns)
	case o.chunkMS < 10 || o.chunkMS > 2000:
		return fmt.Errorf("-chunk-ms=%d outside 10..2000", o.chunkMS)
	case o.realtime <= 0:
		return fmt.Errorf("-realtime=%g, need a positive factor", o.realtime)
	case len(o.texts) == 0:
		return errors.New("-texts has no usable utterance")
	}
	return nil
}

// wsEnvelope holds the server message fields the replay cares about.
type wsEnvelope struct {
	Type      string `json:"type"`
	State     string `json:"state,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	Text      string `json:"text,omitempty"`
	Ms        int64  `json:"ms,omitempty"`
	Segment   int    `json:"segment,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// clip is one utterance rendered to mono PCM16.
type clip struct {
	text   string
	pcm    []byte
	format audio.Format
}

// turnResult is what one replayed utterance produced.
type turnResult struct {
	reply     string
	latencies map[string][]int64
	errors    []string
}

var defaultUtterances = []string{
	"Привет! Как у тебя дела?",
	"Расскажи коротко, какая сегодня погода.",
	"Назови три цвета радуги.",
	"Спасибо, на сегодня всё.",
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "perfvoice:", err)
		os.Exit(2)
	}
	ctx, cancel := context.WithTimeout(context.Background(), replayDeadline)
	defer cancel()
	r := &replayer{opts: opts, http: &http.Client{Timeout: 45 * time.Second}, out: os.Stdout}
	if err := r.run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "perfvoice:", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("perfvoice", flag.ContinueOnError)
	var (
		opts          options
		texts         string
		turnTimeoutMS int
	)
	fs.StringVar(&opts.baseURL, "base-url", "http://127.0.0.1:8080", "server base URL")
	fs.StringVar(&opts.userID, "user-id", "perf-replay", "user_id sent in the start message")
	fs.StringVar(&opts.providerID, "provider-id", "mock", "language model provider to start the session with")
	fs.StringVar(&opts.modelID, "model-id", "", "optional model_id")
	fs.StringVar(&opts.voiceID, "voice-id", "", "optional voice_id for preview and replies")
	fs.StringVar(&opts.language, "language", "", "optional language for recognition and synthesis")
	fs.IntVar(&opts.turns, "turns", 10, "utterances to replay, cycling through -texts")
	fs.IntVar(&opts.chunkMS, "chunk-ms", 45, "duration of each audio_chunk in milliseconds")
	fs.Float64Var(&opts.realtime, "realtime", 3.0, "send speed relative to real time")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 15000, "per-turn wait for the reply in milliseconds")
	fs.StringVar(&texts, "texts", "", "'|'-separated utterances; built-in Russian phrases when empty")
	fs.BoolVar(&opts.verbose, "verbose", true, "log each turn")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.baseURL = strings.TrimRight(strings.TrimSpace(opts.baseURL), "/")
	opts.turnTimeout = time.Duration(max(turnTimeoutMS, 1000)) * time.Millisecond
	opts.texts = splitTexts(texts)
	return opts, opts.validate()
}

func splitTexts(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return append([]string(nil), defaultUtterances...)
	}
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

type replayer struct {
	opts options
	http *http.Client
	out  io.Writer

	conn    *websocket.Conn
	events  chan wsEnvelope
	readErr chan error
}

func (r *replayer) logf(format string, args ...any) {
	if r.opts.verbose {
		fmt.Fprintf(r.out, "perfvoice: "+format+"\n", args...)
	}
}

func (r *replayer) run(ctx context.Context) error {
	clips, err := r.renderClips(ctx)
	if err != nil {
		return fmt.Errorf("render utterances: %w", err)
	}
	target, err := wsURLFor(r.opts.baseURL)
	if err != nil {
		return err
	}
	r.conn, _, err = websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer r.conn.Close()

	r.events = make(chan wsEnvelope, 256)
	r.readErr = make(chan error, 1)
	go readLoop(r.conn, r.events, r.readErr)

	err = r.conn.WriteJSON(protocol.Start{
		Type:       protocol.TypeStart,
		ProviderID: r.opts.providerID,
		ModelID:    r.opts.modelID,
		UserID:     r.opts.userID,
		VoiceID:    r.opts.voiceID,
		Language:   r.opts.language,
		SampleRate: clips[0].format.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	sessionID, err := awaitListening(r.events, r.readErr, r.opts.turnTimeout)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	r.logf("session=%s turns=%d chunk=%dms x%.2f", sessionID, r.opts.turns, r.opts.chunkMS, r.opts.realtime)

	collected := make(map[string][]int64)
	for turn := 1; turn <= r.opts.turns; turn++ {
		c := clips[(turn-1)%len(clips)]
		res, err := r.replayTurn(c)
		if err != nil {
			return fmt.Errorf("turn %d: %w", turn, err)
		}
		for kind, ms := range res.latencies {
			collected[kind] = append(collected[kind], ms...)
		}
		for _, e := range res.errors {
			r.logf("turn %d error_event %s", turn, e)
		}
		r.logf("turn %d said=%q reply=%q", turn, c.text, res.reply)
	}

	_ = r.conn.WriteJSON(protocol.Stop{Type: protocol.TypeStop, Reason: "perf_replay_done"})
	printSummary(r.out, collected)
	return nil
}

func (r *replayer) replayTurn(c clip) (turnResult, error) {
	if err := sendTurnAudio(r.conn, c, r.opts.chunkMS, r.opts.realtime); err != nil {
		return turnResult{}, fmt.Errorf("stream audio: %w", err)
	}
	if err := r.conn.WriteJSON(protocol.Commit{Type: protocol.TypeCommit}); err != nil {
		return turnResult{}, fmt.Errorf("commit: %w", err)
	}
	return awaitTurn(r.events, r.readErr, r.opts.turnTimeout)
}

// renderClips turns every distinct utterance into audio through the preview
// endpoint. Repeated texts share one clip.
func (r *replayer) renderClips(ctx context.Context) ([]clip, error) {
	seen := make(map[string]clip, len(r.opts.texts))
	clips := make([]clip, 0, len(r.opts.texts))
	for _, text := range r.opts.texts {
		c, ok := seen[text]
		if !ok {
			var err error
			if c, err = r.preview(ctx, text); err != nil {
				return nil, err
			}
			seen[text] = c
		}
		clips = append(clips, c)
	}
	return clips, nil
}

func (r *replayer) preview(ctx context.Context, text string) (clip, error) {
	body, err := json.Marshal(map[string]string{
		"text":     text,
		"voice_id": strings.TrimSpace(r.opts.voiceID),
		"language": strings.TrimSpace(r.opts.language),
	})
	if err != nil {
		return clip{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.opts.baseURL+"/v1/voice/tts/preview", bytes.NewReader(body))
	if err != nil {
		return clip{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.http.Do(req)
	if err != nil {
		return clip{}, fmt.Errorf("preview %q: %w", text, err)
	}
	defer resp.Body.Close()
	wav, err := io.ReadAll(io.LimitReader(resp.Body, maxPreviewBytes))
	if err != nil {
		return clip{}, fmt.Errorf("preview %q: %w", text, err)
	}
	if resp.StatusCode != http.StatusOK {
		return clip{}, fmt.Errorf("preview %q: status %d: %s", text, resp.StatusCode, bytes.TrimSpace(wav))
	}
	pcm, rate, err := audio.DecodeWAV(wav)
	if err != nil {
		return clip{}, fmt.Errorf("preview %q: %w", text, err)
	}
	if len(pcm) == 0 {
		return clip{}, fmt.Errorf("preview %q: empty audio", text)
	}
	return clip{text: text, pcm: pcm, format: audio.Format{SampleRate: rate}.Normalized()}, nil
}

func wsURLFor(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("base-url scheme %q is not http or https", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("base-url has no host")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/voice/ws"
	u.RawQuery = ""
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, events chan<- wsEnvelope, readErr chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErr <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if json.Unmarshal(data, &env) == nil {
			events <- env
		}
	}
}

func describe(env wsEnvelope) string {
	return fmt.Sprintf("%s/%s: %s", env.Kind, env.Code, env.Message)
}

func awaitListening(events <-chan wsEnvelope, readErr <-chan error, timeout time.Duration) (string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case env := <-events:
			if env.Type == string(protocol.TypeErrorEvent) {
				return "", errors.New(describe(env))
			}
			if env.Type == string(protocol.TypeSessionState) && env.State == "listening" {
				return env.SessionID, nil
			}
		case err := <-readErr:
			return "", err
		case <-deadline.C:
			return "", fmt.Errorf("no listening state within %s", timeout)
		}
	}
}

// awaitTurn collects events until generation_complete and the following
// return to listening, or a generation error ends the cycle.
func awaitTurn(events <-chan wsEnvelope, readErr <-chan error, timeout time.Duration) (turnResult, error) {
	res := turnResult{latencies: make(map[string][]int64)}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	done := false
	for {
		select {
		case env := <-events:
			switch env.Type {
			case string(protocol.TypeLatencyMetric):
				res.latencies[env.Kind] = append(res.latencies[env.Kind], env.Ms)
			case string(protocol.TypeGenerationComplete):
				res.reply, done = env.Text, true
			case string(protocol.TypeErrorEvent):
				res.errors = append(res.errors, describe(env))
				done = done || env.Kind == "generation"
			case string(protocol.TypeSessionState):
				switch {
				case env.State == "stopped":
					return res, errors.New("session stopped")
				case done && env.State == "listening":
					return res, nil
				}
			}
		case err := <-readErr:
			return res, err
		case <-deadline.C:
			return res, fmt.Errorf("no reply within %s", timeout)
		}
	}
}

// sendTurnAudio streams c as audio_chunk messages of chunkMS each, sleeping
// between sends so that audio arrives realtime times faster than it plays.
func sendTurnAudio(conn *websocket.Conn, c clip, chunkMS int, realtime float64) error {
	format := c.format.Normalized()
	frames := audio.NewFrameBuffer(format.BytesFor(time.Duration(chunkMS) * time.Millisecond))
	pieces := frames.Write(c.pcm)
	if tail := frames.Flush(); len(tail) > 0 {
		pieces = append(pieces, tail)
	}
	bytesPerSecond := float64(format.SampleRate * audio.BytesPerSample)
	for _, piece := range pieces {
		err := conn.WriteJSON(protocol.AudioChunk{
			Type:        protocol.TypeAudioChunk,
			PCM16Base64: base64.StdEncoding.EncodeToString(piece),
			SampleRate:  format.SampleRate,
		})
		if err != nil {
			return err
		}
		played := time.Duration(float64(len(piece)) / bytesPerSecond * float64(time.Second))
		time.Sleep(max(time.Duration(float64(played)/realtime), 10*time.Millisecond))
	}
	return nil
}

// percentile picks the nearest-rank value from sorted.
func percentile(sorted []int64, q float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(q * float64(len(sorted))))
	rank = min(max(rank, 1), len(sorted))
	return sorted[rank-1]
}

func printSummary(w io.Writer, all map[string][]int64) {
	kinds := make([]string, 0, len(all))
	for k := range all {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		values := append([]int64(nil), all[k]...)
		sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
		fmt.Fprintf(w, "perfvoice: %-12s n=%-4d p50=%dms p95=%dms max=%dms\n",
			k, len(values), percentile(values, 0.5), percentile(values, 0.95), values[len(values)-1])
	}
}

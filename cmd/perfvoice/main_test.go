package main

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestWSURLFor(t *testing.T) {
	cases := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080/v1/voice/ws"},
		{in: "https://ushi.example/api/", want: "wss://ushi.example/api/v1/voice/ws"},
		{in: "ftp://ushi.example", wantErr: true},
		{in: "http://", wantErr: true},
	}
	for _, tc := range cases {
		got, err := wsURLFor(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("wsURLFor(%q) error = nil, want error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("wsURLFor(%q) = %q, %v, want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestPercentileNearestRank(t *testing.T) {
	values := []int64{100, 200, 300, 400, 500, 600, 700, 800, 900, 1000}
	if got := percentile(values, 0.5); got != 500 {
		t.Fatalf("p50 = %d, want 500", got)
	}
	if got := percentile(values, 0.95); got != 1000 {
		t.Fatalf("p95 = %d, want 1000", got)
	}
	if got := percentile(nil, 0.5); got != 0 {
		t.Fatalf("p50(nil) = %d, want 0", got)
	}
}

func TestPrintSummarySortsKinds(t *testing.T) {
	var b strings.Builder
	printSummary(&b, map[string][]int64{
		"recognition": {40, 20},
		"first_audio": {300},
	})
	out := b.String()
	if strings.Index(out, "first_audio") > strings.Index(out, "recognition") {
		t.Fatalf("summary not sorted:\n%s", out)
	}
	if !strings.Contains(out, "n=2") || !strings.Contains(out, "max=40ms") {
		t.Fatalf("summary = %q", out)
	}
}

func TestSplitTexts(t *testing.T) {
	if got := splitTexts(""); len(got) != len(defaultUtterances) {
		t.Fatalf("splitTexts(\"\") = %v, want defaults", got)
	}
	got := splitTexts(" Привет | | Как дела? ")
	if len(got) != 2 || got[0] != "Привет" || got[1] != "Как дела?" {
		t.Fatalf("splitTexts() = %q", got)
	}
}

func TestParseFlagsValidates(t *testing.T) {
	opts, err := parseFlags([]string{"-base-url", "http://localhost:9000/", "-turns", "2", "-turn-timeout-ms", "10"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if opts.baseURL != "http://localhost:9000" || opts.turns != 2 || opts.turnTimeout != time.Second {
		t.Fatalf("parseFlags() = %+v", opts)
	}
	if len(opts.texts) != len(defaultUtterances) {
		t.Fatalf("texts = %v, want defaults", opts.texts)
	}
	for _, args := range [][]string{
		{"-turns", "0"},
		{"-chunk-ms", "5"},
		{"-realtime", "0"},
		{"-texts", " | "},
	} {
		if _, err := parseFlags(args); err == nil {
			t.Fatalf("parseFlags(%v) error = nil, want error", args)
		}
	}
}

func TestAwaitTurnWaitsForListeningAfterComplete(t *testing.T) {
	events := make(chan wsEnvelope, 8)
	events <- wsEnvelope{Type: "latency_metric", Kind: "first_token", Ms: 120}
	events <- wsEnvelope{Type: "session_state", State: "listening"}
	events <- wsEnvelope{Type: "generation_complete", Text: "Привет!"}
	events <- wsEnvelope{Type: "latency_metric", Kind: "total", Ms: 900}
	events <- wsEnvelope{Type: "session_state", State: "listening"}

	res, err := awaitTurn(events, make(chan error), time.Second)
	if err != nil {
		t.Fatalf("awaitTurn() error = %v", err)
	}
	if res.reply != "Привет!" || len(res.latencies["first_token"]) != 1 || len(res.latencies["total"]) != 1 {
		t.Fatalf("awaitTurn() = %+v", res)
	}
}

func TestAwaitTurnEndsOnGenerationError(t *testing.T) {
	events := make(chan wsEnvelope, 4)
	events <- wsEnvelope{Type: "error_event", Kind: "synthesis", Code: "tts_failed", Message: "segment 0"}
	events <- wsEnvelope{Type: "error_event", Kind: "generation", Code: "llm_failed", Message: "upstream"}
	events <- wsEnvelope{Type: "session_state", State: "listening"}

	res, err := awaitTurn(events, make(chan error), time.Second)
	if err != nil {
		t.Fatalf("awaitTurn() error = %v", err)
	}
	if len(res.errors) != 2 || res.errors[1] != "generation/llm_failed: upstream" {
		t.Fatalf("errors = %v", res.errors)
	}
}

func TestAwaitTurnReportsReadError(t *testing.T) {
	readErr := make(chan error, 1)
	readErr <- errors.New("closed")
	if _, err := awaitTurn(make(chan wsEnvelope), readErr, time.Second); err == nil || err.Error() != "closed" {
		t.Fatalf("awaitTurn() error = %v, want closed", err)
	}
}

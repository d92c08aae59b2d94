package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/uchakatopro-hue/friday-jarvis/pkg/bridge"
)

type call struct {
	kind    string
	content string
}

type fakeBackend struct {
	mu       sync.Mutex
	logs     []call
	events   []string
	intents  []map[string]any
	logErr   error
	ctxDoc   map[string]any
	ctxErr   error
	intentFn func(body map[string]any) (bridge.Response, error)
}

func (f *fakeBackend) LogInteraction(ctx context.Context, userID, kind, content string, md map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, call{kind, content})
	return "iid", f.logErr
}

func (f *fakeBackend) SendEvent(ctx context.Context, eventType string, data map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
	return nil
}

func (f *fakeBackend) FetchContext(ctx context.Context, userID string) (map[string]any, error) {
	return f.ctxDoc, f.ctxErr
}

func (f *fakeBackend) CallInternal(ctx context.Context, method, path string, body any) (bridge.Response, error) {
	f.mu.Lock()
	f.intents = append(f.intents, body.(map[string]any))
	f.mu.Unlock()
	if f.intentFn != nil {
		return f.intentFn(body.(map[string]any))
	}
	return jsonResponse(`{"success":true,"result":{"message":"ok"}}`), nil
}

func jsonResponse(raw string) bridge.Response {
	var body any
	_ = json.Unmarshal([]byte(raw), &body)
	return bridge.Response{Status: 200, Body: body, Raw: []byte(raw)}
}

func newAssistant(b Backend, external bool) *Assistant {
	return New(b, Options{ExternalCalls: external, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
}

func TestDetect_PriorityAndConfidence(t *testing.T) {
	cases := map[string]string{
		"What's the weather like?":          IntentWeather,
		"search for golang generics":        IntentSearch,
		"who is the president":              IntentSearch,
		"send email to Bob":                 IntentEmail,
		"do you remember what I said":       IntentContext,
		"find the forecast for tomorrow":    IntentWeather, // weather outranks search
		"please email me the search result": IntentSearch,  // search outranks email
	}
	for text, want := range cases {
		got, ok := Detect(text, nil)
		if !ok || got.Name != want {
			t.Fatalf("Detect(%q)=%q ok=%v, want %q", text, got.Name, ok, want)
		}
		if got.Confidence != 0.85 {
			t.Fatalf("confidence=%v", got.Confidence)
		}
	}
	if _, ok := Detect("tell me a joke", nil); ok {
		t.Fatalf("unexpected intent")
	}
}

func TestExtractPlace(t *testing.T) {
	cases := map[string]string{
		"what's the weather in Paris today?": "Paris",
		"will it rain in New York tomorrow":  "New York",
		"forecast for Nairobi":               "Nairobi",
		"what's the weather":                 "",
	}
	for text, want := range cases {
		if got := extractPlace(text); got != want {
			t.Fatalf("extractPlace(%q)=%q, want %q", text, got, want)
		}
	}
}

func TestHandleUserInput_WeatherRoutesToBackend(t *testing.T) {
	b := &fakeBackend{intentFn: func(body map[string]any) (bridge.Response, error) {
		return jsonResponse(`{"success":true,"intent":"weather","result":{"message":"Paris: 18°C, clear"}}`), nil
	}}
	a := newAssistant(b, true)

	reply := a.HandleUserInput(context.Background(), "u1", "What's the weather in Paris?", nil)
	if reply != "Paris: 18°C, clear" {
		t.Fatalf("reply=%q", reply)
	}
	if len(b.intents) != 1 {
		t.Fatalf("intent calls=%d", len(b.intents))
	}
	params := b.intents[0]["parameters"].(map[string]any)
	if params["city"] != "Paris" {
		t.Fatalf("params=%v", params)
	}
	if len(b.events) != 1 || b.events[0] != "intent_detected" {
		t.Fatalf("events=%v", b.events)
	}
	if len(b.logs) != 2 || b.logs[0].kind != "input" || b.logs[1].kind != "output" {
		t.Fatalf("logs=%+v", b.logs)
	}
}

func TestHandleUserInput_WeatherWithoutCityPrompts(t *testing.T) {
	b := &fakeBackend{}
	reply := newAssistant(b, true).HandleUserInput(context.Background(), "u1", "how's the weather", nil)
	if !strings.Contains(reply, "Which city") {
		t.Fatalf("reply=%q", reply)
	}
	if len(b.intents) != 0 {
		t.Fatalf("unexpected backend intent call")
	}
}

func TestHandleUserInput_ExternalCallsDisabled(t *testing.T) {
	b := &fakeBackend{}
	reply := newAssistant(b, false).HandleUserInput(context.Background(), "u1", "weather in Paris", nil)
	if reply != processingReply {
		t.Fatalf("reply=%q", reply)
	}
	if len(b.events) != 0 || len(b.intents) != 0 {
		t.Fatalf("intent routed while disabled")
	}
}

func TestHandleUserInput_LoggingFailureDoesNotFailTurn(t *testing.T) {
	b := &fakeBackend{logErr: &bridge.Error{Kind: bridge.KindTransport, Op: "log_interaction"}}
	reply := newAssistant(b, true).HandleUserInput(context.Background(), "u1", "send email to Ana", nil)
	if !strings.Contains(reply, "send an email") {
		t.Fatalf("reply=%q", reply)
	}
}

func TestHandleUserInput_HandlerErrorIsLoggedAsError(t *testing.T) {
	b := &fakeBackend{ctxErr: &bridge.Error{Kind: bridge.KindHTTPStatus, Status: 500}}
	reply := newAssistant(b, true).HandleUserInput(context.Background(), "u1", "what's my history", nil)
	if !strings.Contains(reply, "Sorry") {
		t.Fatalf("reply=%q", reply)
	}
	last := b.logs[len(b.logs)-1]
	if last.kind != "error" {
		t.Fatalf("last log=%+v", last)
	}
}

func TestHandleUserInput_ContextIntent(t *testing.T) {
	b := &fakeBackend{ctxDoc: map[string]any{"interaction_count": 3}}
	reply := newAssistant(b, true).HandleUserInput(context.Background(), "u1", "remember me?", nil)
	if !strings.HasPrefix(reply, "I found your context information") {
		t.Fatalf("reply=%q", reply)
	}
}

func TestHandleUserInput_SearchBackendError(t *testing.T) {
	b := &fakeBackend{intentFn: func(map[string]any) (bridge.Response, error) {
		return bridge.Response{}, errors.New("boom")
	}}
	reply := newAssistant(b, true).HandleUserInput(context.Background(), "u1", "search golang", nil)
	if !strings.Contains(reply, "Sorry") {
		t.Fatalf("reply=%q", reply)
	}
}

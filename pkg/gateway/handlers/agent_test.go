package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/store"
)

var fixedNow = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

type failingStore struct{ store.Store }

func (failingStore) AppendInteraction(context.Context, store.Interaction) error {
	return errors.New("disk full")
}

func (failingStore) AppendEvent(context.Context, store.Event) error {
	return errors.New("disk full")
}

func TestInteractionLogHandler_ReturnsUUID(t *testing.T) {
	mem := store.NewMemory()
	h := InteractionLogHandler{Store: mem, Now: fixedNow}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, postJSON("/interactions/log", `{"user_id":"u1","interaction_type":"input","content":"hi"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	id, _ := body["interaction_id"].(string)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("interaction_id=%q not a uuid", id)
	}
	if body["success"] != true || body["timestamp"] != "2026-03-01T12:00:00Z" {
		t.Fatalf("body=%v", body)
	}

	n, _ := mem.CountInteractions(context.Background(), "u1")
	if n != 1 {
		t.Fatalf("stored=%d", n)
	}
}

func TestInteractionLogHandler_Validation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{"empty body", ``, http.StatusBadRequest},
		{"malformed", `{"user_id":`, http.StatusBadRequest},
		{"missing user", `{"interaction_type":"input"}`, http.StatusBadRequest},
		{"missing type", `{"user_id":"u1"}`, http.StatusBadRequest},
		{"two objects", `{"user_id":"u1","interaction_type":"x"}{}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			InteractionLogHandler{Store: store.NewMemory()}.ServeHTTP(rr, postJSON("/interactions/log", tc.body))
			if rr.Code != tc.want {
				t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
			}
			if body := decodeBody(t, rr); body["success"] != false {
				t.Fatalf("body=%v", body)
			}
		})
	}
}

func TestInteractionLogHandler_StoreFailureIs500(t *testing.T) {
	rr := httptest.NewRecorder()
	InteractionLogHandler{Store: failingStore{}}.ServeHTTP(rr, postJSON("/interactions/log", `{"user_id":"u1","interaction_type":"input"}`))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["error"] != "internal error" {
		t.Fatalf("body=%v", body)
	}
}

func TestEventHandler_RecordsEvent(t *testing.T) {
	mem := store.NewMemory()
	rr := httptest.NewRecorder()
	EventHandler{Store: mem, Now: fixedNow}.ServeHTTP(rr, postJSON("/agent/event", `{"event_type":"intent_detected","data":{"intent":"weather"},"timestamp":"2026-02-28T10:00:00Z"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["message"] != "Event intent_detected received" {
		t.Fatalf("message=%v", body["message"])
	}
	events := mem.Events()
	if len(events) != 1 || events[0].Type != "intent_detected" {
		t.Fatalf("events=%+v", events)
	}
	if !events[0].CreatedAt.Equal(time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("created_at=%v", events[0].CreatedAt)
	}
}

func TestEventHandler_BadTimestamp(t *testing.T) {
	rr := httptest.NewRecorder()
	EventHandler{Store: store.NewMemory()}.ServeHTTP(rr, postJSON("/agent/event", `{"event_type":"x","timestamp":"yesterday"}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestContextHandler_ReturnsRecentInteractions(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	base := fixedNow()
	for i := 0; i < 3; i++ {
		_ = mem.AppendInteraction(ctx, store.Interaction{
			ID: uuid.NewString(), UserID: "u1", Type: "input",
			Content: "msg", CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	mux := http.NewServeMux()
	mux.Handle("GET /agent/context/{user_id}", ContextHandler{Store: mem, Now: fixedNow})
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/agent/context/u1", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["user_id"] != "u1" {
		t.Fatalf("user_id=%v", body["user_id"])
	}
	doc := body["context"].(map[string]any)
	if doc["interaction_count"] != float64(3) {
		t.Fatalf("count=%v", doc["interaction_count"])
	}
	if recent := doc["recent_interactions"].([]any); len(recent) != 3 {
		t.Fatalf("recent=%d", len(recent))
	}
	if doc["last_interaction_at"] != "2026-03-01T12:02:00Z" {
		t.Fatalf("last=%v", doc["last_interaction_at"])
	}
}

func TestContextHandler_UnknownUserIsEmpty(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("GET /agent/context/{user_id}", ContextHandler{Store: store.NewMemory()})
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/agent/context/nobody", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	doc := decodeBody(t, rr)["context"].(map[string]any)
	if doc["interaction_count"] != float64(0) || doc["last_interaction_at"] != nil {
		t.Fatalf("doc=%v", doc)
	}
	if recent := doc["recent_interactions"].([]any); len(recent) != 0 {
		t.Fatalf("recent=%v", recent)
	}
}

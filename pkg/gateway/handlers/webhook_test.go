package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/store"
)

func serveWebhook(h WebhookHandler, path, body string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.Handle("POST /webhooks/{source}", h)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, postJSON(path, body))
	return rr
}

func TestWebhookHandler_RecordsEvent(t *testing.T) {
	mem := store.NewMemory()
	rr := serveWebhook(WebhookHandler{Store: mem, Now: fixedNow}, "/webhooks/github", `{"action":"opened"}`)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	events := mem.Events()
	if len(events) != 1 || events[0].Type != "webhook.github" || events[0].Data["action"] != "opened" {
		t.Fatalf("events=%+v", events)
	}
}

func TestWebhookHandler_RejectsBadSource(t *testing.T) {
	rr := serveWebhook(WebhookHandler{Store: store.NewMemory()}, "/webhooks/Bad.Source", `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

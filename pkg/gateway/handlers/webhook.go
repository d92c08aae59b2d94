package handlers

import (
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/apierror"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/store"
)

var webhookSource = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// WebhookHandler serves POST /webhooks/{source}. The signature is checked
// by mw.Signature before this runs.
type WebhookHandler struct {
	Store  store.Store
	Logger *slog.Logger
	Now    func() time.Time
}

func (h WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	if !webhookSource.MatchString(source) {
		apierror.Write(w, apierror.Validation("invalid webhook source"))
		return
	}
	var payload map[string]any
	if err := decodeJSON(r, &payload); err != nil {
		apierror.Write(w, err)
		return
	}

	now := nowFunc(h.Now).UTC()
	ev := store.Event{ID: uuid.NewString(), Type: "webhook." + source, Data: payload, CreatedAt: now}
	if err := h.Store.AppendEvent(r.Context(), ev); err != nil {
		apierror.Write(w, err)
		return
	}
	if h.Logger != nil {
		h.Logger.Info("webhook accepted", "source", source, "event_id", ev.ID)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":   true,
		"event_id":  ev.ID,
		"timestamp": apierror.Timestamp(now),
	})
}

package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/apierror"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/mw"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/store"
)

type EventRequest struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// EventHandler serves POST /agent/event.
type EventHandler struct {
	Store  store.Store
	Logger *slog.Logger
	Now    func() time.Time
}

func (h EventHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := decodeJSON(r, &req); err != nil {
		apierror.Write(w, err)
		return
	}
	if err := required("event_type", req.EventType); err != nil {
		apierror.Write(w, err)
		return
	}

	now := nowFunc(h.Now)
	at := now
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339Nano, req.Timestamp)
		if err != nil {
			apierror.Write(w, apierror.Validation("timestamp must be RFC3339"))
			return
		}
		at = parsed
	}

	ev := store.Event{ID: uuid.NewString(), Type: strings.TrimSpace(req.EventType), Data: req.Data, CreatedAt: at.UTC()}
	if err := h.Store.AppendEvent(r.Context(), ev); err != nil {
		apierror.Write(w, err)
		return
	}
	if h.Logger != nil {
		reqID, _ := mw.RequestIDFrom(r.Context())
		h.Logger.Info("agent event", "request_id", reqID, "event_type", ev.Type, "event_id", ev.ID)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Event " + ev.Type + " received",
		"event_id":  ev.ID,
		"timestamp": apierror.Timestamp(now),
	})
}

type InteractionRequest struct {
	UserID          string         `json:"user_id"`
	InteractionType string         `json:"interaction_type"`
	Content         string         `json:"content"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// InteractionLogHandler serves POST /interactions/log.
type InteractionLogHandler struct {
	Store store.Store
	Now   func() time.Time
}

func (h InteractionLogHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req InteractionRequest
	if err := decodeJSON(r, &req); err != nil {
		apierror.Write(w, err)
		return
	}
	if err := required("user_id", req.UserID); err != nil {
		apierror.Write(w, err)
		return
	}
	if err := required("interaction_type", req.InteractionType); err != nil {
		apierror.Write(w, err)
		return
	}

	now := nowFunc(h.Now).UTC()
	in := store.Interaction{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Type:      req.InteractionType,
		Content:   req.Content,
		Metadata:  req.Metadata,
		CreatedAt: now,
	}
	if err := h.Store.AppendInteraction(r.Context(), in); err != nil {
		apierror.Write(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"interaction_id": in.ID,
		"timestamp":      apierror.Timestamp(now),
	})
}

// ContextHandler serves GET /agent/context/{user_id}.
type ContextHandler struct {
	Store store.Store
	Now   func() time.Time
}

func (h ContextHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if err := required("user_id", userID); err != nil {
		apierror.Write(w, err)
		return
	}
	doc, err := store.LoadContext(r.Context(), h.Store, userID)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"user_id":   userID,
		"context":   doc,
		"timestamp": apierror.Timestamp(nowFunc(h.Now)),
	})
}

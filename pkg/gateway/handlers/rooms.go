package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/apierror"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/roomtoken"
)

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// CreateRoomHandler serves POST /create-room. Rooms are created lazily by
// the media server on first join; this only mints the name.
type CreateRoomHandler struct {
	LiveKitURL string
	Logger     *slog.Logger
}

func (h CreateRoomHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := "room-" + shortID()
	if h.Logger != nil {
		h.Logger.Info("created room", "room", name)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"room_name":   name,
		"livekit_url": h.LiveKitURL,
	})
}

// TokenHandler serves GET /token?roomName=&identity=. Issuer is nil when
// LiveKit credentials are not configured.
type TokenHandler struct {
	Issuer *roomtoken.Issuer
}

func (h TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	room := strings.TrimSpace(q.Get("roomName"))
	if room == "" {
		apierror.Write(w, apierror.Validation("roomName is required"))
		return
	}
	identity := strings.TrimSpace(q.Get("identity"))
	if identity == "" {
		identity = "user-" + shortID()
	}
	if h.Issuer == nil {
		apierror.WriteStatus(w, http.StatusInternalServerError, "Failed to generate token: LiveKit credentials are not configured")
		return
	}
	tok, err := h.Issuer.Issue(room, identity)
	if err != nil {
		apierror.WriteStatus(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": tok, "identity": identity})
}

package handlers

import (
	"net/http"

	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/config"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/lifecycle"
)

const serviceName = "Friday AI Assistant"

// HealthHandler reports 503 while the server drains so load balancers stop
// routing to it.
type HealthHandler struct {
	Lifecycle *lifecycle.Lifecycle
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Lifecycle.IsDraining() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining", "service": serviceName})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": serviceName})
}

// ConfigHandler serves the browser client's configuration and feature flags.
type ConfigHandler struct {
	Config config.Config
}

func (h ConfigHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"livekit_url": h.Config.LiveKitURL,
		"features": map[string]bool{
			"voice_assistant": true,
			"weather_lookup":  true,
			"web_search":      h.Config.TavilyAPIKey != "",
			"email_sending":   h.Config.GmailUser != "",
			"video_support":   true,
		},
	})
}

package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/apierror"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/mw"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/store"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/tools/search"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/tools/weather"
)

type WeatherLookup interface {
	Current(ctx context.Context, city string) (weather.Report, error)
}

type Searcher interface {
	Configured() bool
	Search(ctx context.Context, query string, maxResults int) ([]search.Hit, error)
}

type IntentRequest struct {
	UserID     string         `json:"user_id"`
	Intent     string         `json:"intent"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

// IntentHandler serves POST /agent/intent. Unknown intents succeed with a
// "not found" message rather than an error status.
type IntentHandler struct {
	Store   store.Store
	Weather WeatherLookup
	Search  Searcher
	Logger  *slog.Logger
	Now     func() time.Time
}

type intentFunc func(h IntentHandler, ctx context.Context, req IntentRequest) (map[string]any, error)

var intentHandlers = map[string]intentFunc{
	"weather": IntentHandler.weatherIntent,
	"search":  IntentHandler.searchIntent,
	"email":   IntentHandler.emailIntent,
	"context": IntentHandler.contextIntent,
}

func (h IntentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req IntentRequest
	if err := decodeJSON(r, &req); err != nil {
		apierror.Write(w, err)
		return
	}
	if err := required("user_id", req.UserID); err != nil {
		apierror.Write(w, err)
		return
	}
	if err := required("intent", req.Intent); err != nil {
		apierror.Write(w, err)
		return
	}
	req.Intent = strings.ToLower(strings.TrimSpace(req.Intent))

	result := map[string]any{"message": "Intent handler not found"}
	if fn, ok := intentHandlers[req.Intent]; ok {
		out, err := fn(h, r.Context(), req)
		if err != nil {
			if h.Logger != nil {
				reqID, _ := mw.RequestIDFrom(r.Context())
				h.Logger.Error("intent failed", "request_id", reqID, "intent", req.Intent, "user_id", req.UserID, "err", err)
			}
			apierror.Write(w, err)
			return
		}
		result = out
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"intent":    req.Intent,
		"result":    result,
		"timestamp": apierror.Timestamp(nowFunc(h.Now)),
	})
}

func stringParam(params map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := params[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func (h IntentHandler) weatherIntent(ctx context.Context, req IntentRequest) (map[string]any, error) {
	city := stringParam(req.Parameters, "city", "location")
	if city == "" {
		return map[string]any{"message": "I can help you with weather. Which city would you like to know about?"}, nil
	}
	if h.Weather == nil {
		return map[string]any{"message": "Weather lookup is not available right now."}, nil
	}
	rep, err := h.Weather.Current(ctx, city)
	if errors.Is(err, weather.ErrNotFound) {
		return map[string]any{"message": fmt.Sprintf("Could not locate '%s' for weather lookup.", city)}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"message": rep.Summary(), "weather": rep}, nil
}

func (h IntentHandler) searchIntent(ctx context.Context, req IntentRequest) (map[string]any, error) {
	query := stringParam(req.Parameters, "query", "q")
	if query == "" {
		return map[string]any{"message": "What would you like me to search for?"}, nil
	}
	if h.Search == nil || !h.Search.Configured() {
		return map[string]any{"message": "Web search is not configured."}, nil
	}
	hits, err := h.Search.Search(ctx, query, 5)
	if err != nil {
		return nil, err
	}
	return map[string]any{"message": search.Summarize(query, hits, 3), "results": hits}, nil
}

func (h IntentHandler) emailIntent(ctx context.Context, req IntentRequest) (map[string]any, error) {
	return map[string]any{"message": "I can help you send an email. Please provide the recipient and message."}, nil
}

func (h IntentHandler) contextIntent(ctx context.Context, req IntentRequest) (map[string]any, error) {
	doc, err := store.LoadContext(ctx, h.Store, req.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"message": fmt.Sprintf("I have %d previous interactions on record for you.", doc.InteractionCount),
		"context": doc,
	}, nil
}

// Package assistant turns final user transcripts into replies: it detects a
// coarse intent by keyword, records the turn with the backend and routes
// the intent to a handler.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/uchakatopro-hue/friday-jarvis/pkg/bridge"
)

// Backend is the subset of *bridge.Client the assistant uses.
type Backend interface {
	LogInteraction(ctx context.Context, userID, interactionType, content string, metadata map[string]any) (string, error)
	SendEvent(ctx context.Context, eventType string, data map[string]any) error
	FetchContext(ctx context.Context, userID string) (map[string]any, error)
	CallInternal(ctx context.Context, method, path string, body any) (bridge.Response, error)
}

const (
	IntentWeather = "weather"
	IntentSearch  = "search"
	IntentEmail   = "email"
	IntentContext = "context"

	keywordConfidence = 0.85
)

// Detection order is priority order: the first intent with a matching
// keyword wins.
var intentKeywords = []struct {
	intent   string
	keywords []string
}{
	{IntentWeather, []string{"weather", "temperature", "forecast", "rain", "sunny"}},
	{IntentSearch, []string{"search", "find", "look up", "what is", "who is"}},
	{IntentEmail, []string{"email", "send message", "send email", "mail"}},
	{IntentContext, []string{"context", "history", "previous", "remember"}},
}

type Intent struct {
	Name       string         `json:"intent"`
	Confidence float64        `json:"confidence"`
	Text       string         `json:"text"`
	Context    map[string]any `json:"context,omitempty"`
}

// Detect returns the highest priority intent whose keyword appears in text.
func Detect(text string, userContext map[string]any) (Intent, bool) {
	lower := strings.ToLower(text)
	for _, ik := range intentKeywords {
		for _, kw := range ik.keywords {
			if strings.Contains(lower, kw) {
				return Intent{Name: ik.intent, Confidence: keywordConfidence, Text: text, Context: userContext}, true
			}
		}
	}
	return Intent{}, false
}

type Options struct {
	// ExternalCalls enables intent routing; when false every turn gets
	// the generic acknowledgement.
	ExternalCalls bool
	Logger        *slog.Logger
}

type Assistant struct {
	backend       Backend
	externalCalls bool
	logger        *slog.Logger
}

func New(backend Backend, opts Options) *Assistant {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{backend: backend, externalCalls: opts.ExternalCalls, logger: logger}
}

const processingReply = "I'm processing your request. Please wait."

// HandleUserInput produces the reply for one user turn. Backend logging is
// best effort; a failed log never fails the turn.
func (a *Assistant) HandleUserInput(ctx context.Context, userID, text string, userContext map[string]any) string {
	a.logger.Info("user input", "user_id", userID, "text", truncate(text, 100))
	a.logInteraction(ctx, userID, "input", text, map[string]any{"context": userContext})

	if intent, ok := Detect(text, userContext); ok && a.externalCalls {
		reply, err := a.handleIntent(ctx, userID, intent)
		if err != nil {
			a.logger.Error("intent handler failed", "intent", intent.Name, "user_id", userID, "err", err)
			a.logInteraction(ctx, userID, "error", "Error: "+err.Error(), nil)
			return "Sorry, I couldn't complete that just now."
		}
		a.logInteraction(ctx, userID, "output", reply, map[string]any{"intent": intent.Name})
		return reply
	}

	a.logInteraction(ctx, userID, "output", "Processing request...", nil)
	return processingReply
}

func (a *Assistant) logInteraction(ctx context.Context, userID, kind, content string, metadata map[string]any) {
	if a.backend == nil {
		return
	}
	if _, err := a.backend.LogInteraction(ctx, userID, kind, content, metadata); err != nil {
		a.logger.Warn("log interaction failed", "user_id", userID, "interaction_type", kind, "err", err)
	}
}

func (a *Assistant) handleIntent(ctx context.Context, userID string, intent Intent) (string, error) {
	a.logger.Info("handling intent", "intent", intent.Name, "user_id", userID)
	if a.backend == nil {
		return "", fmt.Errorf("no backend configured")
	}
	if err := a.backend.SendEvent(ctx, "intent_detected", map[string]any{
		"intent":     intent.Name,
		"confidence": intent.Confidence,
		"text":       intent.Text,
		"context":    intent.Context,
	}); err != nil {
		a.logger.Warn("send intent event failed", "intent", intent.Name, "err", err)
	}

	switch intent.Name {
	case IntentWeather:
		city := extractPlace(intent.Text)
		if city == "" {
			return "I can help you with weather. Which city would you like to know about?", nil
		}
		return a.remoteIntent(ctx, userID, intent, map[string]any{"city": city})
	case IntentSearch:
		return a.remoteIntent(ctx, userID, intent, map[string]any{"query": intent.Text})
	case IntentEmail:
		return "I can help you send an email. Please provide the recipient and message.", nil
	case IntentContext:
		doc, err := a.backend.FetchContext(ctx, userID)
		if err != nil {
			return "", err
		}
		return "I found your context information: " + truncate(fmt.Sprint(doc), 200), nil
	}
	return "Intent handler not found.", nil
}

// remoteIntent asks the backend's /agent/intent handler to do the work.
func (a *Assistant) remoteIntent(ctx context.Context, userID string, intent Intent, params map[string]any) (string, error) {
	resp, err := a.backend.CallInternal(ctx, http.MethodPost, "/agent/intent", map[string]any{
		"user_id":    userID,
		"intent":     intent.Name,
		"parameters": params,
		"context":    intent.Context,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		Result map[string]any `json:"result"`
	}
	if err := resp.Decode(&out); err != nil {
		return "", fmt.Errorf("decode intent response: %w", err)
	}
	if msg, ok := out.Result["message"].(string); ok && msg != "" {
		return msg, nil
	}
	return "Done.", nil
}

var placeRe = regexp.MustCompile(`(?i)\b(?:in|at|for)\s+([\p{L}][\p{L}\s.'-]*?)\s*(?:today|tomorrow|now|right now|this week)?[?.!]*$`)

// extractPlace pulls "Paris" out of "what's the weather in Paris today?".
func extractPlace(text string) string {
	m := placeRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

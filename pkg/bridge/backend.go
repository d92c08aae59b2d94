package bridge

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Backend routes served by the bridge server, relative to Options.BaseURL.
const (
	PathInteractionsLog = "/interactions/log"
	PathAgentContext    = "/agent/context/"
	PathAgentEvent      = "/agent/event"
	PathHealth          = "/health"
)

// LogInteraction records one user or agent turn and returns the id the
// backend assigned.
func (c *Client) LogInteraction(ctx context.Context, userID, interactionType, content string, metadata map[string]any) (string, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	resp, err := c.Call(ctx, Request{
		Method: http.MethodPost,
		URL:    PathInteractionsLog,
		Op:     "log_interaction",
		Body: map[string]any{
			"user_id":          userID,
			"interaction_type": interactionType,
			"content":          content,
			"metadata":         metadata,
		},
	})
	if err != nil {
		return "", err
	}
	var out struct {
		InteractionID string `json:"interaction_id"`
	}
	if err := resp.Decode(&out); err != nil || out.InteractionID == "" {
		return "", &Error{
			Kind:    KindUnknown,
			Op:      "log_interaction",
			Method:  http.MethodPost,
			URL:     PathInteractionsLog,
			Status:  resp.Status,
			Message: "response has no interaction_id",
			Body:    resp.Raw,
			Err:     err,
		}
	}
	return out.InteractionID, nil
}

// FetchContext returns the backend's context document for userID.
func (c *Client) FetchContext(ctx context.Context, userID string) (map[string]any, error) {
	resp, err := c.Call(ctx, Request{
		Method: http.MethodGet,
		URL:    PathAgentContext + url.PathEscape(userID),
		Op:     "fetch_context",
	})
	if err != nil {
		return nil, err
	}
	doc, _ := resp.Body.(map[string]any)
	if inner, ok := doc["context"].(map[string]any); ok {
		return inner, nil
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// SendEvent posts an agent lifecycle or analytics event.
func (c *Client) SendEvent(ctx context.Context, eventType string, data map[string]any) error {
	return c.sendEvent(ctx, eventType, data, false)
}

// SendEventOnce posts an event in a single attempt bounded by the health
// timeout, for exit paths where the backend may be what failed.
func (c *Client) SendEventOnce(ctx context.Context, eventType string, data map[string]any) error {
	return c.sendEvent(ctx, eventType, data, true)
}

func (c *Client) sendEvent(ctx context.Context, eventType string, data map[string]any, once bool) error {
	if data == nil {
		data = map[string]any{}
	}
	req := Request{
		Method: http.MethodPost,
		URL:    PathAgentEvent,
		Op:     "send_event",
		Body: map[string]any{
			"event_type": eventType,
			"data":       data,
			"timestamp":  c.clock.Now().UTC().Format(time.RFC3339Nano),
		},
	}
	if once {
		req.NoRetry = true
		req.Timeout = c.opts.HealthTimeout
	}
	_, err := c.Call(ctx, req)
	return err
}

// CallInternal issues an arbitrary call against the backend base URL.
func (c *Client) CallInternal(ctx context.Context, method, path string, body any) (Response, error) {
	return c.Call(ctx, Request{Method: method, URL: path, Body: body, Op: "call_internal"})
}

// HealthOutcome is the advisory result of a health probe. It is a value,
// not an error: callers log it and carry on.
type HealthOutcome struct {
	Healthy bool
	Status  int
	Latency time.Duration
	Err     error
}

// Health probes GET {base}/health once with the short health timeout.
func (c *Client) Health(ctx context.Context) HealthOutcome {
	start := c.clock.Now()
	resp, err := c.Call(ctx, Request{
		Method:  http.MethodGet,
		URL:     PathHealth,
		Op:      "health",
		Timeout: c.opts.HealthTimeout,
		NoRetry: true,
	})
	out := HealthOutcome{Latency: c.clock.Now().Sub(start), Err: err}
	if err != nil {
		out.Status = StatusOf(err)
		return out
	}
	out.Status = resp.Status
	out.Healthy = resp.Status == http.StatusOK
	return out
}

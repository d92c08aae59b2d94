package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Kind classifies a failed bridge call.
type Kind string

const (
	// KindTransport covers DNS, connect, TLS, timeouts and cancelled waits.
	KindTransport Kind = "transport"
	// KindHTTPStatus is a response outside 2xx.
	KindHTTPStatus Kind = "http_status"
	// KindUnknown is anything else: bad request construction, undecodable
	// bodies, missing base URL.
	KindUnknown Kind = "unknown"
)

// Error is the only error type returned by Client calls.
//
// Use errors.As(err, &bridgeErr) and inspect Kind, or IsKind.
type Error struct {
	Kind    Kind
	Op      string
	Method  string
	URL     string
	Status  int
	Message string
	Body    []byte
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	target := strings.TrimSpace(e.Method + " " + redactURL(e.URL))
	switch e.Kind {
	case KindHTTPStatus:
		if e.Message != "" {
			return fmt.Sprintf("bridge %s: %s returned %d: %s", e.Op, target, e.Status, e.Message)
		}
		return fmt.Sprintf("bridge %s: %s returned %d", e.Op, target, e.Status)
	case KindTransport:
		return fmt.Sprintf("bridge %s: transport error during %s: %v", e.Op, target, e.cause())
	default:
		return fmt.Sprintf("bridge %s: %v", e.Op, e.cause())
	}
}

func (e *Error) cause() any {
	if e.Err != nil {
		return e.Err
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsKind reports whether err is a *Error of kind k.
func IsKind(err error, k Kind) bool {
	var be *Error
	return errors.As(err, &be) && be != nil && be.Kind == k
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var be *Error
	if errors.As(err, &be) && be != nil {
		return be.Status
	}
	return 0
}

func (e *Error) retryable() bool {
	switch e.Kind {
	case KindTransport:
		return true
	case KindHTTPStatus:
		switch e.Status {
		case 429, 502, 503, 504:
			return true
		}
	}
	return false
}

// messageFromBody picks a human readable message out of an error body.
func messageFromBody(body []byte) string {
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err == nil {
		for _, key := range []string{"error", "detail", "message"} {
			if s, ok := decoded[key].(string); ok && s != "" {
				return s
			}
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 256 {
		s = s[:256] + "..."
	}
	return s
}

func redactURL(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.User = nil
	parsed.RawQuery = ""
	return parsed.String()
}

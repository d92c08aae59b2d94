package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/uchakatopro-hue/friday-jarvis/pkg/bridge"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/auth"
)

// Envelope is the body of every failed inbound request.
type Envelope struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// Error carries an explicit status for handler-level failures.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(msg string) *Error {
	return &Error{Status: http.StatusBadRequest, Message: msg}
}

func Unauthorized() *Error {
	return &Error{Status: http.StatusForbidden, Message: auth.ErrUnauthorized.Error(), Err: auth.ErrUnauthorized}
}

// FromError maps err to the message and status written to the client.
// Unknown errors become a generic 500 so internals do not leak.
func FromError(err error) (string, int) {
	if err == nil {
		return "", http.StatusOK
	}

	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr != nil {
		status := apiErr.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return apiErr.Message, status
	}

	if errors.Is(err, auth.ErrUnauthorized) {
		return auth.ErrUnauthorized.Error(), http.StatusForbidden
	}

	// Downstream failures are 500s. The message names the operation and
	// upstream status but never the upstream URL.
	var be *bridge.Error
	if errors.As(err, &be) && be != nil {
		switch be.Kind {
		case bridge.KindHTTPStatus:
			return fmt.Sprintf("upstream %s failed with status %d", opName(be.Op), be.Status), http.StatusInternalServerError
		case bridge.KindTransport:
			return fmt.Sprintf("upstream %s unavailable", opName(be.Op)), http.StatusInternalServerError
		default:
			return fmt.Sprintf("upstream %s failed", opName(be.Op)), http.StatusInternalServerError
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "request timeout", http.StatusInternalServerError
	}
	if errors.Is(err, context.Canceled) {
		return "request cancelled", http.StatusInternalServerError
	}

	return "internal error", http.StatusInternalServerError
}

func opName(op string) string {
	if op == "" {
		return "call"
	}
	return op
}

// Write emits the error envelope for err.
func Write(w http.ResponseWriter, err error) {
	msg, status := FromError(err)
	WriteStatus(w, status, msg)
}

func WriteStatus(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{
		Success:   false,
		Error:     msg,
		Timestamp: Timestamp(time.Now()),
	})
}

// Timestamp formats t the way every response body does.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/apierror"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/mw"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads exactly one JSON object from the request body.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return apierror.Validation("request body is required")
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		switch {
		case mw.IsBodyTooLarge(err):
			return &apierror.Error{Status: http.StatusRequestEntityTooLarge, Message: "request body too large", Err: err}
		case errors.Is(err, io.EOF):
			return apierror.Validation("request body is required")
		default:
			return &apierror.Error{Status: http.StatusBadRequest, Message: "invalid JSON body", Err: err}
		}
	}
	if dec.More() {
		return apierror.Validation("request body must contain a single JSON object")
	}
	return nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return apierror.Validation(field + " is required")
	}
	return nil
}

func nowFunc(now func() time.Time) time.Time {
	if now == nil {
		return time.Now()
	}
	return now()
}

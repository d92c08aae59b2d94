package mw

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/apierror"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/auth"
)

// Signature verifies the X-Signature HMAC over the raw body before next
// runs. The body is buffered and replaced so next can read it again.
func Signature(secret string, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			if IsBodyTooLarge(err) {
				apierror.WriteStatus(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			apierror.WriteStatus(w, http.StatusBadRequest, "unreadable request body")
			return
		}
		if err := auth.VerifySignature(r.Header, body, secret); err != nil {
			if logger != nil {
				reqID, _ := RequestIDFrom(r.Context())
				logger.Warn("webhook signature rejected", "request_id", reqID, "path", r.URL.Path)
			}
			apierror.WriteStatus(w, http.StatusForbidden, "Invalid webhook signature")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

package mw

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/apierror"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/auth"
)

func authHandler(t *testing.T, seen *string) http.Handler {
	t.Helper()
	public := func(r *http.Request) bool { return r.URL.Path == "/health" }
	return Auth(auth.NewGate("s3cret"), public, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := auth.PrincipalFrom(r.Context()); ok && seen != nil {
			*seen = p.KeyID
		}
		w.WriteHeader(http.StatusNoContent)
	}))
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) apierror.Envelope {
	t.Helper()
	var env apierror.Envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal %q: %v", rr.Body.String(), err)
	}
	return env
}

func TestAuth_MissingBearerIs403(t *testing.T) {
	rr := httptest.NewRecorder()
	authHandler(t, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/agent/event", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if env := decodeEnvelope(t, rr); env.Error != "Not authenticated" {
		t.Fatalf("error=%q", env.Error)
	}
}

func TestAuth_InvalidBearerIs403WithFixedMessage(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/agent/event", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	authHandler(t, nil).ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	env := decodeEnvelope(t, rr)
	if env.Success || env.Error != "Unauthorized: Invalid or expired token" {
		t.Fatalf("envelope=%+v", env)
	}
}

func TestAuth_ValidBearerSetsHashedPrincipal(t *testing.T) {
	var keyID string
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/agent/event", nil)
	req.Header.Set("Authorization", "bearer s3cret")
	authHandler(t, &keyID).ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.HasPrefix(keyID, "k_") || strings.Contains(keyID, "s3cret") {
		t.Fatalf("key id=%q", keyID)
	}
}

func TestAuth_PublicRoutesAndPreflightBypass(t *testing.T) {
	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/health", nil),
		httptest.NewRequest(http.MethodOptions, "/agent/event", nil),
	} {
		rr := httptest.NewRecorder()
		authHandler(t, nil).ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("%s %s status=%d", req.Method, req.URL.Path, rr.Code)
		}
	}
}

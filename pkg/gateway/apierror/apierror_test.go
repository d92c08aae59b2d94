package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/uchakatopro-hue/friday-jarvis/pkg/bridge"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/auth"
)

func TestFromError_Mapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"validation", Validation("user_id is required"), 400, "user_id is required"},
		{"wrapped unauthorized", fmt.Errorf("verify: %w", auth.ErrUnauthorized), 403, "Unauthorized: Invalid or expired token"},
		{"deadline", context.DeadlineExceeded, 500, "request timeout"},
		{"cancelled", context.Canceled, 500, "request cancelled"},
		{"bridge status", &bridge.Error{Kind: bridge.KindHTTPStatus, Status: 503, Op: "call_api", Method: "GET", URL: "http://10.1.2.3/x"}, 500, "upstream call_api failed with status 503"},
		{"bridge timeout keeps transport kind", &bridge.Error{Kind: bridge.KindTransport, Op: "weather", URL: "http://wx.test/v1", Err: context.DeadlineExceeded}, 500, "upstream weather unavailable"},
		{"wrapped bridge unknown", fmt.Errorf("lookup: %w", &bridge.Error{Kind: bridge.KindUnknown, Op: "search"}), 500, "upstream search failed"},
		{"unknown", errors.New("pq: relation missing"), 500, "internal error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, status := FromError(tc.err)
			if status != tc.status {
				t.Fatalf("status=%d, want %d", status, tc.status)
			}
			if tc.msg != "" && msg != tc.msg {
				t.Fatalf("msg=%q, want %q", msg, tc.msg)
			}
		})
	}
}

func TestWrite_Envelope(t *testing.T) {
	rr := httptest.NewRecorder()
	Write(rr, Unauthorized())

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var env map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env["success"] != false {
		t.Fatalf("success=%v", env["success"])
	}
	if env["error"] != "Unauthorized: Invalid or expired token" {
		t.Fatalf("error=%v", env["error"])
	}
	ts, _ := env["timestamp"].(string)
	if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
		t.Fatalf("timestamp=%q: %v", ts, err)
	}
}

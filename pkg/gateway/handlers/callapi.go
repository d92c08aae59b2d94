package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/uchakatopro-hue/friday-jarvis/pkg/bridge"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/apierror"
)

type CallAPIRequest struct {
	Endpoint string            `json:"endpoint"`
	Method   string            `json:"method"`
	Params   map[string]any    `json:"params,omitempty"`
	Data     any               `json:"data,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

var callAPIMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// CallAPIHandler serves POST /agent/call-api by proxying through a bridge
// client that carries no credentials of its own.
type CallAPIHandler struct {
	Client  *bridge.Client
	Timeout time.Duration
	// Check, when set, vets the endpoint before any request is made.
	Check func(ctx context.Context, endpoint string) error
	Now   func() time.Time
}

func (h CallAPIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req CallAPIRequest
	if err := decodeJSON(r, &req); err != nil {
		apierror.Write(w, err)
		return
	}
	if err := required("endpoint", req.Endpoint); err != nil {
		apierror.Write(w, err)
		return
	}
	u, err := url.Parse(req.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		apierror.Write(w, apierror.Validation("endpoint must be an absolute http(s) URL"))
		return
	}
	if h.Check != nil {
		if err := h.Check(r.Context(), req.Endpoint); err != nil {
			apierror.Write(w, &apierror.Error{Status: http.StatusBadRequest, Message: "endpoint is not allowed", Err: err})
			return
		}
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	if !callAPIMethods[method] {
		apierror.Write(w, apierror.Validation("method must be one of GET, POST, PUT, PATCH, DELETE"))
		return
	}

	var query url.Values
	if len(req.Params) > 0 {
		query = make(url.Values, len(req.Params))
		for k, v := range req.Params {
			query.Set(k, fmt.Sprint(v))
		}
	}

	resp, err := h.Client.Call(r.Context(), bridge.Request{
		Method:  method,
		URL:     req.Endpoint,
		Query:   query,
		Body:    req.Data,
		Headers: req.Headers,
		Timeout: h.Timeout,
		Op:      "call_api",
	})
	if err != nil {
		apierror.Write(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"endpoint":  req.Endpoint,
		"response":  resp.Body,
		"timestamp": apierror.Timestamp(nowFunc(h.Now)),
	})
}

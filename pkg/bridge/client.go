// Package bridge is the HTTP client used for all agent-to-backend traffic
// and for backend calls to downstream APIs. Every call resolves to either a
// Response or a *Error with a Kind.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/uchakatopro-hue/friday-jarvis/internal/clock"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultHealthTimeout = 2 * time.Second
	DefaultMaxAttempts   = 3
	DefaultBackoffBase   = 250 * time.Millisecond
	DefaultBackoffMax    = 4 * time.Second

	maxResponseBytes = 4 << 20
)

type Options struct {
	// BaseURL resolves relative request URLs.
	BaseURL string
	// Token, when set, is sent as a bearer credential on every request.
	Token     string
	UserAgent string

	Timeout       time.Duration
	HealthTimeout time.Duration // capped at DefaultHealthTimeout

	// MaxAttempts bounds tries per call; retries happen on transport
	// errors and on 429/502/503/504.
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// RPS > 0 paces outbound requests client-side.
	RPS   float64
	Burst int

	// HTTPClient is used as the shared handle instead of building one.
	HTTPClient *http.Client
	Transport  http.RoundTripper

	Logger *slog.Logger
	Clock  clock.Clock

	// OnResult observes every finished call with its op label and outcome
	// ("ok" or the failure Kind).
	OnResult func(op, outcome string)
}

type Request struct {
	Method string
	// URL is absolute or relative to Options.BaseURL.
	URL string
	// Body is JSON-encoded; []byte and json.RawMessage are sent as is.
	Body    any
	Headers map[string]string
	Query   url.Values
	// Timeout overrides Options.Timeout for this call.
	Timeout time.Duration
	// Op labels the call in errors, logs and metrics.
	Op string
	// NoRetry limits the call to one attempt.
	NoRetry bool
}

type Response struct {
	Status int
	Header http.Header
	// Body is the decoded JSON document, nil for an empty body.
	Body any
	Raw  []byte
}

// Decode unmarshals the raw body into v.
func (r Response) Decode(v any) error {
	if len(r.Raw) == 0 {
		return errors.New("empty response body")
	}
	return json.Unmarshal(r.Raw, v)
}

// Client is safe for concurrent use. The underlying *http.Client is created
// on first use and released by Close; a later call creates a fresh one.
type Client struct {
	opts    Options
	base    *url.URL
	logger  *slog.Logger
	clock   clock.Clock
	limiter *rate.Limiter

	mu sync.Mutex
	hc *http.Client

	// newHTTPClient is swapped in tests to count initializations.
	newHTTPClient func() *http.Client
}

func New(opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HealthTimeout <= 0 || opts.HealthTimeout > DefaultHealthTimeout {
		opts.HealthTimeout = DefaultHealthTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = DefaultBackoffMax
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "friday-bridge/1"
	}

	c := &Client{
		opts:   opts,
		logger: opts.Logger,
		clock:  clock.Or(opts.Clock),
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if strings.TrimSpace(opts.BaseURL) != "" {
		base, err := url.Parse(strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"))
		if err != nil || base.Scheme == "" || base.Host == "" {
			return nil, fmt.Errorf("bridge: invalid base url %q", opts.BaseURL)
		}
		c.base = base
	}
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	c.newHTTPClient = c.buildHTTPClient
	return c, nil
}

func (c *Client) BaseURL() string {
	if c.base == nil {
		return ""
	}
	return c.base.String()
}

func (c *Client) buildHTTPClient() *http.Client {
	if c.opts.HTTPClient != nil {
		return c.opts.HTTPClient
	}
	rt := c.opts.Transport
	if rt == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.MaxIdleConnsPerHost = 16
		t.IdleConnTimeout = 90 * time.Second
		t.DialContext = (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext
		rt = t
	}
	return &http.Client{Transport: rt}
}

// httpClient returns the shared handle, creating it once.
func (c *Client) httpClient() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hc == nil {
		c.hc = c.newHTTPClient()
	}
	return c.hc
}

// Close releases pooled connections. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hc != nil {
		c.hc.CloseIdleConnections()
		c.hc = nil
	}
	return nil
}

// Call performs req, retrying transient failures up to MaxAttempts.
func (c *Client) Call(ctx context.Context, req Request) (Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	req.Method = strings.ToUpper(req.Method)
	if req.Op == "" {
		req.Op = "call"
	}

	target, err := c.resolve(req.URL, req.Query)
	if err != nil {
		be := &Error{Kind: KindUnknown, Op: req.Op, Method: req.Method, URL: req.URL, Err: err}
		c.observe(req.Op, be)
		return Response{}, be
	}

	maxAttempts := c.opts.MaxAttempts
	if req.NoRetry {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		resp, err := c.do(ctx, req, target)
		if err == nil {
			c.observe(req.Op, nil)
			return resp, nil
		}

		be := err.(*Error)
		if attempt >= maxAttempts || !be.retryable() || ctx.Err() != nil {
			c.observe(req.Op, be)
			return Response{}, be
		}

		delay := c.backoff(attempt)
		c.logger.Warn("bridge call failed, retrying",
			"op", req.Op,
			"attempt", attempt,
			"kind", string(be.Kind),
			"status", be.Status,
			"delay_ms", delay.Milliseconds(),
		)
		select {
		case <-ctx.Done():
			c.observe(req.Op, be)
			return Response{}, be
		case <-c.clock.After(delay):
		}
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.opts.BackoffBase << (attempt - 1)
	if d <= 0 || d > c.opts.BackoffMax {
		d = c.opts.BackoffMax
	}
	return d
}

func (c *Client) do(ctx context.Context, req Request, target string) (Response, error) {
	fail := func(kind Kind, err error) (Response, error) {
		return Response{}, &Error{Kind: kind, Op: req.Op, Method: req.Method, URL: target, Err: err}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fail(KindTransport, err)
		}
	}

	body, err := encodeBody(req.Body)
	if err != nil {
		return fail(KindUnknown, fmt.Errorf("marshal request: %w", err))
	}

	timeout := c.opts.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, target, rdr)
	if err != nil {
		return fail(KindUnknown, fmt.Errorf("create request: %w", err))
	}
	c.applyHeaders(httpReq.Header, req.Headers)

	start := c.clock.Now()
	httpResp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return fail(KindTransport, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return fail(KindTransport, fmt.Errorf("read response: %w", err))
	}

	c.logger.Debug("bridge call",
		"op", req.Op,
		"method", req.Method,
		"url", redactURL(target),
		"status", httpResp.StatusCode,
		"duration_ms", c.clock.Now().Sub(start).Milliseconds(),
	)

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return Response{}, &Error{
			Kind:    KindHTTPStatus,
			Op:      req.Op,
			Method:  req.Method,
			URL:     target,
			Status:  httpResp.StatusCode,
			Message: messageFromBody(raw),
			Body:    raw,
		}
	}

	resp := Response{Status: httpResp.StatusCode, Header: httpResp.Header, Raw: raw}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &resp.Body); err != nil {
			return Response{}, &Error{
				Kind:    KindUnknown,
				Op:      req.Op,
				Method:  req.Method,
				URL:     target,
				Status:  httpResp.StatusCode,
				Message: "response is not valid JSON",
				Body:    raw,
				Err:     err,
			}
		}
	}
	return resp, nil
}

func (c *Client) applyHeaders(h http.Header, extra map[string]string) {
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("User-Agent", c.opts.UserAgent)
	if c.opts.Token != "" {
		h.Set("Authorization", "Bearer "+c.opts.Token)
	}
	for k, v := range extra {
		// An empty caller value never strips a header we set.
		if v == "" {
			continue
		}
		h.Set(k, v)
	}
}

func (c *Client) resolve(raw string, query url.Values) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if !u.IsAbs() {
		if c.base == nil {
			return "", fmt.Errorf("relative url %q without a base url", raw)
		}
		joined := *c.base
		joined.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(u.Path, "/")
		joined.RawPath = ""
		if u.RawPath != "" {
			joined.RawPath = strings.TrimRight(c.base.EscapedPath(), "/") + "/" + strings.TrimLeft(u.RawPath, "/")
		}
		joined.RawQuery = u.RawQuery
		u = &joined
	} else if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) observe(op string, err *Error) {
	if c.opts.OnResult == nil {
		return
	}
	if err == nil {
		c.opts.OnResult(op, "ok")
		return
	}
	c.opts.OnResult(op, string(err.Kind))
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		return json.Marshal(b)
	}
}

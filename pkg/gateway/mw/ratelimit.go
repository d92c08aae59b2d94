package mw

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/apierror"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/auth"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/ratelimit"
)

type RateLimitOptions struct {
	// TrustProxyHeaders lets X-Forwarded-For pick the client IP.
	TrustProxyHeaders bool
	// Exempt requests bypass the limiter.
	Exempt func(*http.Request) bool
	// OnDenied is called once per rejected request.
	OnDenied func()
}

// RateLimit charges one token per request to the authenticated principal,
// or to the client IP when there is none.
func RateLimit(limiter *ratelimit.Limiter, opts RateLimitOptions, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || (opts.Exempt != nil && opts.Exempt(r)) {
			next.ServeHTTP(w, r)
			return
		}

		key := "ip:" + ClientIP(r, opts.TrustProxyHeaders)
		if p, ok := auth.PrincipalFrom(r.Context()); ok {
			key = p.KeyID
		}

		dec := limiter.Allow(key, 1)
		if !dec.Allowed {
			if opts.OnDenied != nil {
				opts.OnDenied()
			}
			w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
			apierror.WriteStatus(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// FailedAuthLimit charges the client IP one token for every request the
// wrapped handler rejects with 403. Once an IP has spent its budget, its
// requests get 429 before any credential is checked.
func FailedAuthLimit(limiter *ratelimit.Limiter, opts RateLimitOptions, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || (opts.Exempt != nil && opts.Exempt(r)) {
			next.ServeHTTP(w, r)
			return
		}

		key := "authfail:" + ClientIP(r, opts.TrustProxyHeaders)
		if dec := limiter.Peek(key, 1); !dec.Allowed {
			if opts.OnDenied != nil {
				opts.OnDenied()
			}
			w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
			apierror.WriteStatus(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		if sw.status == http.StatusForbidden {
			limiter.Allow(key, 1)
		}
	})
}

// ClientIP returns the caller's address without the port.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

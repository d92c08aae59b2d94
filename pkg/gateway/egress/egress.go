// Package egress decides which destinations /agent/call-api may reach.
// Loopback, private, link-local and metadata addresses are refused unless
// the policy allows private targets. The check runs twice: once on the
// requested URL and again on every dial, so DNS answers that change between
// the two cannot slip through.
package egress

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

const MaxURLLength = 8192

var ErrBlocked = errors.New("egress: destination is not allowed")

var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

type Policy struct {
	// AllowPrivate disables the address check. Scheme and credential
	// rules still apply.
	AllowPrivate bool
	Resolver     *net.Resolver
}

func (p Policy) resolver() *net.Resolver {
	if p.Resolver != nil {
		return p.Resolver
	}
	return net.DefaultResolver
}

// CheckURL validates raw and, unless private targets are allowed, every
// address its host resolves to.
func (p Policy) CheckURL(ctx context.Context, raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: url is required", ErrBlocked)
	}
	if len(raw) > MaxURLLength {
		return nil, fmt.Errorf("%w: url longer than %d bytes", ErrBlocked, MaxURLLength)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBlocked, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrBlocked, u.Scheme)
	}
	if u.User != nil {
		return nil, fmt.Errorf("%w: credentials in url", ErrBlocked)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || strings.Contains(host, "%") || !isASCII(host) {
		return nil, fmt.Errorf("%w: invalid host", ErrBlocked)
	}
	if p.AllowPrivate {
		return u, nil
	}
	if _, err := p.resolve(ctx, host); err != nil {
		return nil, err
	}
	return u, nil
}

// resolve returns the first address for host after checking all of them.
func (p Policy) resolve(ctx context.Context, host string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr, checkAddr(addr)
	}
	addrs, err := p.resolver().LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("egress: resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return netip.Addr{}, fmt.Errorf("egress: resolve %s: no records", host)
	}
	for _, a := range addrs {
		if err := checkAddr(a); err != nil {
			return netip.Addr{}, err
		}
	}
	return addrs[0], nil
}

func checkAddr(addr netip.Addr) error {
	addr = addr.Unmap()
	if !addr.IsValid() || addr.IsUnspecified() || addr.IsMulticast() {
		return fmt.Errorf("%w: %s", ErrBlocked, addr)
	}
	for _, pfx := range blockedPrefixes {
		if pfx.Contains(addr) {
			return fmt.Errorf("%w: %s", ErrBlocked, addr)
		}
	}
	return nil
}

// Transport returns a transport that dials only addresses the policy
// accepts. Proxies are disabled so the check sees the real destination.
func (p Policy) Transport() http.RoundTripper {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if p.AllowPrivate {
		return t
	}
	t.Proxy = nil
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	t.DialContext = func(ctx context.Context, network, address string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			return nil, err
		}
		addr, err := p.resolve(ctx, host)
		if err != nil {
			return nil, err
		}
		return dialer.DialContext(ctx, network, net.JoinHostPort(addr.String(), port))
	}
	return t
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}

package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// TrustedRealIP rewrites r.RemoteAddr from X-Real-IP or X-Forwarded-For,
// but only when the connection comes from a trusted proxy. Without trusted
// proxies the headers are ignored and RemoteAddr is reduced to the bare IP.
//
// Rate limiting and the audit log key on the result, so spoofed headers
// from untrusted clients must never be honored.
func TrustedRealIP(trusted []string) func(http.Handler) http.Handler {
	prefixes := parsePrefixes(trusted)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remote, ok := hostAddr(r.RemoteAddr)
			if ok {
				r.RemoteAddr = remote.String()
				if isTrusted(remote, prefixes) {
					if client, ok := forwardedFor(r); ok {
						r.RemoteAddr = client.String()
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parsePrefixes(cidrs []string) []netip.Prefix {
	var out []netip.Prefix
	for _, cidr := range cidrs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		if p, err := netip.ParsePrefix(cidr); err == nil {
			out = append(out, p.Masked())
			continue
		}
		// Single address, e.g. "127.0.0.1"
		if a, err := netip.ParseAddr(cidr); err == nil {
			out = append(out, netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()))
			continue
		}
		slog.Warn("realip: invalid trusted proxy, skipping", "cidr", cidr)
	}
	return out
}

// forwardedFor returns the client address claimed by the proxy headers.
// X-Real-IP wins; otherwise the first X-Forwarded-For hop.
func forwardedFor(r *http.Request) (netip.Addr, bool) {
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		a, err := netip.ParseAddr(rip)
		return a.Unmap(), err == nil
	}
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return netip.Addr{}, false
	}
	first, _, _ := strings.Cut(xff, ",")
	a, err := netip.ParseAddr(strings.TrimSpace(first))
	return a.Unmap(), err == nil
}

// hostAddr parses an IP from a host:port string or a plain IP.
func hostAddr(addr string) (netip.Addr, bool) {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	a, err := netip.ParseAddr(addr)
	if err != nil {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}

func isTrusted(a netip.Addr, trusted []netip.Prefix) bool {
	for _, p := range trusted {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

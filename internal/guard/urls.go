package guard

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"
)

// blockedCIDRs are the address ranges web fetches may never reach: local,
// private, link-local (cloud metadata), carrier-grade NAT, benchmarking,
// and special-purpose blocks.
var blockedCIDRs = mustParseCIDRs(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("guard: bad CIDR %q: %v", c, err))
		}
		nets = append(nets, n)
	}
	return nets
}

// dnsTimeout bounds the A-record resolution performed on named hosts.
const dnsTimeout = 5 * time.Second

// IsBlockedIP reports whether ip falls in a blocked range. IPv4-mapped
// IPv6 addresses are unwrapped and checked as IPv4; IPv6 loopback,
// link-local, and unique-local addresses are blocked.
func IsBlockedIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		for _, n := range blockedCIDRs {
			if n.Contains(v4) {
				return true
			}
		}
		return false
	}
	return ip.IsLoopback() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsPrivate()
}

// ValidateURL parses rawURL and rejects anything that could reach an
// internal address: non-http(s) schemes, literal IPs in blocked ranges,
// and named hosts whose resolved addresses fall in blocked ranges. DNS
// failures are permitted — the fetch itself will fail later.
func ValidateURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return NewValidationError(fmt.Sprintf("invalid URL: %v", err))
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return NewSecurityError(fmt.Sprintf("blocked URL scheme %q (only http/https allowed)", u.Scheme))
	}

	host := u.Hostname()
	if host == "" {
		return NewValidationError("URL has no host")
	}

	if ip := net.ParseIP(host); ip != nil {
		if IsBlockedIP(ip) {
			slog.Warn("security.ssrf_blocked", "url", rawURL, "ip", ip.String())
			return NewSecurityError(fmt.Sprintf("blocked request to internal address %s", ip))
		}
		return nil
	}

	if blockedHostname(host) {
		slog.Warn("security.ssrf_blocked", "url", rawURL, "host", host)
		return NewSecurityError(fmt.Sprintf("blocked request to internal host %q", host))
	}

	lookupCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()
	addrs, err := net.DefaultResolver.LookupIPAddr(lookupCtx, host)
	if err != nil {
		// Unresolvable now; the actual fetch will surface the failure.
		return nil
	}
	for _, addr := range addrs {
		if IsBlockedIP(addr.IP) {
			slog.Warn("security.ssrf_blocked", "url", rawURL, "host", host, "resolved", addr.IP.String())
			return NewSecurityError(fmt.Sprintf("host %q resolves to internal address %s", host, addr.IP))
		}
	}
	return nil
}

// blockedHostname catches names that are internal without needing DNS.
func blockedHostname(host string) bool {
	h := strings.ToLower(strings.TrimSuffix(host, "."))
	return h == "localhost" || strings.HasSuffix(h, ".localhost") ||
		strings.HasSuffix(h, ".local") || strings.HasSuffix(h, ".internal")
}

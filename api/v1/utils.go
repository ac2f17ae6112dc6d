package v1

import (
	"net"
	"net/netip"
	"strings"

	"log/slog"

	"github.com/gofiber/fiber/v2"

	"visitly/internal/geo"
)

// GetClientIP resolves the caller's address from proxy headers, falling back
// to the connection's remote address. The rate limiter and the geolocation
// resolver both key on this value, so they must always agree on it.
func GetClientIP(c *fiber.Ctx) string {
	// Try standard headers first
	if ip := selectPreferredIP(strings.Split(c.Get("X-Forwarded-For"), ",")); ip != "" {
		return ip
	}

	// Other reverse-proxy headers
	for _, header := range []string{
		"X-Real-IP",
		"CF-Connecting-IP",
		"True-Client-IP",
		"X-Client-IP",
	} {
		if value := c.Get(header); value != "" {
			if ip := selectPreferredIP([]string{value}); ip != "" {
				return ip
			}
		}
	}

	if forwarded := c.Get("Forwarded"); forwarded != "" {
		if ip := selectPreferredIP(parseForwardedHeader(forwarded)); ip != "" {
			return ip
		}
	}

	// Try the remote address from the request directly
	remoteAddr := c.Context().RemoteAddr().String()
	if remoteAddr != "" {
		host, _, err := net.SplitHostPort(remoteAddr)
		if err == nil && host != "" {
			parsedIP := net.ParseIP(host)
			if parsedIP != nil && !geo.IsPrivateIP(parsedIP) {
				return host
			}
		} else {
			parsedIP := net.ParseIP(remoteAddr)
			if parsedIP != nil && !geo.IsPrivateIP(parsedIP) {
				return remoteAddr
			}
		}
	}

	// Finally, use Fiber's built-in method
	ip := c.IP()
	if ip != "" && ip != "0.0.0.0" && ip != "::" {
		parsedIP := net.ParseIP(strings.TrimSpace(ip))
		if parsedIP != nil && !geo.IsPrivateIP(parsedIP) {
			return ip
		}
	}

	// No public address could be determined; local traffic ends up here.
	slog.Default().Debug("Fallback to loopback IP for request",
		slog.String("path", c.Path()))
	return "127.0.0.1"
}

func selectPreferredIP(values []string) string {
	var ipv6Fallback string

	for _, raw := range values {
		clean, parsed := normalizeIP(raw)
		if parsed == nil || geo.IsPrivateIP(parsed) {
			continue
		}

		if parsed.To4() != nil {
			return clean
		}

		if ipv6Fallback == "" {
			ipv6Fallback = clean
		}
	}

	return ipv6Fallback
}

func normalizeIP(raw string) (string, net.IP) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"")
	if clean == "" {
		return "", nil
	}

	// Remove zone identifier if present (e.g. fe80::1%eth0)
	if percent := strings.Index(clean, "%"); percent != -1 {
		clean = clean[:percent]
	}

	// Try parsing addr:port (handles both IPv4:port and [IPv6]:port)
	if addrPort, err := netip.ParseAddrPort(clean); err == nil {
		addr := addrPort.Addr()
		if addr.Is4In6() {
			addr = addr.Unmap()
		}
		ipStr := addr.String()
		return ipStr, net.ParseIP(ipStr)
	}

	trimmed := clean
	if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
		trimmed = strings.TrimPrefix(trimmed, "[")
		trimmed = strings.TrimSuffix(trimmed, "]")
	}

	if addr, err := netip.ParseAddr(trimmed); err == nil {
		if addr.Is4In6() {
			addr = addr.Unmap()
		}
		ipStr := addr.String()
		return ipStr, net.ParseIP(ipStr)
	}

	if host, _, err := net.SplitHostPort(clean); err == nil {
		return normalizeIP(host)
	}

	return "", nil
}

func parseForwardedHeader(header string) []string {
	var candidates []string

	entries := strings.Split(header, ",")
	for _, entry := range entries {
		parts := strings.Split(entry, ";")
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(strings.ToLower(part), "for=") {
				ip := strings.TrimPrefix(part, "for=")
				candidates = append(candidates, ip)
			}
		}
	}

	return candidates
}

package helpers

import (
	"net"
	"net/http"
	"strings"
)

// GetRealIP extracts the client IP, preferring X-Forwarded-For then
// X-Real-IP over the socket address. The reverse proxy in front of the
// services is expected to sanitize these headers.
func GetRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, p := range strings.Split(xff, ",") {
			ipStr := strings.TrimSpace(p)
			if ip := net.ParseIP(ipStr); ip != nil {
				return ip.String()
			}
		}
	}

	if xr := r.Header.Get("X-Real-IP"); xr != "" {
		if ip := net.ParseIP(strings.TrimSpace(xr)); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip.String()
		}
	}
	if ip := net.ParseIP(r.RemoteAddr); ip != nil {
		return ip.String()
	}
	return ""
}

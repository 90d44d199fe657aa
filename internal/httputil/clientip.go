// Package httputil holds small HTTP request helpers shared by the API
// middleware.
package httputil

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the originating client address for a request. Behind the
// gateway's reverse proxy the X-Forwarded-For chain is authoritative (first
// hop is the client); X-Real-IP is the single-proxy variant; a direct
// connection falls back to RemoteAddr.
func ClientIP(r *http.Request) string {
	for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if ip := strings.TrimSpace(hop); ip != "" {
			return ip
		}
	}

	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

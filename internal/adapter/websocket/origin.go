package websocket

import (
	"log/slog"
	"net/http"
	"net/url"
)

// NewCheckOrigin returns a CheckOrigin function for the view stream upgrader.
// It allows empty origins (non-browser clients), same-host origins, and the
// frontend's origin (derived from frontendURL). When isDevelopment is true,
// localhost origins are additionally allowed.
func NewCheckOrigin(frontendURL string, isDevelopment bool) func(r *http.Request) bool {
	frontendOrigin := extractOrigin(frontendURL)

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		if origin == "" {
			return true
		}

		if frontendOrigin != "" && origin == frontendOrigin {
			return true
		}

		if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
			return true
		}

		if isDevelopment && isLocalhostOrigin(origin) {
			return true
		}

		slog.Warn("WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
		return false
	}
}

func extractOrigin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func isLocalhostOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1"
}

package middleware

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"
)

// accessLogEntry is one JSON line per request. Route is the chi pattern, so
// entries for different codebases aggregate under the same key.
type accessLogEntry struct {
	Time       string `json:"ts"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	Route      string `json:"route,omitempty"`
	CodebaseID string `json:"codebase_id,omitempty"`
	Status     int    `json:"status"`
	Bytes      int    `json:"bytes"`
	Millis     int64  `json:"duration_ms"`
	RequestID  string `json:"request_id,omitempty"`
	KeyID      string `json:"key_id,omitempty"`
	Client     string `json:"client_ip,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
}

// AccessLog writes an access line through the standard logger after the
// handler returns. Health probes are only logged when they fail.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.Status()
		if r.URL.Path == "/health" && status < http.StatusBadRequest {
			return
		}

		route, codebaseID := routeInfo(r)
		line, err := json.Marshal(accessLogEntry{
			Time:       start.UTC().Format(time.RFC3339Nano),
			Method:     r.Method,
			Path:       r.URL.Path,
			Route:      route,
			CodebaseID: codebaseID,
			Status:     status,
			Bytes:      rec.bytes,
			Millis:     time.Since(start).Milliseconds(),
			RequestID:  GetRequestID(r.Context()),
			KeyID:      RequestKeyID(r),
			Client:     clientIP(r),
			UserAgent:  r.UserAgent(),
		})
		if err != nil {
			log.Printf("access log: marshal: %v", err)
			return
		}
		log.Print(string(line))
	})
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// socket peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

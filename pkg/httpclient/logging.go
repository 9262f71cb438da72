package httpclient

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// logTripper injects the User-Agent and logs every request with a
// redacted URL. Status 400+ and transport errors log at warn.
type logTripper struct {
	base      http.RoundTripper
	userAgent string
}

func (t *logTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		slog.Warn("http request failed",
			"method", req.Method,
			"url", redactURL(req.URL),
			"duration_ms", elapsed,
			"error", err.Error())
		return resp, err
	}

	level := slog.LevelDebug
	if resp.StatusCode >= 400 {
		level = slog.LevelWarn
	}
	slog.Log(req.Context(), level, "http request",
		"method", req.Method,
		"url", redactURL(req.URL),
		"status", resp.StatusCode,
		"duration_ms", elapsed)
	return resp, nil
}

// secretParamMarkers flags query parameters whose values must never
// reach the logs. Matched as case-insensitive substrings, so api_key,
// apiKey, and X-Goog-Api-Key style names are all caught.
var secretParamMarkers = []string{
	"key", "token", "secret", "password", "auth", "credential",
}

func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	q := u.Query()
	redacted := false
	for name := range q {
		lower := strings.ToLower(name)
		for _, marker := range secretParamMarkers {
			if strings.Contains(lower, marker) {
				q.Set(name, "[REDACTED]")
				redacted = true
				break
			}
		}
	}
	if !redacted {
		return u.String()
	}
	safe := *u
	safe.RawQuery = q.Encode()
	return safe.String()
}

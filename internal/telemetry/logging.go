// Package telemetry builds the structured logger shared by every component.
package telemetry

import (
	"io"
	"log/slog"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// NewLogger returns a slog logger writing to w at the given level. jsonFormat
// selects JSON lines over logfmt-style text. Sensitive keys and credentials
// embedded in URLs are redacted.
func NewLogger(w io.Writer, level string, jsonFormat bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if shouldRedactKey(a.Key) {
				return slog.String(a.Key, redacted)
			}
			if a.Value.Kind() == slog.KindString {
				if v, ok := redactStringValue(a.Value.String()); ok {
					return slog.String(a.Key, v)
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func shouldRedactKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	if lower == "" {
		return false
	}
	for _, token := range []string{"password", "secret", "token", "authorization"} {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

// userinfoPattern matches the user:password@ part of http(s) URLs.
var userinfoPattern = regexp.MustCompile(`(?i)(https?://)[^/@\s]+@`)

func redactStringValue(v string) (string, bool) {
	if strings.Contains(strings.ToLower(v), "authorization: basic") {
		return redacted, true
	}
	out := userinfoPattern.ReplaceAllString(v, "${1}"+redacted+"@")
	return out, out != v
}

// ParseLevel maps a config level name to a slog level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

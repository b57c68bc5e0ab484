package logger

import (
	"fmt"
	"log/slog"
	"strings"
)

// Key patterns whose values are never logged.
var sensitiveKeyPatterns = []string{
	"seal",
	"secret",
	"password",
	"passphrase",
	"key_material",
}

// rawValueKey names attributes carrying stored values. Byte slices under it
// are summarized by length.
const rawValueKey = "value"

// redactedValue is the placeholder for redacted sensitive data.
const redactedValue = "***REDACTED***"

// redactSensitive masks sensitive attributes.
func redactSensitive(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}

	if IsSensitiveKey(a.Key) {
		if a.Value.Kind() == slog.KindString && a.Value.String() == "" {
			return a
		}
		return slog.String(a.Key, redactedValue)
	}

	if a.Key == rawValueKey && a.Value.Kind() == slog.KindAny {
		if b, ok := a.Value.Any().([]byte); ok {
			return slog.String(a.Key, SummarizeBytes(b))
		}
	}
	return a
}

// SummarizeBytes describes b without revealing its content.
func SummarizeBytes(b []byte) string {
	return fmt.Sprintf("<%d bytes>", len(b))
}

// IsSensitiveKey reports whether a key name suggests secret content.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	return false
}

package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// maxHeaderValueLen caps any single header value.
const maxHeaderValueLen = 8 << 10

var (
	// Logged but not blocked; parameterized queries are the actual defense.
	sqlPattern = regexp.MustCompile(`(?i)('+\s*;\s*DROP\b|UNION\s+SELECT\b|'\s+OR\s+1\s*=\s*1|1\s*=\s*1)`)

	// Blocked outright.
	scriptPattern = regexp.MustCompile(`(?i)(<script|javascript\s*:|on\w+\s*=)`)
)

// Sanitize rejects requests whose path, headers, or query string carry
// injection payloads, without logging.
func Sanitize() echo.MiddlewareFunc {
	return SanitizeWithLogger(zerolog.Nop())
}

// SanitizeWithLogger validates every incoming request before routing.
// Traversal sequences, null bytes, header CRLF injection, oversized header
// values, and script payloads in query parameters all yield 400. Suspected
// SQL fragments are logged for review and passed through.
func SanitizeWithLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			if reason := vetPath(req.URL.Path, req.URL.RawPath); reason != "" {
				return rejectRequest(c, reason)
			}
			if reason := vetHeaders(req.Header); reason != "" {
				return rejectRequest(c, reason)
			}

			for key, values := range req.URL.Query() {
				if hasNullByte(key) {
					return rejectRequest(c, "Null byte injection detected in query parameter")
				}
				if scriptPattern.MatchString(key) {
					return rejectRequest(c, "Script injection detected in query parameter")
				}
				for _, v := range values {
					if hasNullByte(v) {
						return rejectRequest(c, "Null byte injection detected in query parameter")
					}
					if scriptPattern.MatchString(v) {
						return rejectRequest(c, "Script injection detected in query parameter")
					}
					if sqlPattern.MatchString(v) {
						logger.Warn().
							Str("param", key).
							Str("path", req.URL.Path).
							Str("remote_ip", c.RealIP()).
							Msg("SQL pattern in query parameter")
					}
				}
			}

			return next(c)
		}
	}
}

func vetPath(path, rawPath string) string {
	if rawPath == "" {
		rawPath = path
	}
	if hasTraversal(path) || hasTraversal(rawPath) {
		return "Path traversal detected"
	}
	if hasNullByte(path) || hasNullByte(rawPath) {
		return "Null byte injection detected"
	}
	return ""
}

func vetHeaders(headers http.Header) string {
	for name, values := range headers {
		for _, v := range values {
			if len(v) > maxHeaderValueLen {
				return "Header value exceeds maximum size: " + name
			}
			if strings.ContainsAny(v, "\r\n") {
				return "Header injection detected: " + name
			}
		}
	}
	return ""
}

// hasTraversal matches dot-dot sequences in literal, percent-encoded, and
// double-encoded forms.
func hasTraversal(s string) bool {
	if strings.Contains(s, "..") {
		return true
	}
	lower := strings.ToLower(s)
	return strings.Contains(lower, "%2e%2e") || strings.Contains(lower, "%252e")
}

func hasNullByte(s string) bool {
	return strings.ContainsRune(s, '\x00') || strings.Contains(strings.ToLower(s), "%00")
}

func rejectRequest(c echo.Context, reason string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": reason})
}

// SanitizeString strips null bytes and control characters (newline, carriage
// return, and tab survive) and trims surrounding whitespace. Handlers apply
// it to free-text fields such as prescription notes.
func SanitizeString(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r == '\x00' {
			continue
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

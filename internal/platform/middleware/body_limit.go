package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// BodyLimit caps request body sizes. defaultLimit covers JSON endpoints;
// uploadLimit covers the multipart prescription upload endpoints, where a
// scanned document dwarfs any JSON payload.
//
// Limits are size strings: a bare number is bytes, and K, M, G suffixes
// (optionally with a trailing B) scale it. Oversized requests get 413.
func BodyLimit(defaultLimit string, uploadLimit string) echo.MiddlewareFunc {
	defaultBytes := parseSizeLimit(defaultLimit)
	uploadBytes := parseSizeLimit(uploadLimit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			limit := defaultBytes
			if req.Method == http.MethodPost && isUploadPath(req.URL.Path) {
				limit = uploadBytes
			}

			// Content-Length allows rejecting before reading anything.
			if req.ContentLength > limit {
				return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
					"error": fmt.Sprintf("request body exceeds maximum allowed size of %d bytes", limit),
				})
			}

			// The header can lie or be absent, so the body itself is capped
			// as well.
			req.Body = &sizeCappedBody{inner: req.Body, remaining: limit}

			return next(c)
		}
	}
}

// isUploadPath reports whether the path accepts prescription file uploads.
func isUploadPath(path string) bool {
	path = strings.TrimSuffix(path, "/")
	return path == "/api/v1/files" || path == "/api/v1/prescriptions"
}

// sizeCappedBody fails the read once more than the allowed bytes arrive.
type sizeCappedBody struct {
	inner     io.ReadCloser
	remaining int64
	exceeded  bool
}

func (b *sizeCappedBody) Read(p []byte) (int, error) {
	if b.exceeded {
		return 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}

	// Read one byte beyond the remaining budget to detect overflow.
	if budget := b.remaining + 1; int64(len(p)) > budget {
		p = p[:budget]
	}

	n, err := b.inner.Read(p)
	b.remaining -= int64(n)
	if b.remaining < 0 {
		b.exceeded = true
		return 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}
	return n, err
}

func (b *sizeCappedBody) Close() error {
	return b.inner.Close()
}

// parseSizeLimit turns "512", "64K", "1M", or "20MB" into bytes. Anything
// unparsable falls back to 1 MB.
func parseSizeLimit(s string) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 1 << 20
	}

	multiplier := int64(1)
	for _, unit := range []struct {
		suffix string
		factor int64
	}{
		{"GB", 1 << 30}, {"G", 1 << 30},
		{"MB", 1 << 20}, {"M", 1 << 20},
		{"KB", 1 << 10}, {"K", 1 << 10},
	} {
		if rest, ok := strings.CutSuffix(s, unit.suffix); ok {
			s, multiplier = rest, unit.factor
			break
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 1 << 20
	}
	return n * multiplier
}

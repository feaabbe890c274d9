package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// CacheConfig holds HTTP cache and ETag settings. Responses carry patient
// data by default, so Private defaults to true and the max-age stays short
// because stock levels move underneath cached availability results.
type CacheConfig struct {
	MaxAge       int      // Cache-Control max-age in seconds
	Private      bool     // private vs public cacheability
	NoStore      bool     // disable storage entirely for sensitive endpoints
	VaryHeaders  []string // headers appended to Vary
	ExcludePaths []string // exact paths that bypass the middleware
}

// DefaultCacheConfig returns the settings used on the API group.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxAge:      30,
		Private:     true,
		VaryHeaders: []string{"Accept", "Authorization"},
	}
}

// CachedResponse is a stored response body plus the headers needed to replay
// it faithfully on a hit.
type CachedResponse struct {
	Body        []byte
	ContentType string
	ETag        string
	StoredAt    time.Time
}

// CacheStore is the backend for the response cache.
type CacheStore interface {
	Get(key string) (*CachedResponse, bool)
	Set(key string, resp *CachedResponse, ttl time.Duration)
	Delete(key string)
	Clear()
}

type cacheEntry struct {
	resp      *CachedResponse
	expiresAt time.Time
}

// InMemoryCacheStore is a thread-safe CacheStore with lazy expiration.
type InMemoryCacheStore struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

func NewInMemoryCacheStore() *InMemoryCacheStore {
	return &InMemoryCacheStore{entries: make(map[string]*cacheEntry)}
}

// Get returns the cached response for key. Expired entries count as misses
// and are removed on access.
func (s *InMemoryCacheStore) Get(key string) (*CachedResponse, bool) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false
	}
	return entry.resp, true
}

func (s *InMemoryCacheStore) Set(key string, resp *CachedResponse, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &cacheEntry{resp: resp, expiresAt: time.Now().Add(ttl)}
}

func (s *InMemoryCacheStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (s *InMemoryCacheStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*cacheEntry)
}

// Len reports the number of stored entries, expired ones included.
func (s *InMemoryCacheStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// StartCleanup sweeps expired entries on the given interval until the
// context is cancelled.
func (s *InMemoryCacheStore) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now()
				s.mu.Lock()
				for k, v := range s.entries {
					if now.After(v.expiresAt) {
						delete(s.entries, k)
					}
				}
				s.mu.Unlock()
			}
		}
	}()
}

// bodyCaptureWriter buffers the response body so the middleware can hash or
// store it before anything reaches the client.
type bodyCaptureWriter struct {
	writer     http.ResponseWriter
	buf        bytes.Buffer
	statusCode int
}

func newBodyCaptureWriter(w http.ResponseWriter) *bodyCaptureWriter {
	return &bodyCaptureWriter{writer: w, statusCode: http.StatusOK}
}

func (w *bodyCaptureWriter) Header() http.Header {
	return w.writer.Header()
}

func (w *bodyCaptureWriter) Write(b []byte) (int, error) {
	return w.buf.Write(b)
}

func (w *bodyCaptureWriter) WriteHeader(code int) {
	w.statusCode = code
}

// Flush is a no-op; the body is released in one piece by release.
func (w *bodyCaptureWriter) Flush() {}

func (w *bodyCaptureWriter) release() error {
	w.writer.WriteHeader(w.statusCode)
	if w.buf.Len() > 0 {
		_, err := w.writer.Write(w.buf.Bytes())
		return err
	}
	return nil
}

// ETagMiddleware sets ETag, Cache-Control, and Vary on successful GET and
// HEAD responses and answers If-None-Match with 304 Not Modified.
func ETagMiddleware(config CacheConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method != http.MethodGet && req.Method != http.MethodHead {
				return next(c)
			}
			if pathExcluded(req.URL.Path, config.ExcludePaths) {
				return next(c)
			}

			res := c.Response()
			origWriter := res.Writer
			capture := newBodyCaptureWriter(origWriter)
			res.Writer = capture

			err := next(c)
			res.Writer = origWriter
			if err != nil {
				return err
			}

			// Error responses pass through without cache headers.
			if capture.statusCode >= http.StatusBadRequest {
				return capture.release()
			}

			res.Header().Set("Cache-Control", cacheControlValue(config))
			if len(config.VaryHeaders) > 0 {
				res.Header().Set("Vary", strings.Join(config.VaryHeaders, ", "))
			}

			if body := capture.buf.Bytes(); len(body) > 0 {
				etag := weakETag(body)
				res.Header().Set("ETag", etag)
				if match := req.Header.Get("If-None-Match"); match != "" && etagMatch(match, etag) {
					origWriter.WriteHeader(http.StatusNotModified)
					return nil
				}
			}

			return capture.release()
		}
	}
}

// ResponseCache serves repeated GETs to the listed paths from store.
// Availability lookups run a geo-filtered query per request, so identical
// searches inside the TTL reuse the stored body instead. Cached paths must
// not produce caller-specific responses.
func ResponseCache(store CacheStore, ttl time.Duration, paths ...string) echo.MiddlewareFunc {
	cacheable := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		cacheable[p] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method != http.MethodGet {
				return next(c)
			}
			if _, ok := cacheable[req.URL.Path]; !ok {
				return next(c)
			}

			// Query parameters select the item and geo filter, so they are
			// part of the identity of the cached result.
			key := cacheKey(req.URL.Path, req.URL.RawQuery, req.Header.Get("Accept"))

			if cached, ok := store.Get(key); ok {
				res := c.Response()
				res.Header().Set("X-Cache", "HIT")
				if cached.ContentType != "" {
					res.Header().Set(echo.HeaderContentType, cached.ContentType)
				}
				if cached.ETag != "" {
					res.Header().Set("ETag", cached.ETag)
				}
				res.WriteHeader(http.StatusOK)
				_, err := res.Write(cached.Body)
				return err
			}

			res := c.Response()
			origWriter := res.Writer
			capture := newBodyCaptureWriter(origWriter)
			res.Writer = capture

			err := next(c)
			res.Writer = origWriter
			if err != nil {
				return err
			}

			if capture.statusCode == http.StatusOK {
				body := make([]byte, capture.buf.Len())
				copy(body, capture.buf.Bytes())
				store.Set(key, &CachedResponse{
					Body:        body,
					ContentType: res.Header().Get(echo.HeaderContentType),
					ETag:        res.Header().Get("ETag"),
					StoredAt:    time.Now().UTC(),
				}, ttl)
			}

			res.Header().Set("X-Cache", "MISS")
			return capture.release()
		}
	}
}

// weakETag hashes the body with SHA-256 and returns the first half as a
// weak validator.
func weakETag(body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf(`W/"%x"`, sum[:16])
}

func cacheKey(path, rawQuery, accept string) string {
	return path + "?" + rawQuery + "#" + accept
}

func pathExcluded(path string, excludes []string) bool {
	for _, ex := range excludes {
		if path == ex {
			return true
		}
	}
	return false
}

func cacheControlValue(config CacheConfig) string {
	parts := make([]string, 0, 3)
	if config.NoStore {
		parts = append(parts, "no-store")
	}
	if config.Private {
		parts = append(parts, "private")
	} else {
		parts = append(parts, "public")
	}
	parts = append(parts, fmt.Sprintf("max-age=%d", config.MaxAge))
	return strings.Join(parts, ", ")
}

// etagMatch reports whether the If-None-Match header value matches etag.
// Comma-separated candidate lists and the "*" wildcard are honored, and the
// comparison ignores the W/ weakness prefix.
func etagMatch(headerVal, etag string) bool {
	headerVal = strings.TrimSpace(headerVal)
	if headerVal == "*" {
		return true
	}
	for _, candidate := range strings.Split(headerVal, ",") {
		if strings.TrimPrefix(strings.TrimSpace(candidate), "W/") == strings.TrimPrefix(etag, "W/") {
			return true
		}
	}
	return false
}

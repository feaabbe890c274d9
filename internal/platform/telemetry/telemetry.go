// Package telemetry records request traces and serves Prometheus metrics for
// the fulfillment engine without pulling in the OpenTelemetry SDK. Spans are
// structured in-memory records; metrics are counters, gauges, and histograms
// exported in text exposition format.
package telemetry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	mathrand "math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// Config holds the telemetry settings.
type Config struct {
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	MetricsEnabled *bool   `json:"metrics_enabled"` // nil means enabled
	TracingEnabled *bool   `json:"tracing_enabled"` // nil means enabled
	SampleRate     float64 `json:"sample_rate"`     // fraction of requests traced, 0 means 1.0
	MaxSpans       int     `json:"max_spans"`       // bound on the in-memory span buffer
}

func (c *Config) metricsOn() bool {
	return c.MetricsEnabled == nil || *c.MetricsEnabled
}

func (c *Config) tracingOn() bool {
	return c.TracingEnabled == nil || *c.TracingEnabled
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "rxgate-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.SampleRate <= 0 || c.SampleRate > 1 {
		c.SampleRate = 1.0
	}
	if c.MaxSpans <= 0 {
		c.MaxSpans = 4096
	}
}

// BoolPtr builds a *bool for the Enabled fields.
func BoolPtr(b bool) *bool {
	return &b
}

// SpanStatus mirrors the OTel span status code.
type SpanStatus int

const (
	SpanStatusUnset SpanStatus = iota
	SpanStatusOK
	SpanStatusError
)

// Span is one recorded request trace.
type Span struct {
	TraceID    string            `json:"trace_id"`
	SpanID     string            `json:"span_id"`
	Name       string            `json:"name"`
	StartTime  time.Time         `json:"start_time"`
	EndTime    time.Time         `json:"end_time"`
	Duration   time.Duration     `json:"duration_ns"`
	StatusCode SpanStatus        `json:"status_code"`
	Attributes map[string]string `json:"attributes"`
}

// JSON serializes the span for log shipping.
func (s *Span) JSON() string {
	b, _ := json.Marshal(s)
	return string(b)
}

// histogram is a fixed-boundary histogram. Bucket counts are stored raw and
// cumulated at export time. The sum is a float64 kept in a uint64 for atomic
// updates.
type histogram struct {
	boundaries []float64
	buckets    []int64
	count      int64
	sum        uint64
	mu         sync.Mutex // guards buckets
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries: boundaries,
		buckets:    make([]int64, len(boundaries)),
	}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	for {
		old := atomic.LoadUint64(&h.sum)
		next := math.Float64bits(math.Float64frombits(old) + v)
		if atomic.CompareAndSwapUint64(&h.sum, old, next) {
			break
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.buckets[i]++
			return
		}
	}
	// Beyond the last boundary; the +Inf bucket is derived from count.
}

func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

func (h *histogram) cumulative() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.buckets))
	copy(raw, h.buckets)
	h.mu.Unlock()

	var running int64
	for i, c := range raw {
		running += c
		raw[i] = running
	}
	return raw
}

// int64Store backs both counters and gauges: a keyed set of atomically
// updated int64 values.
type int64Store struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newInt64Store() *int64Store {
	return &int64Store{items: make(map[string]*int64)}
}

func (s *int64Store) cell(key string) *int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return p
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.items[key]; ok {
		return p
	}
	p = new(int64)
	s.items[key] = p
	return p
}

func (s *int64Store) add(key string, delta int64) {
	atomic.AddInt64(s.cell(key), delta)
}

func (s *int64Store) set(key string, val int64) {
	atomic.StoreInt64(s.cell(key), val)
}

func (s *int64Store) get(key string) int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

func (s *int64Store) snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]int64, len(s.items))
	for k, p := range s.items {
		cp[k] = atomic.LoadInt64(p)
	}
	return cp
}

// Histogram bucket boundaries. Durations follow the OTel HTTP convention in
// seconds; sizes are bytes.
var (
	durationBuckets = []float64{0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0}
	sizeBuckets     = []float64{100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000}
)

const (
	metricRequestDuration = "http.server.request.duration"
	metricRequestSize     = "http.server.request.size"
	metricResponseSize    = "http.server.response.size"
	metricActiveRequests  = "http.server.active_requests"

	counterDecisions   = "decisions.count"
	counterTransitions = "orders.transition.count"
	counterNotifies    = "notifications.count"

	gaugePoolActive = "db.pool.active_connections"
	gaugePoolIdle   = "db.pool.idle_connections"
	gaugePendingRx  = "prescriptions.pending"
)

// Provider owns all observability state for the process.
type Provider struct {
	cfg Config

	spansMu sync.Mutex
	spans   []*Span

	histMu     sync.RWMutex
	histograms map[string]*histogram

	counters *int64Store
	gauges   *int64Store

	shutdownOnce sync.Once
	done         chan struct{}
}

// NewProvider builds a Provider with defaults applied.
func NewProvider(cfg Config) *Provider {
	cfg.applyDefaults()
	return &Provider{
		cfg:        cfg,
		histograms: make(map[string]*histogram),
		counters:   newInt64Store(),
		gauges:     newInt64Store(),
		done:       make(chan struct{}),
	}
}

// Shutdown is idempotent.
func (p *Provider) Shutdown(_ context.Context) error {
	p.shutdownOnce.Do(func() {
		close(p.done)
	})
	return nil
}

// Resource returns the service identity attributes.
func (p *Provider) Resource() map[string]string {
	return map[string]string{
		"service.name":           p.cfg.ServiceName,
		"service.version":        p.cfg.ServiceVersion,
		"deployment.environment": p.cfg.Environment,
	}
}

// RecordedSpans returns a copy of the span buffer, oldest first.
func (p *Provider) RecordedSpans() []*Span {
	p.spansMu.Lock()
	defer p.spansMu.Unlock()
	cp := make([]*Span, len(p.spans))
	copy(cp, p.spans)
	return cp
}

// recordSpan appends to the bounded buffer, dropping the oldest span once
// the cap is reached.
func (p *Provider) recordSpan(s *Span) {
	p.spansMu.Lock()
	defer p.spansMu.Unlock()
	if len(p.spans) >= p.cfg.MaxSpans {
		copy(p.spans, p.spans[1:])
		p.spans[len(p.spans)-1] = s
		return
	}
	p.spans = append(p.spans, s)
}

func (p *Provider) sampled() bool {
	if p.cfg.SampleRate >= 1.0 {
		return true
	}
	return mathrand.Float64() < p.cfg.SampleRate
}

// SeriesKey builds the map key for a labeled duration series.
func SeriesKey(method, route, statusCode string) string {
	return method + "|" + route + "|" + statusCode
}

func (p *Provider) getOrCreateHistogram(key string, boundaries []float64) *histogram {
	p.histMu.RLock()
	h, ok := p.histograms[key]
	p.histMu.RUnlock()
	if ok {
		return h
	}
	p.histMu.Lock()
	defer p.histMu.Unlock()
	if h, ok = p.histograms[key]; ok {
		return h
	}
	h = newHistogram(boundaries)
	p.histograms[key] = h
	return h
}

// Histogram returns the named global histogram, or nil.
func (p *Provider) Histogram(name string) *histogram {
	p.histMu.RLock()
	defer p.histMu.RUnlock()
	return p.histograms[name]
}

// LabeledHistogram returns the per-series histogram for a SeriesKey, or nil.
func (p *Provider) LabeledHistogram(name, key string) *histogram {
	p.histMu.RLock()
	defer p.histMu.RUnlock()
	return p.histograms[name+"|"+key]
}

// Gauge returns the current gauge value.
func (p *Provider) Gauge(name string) int64 {
	return p.gauges.get(name)
}

// Counter returns the value of a counter for the given label values.
func (p *Provider) Counter(name string, labels ...string) int64 {
	key := name
	for _, l := range labels {
		key += "|" + l
	}
	return p.counters.get(key)
}

// CountDecision increments the decision counter for an outcome
// (verified, rejected, expired).
func (p *Provider) CountDecision(outcome string) {
	p.counters.add(counterDecisions+"|"+outcome, 1)
}

// CountOrderTransition increments the order transition counter for the
// status an order moved into.
func (p *Provider) CountOrderTransition(status string) {
	p.counters.add(counterTransitions+"|"+status, 1)
}

// CountNotification increments the notification counter by channel
// (email, sms) and result (sent, failed, skipped).
func (p *Provider) CountNotification(channel, result string) {
	p.counters.add(counterNotifies+"|"+channel+"|"+result, 1)
}

// HealthRecorder updates operational gauges sampled outside the request path.
type HealthRecorder struct {
	p *Provider
}

// Health returns the gauge recorder.
func (p *Provider) Health() *HealthRecorder {
	return &HealthRecorder{p: p}
}

func (h *HealthRecorder) SetDBPoolActive(n int64) {
	h.p.gauges.set(gaugePoolActive, n)
}

func (h *HealthRecorder) SetDBPoolIdle(n int64) {
	h.p.gauges.set(gaugePoolIdle, n)
}

// SetPendingPrescriptions records the size of the review backlog.
func (h *HealthRecorder) SetPendingPrescriptions(n int64) {
	h.p.gauges.set(gaugePendingRx, n)
}

// TracingMiddleware records one span per sampled request.
func (p *Provider) TracingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !p.cfg.tracingOn() || !p.sampled() {
				return next(c)
			}

			start := time.Now()
			req := c.Request()

			err := next(c)

			end := time.Now()
			statusCode := c.Response().Status

			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}

			status := SpanStatusOK
			if statusCode >= http.StatusInternalServerError {
				status = SpanStatusError
			}

			attrs := map[string]string{
				"http.method":      req.Method,
				"http.route":       route,
				"http.status_code": fmt.Sprintf("%d", statusCode),
				"http.url":         req.URL.String(),
			}
			if resource := extractAPIResource(req.URL.Path); resource != "" {
				attrs["api.resource"] = resource
			}
			if rid, ok := c.Get("request_id").(string); ok && rid != "" {
				attrs["request_id"] = rid
			}

			p.recordSpan(&Span{
				TraceID:    generateID(16),
				SpanID:     generateID(8),
				Name:       "HTTP " + req.Method + " " + route,
				StartTime:  start,
				EndTime:    end,
				Duration:   end.Sub(start),
				StatusCode: status,
				Attributes: attrs,
			})

			return err
		}
	}
}

// MetricsMiddleware records request duration, size, and in-flight gauges.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !p.cfg.metricsOn() {
				return next(c)
			}

			p.gauges.add(metricActiveRequests, 1)
			start := time.Now()
			req := c.Request()

			err := next(c)

			duration := time.Since(start).Seconds()
			p.gauges.add(metricActiveRequests, -1)

			resp := c.Response()
			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}

			p.getOrCreateHistogram(metricRequestDuration, durationBuckets).Observe(duration)

			series := SeriesKey(req.Method, route, fmt.Sprintf("%d", resp.Status))
			p.getOrCreateHistogram(metricRequestDuration+"|"+series, durationBuckets).Observe(duration)

			if req.ContentLength > 0 {
				p.getOrCreateHistogram(metricRequestSize, sizeBuckets).Observe(float64(req.ContentLength))
			}
			if resp.Size > 0 {
				p.getOrCreateHistogram(metricResponseSize, sizeBuckets).Observe(float64(resp.Size))
			}

			return err
		}
	}
}

// PrometheusHandler serves the metrics endpoint in text exposition format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		p.histMu.RLock()
		hists := make(map[string]*histogram, len(p.histograms))
		for k, v := range p.histograms {
			hists[k] = v
		}
		p.histMu.RUnlock()

		b.WriteString("# HELP http_server_request_duration_seconds Duration of HTTP requests in seconds.\n")
		b.WriteString("# TYPE http_server_request_duration_seconds histogram\n")
		for key, h := range hists {
			if !strings.HasPrefix(key, metricRequestDuration+"|") {
				continue
			}
			parts := strings.SplitN(strings.TrimPrefix(key, metricRequestDuration+"|"), "|", 3)
			if len(parts) != 3 {
				continue
			}
			labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
			writeHistogramSeries(&b, "http_server_request_duration_seconds", labels, h, durationBuckets)
		}
		b.WriteByte('\n')

		b.WriteString("# HELP http_server_active_requests Number of in-flight HTTP requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n\n", p.gauges.get(metricActiveRequests))

		writeUnlabeledHistogram(&b, "http_server_request_size_bytes",
			"Size of HTTP request bodies in bytes.", hists[metricRequestSize], sizeBuckets)
		writeUnlabeledHistogram(&b, "http_server_response_size_bytes",
			"Size of HTTP response bodies in bytes.", hists[metricResponseSize], sizeBuckets)

		counters := p.counters.snapshot()

		b.WriteString("# HELP rxgate_decisions_total Prescription decisions by outcome.\n")
		b.WriteString("# TYPE rxgate_decisions_total counter\n")
		writeLabeledCounters(&b, "rxgate_decisions_total", counters, counterDecisions, "outcome")
		b.WriteByte('\n')

		b.WriteString("# HELP rxgate_order_transitions_total Order status transitions by target status.\n")
		b.WriteString("# TYPE rxgate_order_transitions_total counter\n")
		writeLabeledCounters(&b, "rxgate_order_transitions_total", counters, counterTransitions, "status")
		b.WriteByte('\n')

		b.WriteString("# HELP rxgate_notifications_total Notification attempts by channel and result.\n")
		b.WriteString("# TYPE rxgate_notifications_total counter\n")
		writeLabeledCounters(&b, "rxgate_notifications_total", counters, counterNotifies, "channel", "result")
		b.WriteByte('\n')

		for _, g := range []struct {
			promName string
			key      string
			help     string
		}{
			{"db_pool_active_connections", gaugePoolActive, "Active database pool connections."},
			{"db_pool_idle_connections", gaugePoolIdle, "Idle database pool connections."},
			{"rxgate_pending_prescriptions", gaugePendingRx, "Prescriptions awaiting review."},
		} {
			fmt.Fprintf(&b, "# HELP %s %s\n", g.promName, g.help)
			fmt.Fprintf(&b, "# TYPE %s gauge\n", g.promName)
			fmt.Fprintf(&b, "%s %d\n\n", g.promName, p.gauges.get(g.key))
		}

		return c.String(http.StatusOK, b.String())
	}
}

func writeUnlabeledHistogram(b *strings.Builder, name, help string, h *histogram, boundaries []float64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)
	if h != nil {
		writeHistogramSeries(b, name, "", h, boundaries)
	}
	b.WriteByte('\n')
}

func writeHistogramSeries(b *strings.Builder, name, labels string, h *histogram, boundaries []float64) {
	cum := h.cumulative()
	total := h.Count()

	for i, boundary := range boundaries {
		if labels != "" {
			fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
		} else {
			fmt.Fprintf(b, "%s_bucket{le=\"%g\"} %d\n", name, boundary, cum[i])
		}
	}
	if labels != "" {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
		fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
		fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
		return
	}
	fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"} %d\n", name, total)
	fmt.Fprintf(b, "%s_sum %g\n", name, h.Sum())
	fmt.Fprintf(b, "%s_count %d\n", name, total)
}

// writeLabeledCounters renders every counter under prefix with the given
// label names in key order.
func writeLabeledCounters(b *strings.Builder, promName string, counters map[string]int64, prefix string, labelNames ...string) {
	for key, val := range counters {
		if !strings.HasPrefix(key, prefix+"|") {
			continue
		}
		values := strings.Split(strings.TrimPrefix(key, prefix+"|"), "|")
		if len(values) != len(labelNames) {
			continue
		}
		pairs := make([]string, len(labelNames))
		for i, n := range labelNames {
			pairs[i] = fmt.Sprintf("%s=%q", n, values[i])
		}
		fmt.Fprintf(b, "%s{%s} %d\n", promName, strings.Join(pairs, ","), val)
	}
}

// extractAPIResource pulls the collection name out of a versioned API path:
// /api/v1/prescriptions/123 yields "prescriptions". Anything outside /api/v1/
// yields "".
func extractAPIResource(path string) string {
	const prefix = "/api/v1/"
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	rest := strings.TrimPrefix(path, prefix)
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		rest = rest[:idx]
	}
	return rest
}

// generateID returns a random hex string of 2n characters.
func generateID(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

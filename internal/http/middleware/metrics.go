package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// unmatchedPath labels requests that did not hit a registered route, so chat
// ids and probes for unknown URLs never become label values.
const unmatchedPath = "<unmatched>"

// transportMetrics groups the collectors for the HTTP surface. Shortening and
// routing have their own collectors in the shortener and services packages.
type transportMetrics struct {
	requests *prometheus.CounterVec   // method, path, status
	duration *prometheus.HistogramVec // method, path
	size     *prometheus.HistogramVec // method, path
	inflight prometheus.Gauge
	replays  *prometheus.CounterVec // path
}

func newTransportMetrics(reg prometheus.Registerer) *transportMetrics {
	m := &transportMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		// POST /chats/:id/messages waits on one provider call per URL,
		// hence the 30s top bucket.
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "path"}),
		size: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response body size by method and route.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 7),
		}, []string{"method", "path"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Subsystem: "http",
			Name:      "requests_inflight",
			Help:      "HTTP requests currently being served.",
		}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "http",
			Name:      "idempotent_replays_total",
			Help:      "Responses served from a stored idempotency record.",
		}, []string{"path"}),
	}
	reg.MustRegister(m.requests, m.duration, m.size, m.inflight, m.replays)
	return m
}

var defaultTransport = newTransportMetrics(prometheus.DefaultRegisterer)

// Metrics instruments requests on the default Prometheus registry, which
// promhttp.Handler serves on /metrics.
func Metrics() gin.HandlerFunc {
	return defaultTransport.handler()
}

func (m *transportMetrics) handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.inflight.Inc()
		defer m.inflight.Dec()

		c.Next()

		method, path := c.Request.Method, c.FullPath()
		if path == "" {
			path = unmatchedPath
		}
		m.requests.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		// -1 when nothing was written, e.g. 204.
		if n := c.Writer.Size(); n >= 0 {
			m.size.WithLabelValues(method, path).Observe(float64(n))
		}
		if c.Writer.Header().Get(HeaderIdempotencyReplayed) == "true" {
			m.replays.WithLabelValues(path).Inc()
		}
	}
}

package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics are the pull-side prometheus series scraped from /metrics.
type HTTPMetrics struct {
	requests         *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	upstreamDuration *prometheus.HistogramVec
	tokensReserved   *prometheus.CounterVec
	streamEvents     *prometheus.CounterVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	factory := promauto.With(reg)
	return &HTTPMetrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenmeter_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tokenmeter_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		upstreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tokenmeter_upstream_duration_seconds",
			Help:    "Gateway call latency by operation and outcome.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"operation", "outcome"}),
		tokensReserved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenmeter_tokens_reserved_total",
			Help: "Tokens debited up front for proxied calls.",
		}, []string{"operation"}),
		streamEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenmeter_stream_events_total",
			Help: "SSE events relayed to clients.",
		}, []string{"operation"}),
	}
}

func (m *HTTPMetrics) ObserveUpstream(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.upstreamDuration.WithLabelValues(operation, outcome).Observe(elapsed.Seconds())
}

func (m *HTTPMetrics) AddReserved(operation string, tokens int64) {
	if m == nil || tokens <= 0 {
		return
	}
	m.tokensReserved.WithLabelValues(operation).Add(float64(tokens))
}

func (m *HTTPMetrics) IncStreamEvent(operation string) {
	if m == nil {
		return
	}
	m.streamEvents.WithLabelValues(operation).Inc()
}

// GinMiddleware records request counts and latency per matched route.
func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

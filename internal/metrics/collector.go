// Package metrics exposes Prometheus metrics for tool runs and HTTP traffic.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector owns the server's metric vectors.
type Collector struct {
	toolInvocations *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	taskPolls       *prometheus.CounterVec

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers the metrics on reg. A nil reg uses the default
// registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.toolInvocations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Tool invocations by terminal outcome",
		},
		[]string{"tool", "outcome"},
	)

	// Video tasks run for minutes.
	c.toolDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Tool invocation duration in seconds",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"tool"},
	)

	c.taskPolls = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_polls_total",
			Help:      "Video task polls by observed status",
		},
		[]string{"status"},
	)

	c.httpRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	c.logger.Debug("metrics registered", zap.String("namespace", namespace))
	return c
}

// TaskPolled counts one poll of a video task.
func (c *Collector) TaskPolled(status string) {
	c.taskPolls.WithLabelValues(status).Inc()
}

// ToolFinished records a finished tool invocation.
func (c *Collector) ToolFinished(tool, outcome string, elapsed time.Duration) {
	c.toolInvocations.WithLabelValues(tool, outcome).Inc()
	c.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// RecordHTTPRequest records one served HTTP request. route is the matched
// route template, never the raw path.
func (c *Collector) RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

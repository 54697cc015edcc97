// Package metrics exposes the gateway's Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "minutes_gateway"

// Collector records gateway metrics. A nil *Collector discards everything,
// so components can take one unconditionally.
type Collector struct {
	toolCalls      *prometheus.CounterVec
	toolLatency    *prometheus.HistogramVec
	upstreamRetry  *prometheus.CounterVec
	retryDelay     prometheus.Histogram
	evictions      *prometheus.CounterVec
	downloads      *prometheus.CounterVec
	rateLimited    prometheus.Counter
	configReloaded *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool and result code.",
		}, []string{"tool", "code"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		upstreamRetry: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_retries_total",
			Help:      "Document API retries by triggering status.",
		}, []string{"status"}),
		retryDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_retry_delay_seconds",
			Help:      "Delay waited before a document API retry.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 30},
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_evictions_total",
			Help:      "In-memory artifacts evicted, by reason.",
		}, []string{"reason"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_downloads_total",
			Help:      "Artifact download responses by HTTP status.",
		}, []string{"status"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests refused by the per-client rate limit.",
		}),
		configReloaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Log level reloads from the config file, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.toolCalls,
		c.toolLatency,
		c.upstreamRetry,
		c.retryDelay,
		c.evictions,
		c.downloads,
		c.rateLimited,
		c.configReloaded,
	)

	return c
}

// ObserveTool records one tool call.
func (c *Collector) ObserveTool(tool, code string, elapsed time.Duration) {
	if c == nil {
		return
	}

	c.toolCalls.WithLabelValues(tool, code).Inc()
	c.toolLatency.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// ObserveRetry records a throttled upstream attempt that will be retried.
func (c *Collector) ObserveRetry(status int, delay time.Duration) {
	if c == nil {
		return
	}

	c.upstreamRetry.WithLabelValues(strconv.Itoa(status)).Inc()
	c.retryDelay.Observe(delay.Seconds())
}

// ObserveEviction records an evicted in-memory artifact.
func (c *Collector) ObserveEviction(reason string) {
	if c == nil {
		return
	}

	c.evictions.WithLabelValues(reason).Inc()
}

// ObserveDownload records a download response.
func (c *Collector) ObserveDownload(status int) {
	if c == nil {
		return
	}

	c.downloads.WithLabelValues(strconv.Itoa(status)).Inc()
}

// ObserveRateLimited records a refused request.
func (c *Collector) ObserveRateLimited() {
	if c == nil {
		return
	}

	c.rateLimited.Inc()
}

// ObserveReload records a config reload attempt.
func (c *Collector) ObserveReload(ok bool) {
	if c == nil {
		return
	}

	result := "ok"
	if !ok {
		result = "error"
	}

	c.configReloaded.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

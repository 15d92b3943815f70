// Package metrics exposes Prometheus counters for the HTTP API: request
// counts and latency, cache rebuilds, and unfollow batch outcomes.
package metrics

import (
	"net/http"

	"dropmates/internal/batch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns its registry, so several collectors can coexist in tests.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	Rebuilds  *prometheus.CounterVec
	Batches   *prometheus.CounterVec
	Unfollows *prometheus.CounterVec
}

func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		Rebuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_rebuilds_total",
				Help:      "Forced cache rebuilds by result",
			},
			[]string{"result"},
		),
		Batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unfollow_batches_total",
				Help:      "Unfollow batches by final state",
			},
			[]string{"state"},
		),
		Unfollows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unfollow_targets_total",
				Help:      "Unfollow targets by outcome",
			},
			[]string{"status"},
		),
	}
	c.registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.Rebuilds,
		c.Batches,
		c.Unfollows,
		collectors.NewGoCollector(),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveRebuild(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.Rebuilds.WithLabelValues(result).Inc()
}

// Observe counts terminal batch events; it satisfies batch.Observer.
func (c *Collector) Observe(e batch.Event) {
	if e.State != batch.StateDone && e.State != batch.StateFailed {
		return
	}
	c.Batches.WithLabelValues(string(e.State)).Inc()
	if e.Report == nil {
		return
	}
	for _, o := range e.Report.Outcomes {
		c.Unfollows.WithLabelValues(string(o.Status)).Inc()
	}
}

// Package metric owns the node's Prometheus registry and the counters the
// workers and HTTP handlers report into.
package metric

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps a private prometheus registry so tests can run several
// nodes in one process without duplicate-collector panics.
type Registry struct {
	registry *prometheus.Registry

	jobsProcessed *prometheus.CounterVec
	jobsFailed    *prometheus.CounterVec
	emptyPolls    *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
}

// NewRegistry builds a Registry with the node's collectors registered.
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		registry: registry,
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intergov",
			Name:      "worker_jobs_processed_total",
			Help:      "Jobs a worker completed successfully.",
		}, []string{"worker"}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intergov",
			Name:      "worker_jobs_failed_total",
			Help:      "Jobs a worker failed to complete.",
		}, []string{"worker"}),
		emptyPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intergov",
			Name:      "worker_empty_polls_total",
			Help:      "Polls that found no work.",
		}, []string{"worker"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intergov",
			Name:      "http_requests_total",
			Help:      "API requests by handler and status code.",
		}, []string{"handler", "code"}),
	}
	registry.MustRegister(r.jobsProcessed, r.jobsFailed, r.emptyPolls, r.httpRequests)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// JobProcessed counts one completed job for worker.
func (r *Registry) JobProcessed(worker string) {
	r.jobsProcessed.WithLabelValues(worker).Inc()
}

// JobFailed counts one failed job for worker.
func (r *Registry) JobFailed(worker string) {
	r.jobsFailed.WithLabelValues(worker).Inc()
}

// EmptyPoll counts one idle poll for worker.
func (r *Registry) EmptyPoll(worker string) {
	r.emptyPolls.WithLabelValues(worker).Inc()
}

// HTTPRequest counts one API request.
func (r *Registry) HTTPRequest(handler string, code int) {
	r.httpRequests.WithLabelValues(handler, strconv.Itoa(code)).Inc()
}

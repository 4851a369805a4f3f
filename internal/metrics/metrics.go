// Package metrics exposes Prometheus metrics for the allocator.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "allocator"

// Collector owns a private registry with HTTP and domain metrics.
type Collector struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	rebalanceRuns       *prometheus.CounterVec
	rebalanceStrategies prometheus.Counter
	rebalanceDuration   prometheus.Histogram
	driftCorrections    prometheus.Counter
	riskScorerOutcomes  *prometheus.CounterVec
	behaviorLabels      *prometheus.CounterVec
	jobRuns             *prometheus.CounterVec
}

// New constructs a collector. Process and Go runtime collectors are included.
func New() (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for inbound HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of inbound HTTP requests.",
		}, []string{"method", "route", "status"}),
		rebalanceRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rebalance",
			Name:      "runs_total",
			Help:      "Rebalance computations by whether the run was persisted.",
		}, []string{"persisted"}),
		rebalanceStrategies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rebalance",
			Name:      "strategies_total",
			Help:      "Strategies processed across all rebalance runs.",
		}),
		rebalanceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rebalance",
			Name:      "duration_seconds",
			Help:      "Engine time per rebalance run.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		driftCorrections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rebalance",
			Name:      "drift_corrections_total",
			Help:      "Tiers whose rounded allocations needed a drift adjustment.",
		}),
		riskScorerOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk_scorer",
			Name:      "outcomes_total",
			Help:      "Risk-profile scoring outcomes.",
		}, []string{"result"}),
		behaviorLabels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "behavior",
			Name:      "classifications_total",
			Help:      "Trade behavior classifications by label.",
		}, []string{"label"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduled job executions by job and result.",
		}, []string{"job", "result"}),
	}

	for _, collector := range []prometheus.Collector{
		c.requestDuration,
		c.requestTotal,
		c.rebalanceRuns,
		c.rebalanceStrategies,
		c.rebalanceDuration,
		c.driftCorrections,
		c.riskScorerOutcomes,
		c.behaviorLabels,
		c.jobRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := c.registry.Register(collector); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Registry returns the private registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler records request count and latency labelled by chi route
// pattern, keeping label cardinality bounded.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		labels := []string{r.Method, route, strconv.Itoa(status)}
		c.requestTotal.WithLabelValues(labels...).Inc()
		c.requestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	})
}

// ObserveRebalance records one rebalance run.
func (c *Collector) ObserveRebalance(strategies, driftCorrections int, duration time.Duration, persisted bool) {
	c.rebalanceRuns.WithLabelValues(strconv.FormatBool(persisted)).Inc()
	c.rebalanceStrategies.Add(float64(strategies))
	c.driftCorrections.Add(float64(driftCorrections))
	c.rebalanceDuration.Observe(duration.Seconds())
}

// ObserveRiskScore records a scorer outcome ("ok", "no_json", "upstream_error", "disabled").
func (c *Collector) ObserveRiskScore(result string) {
	c.riskScorerOutcomes.WithLabelValues(result).Inc()
}

// ObserveBehavior records a classifier label.
func (c *Collector) ObserveBehavior(label string) {
	c.behaviorLabels.WithLabelValues(label).Inc()
}

// ObserveJob records a scheduled job execution.
func (c *Collector) ObserveJob(job string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.jobRuns.WithLabelValues(job, result).Inc()
}

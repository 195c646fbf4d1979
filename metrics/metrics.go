// Package metrics provides Prometheus instrumentation for the MockForge
// pipeline, generalized from the automation platform's
// infrastructure/metrics package: the same collector shapes (counters,
// histograms, gauges keyed by protocol/operation) rebound to pipeline
// concerns (requests, chains, scheduler ticks, plugin health) instead of
// blockchain transactions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector the pipeline emits.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	ErrorsTotal *prometheus.CounterVec

	ChainExecutionsTotal   *prometheus.CounterVec
	ChainExecutionDuration *prometheus.HistogramVec

	SchedulerTicksTotal     prometheus.Counter
	ScheduledResponsesFired prometheus.Counter

	ScriptExecutionsTotal  *prometheus.CounterVec
	ScriptTimeoutsTotal    prometheus.Counter
	PluginExecutionsTotal  *prometheus.CounterVec
	PluginResourceLimitHit *prometheus.CounterVec
	PluginUnhealthyTotal   *prometheus.CounterVec

	AnalyticsBatchesFlushed prometheus.Counter
	AnalyticsBatchesDropped prometheus.Counter
}

// New creates a Metrics instance registered against the default registerer.
func New(namespace string) *Metrics {
	return NewWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against a custom
// registerer, useful for tests that want an isolated registry.
func NewWithRegistry(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "requests_total", Help: "Total pipeline requests processed.",
		}, []string{"protocol", "method", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "request_duration_seconds", Help: "Pipeline request duration.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"protocol", "method"}),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "requests_in_flight", Help: "Requests currently being processed.",
		}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "errors_total", Help: "Errors by kind.",
		}, []string{"kind"}),
		ChainExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "chain_executions_total", Help: "Chain executions by terminal status.",
		}, []string{"status"}),
		ChainExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "chain_execution_duration_seconds", Help: "Chain execution wall time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"chain_id"}),
		SchedulerTicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "scheduler_ticks_total", Help: "Scheduler tick invocations.",
		}),
		ScheduledResponsesFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "scheduled_responses_fired_total", Help: "Scheduled responses fired.",
		}),
		ScriptExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "script_executions_total", Help: "Scripting sandbox invocations.",
		}, []string{"hook", "outcome"}),
		ScriptTimeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "script_timeouts_total", Help: "Scripting sandbox deadline expirations.",
		}),
		PluginExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "plugin_executions_total", Help: "Plugin invocations.",
		}, []string{"plugin_id", "outcome"}),
		PluginResourceLimitHit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "plugin_resource_limit_hit_total", Help: "Plugin resource limit violations.",
		}, []string{"plugin_id", "limit"}),
		PluginUnhealthyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "plugin_unhealthy_total", Help: "Plugin health-check failures.",
		}, []string{"plugin_id"}),
		AnalyticsBatchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "analytics_batches_flushed_total", Help: "Analytics batches flushed.",
		}),
		AnalyticsBatchesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "analytics_batches_dropped_total", Help: "Analytics batches dropped on overflow.",
		}),
	}

	collectors := []prometheus.Collector{
		m.RequestsTotal, m.RequestDuration, m.RequestsInFlight, m.ErrorsTotal,
		m.ChainExecutionsTotal, m.ChainExecutionDuration,
		m.SchedulerTicksTotal, m.ScheduledResponsesFired,
		m.ScriptExecutionsTotal, m.ScriptTimeoutsTotal,
		m.PluginExecutionsTotal, m.PluginResourceLimitHit, m.PluginUnhealthyTotal,
		m.AnalyticsBatchesFlushed, m.AnalyticsBatchesDropped,
	}
	for _, c := range collectors {
		_ = reg.Register(c)
	}
	return m
}

// ObserveRequest records one completed pipeline request.
func (m *Metrics) ObserveRequest(protocol, method, status string, d time.Duration) {
	m.RequestsTotal.WithLabelValues(protocol, method, status).Inc()
	m.RequestDuration.WithLabelValues(protocol, method).Observe(d.Seconds())
}

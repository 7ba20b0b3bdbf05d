// Package metrics exposes the Prometheus collectors shared by the engine,
// the assessment service and the HTTP server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marketguard"

// Metrics owns a private registry and the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	EventsIngested  *prometheus.CounterVec   // type
	EventsRejected  *prometheus.CounterVec   // type, reason
	EventsCoalesced prometheus.Counter
	Assessments     *prometheus.CounterVec   // severity
	Likelihood      *prometheus.GaugeVec     // symbol
	EvalDuration    prometheus.Histogram
	EvalPanics      prometheus.Counter
	EvalDiscarded   prometheus.Counter
	ActiveSymbols   prometheus.Gauge
	ConfigReloads   *prometheus.CounterVec   // source, result
	ConfigVersion   prometheus.Gauge
	EmitterDropped  prometheus.Counter
	SinkErrors      *prometheus.CounterVec   // sink
	HTTPRequests    *prometheus.CounterVec   // method, path, status
	HTTPDuration    *prometheus.HistogramVec // method, path
}

// New builds the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: reg}

	m.EventsIngested = m.NewCounterVec(prometheus.CounterOpts{
		Name: "events_ingested_total",
		Help: "Market-data events accepted into a symbol history.",
	}, []string{"type"})
	m.EventsRejected = m.NewCounterVec(prometheus.CounterOpts{
		Name: "events_rejected_total",
		Help: "Market-data events rejected at ingestion.",
	}, []string{"type", "reason"})
	m.EventsCoalesced = m.NewCounter(prometheus.CounterOpts{
		Name: "snapshots_coalesced_total",
		Help: "Snapshots superseded by a newer snapshot in the same batch.",
	})
	m.Assessments = m.NewCounterVec(prometheus.CounterOpts{
		Name: "assessments_total",
		Help: "Assessments emitted, by severity.",
	}, []string{"severity"})
	m.Likelihood = m.NewGaugeVec(prometheus.GaugeOpts{
		Name: "manipulation_likelihood",
		Help: "Latest overall manipulation likelihood per symbol.",
	}, []string{"symbol"})
	m.EvalDuration = m.NewHistogram(prometheus.HistogramOpts{
		Name:    "evaluation_duration_seconds",
		Help:    "Time spent in one evaluation cycle.",
		Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
	})
	m.EvalPanics = m.NewCounter(prometheus.CounterOpts{
		Name: "evaluation_panics_total",
		Help: "Evaluation cycles aborted by a recovered panic.",
	})
	m.EvalDiscarded = m.NewCounter(prometheus.CounterOpts{
		Name: "evaluation_discarded_total",
		Help: "Assessments withheld because a value was out of range.",
	})
	m.ActiveSymbols = m.NewGauge(prometheus.GaugeOpts{
		Name: "active_symbols",
		Help: "Symbols with a running actor.",
	})
	m.ConfigReloads = m.NewCounterVec(prometheus.CounterOpts{
		Name: "config_reloads_total",
		Help: "Detection configuration updates, by source and result.",
	}, []string{"source", "result"})
	m.ConfigVersion = m.NewGauge(prometheus.GaugeOpts{
		Name: "config_version",
		Help: "Version of the detection configuration in effect.",
	})
	m.EmitterDropped = m.NewCounter(prometheus.CounterOpts{
		Name: "emitter_dropped_total",
		Help: "Assessments dropped because the delivery queue was full.",
	})
	m.SinkErrors = m.NewCounterVec(prometheus.CounterOpts{
		Name: "sink_errors_total",
		Help: "Delivery failures per downstream sink.",
	}, []string{"sink"})
	m.HTTPRequests = m.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests served.",
	}, []string{"method", "path", "status"})
	m.HTTPDuration = m.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	return m
}

// NewCounter registers a namespaced counter.
func (m *Metrics) NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	opts.Namespace = namespace
	c := prometheus.NewCounter(opts)
	m.registry.MustRegister(c)
	return c
}

// NewCounterVec registers a namespaced counter vector.
func (m *Metrics) NewCounterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	opts.Namespace = namespace
	cv := prometheus.NewCounterVec(opts, labels)
	m.registry.MustRegister(cv)
	return cv
}

// NewGauge registers a namespaced gauge.
func (m *Metrics) NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.Namespace = namespace
	g := prometheus.NewGauge(opts)
	m.registry.MustRegister(g)
	return g
}

// NewGaugeVec registers a namespaced gauge vector.
func (m *Metrics) NewGaugeVec(opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	opts.Namespace = namespace
	gv := prometheus.NewGaugeVec(opts, labels)
	m.registry.MustRegister(gv)
	return gv
}

// NewHistogram registers a namespaced histogram.
func (m *Metrics) NewHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	opts.Namespace = namespace
	h := prometheus.NewHistogram(opts)
	m.registry.MustRegister(h)
	return h
}

// NewHistogramVec registers a namespaced histogram vector.
func (m *Metrics) NewHistogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	opts.Namespace = namespace
	hv := prometheus.NewHistogramVec(opts, labels)
	m.registry.MustRegister(hv)
	return hv
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

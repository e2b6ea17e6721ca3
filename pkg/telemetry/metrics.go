package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the assembly and deployment pipeline.
type Metrics struct {
	config MetricsConfig

	// Assembly metrics
	assembliesTotal     *prometheus.CounterVec
	assemblyDuration    prometheus.Histogram
	modulesMaterialized prometheus.Counter

	// Deployment metrics
	deploymentsTotal *prometheus.CounterVec
	deployDuration   *prometheus.HistogramVec
	pollAttempts     prometheus.Histogram

	// Domain metrics
	domainBindings   *prometheus.CounterVec
	dnsVerifications *prometheus.CounterVec

	// Reconciliation metrics
	reconcileRuns      prometheus.Counter
	reconcileDecisions *prometheus.CounterVec

	// Control-plane API metrics
	apiCalls    *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
// When metrics are disabled a no-op instance is returned; all record methods
// remain safe to call.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "launchpipe"
	}

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),
	}

	m.assembliesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "assemblies_total",
		Help:      "Total project assemblies by outcome.",
	}, []string{"outcome"})

	m.assemblyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "assembly_duration_seconds",
		Help:      "Duration of project assembly.",
		Buckets:   prometheus.DefBuckets,
	})

	m.modulesMaterialized = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "modules_materialized_total",
		Help:      "Total modules placed into project trees.",
	})

	m.deploymentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deployments_total",
		Help:      "Total service deployments by service kind and outcome.",
	}, []string{"service", "outcome"})

	m.deployDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "deployment_duration_seconds",
		Help:      "Duration from deploy trigger to terminal status.",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600},
	}, []string{"service"})

	m.pollAttempts = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "poll_attempts",
		Help:      "Poll attempts needed to reach a terminal deployment status.",
		Buckets:   []float64{1, 2, 5, 10, 20, 40, 80},
	})

	m.domainBindings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "domain_bindings_total",
		Help:      "Custom domain binding attempts by outcome.",
	}, []string{"outcome"})

	m.dnsVerifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dns_verifications_total",
		Help:      "DNS verification polls reaching a terminal state, by state.",
	}, []string{"state"})

	m.reconcileRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_runs_total",
		Help:      "Total reconciliation runs.",
	})

	m.reconcileDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_decisions_total",
		Help:      "Reconciliation decisions by kind (matched, inserted, skipped, ambiguous, errored).",
	}, []string{"decision"})

	m.apiCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "controlplane_calls_total",
		Help:      "Control-plane API calls by operation and outcome.",
	}, []string{"operation", "outcome"})

	m.apiDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "controlplane_call_duration_seconds",
		Help:      "Control-plane API call latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	collectors := []prometheus.Collector{
		m.assembliesTotal, m.assemblyDuration, m.modulesMaterialized,
		m.deploymentsTotal, m.deployDuration, m.pollAttempts,
		m.domainBindings, m.dnsVerifications,
		m.reconcileRuns, m.reconcileDecisions,
		m.apiCalls, m.apiDuration,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

// RecordAssembly records a completed assembly attempt.
func (m *Metrics) RecordAssembly(outcome string, duration time.Duration, modules int) {
	if m.registry == nil {
		return
	}
	m.assembliesTotal.WithLabelValues(outcome).Inc()
	m.assemblyDuration.Observe(duration.Seconds())
	m.modulesMaterialized.Add(float64(modules))
}

// RecordDeployment records a service deployment reaching a terminal status.
func (m *Metrics) RecordDeployment(service, outcome string, duration time.Duration, attempts int) {
	if m.registry == nil {
		return
	}
	m.deploymentsTotal.WithLabelValues(service, outcome).Inc()
	m.deployDuration.WithLabelValues(service).Observe(duration.Seconds())
	m.pollAttempts.Observe(float64(attempts))
}

// RecordDomainBinding records a custom-domain binding attempt.
func (m *Metrics) RecordDomainBinding(outcome string) {
	if m.registry == nil {
		return
	}
	m.domainBindings.WithLabelValues(outcome).Inc()
}

// RecordDNSVerification records a DNS verification reaching a terminal state.
func (m *Metrics) RecordDNSVerification(state string) {
	if m.registry == nil {
		return
	}
	m.dnsVerifications.WithLabelValues(state).Inc()
}

// RecordReconcileRun records one reconciliation pass.
func (m *Metrics) RecordReconcileRun() {
	if m.registry == nil {
		return
	}
	m.reconcileRuns.Inc()
}

// RecordReconcileDecision records a single match/insert/skip decision.
func (m *Metrics) RecordReconcileDecision(decision string) {
	if m.registry == nil {
		return
	}
	m.reconcileDecisions.WithLabelValues(decision).Inc()
}

// RecordAPICall records a control-plane API call.
func (m *Metrics) RecordAPICall(operation, outcome string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.apiCalls.WithLabelValues(operation, outcome).Inc()
	m.apiDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics HTTP server. It blocks until the server exits.
func (m *Metrics) Serve() error {
	if m.registry == nil || !m.config.Enabled {
		return nil
	}
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	return http.ListenAndServe(m.config.ListenAddress, mux)
}

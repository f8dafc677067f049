// Package metrics provides Prometheus instrumentation for cdcsync.
//
// # Overview
//
// Collectors are registered once at package init through promauto and are
// safe to use from any goroutine:
//
//	metrics.Deployments.WithLabelValues("neo4j-master-publisher", "success").Inc()
//
//	timer := metrics.NewTimer("deploy")
//	result, err := orchestrator.Deploy(ctx, cfg)
//	metrics.DeployDuration.WithLabelValues(cfg.Name).Observe(timer.Stop().Seconds())
//
// The deploy command is short lived, so its metrics matter mostly in tests and
// when the orchestrator is embedded. The heartbeat command serves them on
// /metrics through Handler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cdcsync"

var (
	// Deployments counts connector deployment attempts by outcome.
	// Labels: connector, outcome (success or an error type such as "timeout")
	Deployments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connector_deployments_total",
			Help:      "Connector deployment attempts by outcome",
		},
		[]string{"connector", "outcome"},
	)

	// DeployDuration tracks wall-clock time from submission to a terminal state.
	DeployDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connector_deploy_duration_seconds",
			Help:      "Time from config submission to terminal connector state",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 240},
		},
		[]string{"connector"},
	)

	// StatusPolls counts status polls by the observed connector state.
	StatusPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connector_status_polls_total",
			Help:      "Connector status polls by observed state",
		},
		[]string{"connector", "state"},
	)

	// HTTPRequestDuration tracks Connect REST latency.
	// Labels: method, host, code ("error" on transport failure)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Outbound HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "host", "code"},
	)

	// TopicChecks counts topic partition checks.
	// Labels: outcome (verified, created, mismatch, error)
	TopicChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "topic_checks_total",
			Help:      "CDC topic partition checks by outcome",
		},
		[]string{"outcome"},
	)

	// Heartbeats counts heartbeat writes by outcome (success, failure, reconnect).
	Heartbeats = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeat writes to the source database",
		},
		[]string{"outcome"},
	)

	// LastHeartbeat is the unix time of the last successful heartbeat.
	LastHeartbeat = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_heartbeat_timestamp_seconds",
			Help:      "Unix time of the last successful heartbeat",
		},
	)
)

// Handler returns the Prometheus scrape handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Stop returns the elapsed time since the timer was created.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// Name returns the timer name
func (t *Timer) Name() string {
	return t.name
}

// SPDX-License-Identifier: MIT

// Package metrics centralizes the Prometheus instrumentation of the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	filesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zonelift",
			Name:      "files_processed_total",
			Help:      "Per-file promotion outcomes by transition",
		},
		[]string{"transition", "outcome"},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zonelift",
			Name:      "pipeline_runs_total",
			Help:      "Orchestration run outcomes",
		},
		[]string{"outcome"},
	)

	unitFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zonelift",
			Name:      "unit_failures_total",
			Help:      "Unit failures by service and error kind",
		},
		[]string{"service", "kind"},
	)

	credentialStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zonelift",
			Name:      "credential_status",
			Help:      "Credential status per (service, account): 0 valid, 1 expiring-soon, 2 expired, 3 missing",
		},
		[]string{"service", "account"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zonelift",
			Name:      "circuit_breaker_state",
			Help:      "Upstream circuit breaker state: 0 closed, 1 half-open, 2 open",
		},
		[]string{"name"},
	)

	healthScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zonelift",
			Name:      "service_health_score",
			Help:      "Composite health score per service [0,100]",
		},
		[]string{"service"},
	)

	remediationActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zonelift",
			Name:      "remediation_actions_total",
			Help:      "Auto-remediation actions executed by type",
		},
		[]string{"type"},
	)
)

// RecordFileOutcome counts one per-file promotion outcome.
func RecordFileOutcome(transition, outcome string) {
	filesProcessed.WithLabelValues(transition, outcome).Inc()
}

// RecordRun counts one orchestration run by outcome.
func RecordRun(outcome string) {
	runsTotal.WithLabelValues(outcome).Inc()
}

// RecordUnitFailure counts a typed unit failure.
func RecordUnitFailure(service, kind string) {
	unitFailures.WithLabelValues(service, kind).Inc()
}

// SetCredentialStatus publishes the numeric credential status of a pair.
func SetCredentialStatus(service, account string, status float64) {
	credentialStatus.WithLabelValues(service, account).Set(status)
}

// SetCircuitBreakerState publishes a breaker state transition.
func SetCircuitBreakerState(name, state string) {
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	breakerState.WithLabelValues(name).Set(v)
}

// SetHealthScore publishes a service's composite health score.
func SetHealthScore(service string, score float64) {
	healthScore.WithLabelValues(service).Set(score)
}

// RecordRemediationAction counts one executed remediation action.
func RecordRemediationAction(actionType string) {
	remediationActions.WithLabelValues(actionType).Inc()
}

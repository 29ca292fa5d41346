// Package metrics declares the application-level Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	ConsentDecisions  *prometheus.CounterVec
	ConsentWithdrawn  prometheus.Counter
	ScriptsGated      *prometheus.CounterVec
	ActionsHandled    *prometheus.CounterVec
	RecordsCleaned    prometheus.Counter
	EventSinkFailures prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ConsentDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consentgate_consent_decisions_total",
			Help: "Consent grants recorded, labeled by method and lifecycle type",
		}, []string{"method", "type"}),
		ConsentWithdrawn: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentgate_consent_withdrawn_total",
			Help: "Consent withdrawals recorded",
		}),
		ScriptsGated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consentgate_scripts_gated_total",
			Help: "Script render decisions, labeled by category and outcome",
		}, []string{"category", "outcome"}),
		ActionsHandled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consentgate_api_actions_total",
			Help: "Consent API actions handled, labeled by action and result",
		}, []string{"action", "result"}),
		RecordsCleaned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentgate_records_cleaned_total",
			Help: "Expired consent records removed by the cleanup worker",
		}),
		EventSinkFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentgate_event_sink_failures_total",
			Help: "Lifecycle events that could not be delivered to the external sink",
		}),
	}
}

// RecordDecision counts one consent grant.
func (m *Metrics) RecordDecision(method, eventType string) {
	m.ConsentDecisions.WithLabelValues(method, eventType).Inc()
}

// RecordScriptGated counts one script render decision.
func (m *Metrics) RecordScriptGated(category, outcome string) {
	m.ScriptsGated.WithLabelValues(category, outcome).Inc()
}

// RecordAction counts one handled API action.
func (m *Metrics) RecordAction(action, result string) {
	m.ActionsHandled.WithLabelValues(action, result).Inc()
}

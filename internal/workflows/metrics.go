package workflows

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	runsCreated       *prometheus.CounterVec
	runTransitions    *prometheus.CounterVec
	stepExecutions    *prometheus.CounterVec
	stepDuration      *prometheus.HistogramVec
	approvalsOpened   *prometheus.CounterVec
	approvalsResolved *prometheus.CounterVec
	exceptionsOpened  *prometheus.CounterVec
	webhookEvents     *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowops",
			Name:      "runs_created_total",
			Help:      "Runs created from intake, by workflow.",
		}, []string{"workflow"}),
		runTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowops",
			Name:      "run_transitions_total",
			Help:      "Committed run status transitions.",
		}, []string{"from", "to"}),
		stepExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowops",
			Name:      "step_executions_total",
			Help:      "Step executor invocations by step and outcome.",
		}, []string{"step", "outcome"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowops",
			Name:      "step_duration_seconds",
			Help:      "Step executor latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step"}),
		approvalsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowops",
			Name:      "approvals_opened_total",
			Help:      "Approval gates opened by type and risk level.",
		}, []string{"type", "risk"}),
		approvalsResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowops",
			Name:      "approvals_resolved_total",
			Help:      "Approval gates closed by final status.",
		}, []string{"status"}),
		exceptionsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowops",
			Name:      "exceptions_opened_total",
			Help:      "Exceptions opened by type.",
		}, []string{"type"}),
		webhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowops",
			Name:      "webhook_events_total",
			Help:      "HubSpot webhook deliveries by outcome.",
		}, []string{"status"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "flowops",
			Name:      "step_breaker_open",
			Help:      "1 while a step's circuit breaker is open.",
		}, []string{"step"}),
	}
}

func (m *Metrics) RunCreated(workflow string) {
	if m == nil {
		return
	}
	m.runsCreated.WithLabelValues(workflow).Inc()
}

func (m *Metrics) RunTransition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.runTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) StepExecuted(step, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.stepExecutions.WithLabelValues(step, outcome).Inc()
	m.stepDuration.WithLabelValues(step).Observe(took.Seconds())
}

func (m *Metrics) ApprovalOpened(approvalType, risk string) {
	if m == nil {
		return
	}
	m.approvalsOpened.WithLabelValues(approvalType, risk).Inc()
}

func (m *Metrics) ApprovalResolved(status string) {
	if m == nil {
		return
	}
	m.approvalsResolved.WithLabelValues(status).Inc()
}

func (m *Metrics) ExceptionOpened(exceptionType string) {
	if m == nil {
		return
	}
	m.exceptionsOpened.WithLabelValues(exceptionType).Inc()
}

func (m *Metrics) WebhookEvent(status string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(status).Inc()
}

func (m *Metrics) BreakerOpen(step string, open bool) {
	if m == nil {
		return
	}
	value := 0.0
	if open {
		value = 1
	}
	m.breakerState.WithLabelValues(step).Set(value)
}

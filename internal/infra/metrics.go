package infra

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько времени занял Enqueue (включая политику и персистентность)
	EnqueueDuration *prometheus.HistogramVec

	// Traffic: команды по итоговому статусу
	CommandsTotal *prometheus.CounterVec

	// Errors: классификация отказов политики
	PolicyDenialsTotal *prometheus.CounterVec

	// Saturation: очередь подтверждений и буфер аудита
	PendingApprovals prometheus.Gauge
	AuditBufferFill  prometheus.Gauge

	// Decision Runtime
	BusEventsTotal    *prometheus.CounterVec
	AgentErrorsTotal  *prometheus.CounterVec
	DecisionsByLane   *prometheus.CounterVec
	ExecutorCallsTotal *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern — если рег не передан, используем локальный,
	// который никуда не подключен (удобно в тестах)
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		EnqueueDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aag_enqueue_duration_seconds",
			Help:    "Histogram of command enqueue latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"tool", "status"}),

		CommandsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "aag_commands_total",
			Help: "Total number of commands by resulting status.",
		}, []string{"tool", "status"}),

		PolicyDenialsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "aag_policy_denials_total",
			Help: "Total number of policy denials by reason kind.",
		}, []string{"kind"}), // kinds: blocked_action, blocked_domain, policy_disabled, unsupported_tool, invalid_url

		PendingApprovals: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "aag_pending_approvals",
			Help: "Commands currently blocked for human approval.",
		}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "aag_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),

		BusEventsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "aag_bus_events_total",
			Help: "Events published on the decision bus by type.",
		}, []string{"type"}),

		AgentErrorsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "aag_agent_errors_total",
			Help: "Handler/executor errors isolated by the runtime.",
		}, []string{"agent"}),

		DecisionsByLane: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "aag_decisions_total",
			Help: "Agent decisions routed by confidence lane.",
		}, []string{"agent", "lane"}), // lanes: auto_execute, notify_after, confirm, escalate

		ExecutorCallsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "aag_executor_calls_total",
			Help: "Physical tool executions by outcome.",
		}, []string{"tool", "outcome"}),
	}
}

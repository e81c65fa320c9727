package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Решения движка по исходам
	DecisionsTotal *prometheus.CounterVec

	// Провалившиеся баны по классу ошибки
	BanFailures *prometheus.CounterVec

	// Переподключения супервизора
	ReconnectsTotal prometheus.Counter

	// Текущее состояние машины (см. domain.SupervisorState)
	SupervisorState prometheus.Gauge

	// RTT heartbeat'а гейтвея
	GatewayLatency prometheus.Gauge

	// Заполненность буфера журнала (backpressure)
	AuditBufferFill prometheus.Gauge

	// Просканированные участники по гильдиям
	ScannedMembers *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern — без регистратора метрики живут в локальном,
	// никуда не подключенном реестре.
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		DecisionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "warden_decisions_total",
			Help: "Policy decisions by outcome.",
		}, []string{"outcome"}),

		BanFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "warden_ban_failures_total",
			Help: "Failed ban calls by error class.",
		}, []string{"type"}), // типы: permission, throttle, transport, other

		ReconnectsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "warden_reconnects_total",
			Help: "Supervisor reconnect transitions.",
		}),

		SupervisorState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "warden_supervisor_state",
			Help: "Current supervisor state (0=starting..5=shutting_down).",
		}),

		GatewayLatency: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "warden_gateway_latency_seconds",
			Help: "Gateway heartbeat round-trip.",
		}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "warden_audit_buffer_utilization",
			Help: "Current number of events in the audit buffer.",
		}),

		ScannedMembers: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "warden_scanned_members_total",
			Help: "Members fed through the dispatcher by full scans.",
		}, []string{"guild_id"}),
	}
}

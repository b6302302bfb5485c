// Package metrics содержит счётчики Prometheus для решений о допуске,
// событий платёжного шлюза и изменений журнала.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics набор счётчиков биллинга. Нулевой указатель допустим: методы ничего не делают.
type Metrics struct {
	admissions      *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
	ledgerMutations *prometheus.CounterVec
	sweeps          *prometheus.CounterVec
}

// New регистрирует счётчики в reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		admissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "admission_decisions_total",
			Help:      "Admission decisions by source and outcome.",
		}, []string{"operation", "source", "outcome"}),
		webhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "webhook_events_total",
			Help:      "Payment gateway webhook events by type and ack status.",
		}, []string{"event", "status"}),
		ledgerMutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "ledger_mutations_total",
			Help:      "Ledger entries written by kind.",
		}, []string{"kind"}),
		sweeps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "sweeper_rows_total",
			Help:      "Rows changed by the subscription sweeper by action.",
		}, []string{"action"}),
	}
}

// Admission учитывает решение о допуске.
func (m *Metrics) Admission(operation, source, outcome string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(operation, source, outcome).Inc()
}

// WebhookEvent учитывает обработанное событие шлюза.
func (m *Metrics) WebhookEvent(event, status string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(event, status).Inc()
}

// LedgerMutation учитывает запись журнала.
func (m *Metrics) LedgerMutation(kind string) {
	if m == nil {
		return
	}
	m.ledgerMutations.WithLabelValues(kind).Inc()
}

// Sweep учитывает строки, изменённые фоновым обходом.
func (m *Metrics) Sweep(action string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sweeps.WithLabelValues(action).Add(float64(n))
}

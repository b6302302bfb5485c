package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Admission("scan", "wallet", "allowed")
	m.Admission("scan", "wallet", "allowed")
	m.WebhookEvent("payment.captured", "applied")
	m.LedgerMutation("debit")
	m.Sweep("expired", 3)
	m.Sweep("expired", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.admissions.WithLabelValues("scan", "wallet", "allowed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookEvents.WithLabelValues("payment.captured", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerMutations.WithLabelValues("debit")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sweeps.WithLabelValues("expired")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Admission("scan", "wallet", "allowed")
		m.WebhookEvent("x", "y")
		m.LedgerMutation("debit")
		m.Sweep("expired", 1)
	})
}

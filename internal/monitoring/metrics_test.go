package monitoring

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return 0
}

func TestMetrics_Recorders(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordBalanceChange("deduct", "success", 3.33)
	m.RecordBalanceChange("refund", "success", -2)
	m.RecordBalanceChange("deduct", "insufficient_balance", 100)
	m.RecordPersistFailure("deduct")
	m.RecordAuthFailure()
	m.UpdateKeyCounts(5, 2, true)

	assert.Equal(t, 1.0, counterValue(t, reg, "kms_balance_changes_total", map[string]string{"action": "deduct", "result": "success"}))
	assert.InDelta(t, 3.33, counterValue(t, reg, "kms_amount_processed_total", map[string]string{"action": "deduct"}), 1e-9)
	assert.Equal(t, 2.0, counterValue(t, reg, "kms_amount_processed_total", map[string]string{"action": "refund"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "kms_persist_failures_total", map[string]string{"operation": "deduct"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "kms_auth_failures_total", nil))
	assert.Equal(t, 5.0, counterValue(t, reg, "kms_sub_keys", nil))
	assert.Equal(t, 1.0, counterValue(t, reg, "kms_placeholder_master_key_present", nil))
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}

func TestMetrics_HTTPHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RecordSubKeyCreated()

	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "kms_sub_keys_created_total 1")
}

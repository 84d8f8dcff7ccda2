package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestRegistryRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	m.InvalidClaims.Inc()
	m.RiskRejections.WithLabelValues("capital", "risk_locked").Inc()
	m.FanoutResults.WithLabelValues("TIMEOUT").Add(2)
	m.ObserveStep("aggregate", 0.004)

	f := gather(t, reg, "tradecore_invalid_claims_total")
	require.NotNil(t, f)
	assert.Equal(t, 1.0, f.GetMetric()[0].GetCounter().GetValue())

	f = gather(t, reg, "tradecore_risk_rejections_total")
	require.NotNil(t, f)
	require.Len(t, f.GetMetric(), 1)
	assert.Equal(t, 1.0, f.GetMetric()[0].GetCounter().GetValue())

	f = gather(t, reg, "tradecore_fanout_results_total")
	require.NotNil(t, f)
	assert.Equal(t, 2.0, f.GetMetric()[0].GetCounter().GetValue())

	f = gather(t, reg, "tradecore_loop_step_duration_seconds")
	require.NotNil(t, f)
	assert.Equal(t, uint64(1), f.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestMarkStateExactlyOneActive(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	states := []string{"observing", "eligible", "active_trading"}
	m.MarkState(states, "eligible")

	f := gather(t, reg, "tradecore_system_state")
	require.NotNil(t, f)
	var sum float64
	for _, metric := range f.GetMetric() {
		sum += metric.GetGauge().GetValue()
	}
	assert.Equal(t, 1.0, sum)
}

func TestNilRegistryHelpersAreSafe(t *testing.T) {
	var m *Registry
	assert.NotPanics(t, func() {
		m.ObserveStep("risk", 0.1)
		m.MarkState([]string{"observing"}, "observing")
	})
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewWithRegistry("mockforge_test", prometheus.NewRegistry())
}

func TestNewWithRegistryRegistersAllCollectors(t *testing.T) {
	m := newTestMetrics(t)
	require.NotNil(t, m.RequestsTotal)
	require.NotNil(t, m.RequestDuration)
	require.NotNil(t, m.RequestsInFlight)
	require.NotNil(t, m.ErrorsTotal)
	require.NotNil(t, m.ChainExecutionsTotal)
	require.NotNil(t, m.ChainExecutionDuration)
	require.NotNil(t, m.SchedulerTicksTotal)
	require.NotNil(t, m.ScheduledResponsesFired)
	require.NotNil(t, m.ScriptExecutionsTotal)
	require.NotNil(t, m.ScriptTimeoutsTotal)
	require.NotNil(t, m.PluginExecutionsTotal)
	require.NotNil(t, m.PluginResourceLimitHit)
	require.NotNil(t, m.PluginUnhealthyTotal)
	require.NotNil(t, m.AnalyticsBatchesFlushed)
	require.NotNil(t, m.AnalyticsBatchesDropped)
}

func TestObserveRequestIncrementsCounterAndHistogram(t *testing.T) {
	m := newTestMetrics(t)
	m.ObserveRequest("http", "GET", "200", 15*time.Millisecond)

	count := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("http", "GET", "200"))
	assert.Equal(t, float64(1), count)

	m.ObserveRequest("http", "GET", "200", 5*time.Millisecond)
	count = testutil.ToFloat64(m.RequestsTotal.WithLabelValues("http", "GET", "200"))
	assert.Equal(t, float64(2), count)
}

func TestCountersAreIndependentPerLabelSet(t *testing.T) {
	m := newTestMetrics(t)
	m.ObserveRequest("http", "GET", "200", time.Millisecond)
	m.ObserveRequest("grpc", "POST", "500", time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("http", "GET", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("grpc", "POST", "500")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("http", "GET", "500")))
}

func TestPluginAndScriptCountersIncrementIndependently(t *testing.T) {
	m := newTestMetrics(t)
	m.PluginExecutionsTotal.WithLabelValues("p1", "ok").Inc()
	m.PluginResourceLimitHit.WithLabelValues("p1", "memory").Inc()
	m.PluginUnhealthyTotal.WithLabelValues("p1").Inc()
	m.ScriptExecutionsTotal.WithLabelValues("pre_request", "ok").Inc()
	m.ScriptTimeoutsTotal.Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.PluginExecutionsTotal.WithLabelValues("p1", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PluginResourceLimitHit.WithLabelValues("p1", "memory")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PluginUnhealthyTotal.WithLabelValues("p1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ScriptExecutionsTotal.WithLabelValues("pre_request", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ScriptTimeoutsTotal))
}

func TestSchedulerAndAnalyticsCountersIncrement(t *testing.T) {
	m := newTestMetrics(t)
	m.SchedulerTicksTotal.Inc()
	m.ScheduledResponsesFired.Inc()
	m.AnalyticsBatchesFlushed.Inc()
	m.AnalyticsBatchesDropped.Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SchedulerTicksTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ScheduledResponsesFired))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AnalyticsBatchesFlushed))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AnalyticsBatchesDropped))
}

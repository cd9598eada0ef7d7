package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Refresh(TriggerProactive, RefreshSuccess)
	m.Refresh(TriggerProactive, RefreshSuccess)
	m.Refresh(TriggerReactive, RefreshInvalidated)
	m.AuthRetry()
	m.RateLimit()
	m.Invalidated()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Refreshes.WithLabelValues(TriggerProactive, RefreshSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Refreshes.WithLabelValues(TriggerReactive, RefreshInvalidated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimited))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Invalidation))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 4)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Refresh(TriggerProactive, RefreshFailure)
		m.AuthRetry()
		m.RateLimit()
		m.Invalidated()
	})
}

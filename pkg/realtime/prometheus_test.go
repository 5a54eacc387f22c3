package realtime

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	m.IncrementConnections()
	m.IncrementConnections()
	m.DecrementConnections()
	m.IncrementMessageCount("ping")
	m.IncrementMessageCount("ping")
	m.RecordMessageLatency("ping", time.Millisecond)
	m.IncrementRateLimited("session")
	m.IncrementPresenceTransitions("online")
	m.AddOfflineDelivered(3)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.connections))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.connectionsTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.messages.WithLabelValues("ping")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.rateLimited.WithLabelValues("session")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.presenceTransitions.WithLabelValues("online")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.offlineDelivered))

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
	for _, f := range families {
		assert.Contains(t, f.GetName(), "linkup_realtime_")
	}

	// 重复注册会 panic，调用方应每个 Registerer 只创建一次
	assert.Panics(t, func() { NewPrometheusMetrics(reg) })
}

var _ Metrics = (*PrometheusMetrics)(nil)
var _ Metrics = NoopMetrics{}

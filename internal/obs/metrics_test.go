package obs

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.IncOrderPlaced("buy")
	m.IncAlertDrop()
	m.ObserveCycle(time.Second)
	m.SetOpenPositions(3)
	assert.Equal(t, Snapshot{}, m.Snapshot())
}

func TestCountersAndSnapshot(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.IncOrderPlaced("buy")
	m.IncOrderPlaced("buy")
	m.IncRiskReject("max_concurrent_positions")
	m.IncAlertDrop()
	m.IncStorageError("save_order")
	m.IncConnectorError("place_order", true)
	m.SetOpenPositions(2)
	m.ObserveCycle(10 * time.Millisecond)
	m.ObserveCycle(30 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ordersPlaced.WithLabelValues("buy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.riskRejects.WithLabelValues("max_concurrent_positions")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectorErrors.WithLabelValues("place_order", "transient")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.openPositions))

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.AlertDrops)
	assert.Equal(t, uint64(1), snap.StorageErrors)
	assert.Equal(t, uint64(1), snap.ConnectorErrors)
	assert.Equal(t, uint64(2), snap.CycleLatency.Count)
	assert.Equal(t, 10*time.Millisecond, snap.CycleLatency.Min)
	assert.Equal(t, 30*time.Millisecond, snap.CycleLatency.Max)
	assert.Equal(t, 20*time.Millisecond, snap.CycleLatency.Avg)

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}

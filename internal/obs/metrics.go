package obs

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fatfinger"

// Metrics collects the engine's Prometheus series. All methods are safe on a
// nil receiver so components can run without metrics.
type Metrics struct {
	ordersPlaced    *prometheus.CounterVec
	ordersTerminal  *prometheus.CounterVec
	fills           *prometheus.CounterVec
	riskRejects     *prometheus.CounterVec
	alerts          *prometheus.CounterVec
	alertDrops      prometheus.Counter
	storageErrors   *prometheus.CounterVec
	connectorErrors *prometheus.CounterVec
	cycleSeconds    prometheus.Histogram
	openPositions   prometheus.Gauge
	dailyPnL        prometheus.Gauge
	candidates      prometheus.Gauge

	alertDropCount   uint64
	storageErrCount  uint64
	connectorErrCnt  uint64
	cycleLatency     LatencyStats
	reconcileLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64        `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
}

// Snapshot captures the process-local counters.
type Snapshot struct {
	AlertDrops       uint64          `json:"alertDrops"`
	StorageErrors    uint64          `json:"storageErrors"`
	ConnectorErrors  uint64          `json:"connectorErrors"`
	CycleLatency     LatencySnapshot `json:"cycleLatency"`
	ReconcileLatency LatencySnapshot `json:"reconcileLatency"`
}

// NewMetrics creates the collectors and registers them on reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ordersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_placed_total",
			Help:      "Orders accepted by the exchange.",
		}, []string{"side"}),
		ordersTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_terminal_total",
			Help:      "Orders that reached a terminal status.",
		}, []string{"side", "status"}),
		fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fills_total",
			Help:      "Fill deltas applied.",
		}, []string{"side"}),
		riskRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_rejections_total",
			Help:      "Buy evaluations denied by a risk limit.",
		}, []string{"reason"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts published.",
		}, []string{"type"}),
		alertDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_drops_total",
			Help:      "Alerts kept in history but not delivered because the queue was full.",
		}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Failed storage writes.",
		}, []string{"op"}),
		connectorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connector_errors_total",
			Help:      "Failed connector calls.",
		}, []string{"op", "class"}),
		cycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Driver cycle duration.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Positions with a remaining amount.",
		}),
		dailyPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "daily_realized_pnl",
			Help:      "Realized result of positions closed today (UTC).",
		}),
		candidates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_candidates",
			Help:      "Candidates returned by the last scan.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ordersPlaced, m.ordersTerminal, m.fills, m.riskRejects,
			m.alerts, m.alertDrops, m.storageErrors, m.connectorErrors,
			m.cycleSeconds, m.openPositions, m.dailyPnL, m.candidates,
		)
	}
	return m
}

// IncOrderPlaced counts an accepted order.
func (m *Metrics) IncOrderPlaced(side string) {
	if m == nil {
		return
	}
	m.ordersPlaced.WithLabelValues(side).Inc()
}

// IncOrderTerminal counts an order reaching a terminal status.
func (m *Metrics) IncOrderTerminal(side, status string) {
	if m == nil {
		return
	}
	m.ordersTerminal.WithLabelValues(side, status).Inc()
}

// IncFill counts an applied fill delta.
func (m *Metrics) IncFill(side string) {
	if m == nil {
		return
	}
	m.fills.WithLabelValues(side).Inc()
}

// IncRiskReject counts a denied buy.
func (m *Metrics) IncRiskReject(reason string) {
	if m == nil {
		return
	}
	m.riskRejects.WithLabelValues(reason).Inc()
}

// IncAlert counts a published alert.
func (m *Metrics) IncAlert(typ string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(typ).Inc()
}

// IncAlertDrop records an undelivered alert.
func (m *Metrics) IncAlertDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.alertDropCount, 1)
	m.alertDrops.Inc()
}

// IncStorageError records a failed storage write.
func (m *Metrics) IncStorageError(op string) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.storageErrCount, 1)
	m.storageErrors.WithLabelValues(op).Inc()
}

// IncConnectorError records a failed connector call.
func (m *Metrics) IncConnectorError(op string, transient bool) {
	if m == nil {
		return
	}
	class := "permanent"
	if transient {
		class = "transient"
	}
	atomic.AddUint64(&m.connectorErrCnt, 1)
	m.connectorErrors.WithLabelValues(op, class).Inc()
}

// ObserveCycle records one driver cycle.
func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycleLatency.Observe(d)
	m.cycleSeconds.Observe(d.Seconds())
}

// ObserveReconcile records one reconciliation pass.
func (m *Metrics) ObserveReconcile(d time.Duration) {
	if m == nil {
		return
	}
	m.reconcileLatency.Observe(d)
}

// SetOpenPositions updates the open position gauge.
func (m *Metrics) SetOpenPositions(n int) {
	if m == nil {
		return
	}
	m.openPositions.Set(float64(n))
}

// SetDailyPnL updates the daily realized result gauge.
func (m *Metrics) SetDailyPnL(v float64) {
	if m == nil {
		return
	}
	m.dailyPnL.Set(v)
}

// SetCandidates updates the candidate gauge.
func (m *Metrics) SetCandidates(n int) {
	if m == nil {
		return
	}
	m.candidates.Set(float64(n))
}

// Snapshot returns a copy of the process-local counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		AlertDrops:       atomic.LoadUint64(&m.alertDropCount),
		StorageErrors:    atomic.LoadUint64(&m.storageErrCount),
		ConnectorErrors:  atomic.LoadUint64(&m.connectorErrCnt),
		CycleLatency:     m.cycleLatency.Snapshot(),
		ReconcileLatency: m.reconcileLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}

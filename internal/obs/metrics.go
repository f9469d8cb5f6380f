package obs

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "backtest"

// Metrics collects run counters and latency stats. All methods are safe on a
// nil receiver so callers never need to check whether metrics are enabled.
type Metrics struct {
	candles         uint64
	executions      uint64
	droppedPasses   uint64
	ordersSubmitted uint64
	ordersExecuted  uint64
	ordersCanceled  uint64
	conflicts       uint64
	riskDenials     uint64
	queueDrops      uint64
	reconnects      uint64
	balance         uint64

	executeLatency    LatencyStats
	submissionLatency LatencyStats
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
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	Candles           uint64
	Executions        uint64
	DroppedPasses     uint64
	OrdersSubmitted   uint64
	OrdersExecuted    uint64
	OrdersCanceled    uint64
	Conflicts         uint64
	RiskDenials       uint64
	QueueDrops        uint64
	Reconnects        uint64
	Balance           float64
	ExecuteLatency    LatencySnapshot
	SubmissionLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncCandle() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.candles, 1)
}

// ObserveExecution records one strategy pipeline pass and its duration.
func (m *Metrics) ObserveExecution(d time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.executions, 1)
	m.executeLatency.Observe(d)
}

// IncDroppedPass records a pipeline call dropped by the re-entrancy guard.
func (m *Metrics) IncDroppedPass() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.droppedPasses, 1)
}

// ObserveSubmission records an order submission and its round trip.
func (m *Metrics) ObserveSubmission(d time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ordersSubmitted, 1)
	m.submissionLatency.Observe(d)
}

func (m *Metrics) IncOrderExecuted() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ordersExecuted, 1)
}

func (m *Metrics) IncOrderCanceled() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ordersCanceled, 1)
}

func (m *Metrics) IncConflict() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.conflicts, 1)
}

func (m *Metrics) IncRiskDenied() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.riskDenials, 1)
}

// IncQueueDrop records a venue event that could not be queued.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.reconnects, 1)
}

// SetBalance records the latest simulated or venue balance.
func (m *Metrics) SetBalance(v float64) {
	if m == nil {
		return
	}
	atomic.StoreUint64(&m.balance, math.Float64bits(v))
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		Candles:           atomic.LoadUint64(&m.candles),
		Executions:        atomic.LoadUint64(&m.executions),
		DroppedPasses:     atomic.LoadUint64(&m.droppedPasses),
		OrdersSubmitted:   atomic.LoadUint64(&m.ordersSubmitted),
		OrdersExecuted:    atomic.LoadUint64(&m.ordersExecuted),
		OrdersCanceled:    atomic.LoadUint64(&m.ordersCanceled),
		Conflicts:         atomic.LoadUint64(&m.conflicts),
		RiskDenials:       atomic.LoadUint64(&m.riskDenials),
		QueueDrops:        atomic.LoadUint64(&m.queueDrops),
		Reconnects:        atomic.LoadUint64(&m.reconnects),
		Balance:           math.Float64frombits(atomic.LoadUint64(&m.balance)),
		ExecuteLatency:    m.executeLatency.Snapshot(),
		SubmissionLatency: m.submissionLatency.Snapshot(),
	}
}

// Collectors exposes the counters as prometheus collectors reading the same
// atomics the snapshot reads.
func (m *Metrics) Collectors() []prometheus.Collector {
	if m == nil {
		return nil
	}
	counter := func(name, help string, v *uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(atomic.LoadUint64(v))
		})
	}
	return []prometheus.Collector{
		counter("candles_total", "One-minute candles processed", &m.candles),
		counter("strategy_executions_total", "Strategy pipeline passes", &m.executions),
		counter("strategy_dropped_passes_total", "Pipeline calls dropped while a pass was in flight", &m.droppedPasses),
		counter("orders_submitted_total", "Orders submitted to the exchange", &m.ordersSubmitted),
		counter("orders_executed_total", "Orders filled", &m.ordersExecuted),
		counter("orders_canceled_total", "Orders canceled", &m.ordersCanceled),
		counter("conflicting_orders_total", "Ambiguous same-bar fills", &m.conflicts),
		counter("risk_denials_total", "Orders rejected by the risk pre-check", &m.riskDenials),
		counter("queue_drops_total", "Venue events dropped on a full queue", &m.queueDrops),
		counter("reconnects_total", "Exchange reconnections", &m.reconnects),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "balance",
			Help:      "Current balance",
		}, func() float64 {
			return math.Float64frombits(atomic.LoadUint64(&m.balance))
		}),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
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
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&l.min)),
		Max:   time.Duration(atomic.LoadUint64(&l.max)),
		Avg:   time.Duration(sum / count),
	}
}

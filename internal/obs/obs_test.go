package obs

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.IncCandle()
	m.ObserveExecution(time.Millisecond)
	m.SetBalance(10)
	assert.Equal(t, Snapshot{}, m.Snapshot())
	assert.Nil(t, m.Collectors())
}

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.IncCandle()
	m.IncCandle()
	m.ObserveExecution(2 * time.Millisecond)
	m.ObserveExecution(4 * time.Millisecond)
	m.ObserveSubmission(time.Millisecond)
	m.IncOrderExecuted()
	m.IncOrderCanceled()
	m.IncConflict()
	m.IncRiskDenied()
	m.IncDroppedPass()
	m.SetBalance(10004.7)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.Candles)
	assert.Equal(t, uint64(2), snap.Executions)
	assert.Equal(t, uint64(1), snap.OrdersSubmitted)
	assert.Equal(t, uint64(1), snap.Conflicts)
	assert.Equal(t, uint64(1), snap.DroppedPasses)
	assert.Equal(t, 10004.7, snap.Balance)
	assert.Equal(t, 2*time.Millisecond, snap.ExecuteLatency.Min)
	assert.Equal(t, 4*time.Millisecond, snap.ExecuteLatency.Max)
	assert.Equal(t, 3*time.Millisecond, snap.ExecuteLatency.Avg)
}

func TestMetricsRegister(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
	assert.Error(t, m.Register(reg))

	m.IncConflict()
	m.IncConflict()
	m.SetBalance(42)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, f := range families {
		metric := f.GetMetric()[0]
		if c := metric.GetCounter(); c != nil {
			values[f.GetName()] = c.GetValue()
		}
		if g := metric.GetGauge(); g != nil {
			values[f.GetName()] = g.GetValue()
		}
	}
	assert.Equal(t, 2.0, values["backtest_conflicting_orders_total"])
	assert.Equal(t, 42.0, values["backtest_balance"])
	assert.Len(t, families, len(m.Collectors()))
}

func TestJournal(t *testing.T) {
	j := NewJournal()
	j.Quiet = true
	j.Infof(1, "submitted %s", "buy")
	j.Warningf(2, "%s requires %d candles", "S", 3)
	j.Errorf(3, "conflicts: %d", 1)

	entries := j.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, Entry{Time: 2, Level: LevelWarning, Message: "S requires 3 candles"}, entries[1])
	assert.Equal(t, 1, j.Count(LevelError))

	entries[0].Message = "mutated"
	assert.Equal(t, "submitted buy", j.Entries()[0].Message)

	var nilJournal *Journal
	nilJournal.Warningf(1, "ignored")
	assert.Zero(t, nilJournal.Count(LevelWarning))
}

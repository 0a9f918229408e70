package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobMetricsExport(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewJobMetrics(reg)
	m.ObserveDuration("seat_sweep", 250*time.Millisecond)
	m.IncSuccess("seat_sweep")
	m.IncFailure("seat_sweep")
	m.AddAffected("seat_sweep", 3)
	m.AddAffected("seat_sweep", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.success.WithLabelValues("seat_sweep")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failure.WithLabelValues("seat_sweep")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.affected.WithLabelValues("seat_sweep")))

	n, err := testutil.GatherAndCount(reg, "job_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFlowMetricsExport(t *testing.T) {
	m := NewFlowMetrics(prometheus.NewRegistry())
	m.Seat("reserve", "ok")
	m.Seat("reserve", "ok")
	m.Order("amount_mismatch")
	m.Alert("partial_failure")
	m.Webhook("payment_intent.succeeded", "processed")
	m.LinkTransition("completed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.seats.WithLabelValues("reserve", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.orders.WithLabelValues("amount_mismatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alerts.WithLabelValues("partial_failure")))

	m.EventSeats("morning", 160, 3, 5)
	m.EventSeats("morning", 159, 2, 7)
	assert.Equal(t, 159.0, testutil.ToFloat64(m.eventSeats.WithLabelValues("morning", "available")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.eventSeats.WithLabelValues("morning", "sold")))
}

func TestNilRecordersAreSafe(t *testing.T) {
	var jm *JobMetrics
	jm.IncSuccess("x")
	jm.ObserveDuration("x", time.Second)
	var fm *FlowMetrics
	fm.Order("ok")
	fm.EventSeats("morning", 1, 0, 0)
	NewFlowMetrics(nil).Alert("x")
}

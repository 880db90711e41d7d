package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetQueueDepth(3)
		m.RecordJob("orderFilled", JobOutcomeRetry)
		m.RecordBatch("orderFilled", "polling", 1, 1)
		m.RecordFetch("orderFilled", time.Second, errors.New("boom"))
		m.SyncStarted()
		m.SyncFinished(time.Second)
		m.RecordCheckpoint("success")
	})
}

func TestCollectors(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetQueueDepth(2)
	m.RecordJob("tokenReg", JobOutcomeSuccess)
	m.RecordJob("tokenReg", JobOutcomeSuccess)
	m.RecordBatch("tokenReg", "initial", 7, 3)
	m.RecordFetch("tokenReg", 10*time.Millisecond, errors.New("timeout"))
	m.SyncStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncInProgress))
	m.SyncFinished(90 * time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.queueDepth))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobs.WithLabelValues("tokenReg", "success")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.written.WithLabelValues("tokenReg", "initial")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.skipped.WithLabelValues("tokenReg", "initial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchErrors.WithLabelValues("tokenReg")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.syncInProgress))
	assert.Equal(t, 90.0, testutil.ToFloat64(m.syncDuration))
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// TestCountersIncrement tests that labelled counters record increments.
func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(UploadsTotal.WithLabelValues("success"))
	UploadsTotal.WithLabelValues("success").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(UploadsTotal.WithLabelValues("success")))

	prunedBefore := testutil.ToFloat64(SnapshotsPruned)
	SnapshotsPruned.Add(3)
	assert.Equal(t, prunedBefore+3, testutil.ToFloat64(SnapshotsPruned))
}

// TestQueueDepthGauge tests gauge updates.
func TestQueueDepthGauge(t *testing.T) {
	QueueDepth.Set(4)
	assert.Equal(t, float64(4), testutil.ToFloat64(QueueDepth))
}

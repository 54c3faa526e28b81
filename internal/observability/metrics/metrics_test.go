package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorsRecord(t *testing.T) {
	Init(nil, nil)

	IncAnomaly("soil_moisture_low", "ERROR")
	IncAnomaly("soil_moisture_low", "ERROR")
	assert.Equal(t, 2.0, testutil.ToFloat64(anomaliesTotal.WithLabelValues("soil_moisture_low", "ERROR")))

	SetPlantState("basil-1", 0.75, 12)
	assert.Equal(t, 0.75, testutil.ToFloat64(confidenceGauge.WithLabelValues("basil-1")))
	assert.Equal(t, 12.0, testutil.ToFloat64(bufferLength.WithLabelValues("basil-1")))

	IncBufferReset("")
	assert.Equal(t, 1.0, testutil.ToFloat64(bufferResets.WithLabelValues("unknown")))

	ObserveEstimate("", time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(estimatesTotal.WithLabelValues(ResultSuccess)))
}

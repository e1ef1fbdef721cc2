package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("spanforge", reg, zap.NewNop()), reg
}

func TestRecordEvent(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordEvent("trace", "ok", 5*time.Millisecond)
	c.RecordEvent("trace", "ok", 7*time.Millisecond)
	c.RecordEvent("observation", "validation", time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.eventsTotal.WithLabelValues("trace", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.eventsTotal.WithLabelValues("observation", "validation")))
}

func TestRecordBatch(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordBatch(10, 2)
	c.RecordBatch(3, 0)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.batchErrors))
}

func TestRecordMatchAndCache(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordModelMatch(true)
	c.RecordModelMatch(true)
	c.RecordModelMatch(false)
	c.RecordRegistryCache(true)
	c.RecordRegistryCache(false)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.modelMatchTotal.WithLabelValues("matched")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.modelMatchTotal.WithLabelValues("unmatched")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.registryCacheHit.WithLabelValues("hit")))
}

func TestRecordHTTPRequest(t *testing.T) {
	c, reg := newTestCollector(t)

	c.RecordHTTPRequest("POST", "/api/public/ingestion", 207, 12*time.Millisecond, 1024, 256)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["spanforge_http_requests_total"])
	assert.True(t, names["spanforge_http_request_duration_seconds"])
}

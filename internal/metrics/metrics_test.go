package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.AnalysisOutcome("standard", "idle")
	c.ObserveCollaborator(time.Second)
	c.PersistFailure("metadata", "store_full")
	c.BinaryWritten()
	c.MetadataSaved()

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, w.Code)
}

func TestCounters(t *testing.T) {
	c := New("linkboard_test")
	c.AnalysisOutcome("standard", "no-new")
	c.AnalysisOutcome("standard", "no-new")
	c.PersistFailure("binary", "write")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.AnalysisRuns.WithLabelValues("standard", "no-new")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.PersistFailures.WithLabelValues("binary", "write")))
}

func TestHandlerServesMetrics(t *testing.T) {
	c := New("linkboard_test")
	c.BinaryWritten()

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "linkboard_test_binary_writes_total 1")
}

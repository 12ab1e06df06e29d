package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return NewWithRegistry(reg, reg)
}

func TestObserveIndexOp(t *testing.T) {
	m := newTestMetrics()
	m.ObserveIndexOp("index", "created", nil)
	m.ObserveIndexOp("index", "created", nil)
	m.ObserveIndexOp("deindex", "absent", nil)
	m.ObserveIndexOp("reindex", "", errors.New("down"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.IndexOpsTotal.WithLabelValues("index", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexOpsTotal.WithLabelValues("deindex", "absent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexErrorsTotal.WithLabelValues("reindex")))
}

func TestObserveIndexOpNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() { m.ObserveIndexOp("index", "created", nil) })
}

func TestHandlerServesRegistry(t *testing.T) {
	m := newTestMetrics()
	m.IndexedDocuments.Set(42)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "indexed_documents 42")
}

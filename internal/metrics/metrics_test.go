package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New()

	m.RecordRun("staged", "notified")
	m.RecordRun("staged", "notified")
	m.RecordNotification(6, "sent")
	m.SetStage(3)
	m.RecordEntry("text")
	m.ObserveRequest(http.MethodGet, "/api/entries", 200, 0.01)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DeadmanRunsTotal.WithLabelValues("staged", "notified")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeadmanNotifications.WithLabelValues("6", "sent")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DeadmanStage))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntriesCreatedTotal.WithLabelValues("text")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/api/entries", "200")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.SetStage(1)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "diario_deadman_stage 1")
}

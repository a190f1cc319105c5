package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getMetricsBody(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_New(t *testing.T) {
	m := New()
	assert.NotNil(t, m.StoreWrites)
	assert.NotNil(t, m.FanoutTotal)
	assert.NotNil(t, m.FileSyncTotal)
	assert.NotNil(t, m.OperationTotal)
	assert.NotNil(t, m.EventDuration)
	assert.NotNil(t, m.Registry())
}

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.RecordStoreWrite("brief")
	m.RecordStoreWrite("brief")
	m.RecordFanout("notice", "delivered")
	m.RecordFileSync("push", "failed")
	m.RecordOperation("resolve_information_request", "ok")

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `assistant_store_writes_total{kind="brief"} 2`)
	assert.Contains(t, body, `assistant_fanout_total{kind="notice",result="delivered"} 1`)
	assert.Contains(t, body, `assistant_file_sync_total{op="push",result="failed"} 1`)
	assert.Contains(t, body, `assistant_operations_total{op="resolve_information_request",result="ok"} 1`)
}

func TestMetrics_ObserveEvent(t *testing.T) {
	m := New()
	m.ObserveEvent("message", 0.25)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `assistant_event_duration_seconds_count{event="message"} 1`)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordStoreWrite("x")
		m.RecordFanout("notice", "failed")
		m.RecordFileSync("push", "ok")
		m.RecordOperation("op", "ok")
		m.ObserveEvent("message", 1)
	})
}

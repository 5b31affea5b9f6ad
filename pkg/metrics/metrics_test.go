package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerRecordsSagaFamilies(t *testing.T) {
	m := NewManager(DefaultConfig())
	require.True(t, m.Enabled())

	m.IncActiveExecutions()
	m.RecordExecution("COMPLETED", 2*time.Second)
	m.RecordStep("Payment Processing", "COMPLETED", 150*time.Millisecond)
	m.RecordCompensation("Payment Processing", "COMPENSATED")
	m.RecordCompensationAnomaly("Inventory Reservation")
	m.RecordRetryAttempt("SUCCESS")
	m.DecActiveExecutions()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, `saga_executions_total{status="COMPLETED"} 1`)
	assert.Contains(t, body, `saga_step_executions_total{status="COMPLETED",step="Payment Processing"} 1`)
	assert.Contains(t, body, `saga_compensation_anomalies_total{step="Inventory Reservation"} 1`)
	assert.Contains(t, body, `saga_retry_attempts_total{outcome="SUCCESS"} 1`)
	assert.Contains(t, body, "saga_active_count 0")
}

func TestDisabledManagerIsInert(t *testing.T) {
	m := NoOpManager()
	assert.False(t, m.Enabled())

	// No panics with the registry absent.
	m.RecordExecution("COMPLETED", time.Second)
	m.RecordStep("Payment Processing", "FAILED", time.Second)
	m.RecordHTTPRequest("GET", "/orders", "200", time.Millisecond)
	m.IncActiveExecutions()
	m.DecActiveExecutions()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestHTTPMetrics(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.RecordHTTPRequest("POST", "/orders", "201", 5*time.Millisecond)
	m.IncActiveConnections()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `http_requests_total{method="POST",path="/orders",status="201"} 1`))
	assert.Contains(t, body, "http_active_connections 1")
}

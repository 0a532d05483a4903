package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dvloznov/settlement-ledger/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.FactIngested(domain.KindVirtualCredit)
	m.FactIngested(domain.KindVirtualCredit)
	m.FactIngested(domain.KindReleaseToBank)
	m.MessagesSkipped(3)
	m.MessagesSkipped(0)
	m.IngestError(StageFetch)
	m.FactsUpdated(2)
	m.JobFinished("sync_mailbox", "completed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.factsIngested.WithLabelValues("virtual_credit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.factsIngested.WithLabelValues("release_to_bank")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.messagesSkipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestErrors.WithLabelValues(StageFetch)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.factsUpdated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues("sync_mailbox", "completed")))
}

func TestHandlerExposesHTTPMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTP("/api/summary", http.MethodGet, http.StatusOK, 15*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ledger_http_requests_total{method="GET",route="/api/summary",status="200"} 1`)
	assert.Contains(t, string(body), "ledger_http_request_duration_seconds_bucket")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.FactIngested(domain.KindUnknown)
		m.MessagesSkipped(1)
		m.IngestError(StageInsert)
		m.FactsUpdated(1)
		m.JobFinished("reparse_facts", "failed")
		m.ObserveHTTP("/health", http.MethodGet, 200, time.Millisecond)
		_ = m.Handler()
	})
	assert.Nil(t, m.Registry())
}

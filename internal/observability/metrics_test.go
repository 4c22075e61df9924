package observability_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tubefetch/internal/observability"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoop(t *testing.T) {
	t.Parallel()

	var m *observability.Metrics

	m.RecordJobCreated()
	m.RecordFetchAttempt("ok")
	m.RecordFetchBytes(10)
	m.RecordInfoCache("hit")
	m.RecordSubprocess("merge", "ok")
	m.JobTimer()()
}

func TestRecordAndExpose(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := observability.New(reg)

	m.RecordFetchAttempt("retry")
	m.RecordFetchAttempt("retry")
	m.RecordInfoCache("shared")
	m.RecordJobCreated()
	m.RecordJobCancelled()

	if got := testutil.ToFloat64(m.FetchAttempts.WithLabelValues("retry")); got != 2 {
		t.Errorf("fetch retry attempts = %v, want 2", got)
	}

	if got := testutil.ToFloat64(m.JobsInProgress); got != 0 {
		t.Errorf("jobs in progress = %v, want 0", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	if !strings.Contains(rec.Body.String(), "tubefetch_infocache_lookups_total") {
		t.Error("metrics output should expose the info cache counter")
	}
}

package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStatusRouterHealthAndSessions(t *testing.T) {
	r := NewStatusRouter("pipectl", "test", func() any {
		return []string{"session-a"}
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status=%d", rec.Code)
	}
	var health map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health["service"] != "pipectl" {
		t.Fatalf("unexpected service=%v", health["service"])
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	if !strings.Contains(rec.Body.String(), "session-a") {
		t.Fatalf("sessions body=%s", rec.Body.String())
	}
}

func TestStatusRouterServesMetrics(t *testing.T) {
	RecordPacketReceived("socket", 1, 16)
	r := NewStatusRouter("pipectl", "test", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "profpipe_pipe_packets_received_total") {
		t.Fatalf("metrics body missing pipe counter")
	}
}

func TestStatusRouterCountsUnmatchedUnderOneLabel(t *testing.T) {
	r := NewStatusRouter("pipectl", "test", nil)
	before := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "unmatched", "404"))
	for _, path := range []string{"/nope", "/also/nope"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s status=%d", path, rec.Code)
		}
	}
	after := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "unmatched", "404"))
	if after-before != 2 {
		t.Fatalf("unmatched requests counted %v want 2", after-before)
	}
}

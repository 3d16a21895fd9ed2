package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T) string {
	t.Helper()
	RegisterDefault()
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	return w.Body.String()
}

func TestObserveRemote(t *testing.T) {
	ObserveRemote("test_op", 404, 20*time.Millisecond)
	ObserveRemote("test_op", 0, time.Second)

	body := scrape(t)
	for _, want := range []string{
		`jilt_remote_calls_total{operation="test_op",status="404"} 1`,
		`jilt_remote_calls_total{operation="test_op",status="error"} 1`,
		`jilt_remote_call_duration_seconds_count{operation="test_op"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestRegisterDefault_Idempotent(t *testing.T) {
	RegisterDefault()
	RegisterDefault()

	Recoveries.WithLabelValues("guest_session").Inc()
	if !strings.Contains(scrape(t), "jilt_recoveries_total") {
		t.Error("metrics output missing jilt_recoveries_total")
	}
}

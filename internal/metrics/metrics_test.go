package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetrics_HandlerExposesRegisteredCollectors(t *testing.T) {
	m := New()
	m.RelayMutations.WithLabelValues("relay_1", "ok").Inc()
	m.BreakerOpen.Set(1)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "relayctl_relay_mutations_total") {
		t.Fatal("expected relay mutation counter to be exposed")
	}
	if !strings.Contains(body, "relayctl_timeseries_breaker_open 1") {
		t.Fatal("expected breaker_open gauge to read 1")
	}
}

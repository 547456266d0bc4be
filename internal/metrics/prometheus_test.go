package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ostin-pil/lesca/internal/types"
)

func TestPrometheusExporterUpdateSetsGaugeValues(t *testing.T) {
	c := New(16, time.Minute)
	c.Record(types.MetricEvent{Type: types.EventPoolAcquire, SessionName: "s1", TimestampMs: 1, DurationMs: 15, PoolSize: 4})
	c.Record(types.MetricEvent{Type: types.EventCircuitTrip, SessionName: "s1", TimestampMs: 2})

	e := NewPrometheusExporter()
	e.Update(c)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		`lesca_pool_size{session_name="s1"} 4`,
		`lesca_pool_active_browsers{session_name="s1"} 1`,
		`lesca_pool_circuit_state{session_name="s1"} 2`,
		`lesca_pool_circuit_trips_total{session_name="s1"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected scrape output to contain %q, got:\n%s", want, body)
		}
	}
}

func TestCircuitStateValueMapping(t *testing.T) {
	cases := []struct {
		state types.BreakerState
		want  float64
	}{
		{types.BreakerClosed, 0},
		{types.BreakerHalfOpen, 1},
		{types.BreakerOpen, 2},
	}
	for _, tc := range cases {
		if got := circuitStateValue(tc.state); got != tc.want {
			t.Errorf("circuitStateValue(%v) = %f, want %f", tc.state, got, tc.want)
		}
	}
}

func TestPrometheusExporterOwnRegistryAvoidsCollision(t *testing.T) {
	// Two independent exporters must be constructible without panicking on
	// duplicate registration, proving each uses its own private registry
	// rather than the global default.
	e1 := NewPrometheusExporter()
	e2 := NewPrometheusExporter()
	if e1.registry == e2.registry {
		t.Error("expected distinct registries per exporter")
	}
}

package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounter(t *testing.T) {
	c := NewMetricsCollector()
	ctr := c.Counter("test_total", "test counter")

	ctr.Inc()
	ctr.Add(4)
	if got := ctr.Value(); got != 5 {
		t.Errorf("expected 5, got %d", got)
	}

	// same name returns the same counter
	again := c.Counter("test_total", "test counter")
	if again.Value() != 5 {
		t.Error("counter registration is not idempotent")
	}
}

func TestGauge(t *testing.T) {
	c := NewMetricsCollector()
	g := c.Gauge("test_depth", "test gauge")

	g.Set(10)
	g.Inc()
	g.Dec()
	g.Dec()
	if got := g.Value(); got != 9 {
		t.Errorf("expected 9, got %d", got)
	}
}

func TestHandlerOutput(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("relay_things_total", "Things relayed").Add(3)
	c.Gauge("relay_depth", "Current depth").Set(2)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler()(rec, req)

	body := rec.Body.String()
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected content type %s", ct)
	}
	for _, want := range []string{
		"# TYPE relay_things_total counter",
		"relay_things_total 3",
		"# TYPE relay_depth gauge",
		"relay_depth 2",
		"relaybot_uptime_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("output missing %q:\n%s", want, body)
		}
	}
}

package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/flashd/internal/bus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixedCounter struct {
	n   int
	err error
}

func (f fixedCounter) Count(context.Context) (int, error) { return f.n, f.err }

func TestObserveAndExpose(t *testing.T) {
	c := New(bus.New(), zap.NewNop())
	c.Observe(bus.Event{Kind: bus.KindFlashSwept, Payload: bus.FlashSwept{Kept: 2, Dropped: 1}})
	c.Observe(bus.Event{Kind: bus.KindFlashSwept, Payload: bus.FlashSwept{Kept: 1, Dropped: 3}})
	c.Observe(bus.Event{Kind: bus.KindSessionCreated, Payload: bus.SessionChange{SessionID: "a"}})
	c.Observe(bus.Event{Kind: bus.KindSessionExpired, Payload: bus.SessionChange{Count: 5}})
	c.Observe(bus.Event{Kind: bus.KindRequestDone, Payload: bus.RequestDone{Status: 200}})
	c.Observe(bus.Event{Kind: bus.KindRequestDone, Payload: bus.RequestDone{Status: 404}})
	c.Observe(bus.Event{Kind: bus.KindRequestDone, Payload: bus.RequestDone{Status: 200}})

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"sweeps", testutil.ToFloat64(c.sweeps), 2},
		{"kept", testutil.ToFloat64(c.kept), 3},
		{"dropped", testutil.ToFloat64(c.dropped), 4},
		{"created", testutil.ToFloat64(c.sessions.WithLabelValues("created")), 1},
		{"expired", testutil.ToFloat64(c.sessions.WithLabelValues("expired")), 5},
		{"reset", testutil.ToFloat64(c.sessions.WithLabelValues("reset")), 0},
		{"200", testutil.ToFloat64(c.requests.WithLabelValues("200")), 2},
		{"404", testutil.ToFloat64(c.requests.WithLabelValues("404")), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	rec := httptest.NewRecorder()
	c.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}

	var parser expfmt.TextParser
	fams, err := parser.TextToMetricFamilies(rec.Body)
	if err != nil {
		t.Fatalf("parse exposition: %v", err)
	}
	for _, name := range []string{
		"flashd_flash_sweeps_total",
		"flashd_flash_kept_total",
		"flashd_flash_dropped_total",
		"flashd_sessions_changes_total",
		"flashd_http_requests_total",
		"flashd_bus_dropped_events",
	} {
		if _, ok := fams[name]; !ok {
			t.Errorf("exposition missing %s", name)
		}
	}
	if got := fams["flashd_flash_sweeps_total"].GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Errorf("exposed sweeps = %v, want 2", got)
	}
}

func TestFamiliesSorted(t *testing.T) {
	c := New(bus.New(), zap.NewNop())
	fams, err := c.Families()
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(fams); i++ {
		if fams[i-1].GetName() > fams[i].GetName() {
			t.Fatalf("families not sorted: %s before %s", fams[i-1].GetName(), fams[i].GetName())
		}
	}
}

func TestWatchSessions(t *testing.T) {
	c := New(bus.New(), zap.NewNop())
	c.WatchSessions(fixedCounter{n: 7})

	expected := `
# HELP flashd_sessions_stored Sessions currently held by the backend.
# TYPE flashd_sessions_stored gauge
flashd_sessions_stored 7
`
	if err := testutil.GatherAndCompare(c.registry, strings.NewReader(expected), "flashd_sessions_stored"); err != nil {
		t.Error(err)
	}
}

func TestWatchSessionsCountError(t *testing.T) {
	c := New(bus.New(), zap.NewNop())
	c.WatchSessions(fixedCounter{err: errors.New("db closed")})

	fams, err := c.Families()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range fams {
		if mf.GetName() == "flashd_sessions_stored" {
			if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 0 {
				t.Errorf("stored = %v on count error, want 0", got)
			}
			return
		}
	}
	t.Fatal("flashd_sessions_stored not gathered")
}

func TestStartCountsBusEvents(t *testing.T) {
	b := bus.New()
	c := New(b, zap.NewNop())
	c.Start(context.Background())
	defer c.Stop()

	b.Emit(bus.KindSessionReset, bus.SessionChange{SessionID: "x"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(c.sessions.WithLabelValues("reset")) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("reset event was not counted")
}

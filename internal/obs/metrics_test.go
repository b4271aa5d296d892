package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap/zapcore"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                     "/",
		"/metrics":                             "/metrics",
		"/v1/auth/login":                       "/v1/auth/login",
		"/v1/admin/users":                      "/v1/admin/users",
		"/v1/admin/users/01HX":                 "/v1/admin/users/:id",
		"/v1/admin/users/01HX/roles":           "/v1/admin/users/:id/roles",
		"/v1/admin/users/01HX/roles/01HY":      "/v1/admin/users/:id/roles/:id",
		"/v1/admin/roles/01HY/permissions?x=1": "/v1/admin/roles/:id/permissions",
		"/v1/admin/clients/01HZ/secret":        "/v1/admin/clients/:id/secret",
		"/v1/auth/sessions/01HQ":               "/v1/auth/sessions/:id",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsStatus(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := counterValue(t, httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/admin/users/:id", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/admin/users/abc", nil))
	after := counterValue(t, httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/admin/users/:id", "418"))
	if after-before != 1 {
		t.Fatalf("expected one request counted, got %v", after-before)
	}
}

func TestRecordRevocationsIgnoresZero(t *testing.T) {
	before := counterValue(t, authRevocationsTotal.WithLabelValues("logout_all"))
	RecordRevocations("logout_all", 0)
	RecordRevocations("logout_all", 3)
	if got := counterValue(t, authRevocationsTotal.WithLabelValues("logout_all")) - before; got != 3 {
		t.Fatalf("revocations delta = %v, want 3", got)
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger("loud", "json"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	l, err := NewLogger("debug", "console")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if !l.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("debug level should be enabled")
	}
}

func TestInitBuildInfoKeepsOneSeries(t *testing.T) {
	InitBuildInfo("1.0.0", "abc123")
	InitBuildInfo("1.0.1", "def456")

	ch := make(chan prometheus.Metric, 4)
	buildInfo.Collect(ch)
	close(ch)
	var series []*dto.Metric
	for m := range ch {
		out := &dto.Metric{}
		if err := m.Write(out); err != nil {
			t.Fatalf("write: %v", err)
		}
		series = append(series, out)
	}
	if len(series) != 1 {
		t.Fatalf("expected one build_info series, got %d", len(series))
	}
	labels := map[string]string{}
	for _, l := range series[0].GetLabel() {
		labels[l.GetName()] = l.GetValue()
	}
	if labels["version"] != "1.0.1" || labels["commit"] != "def456" || labels["go_version"] == "" {
		t.Fatalf("unexpected labels %v", labels)
	}
	if series[0].GetGauge().GetValue() != 1 {
		t.Fatalf("build_info must be 1")
	}
	if got := resolveCommit("feedbeef"); got != "feedbeef" {
		t.Fatalf("explicit commit must win, got %q", got)
	}
	if got := resolveCommit(""); got == "" {
		t.Fatalf("empty commit must resolve to something")
	}
}

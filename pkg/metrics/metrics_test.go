package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegistry(t *testing.T) {
	if Registry == nil {
		t.Error("Registry should not be nil")
	}

	if Registry != prometheus.DefaultRegisterer {
		t.Error("Registry should be the default Prometheus registerer")
	}
}

type pushRecorder struct {
	mu     sync.Mutex
	method string
	path   string
	body   string
}

func (p *pushRecorder) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	p.mu.Lock()
	p.method, p.path, p.body = r.Method, r.URL.Path, string(body)
	p.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func withGatherer(t *testing.T, g prometheus.Gatherer) {
	t.Helper()
	prev := Gatherer
	Gatherer = g
	t.Cleanup(func() { Gatherer = prev })
}

func TestPush(t *testing.T) {
	rec := &pushRecorder{}
	server := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer server.Close()

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slack_test_pushed_total",
		Help: "Test counter",
	})
	reg.MustRegister(counter)
	counter.Add(3)
	withGatherer(t, reg)

	err := Push(context.Background(), server.URL, "", map[string]string{"channel": "dev"})
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.method != http.MethodPut {
		t.Errorf("method = %s, want PUT", rec.method)
	}
	if rec.path != "/metrics/job/"+DefaultJob+"/channel/dev" {
		t.Errorf("path = %s", rec.path)
	}
	if !strings.Contains(rec.body, "slack_test_pushed_total") {
		t.Error("pushed body does not contain the registered metric")
	}
}

func TestPush_Errors(t *testing.T) {
	if err := Push(context.Background(), "", "job", nil); err == nil {
		t.Error("Push() without url should fail")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()
	withGatherer(t, prometheus.NewRegistry())

	if err := Push(context.Background(), server.URL, "job", nil); err == nil {
		t.Error("Push() should fail on a 500 from the gateway")
	}
}

package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-logr/logr/testr"
)

func TestWriteTo(t *testing.T) {
	m := New()
	m.Inc("deco_polls_total", "device", "plug", "result", "ok")
	m.Inc("deco_polls_total", "device", "plug", "result", "ok")
	m.Inc("deco_polls_total", "device", "cover", "result", "error")
	m.Set("deco_devices", 3, "state", "online")

	var b strings.Builder
	if _, err := m.WriteTo(&b); err != nil {
		t.Fatal(err)
	}
	want := `# TYPE deco_devices gauge
deco_devices{state="online"} 3
# TYPE deco_polls_total counter
deco_polls_total{device="cover",result="error"} 1
deco_polls_total{device="plug",result="ok"} 2
`
	if b.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", b.String(), want)
	}
	if v := m.Value("deco_polls_total", "device", "plug", "result", "ok"); v != 2 {
		t.Errorf("Value = %v", v)
	}
}

func TestExporterEndpoints(t *testing.T) {
	m := New()
	m.Inc("deco_scans_total")
	healthErr := error(nil)
	e := NewExporter(testr.New(t), m, "127.0.0.1:0", func() error { return healthErr })
	srv := httptest.NewServer(e.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if !strings.Contains(string(body), "deco_scans_total 1") {
		t.Errorf("metrics body: %s", body)
	}

	res, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Errorf("health status %d", res.StatusCode)
	}

	healthErr = errors.New("registry not persisted")
	res, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	body, _ = io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable || !strings.Contains(string(body), "registry not persisted") {
		t.Errorf("health = %d %s", res.StatusCode, body)
	}
}

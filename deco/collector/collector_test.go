package collector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/asnowfix/deco/pkg/retry"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
)

func testContext(t *testing.T) context.Context {
	return logr.NewContext(context.Background(), testr.New(t))
}

func TestCollectorURL(t *testing.T) {
	u, err := CollectorURL("", "collector", 8000)
	if err != nil || u.String() != "http://collector.local:8000/" {
		t.Errorf("CollectorURL = %v, %v", u, err)
	}
	u, err = CollectorURL("http://10.0.0.2:9000/readings", "ignored", 1)
	if err != nil || u.String() != "http://10.0.0.2:9000/readings" {
		t.Errorf("CollectorURL = %v, %v", u, err)
	}
	if _, err := CollectorURL("", "", 8000); err == nil {
		t.Error("empty configuration accepted")
	}
}

func TestHTTPSinkPostsReading(t *testing.T) {
	var got Reading
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()
	u, _ := url.Parse(srv.URL)

	s := NewHTTPSink(nil, nil, u)
	err := s.Send(testContext(t), Reading{Name: "plug-desk", Type: "plug", IP: "10.0.0.5", Hardware: "Shelly", Reading: 12.5})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Name != "plug-desk" || got.IP != "10.0.0.5" || got.Reading != 12.5 {
		t.Errorf("collector received %+v", got)
	}
}

func TestHTTPSinkRejectionIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	u, _ := url.Parse(srv.URL)

	err := NewHTTPSink(nil, nil, u).Send(testContext(t), Reading{Name: "x"})
	if !retry.IsTransient(err) {
		t.Errorf("expected a transient error, got %v", err)
	}
}

type countingSink struct {
	calls int32
	err   error
}

func (s *countingSink) Name() string { return "counting" }
func (s *countingSink) Send(ctx context.Context, r Reading) error {
	atomic.AddInt32(&s.calls, 1)
	return s.err
}
func (s *countingSink) Close() error { return nil }

func TestMultiReachesEverySink(t *testing.T) {
	ok := &countingSink{}
	failing := &countingSink{err: errors.New("broker down")}
	err := Multi{ok, failing}.Send(testContext(t), Reading{Name: "x"})
	if err == nil {
		t.Error("failure of one sink not reported")
	}
	if ok.calls != 1 || failing.calls != 1 {
		t.Errorf("calls = %d, %d", ok.calls, failing.calls)
	}
}

func TestBrokerURL(t *testing.T) {
	tests := map[string]string{
		"broker.lan":        "tcp://broker.lan:1883",
		"192.168.1.2:1884":  "tcp://192.168.1.2:1884",
		"tcp://broker:1883": "tcp://broker:1883",
	}
	for in, want := range tests {
		u, err := BrokerURL(in)
		if err != nil || u.String() != want {
			t.Errorf("BrokerURL(%q) = %v, %v", in, u, err)
		}
	}
}

func TestMQTTTopic(t *testing.T) {
	s, err := NewMQTTSink(testr.New(t), "127.0.0.1", "deco/", 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Topic("plug-desk"); got != "deco/plug-desk" {
		t.Errorf("Topic = %q", got)
	}
}

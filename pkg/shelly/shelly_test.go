package shelly

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/asnowfix/deco/pkg/retry"
	"github.com/asnowfix/deco/pkg/shelly/shttp"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
)

var testPolicy = retry.Policy{MaxAttempts: 2, Timeout: time.Second}

// fakeDevice answers the given paths with 200 and the JSON body, everything else with 404.
func fakeDevice(t *testing.T, routes map[string]string) (string, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://"), &calls
}

func testContext(t *testing.T) context.Context {
	return logr.NewContext(context.Background(), testr.New(t))
}

func TestIdentityPrecedence(t *testing.T) {
	tests := map[string]struct {
		doc  string
		want string
	}{
		"name wins":        {`{"name":"kitchen","id":"shellyplus1-a1","mac":"a1"}`, "kitchen"},
		"id when no name":  {`{"name":null,"id":"shellyplus1-a1","mac":"a1"}`, "shellyplus1-a1"},
		"blank name":       {`{"name":"  ","id":"shellyplus1-a1"}`, "shellyplus1-a1"},
		"mac as last step": {`{"type":"SHSW-1","mac":"aabbccddeeff"}`, "AABBCCDDEEFF"},
	}
	for name, tt := range tests {
		var info DeviceInfo
		if err := json.Unmarshal([]byte(tt.doc), &info); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		id, err := info.Identity("10.0.0.1")
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if id.Key != tt.want {
			t.Errorf("%s: identity = %q, want %q", name, id.Key, tt.want)
		}
	}
}

func TestIdentityMissing(t *testing.T) {
	var info DeviceInfo
	_ = json.Unmarshal([]byte(`{"model":"SNSW-001P16EU"}`), &info)
	_, err := info.Identity("10.0.0.1")
	var nie *NoIdentityError
	if !errors.As(err, &nie) {
		t.Fatalf("expected NoIdentityError, got %v", err)
	}
	if nie.Address != "10.0.0.1" {
		t.Errorf("address = %q", nie.Address)
	}
}

func TestResolveGen2(t *testing.T) {
	address, _ := fakeDevice(t, map[string]string{
		"/rpc/Shelly.GetDeviceInfo": `{"name":"plug-desk","id":"shellyplusplugs-e86beae","mac":"E86BEA0A1B2C","model":"SNPL-00112EU","gen":2,"fw_id":"20231107-164738/1.0.8-g","ver":"1.0.8","app":"PlusPlugS"}`,
	})
	r := NewResolver(shttp.NewChannel(nil, nil), testPolicy)

	id, err := r.Resolve(testContext(t), address)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := Identity{
		Key: "plug-desk", Id: "shellyplusplugs-e86beae", Name: "plug-desk", MAC: "E86BEA0A1B2C",
		Model: "SNPL-00112EU", Firmware: "1.0.8", FirmwareId: "20231107-164738/1.0.8-g", App: "PlusPlugS", Generation: 2,
	}
	if !reflect.DeepEqual(id, want) {
		t.Errorf("got %+v\nwant %+v", id, want)
	}
}

func TestResolveFallsBackToGen1(t *testing.T) {
	address, _ := fakeDevice(t, map[string]string{
		"/shelly": `{"type":"SHPLG-S","mac":"C45BBE6A0B1C","auth":false,"fw":"20230913-114003/v1.14.0-gcb84623"}`,
	})
	r := NewResolver(shttp.NewChannel(nil, nil), testPolicy)

	id, err := r.Resolve(testContext(t), address)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.Key != "C45BBE6A0B1C" || id.Model != "SHPLG-S" || id.Generation != 1 || id.Firmware != "20230913-114003/v1.14.0-gcb84623" {
		t.Errorf("unexpected identity %+v", id)
	}
}

func TestResolveRejectsUnknownShape(t *testing.T) {
	address, _ := fakeDevice(t, map[string]string{
		"/rpc/Shelly.GetDeviceInfo": `["not","an","object"]`,
		"/shelly":                   `"nope"`,
	})
	r := NewResolver(shttp.NewChannel(nil, nil), testPolicy)

	_, err := r.Resolve(testContext(t), address)
	if !retry.IsTerminal(err) {
		t.Errorf("expected a terminal error, got %v", err)
	}
}

func TestProbeIsInclusive(t *testing.T) {
	address, _ := fakeDevice(t, map[string]string{
		"/rpc/Switch.GetConfig": `{"id":0}`,
		"/rpc/PM1.GetConfig":    `{"id":0}`,
		"/rpc/Input.GetConfig":  `{"id":0}`,
	})
	p := NewProber(shttp.NewChannel(nil, nil), testPolicy)

	got := p.Probe(testContext(t), address)
	want := []string{CapRelay, CapPowerMeter, CapInput}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Probe = %v, want %v", got, want)
	}
}

func TestProbeExclusiveStopsAtFirstMatch(t *testing.T) {
	address, _ := fakeDevice(t, map[string]string{
		"/rpc/Cover.GetConfig": `{"id":0}`,
		"/rpc/EM.GetConfig":    `{"id":0}`,
	})
	p := NewProber(shttp.NewChannel(nil, nil), testPolicy)
	p.Exclusive = true

	got := p.Probe(testContext(t), address)
	if !reflect.DeepEqual(got, []string{CapCover}) {
		t.Errorf("Probe = %v, want [cover]", got)
	}
}

func TestProbeFallsBackToGeneric(t *testing.T) {
	address, calls := fakeDevice(t, nil)
	p := NewProber(shttp.NewChannel(nil, nil), testPolicy)

	got := p.Probe(testContext(t), address)
	if !reflect.DeepEqual(got, []string{CapGeneric}) {
		t.Errorf("Probe = %v, want [generic]", got)
	}
	// 404 is terminal: one call per check
	if n := atomic.LoadInt32(calls); n != int32(len(Checks)) {
		t.Errorf("expected %d calls, got %d", len(Checks), n)
	}
}

func TestParseTXT(t *testing.T) {
	got := ParseTXT([]string{"gen=2", "app=PlusPlugS", "ver=1.0.8", "arch=esp8266"})
	want := TXT{Generation: 2, Application: "PlusPlugS", Version: "1.0.8"}
	if got != want {
		t.Errorf("ParseTXT = %+v, want %+v", got, want)
	}
}

package shttp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/asnowfix/deco/pkg/retry"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
)

func TestURL(t *testing.T) {
	tests := map[string]struct {
		address, path, want string
	}{
		"ipv4":       {"192.168.2.10", "shelly", "http://192.168.2.10/shelly"},
		"with port":  {"127.0.0.1:8080", "/rpc/Shelly.GetDeviceInfo", "http://127.0.0.1:8080/rpc/Shelly.GetDeviceInfo"},
		"ipv6":       {"fe80::1", "status", "http://[fe80::1]/status"},
		"with query": {"10.0.0.2", "rpc/Switch.GetStatus?id=0", "http://10.0.0.2/rpc/Switch.GetStatus?id=0"},
	}
	for name, tt := range tests {
		if got := URL(tt.address, tt.path); got != tt.want {
			t.Errorf("%s: URL(%q, %q) = %q, want %q", name, tt.address, tt.path, got, tt.want)
		}
	}
}

func TestCheckStatus(t *testing.T) {
	if err := CheckStatus(200); err != nil {
		t.Errorf("200: %v", err)
	}
	for _, code := range []int{408, 429, 500, 503} {
		if !retry.IsTransient(CheckStatus(code)) {
			t.Errorf("%d should be transient", code)
		}
	}
	for _, code := range []int{400, 401, 404} {
		if !retry.IsTerminal(CheckStatus(code)) {
			t.Errorf("%d should be terminal", code)
		}
	}
}

func TestCallEPostsEmptyObject(t *testing.T) {
	var gotMethod, gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte(`{"id":0,"name":null}`))
	}))
	defer srv.Close()

	ctx := logr.NewContext(context.Background(), testr.New(t))
	ch := NewChannel(srv.Client(), nil)

	var out map[string]any
	if err := ch.CallE(ctx, strings.TrimPrefix(srv.URL, "http://"), "Switch.GetConfig", nil, &out); err != nil {
		t.Fatalf("CallE: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/rpc/Switch.GetConfig" || gotBody != "{}" {
		t.Errorf("got %s %s %q", gotMethod, gotPath, gotBody)
	}
}

func TestGetJSONClassifiesFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/garbage":
			w.Write([]byte("<html>"))
		case "/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	address := strings.TrimPrefix(srv.URL, "http://")

	ctx := logr.NewContext(context.Background(), testr.New(t))
	ch := NewChannel(srv.Client(), nil)

	var out map[string]any
	if err := ch.GetJSON(ctx, address, "garbage", &out); !retry.IsTerminal(err) {
		t.Errorf("malformed JSON should be terminal, got %v", err)
	}
	if err := ch.GetJSON(ctx, address, "busy", &out); !retry.IsTransient(err) {
		t.Errorf("503 should be transient, got %v", err)
	}
	if err := ch.GetJSON(ctx, address, "missing", &out); !retry.IsTerminal(err) {
		t.Errorf("404 should be terminal, got %v", err)
	}

	srv.Close()
	if err := ch.GetJSON(ctx, address, "busy", &out); !retry.IsTransient(err) {
		t.Errorf("connection refused should be transient, got %v", err)
	}
}

package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
)

// Exporter serves /metrics and /health over HTTP.
type Exporter struct {
	metrics    *Metrics
	health     func() error
	httpServer *http.Server
	httpAddr   string
	log        logr.Logger
}

// NewExporter serves m on httpAddr. health reports why the daemon is unhealthy, or nil.
func NewExporter(log logr.Logger, m *Metrics, httpAddr string, health func() error) *Exporter {
	e := &Exporter{
		metrics:  m,
		health:   health,
		httpAddr: httpAddr,
		log:      log.WithName("Exporter"),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", e.handleMetrics)
	mux.HandleFunc("/health", e.handleHealth)
	e.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return e
}

// Handler is the exporter's HTTP handler.
func (e *Exporter) Handler() http.Handler {
	return e.httpServer.Handler
}

// Start listens and serves in the background.
func (e *Exporter) Start() error {
	ln, err := net.Listen("tcp", e.httpAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", e.httpAddr, err)
	}
	go func() {
		e.log.Info("Starting HTTP server for metrics", "addr", ln.Addr().String())
		if err := e.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error(err, "HTTP server error")
		}
	}()
	return nil
}

// Stop shuts down the metrics exporter
func (e *Exporter) Stop() error {
	e.log.Info("Shutting down metrics exporter")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func (e *Exporter) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	n, _ := e.metrics.WriteTo(w)
	e.log.V(2).Info("Served metrics", "size_bytes", n)
}

func (e *Exporter) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	status := "ok"
	if e.health != nil {
		if err := e.health(); err != nil {
			status = err.Error()
		}
	}
	if status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	fmt.Fprintf(w, `{"status":%q}`, status)
}

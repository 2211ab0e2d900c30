package options

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/asnowfix/deco/deco/collector"
	"github.com/asnowfix/deco/deco/config"
	"github.com/asnowfix/deco/deco/devices"
	"github.com/asnowfix/deco/deco/discovery"
	"github.com/asnowfix/deco/deco/storage"
	"github.com/asnowfix/deco/internal/mynet"
	"github.com/asnowfix/deco/pkg/shelly/ratelimit"
	"github.com/asnowfix/deco/pkg/shelly/shttp"

	"github.com/go-logr/logr"
)

// OpenStore opens the configured registry backend.
func OpenStore(log logr.Logger, cfg *config.Config) (devices.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Registry.Path), 0o755); err != nil {
		return nil, fmt.Errorf("creating registry directory: %w", err)
	}
	switch cfg.Registry.Backend {
	case config.BackendSQLite:
		s, err := storage.NewSQLiteStore(log, cfg.Registry.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return storage.NewYAMLStore(log, cfg.Registry.Path), nil
	}
}

// OpenManager opens the store and loads the registry from it.
func OpenManager(ctx context.Context, cfg *config.Config) (*devices.Manager, error) {
	store, err := OpenStore(logr.FromContextOrDiscard(ctx), cfg)
	if err != nil {
		return nil, err
	}
	return devices.NewManager(ctx, store), nil
}

// NewChannel is the device HTTP channel, paced per device.
func NewChannel(cfg *config.Config) *shttp.Channel {
	var limiter *ratelimit.Limiter
	if cfg.Transport.RateLimit > 0 {
		limiter = ratelimit.New(cfg.Transport.RateLimit)
	}
	return shttp.NewChannel(&http.Client{}, limiter)
}

// Sources are the configured discovery sources. forceSweep adds a sweep even when the
// configuration does not ask for one.
func Sources(cfg *config.Config, forceSweep bool) []discovery.Source {
	d := cfg.Discovery
	sources := []discovery.Source{
		discovery.StaticSource{Addresses: d.Static},
		discovery.MDNSSource{Services: d.Services, Window: d.Window, Filter: d.Filter},
	}
	if d.Sweep || d.Subnet != "" || forceSweep {
		sources = append(sources, discovery.SweepSource{
			Subnet:      d.Subnet,
			Port:        d.Port,
			Concurrency: d.Concurrency,
			DialTimeout: cfg.Transport.Timeout,
		})
	}
	return sources
}

// Sink builds the configured collector sinks. With nothing configured, readings are only
// logged.
func Sink(log logr.Logger, cfg *config.Config, resolver *mynet.Resolver) (collector.Sink, error) {
	c := cfg.Collector
	var sinks collector.Multi

	if c.URL != "" || c.ServerName != "" {
		u, err := collector.CollectorURL(c.URL, c.ServerName, c.ServerPort)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, collector.NewHTTPSink(&http.Client{Timeout: cfg.Transport.Timeout}, resolver, u))
		log.Info("Forwarding readings over HTTP", "url", u.String())
	}

	if c.MQTT.Broker != "" {
		s, err := collector.NewMQTTSink(log, c.MQTT.Broker, c.MQTT.Topic, cfg.Transport.Timeout)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}

	switch len(sinks) {
	case 0:
		log.Info("No collector configured, readings will only be logged")
		return collector.NewLogSink(log), nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

// ScanPass discovers, observes and reconciles once.
func ScanPass(ctx context.Context, cfg *config.Config, ch *shttp.Channel, m *devices.Manager, opts devices.Options) (devices.Registry, devices.Diff, error) {
	candidates := discovery.Discover(ctx, Sources(cfg, false)...)
	scanner := discovery.NewScanner(ch, cfg.Policy(), cfg.Discovery.Concurrency).WithExclusiveProbing(cfg.Discovery.Exclusive)
	observations := scanner.Scan(ctx, candidates)
	return m.Reconcile(ctx, observations, opts)
}

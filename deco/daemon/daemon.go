package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/asnowfix/deco/deco/config"
	"github.com/asnowfix/deco/deco/ctl/options"
	"github.com/asnowfix/deco/deco/devices"
	"github.com/asnowfix/deco/deco/metrics"
	"github.com/asnowfix/deco/deco/monitor"
	"github.com/asnowfix/deco/internal/global"
	"github.com/asnowfix/deco/internal/mynet"

	"github.com/go-logr/logr"
	"github.com/kardianos/service"
)

type daemon struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *config.Config

	mu       sync.Mutex
	lastErr  error
	lastPass time.Time
}

// NewDaemon runs under the process context, not bound by --command-timeout, with the
// logger of ctx.
func NewDaemon(ctx context.Context, cfg *config.Config) *daemon {
	log := logr.FromContextOrDiscard(ctx)
	ctx, cancel := context.WithCancel(logr.NewContext(global.ProcessContext(ctx), log))
	return &daemon{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
	}
}

func (d *daemon) Start(s service.Service) error {
	// Start should not block. Do the actual work async.
	go d.Run()
	return nil
}

func (d *daemon) Stop(s service.Service) error {
	d.cancel()
	return nil
}

// health fails when the last pass could not be persisted or no pass happened for two
// intervals.
func (d *daemon) health() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastErr != nil {
		return d.lastErr
	}
	if !d.lastPass.IsZero() && time.Since(d.lastPass) > 2*d.cfg.Discovery.Interval {
		return fmt.Errorf("no scan since %s", d.lastPass.Format(time.RFC3339))
	}
	return nil
}

func (d *daemon) Run() error {
	log, err := logr.FromContext(d.ctx)
	if err != nil {
		return err
	}
	log.Info("Starting Deco daemon", "version", global.Version(d.ctx), "registry", d.cfg.Registry.Path, "interval", d.cfg.Discovery.Interval)

	if err := mynet.InitializeFirewall(log); err != nil {
		log.Error(err, "Failed to initialize firewall rules")
	}

	m, err := options.OpenManager(d.ctx, d.cfg)
	if err != nil {
		log.Error(err, "Failed to open registry")
		return err
	}
	defer m.Close()

	resolver := mynet.NewResolver(log, d.cfg.Discovery.Window)
	defer resolver.Close()

	sink, err := options.Sink(log, d.cfg, resolver)
	if err != nil {
		log.Error(err, "Failed to initialize collector")
		return err
	}
	defer sink.Close()

	stats := metrics.New()
	if d.cfg.Metrics.Port > 0 {
		httpAddr := fmt.Sprintf(":%d", d.cfg.Metrics.Port)
		exporter := metrics.NewExporter(log.WithName("metrics"), stats, httpAddr, d.health)
		if err := exporter.Start(); err != nil {
			log.Error(err, "Failed to start metrics exporter")
			return err
		}
		defer exporter.Stop()
	} else {
		log.Info("Metrics exporter disabled")
	}

	ch := options.NewChannel(d.cfg)
	supervisor := monitor.NewSupervisor(d.ctx, d.cfg.Monitor.JoinTimeout)
	defer supervisor.StopAll()

	pass := func() {
		start := time.Now()
		reg, diff, err := options.ScanPass(d.ctx, d.cfg, ch, m, devices.Options{})
		if d.ctx.Err() != nil {
			return
		}

		d.mu.Lock()
		d.lastErr = err
		d.lastPass = start
		d.mu.Unlock()

		stats.Inc("deco_scans_total")
		stats.Set("deco_scan_duration_seconds", time.Since(start).Seconds())
		if err != nil {
			log.Error(err, "Scan pass not persisted")
			stats.Inc("deco_registry_save_errors_total")
		}
		if reg == nil {
			return
		}

		online := make(devices.Registry)
		for id, r := range reg {
			if r.Present {
				online[id] = r
			}
		}
		stats.Set("deco_devices", float64(len(online)), "state", "online")
		stats.Set("deco_devices", float64(len(reg)-len(online)), "state", "offline")
		stats.Set("deco_last_scan_timestamp_seconds", float64(start.Unix()))
		log.Info("Scan pass done", "devices", len(reg), "online", len(online), "new", diff.New, "vanished", diff.Vanished)

		supervisor.Sync(monitor.Specs(monitor.Targets(d.cfg, online), ch, sink, stats))
	}

	log.Info("Running")
	pass()

	ticker := time.NewTicker(d.cfg.Discovery.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			log.Info("Shutting down")
			return nil
		case <-ticker.C:
			pass()
		}
	}
}

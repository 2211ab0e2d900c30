package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/asnowfix/deco/deco/collector"
	"github.com/asnowfix/deco/deco/config"
	"github.com/asnowfix/deco/deco/devices"
	"github.com/asnowfix/deco/hlog"
	"github.com/asnowfix/deco/pkg/retry"
	"github.com/asnowfix/deco/pkg/shelly/shttp"

	"github.com/go-logr/logr"
)

// Target is one device to monitor, with everything its loop needs resolved up front.
type Target struct {
	Identity string
	Name     string
	Address  string
	Type     string
	Template config.Template
	Cycle    time.Duration
	Policy   retry.Policy
}

// Fingerprint changes whenever the loop of the target must be restarted.
func (t Target) Fingerprint() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%v|%d", t.Name, t.Address, t.Type, t.Template.Protocol, t.Template.InfoPath, t.Template.Reading, t.Cycle, t.Policy.MaxAttempts)
}

// Targets builds one target per registry record that has an address.
func Targets(cfg *config.Config, reg devices.Registry) []Target {
	targets := make([]Target, 0, len(reg))
	for _, r := range reg.Sorted() {
		if r.Address == "" {
			continue
		}
		name, tmpl := cfg.TemplateFor(r.Identity, r.Generation)
		t := Target{
			Identity: r.Identity,
			Name:     r.DisplayName(),
			Address:  r.Address,
			Type:     name,
			Template: tmpl,
			Cycle:    cfg.Monitor.DefaultCycle,
			Policy:   cfg.Policy(),
		}
		if d, ok := cfg.Device(r.Identity); ok {
			if d.Cycle > 0 {
				t.Cycle = d.Cycle
			}
			t.Policy = t.Policy.WithAttempts(d.Retry)
		}
		if t.Template.Protocol == config.ProtocolUnknown {
			t.Cycle = cfg.Monitor.Idle
		}
		targets = append(targets, t)
	}
	return targets
}

// Recorder counts loop outcomes.
type Recorder interface {
	Inc(name string, labels ...string)
}

// Loop polls one device and forwards its readings.
type Loop struct {
	target   Target
	ch       *shttp.Channel
	sink     collector.Sink
	recorder Recorder
}

func NewLoop(target Target, ch *shttp.Channel, sink collector.Sink, recorder Recorder) *Loop {
	return &Loop{target: target, ch: ch, sink: sink, recorder: recorder}
}

// Run sleeps one cycle, polls, forwards and starts over until ctx is cancelled. Devices of
// unknown protocol are never polled. Failures are logged and the loop goes on.
func (l *Loop) Run(ctx context.Context) {
	log := logr.FromContextOrDiscard(ctx).WithValues("device", l.target.Name, "address", l.target.Address)
	ctx = logr.NewContext(ctx, log)
	log.Info("Monitoring", "type", l.target.Type, "protocol", l.target.Template.Protocol, "cycle", l.target.Cycle)

	timer := time.NewTimer(l.target.Cycle)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("Monitoring stopped")
			return
		case <-timer.C:
		}

		if l.target.Template.Protocol != config.ProtocolUnknown {
			if err := l.Poll(ctx); err != nil {
				hlog.ErrorIfNotCanceled(ctx, log, err, "Monitoring cycle failed")
			}
		}
		timer.Reset(l.target.Cycle)
	}
}

// Poll reads the device once and forwards the reading to the sink.
func (l *Loop) Poll(ctx context.Context) error {
	doc, err := retry.Do(ctx, l.target.Policy, func(ctx context.Context) (any, error) {
		res, err := l.ch.Do(ctx, http.MethodGet, l.target.Address, l.target.Template.InfoPath, nil)
		if err != nil {
			return nil, err
		}
		if err := shttp.CheckStatus(res.StatusCode); err != nil {
			return nil, err
		}
		var doc any
		if err := json.Unmarshal(res.Body, &doc); err != nil {
			return nil, retry.Terminal(fmt.Errorf("decoding %s: %w", l.target.Template.InfoPath, err))
		}
		return doc, nil
	})
	l.record("deco_polls_total", err)
	if err != nil {
		return fmt.Errorf("reading %s: %w", l.target.Name, err)
	}

	value, err := Extract(doc, l.target.Template.Reading)
	if err != nil {
		return err
	}

	reading := collector.Reading{
		Name:     l.target.Name,
		Type:     l.target.Type,
		IP:       l.target.Address,
		Hardware: l.target.Template.Hardware,
		Reading:  value,
	}
	err = retry.Run(ctx, l.target.Policy, func(ctx context.Context) error {
		return l.sink.Send(ctx, reading)
	})
	l.record("deco_forwards_total", err)
	if err != nil {
		return fmt.Errorf("forwarding %s: %w", l.target.Name, err)
	}
	logr.FromContextOrDiscard(ctx).V(1).Info("Forwarded reading", "sink", l.sink.Name())
	return nil
}

func (l *Loop) record(name string, err error) {
	if l.recorder == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	l.recorder.Inc(name, "device", l.target.Name, "result", result)
}

// Extract follows a dot-separated path of object keys into doc. An empty path is the whole
// document.
func Extract(doc any, path string) (any, error) {
	if path == "" {
		return doc, nil
	}
	current := doc
	for _, key := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("reading %q: %q is not inside an object", path, key)
		}
		current, ok = obj[key]
		if !ok {
			return nil, fmt.Errorf("reading %q: no key %q", path, key)
		}
	}
	return current, nil
}

// Specs turns targets into supervisor specs keyed by identity.
func Specs(targets []Target, ch *shttp.Channel, sink collector.Sink, recorder Recorder) map[string]Spec {
	specs := make(map[string]Spec, len(targets))
	for _, t := range targets {
		l := NewLoop(t, ch, sink, recorder)
		specs[t.Identity] = Spec{Fingerprint: t.Fingerprint(), Run: l.Run}
	}
	return specs
}

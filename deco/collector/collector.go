package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
)

// Reading is what a monitoring loop forwards for one device at every cycle.
type Reading struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	IP       string `json:"ip"`
	Hardware string `json:"hardware"`
	Reading  any    `json:"reading"`
}

// Sink delivers readings somewhere. Send makes exactly one attempt and classifies its
// failure with the retry package; the caller decides how many attempts to make.
type Sink interface {
	Name() string
	Send(ctx context.Context, r Reading) error
	Close() error
}

// Multi sends every reading to all its sinks concurrently and joins their errors.
type Multi []Sink

func (m Multi) Name() string { return "multi" }

func (m Multi) Send(ctx context.Context, r Reading) error {
	log := logr.FromContextOrDiscard(ctx)

	errs := make([]error, len(m))
	var wg sync.WaitGroup
	for i, s := range m {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Send(ctx, r); err != nil {
				log.V(1).Info("Sink failed", "sink", s.Name(), "device", r.Name, "error", err.Error())
				errs[i] = fmt.Errorf("%s: %w", s.Name(), err)
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	errs := make([]error, 0, len(m))
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// LogSink logs readings instead of sending them.
type LogSink struct {
	log logr.Logger
}

func NewLogSink(log logr.Logger) *LogSink {
	return &LogSink{log: log.WithName("LogSink")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(ctx context.Context, r Reading) error {
	s.log.Info("Reading", "device", r.Name, "type", r.Type, "ip", r.IP, "hardware", r.Hardware, "reading", r.Reading)
	return nil
}

func (s *LogSink) Close() error { return nil }

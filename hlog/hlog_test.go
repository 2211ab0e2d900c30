package hlog

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-logr/logr/funcr"
	"github.com/rs/zerolog"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		verbose, debug bool
		want           zerolog.Level
	}{
		{false, false, zerolog.ErrorLevel},
		{true, false, zerolog.InfoLevel},
		{false, true, zerolog.DebugLevel},
		{true, true, zerolog.DebugLevel},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.verbose, tt.debug, zerolog.ErrorLevel); got != tt.want {
			t.Errorf("parseLogLevel(%v, %v) = %v, want %v", tt.verbose, tt.debug, got, tt.want)
		}
	}
}

func TestIsContextCancellation(t *testing.T) {
	if IsContextCancellation(nil) {
		t.Error("nil error reported as cancellation")
	}
	if !IsContextCancellation(fmt.Errorf("read: %w", context.Canceled)) {
		t.Error("wrapped context.Canceled not detected")
	}
	if !IsContextCancellation(context.DeadlineExceeded) {
		t.Error("context.DeadlineExceeded not detected")
	}
	if IsContextCancellation(errors.New("boom")) {
		t.Error("plain error reported as cancellation")
	}
}

func TestErrorIfNotCanceled(t *testing.T) {
	var lines []string
	log := funcr.New(func(prefix, args string) { lines = append(lines, args) }, funcr.Options{})

	attemptTimeout := fmt.Errorf("Get \"http://10.0.0.9/shelly\": %w", context.DeadlineExceeded)
	ErrorIfNotCanceled(context.Background(), log, attemptTimeout, "Request failed")
	if len(lines) != 1 {
		t.Fatalf("nested deadline not logged: %v", lines)
	}

	ErrorIfNotCanceled(context.Background(), log, nil, "Request failed")
	if len(lines) != 1 {
		t.Errorf("nil error logged: %v", lines)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ErrorIfNotCanceled(ctx, log, fmt.Errorf("read: %w", context.Canceled), "Request failed")
	if len(lines) != 1 {
		t.Errorf("cancellation of the caller logged: %v", lines)
	}
	ErrorIfNotCanceled(ctx, log, errors.New("connection refused"), "Request failed")
	if len(lines) != 2 {
		t.Errorf("unrelated error hidden by a cancelled context: %v", lines)
	}
}

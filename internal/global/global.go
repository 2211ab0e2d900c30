package global

import (
	"context"
)

type ContextKey uint

const (
	CancelKey ContextKey = iota
	VersionKey
	ProcessContextKey
	ConfigKey
)

func Version(ctx context.Context) string {
	if v, ok := ctx.Value(VersionKey).(string); ok {
		return v
	}
	return "unknown"
}

// ProcessContext returns the process-wide context used by long-running loops.
// It is cancelled only when the whole process terminates, not when a single command returns.
func ProcessContext(ctx context.Context) context.Context {
	if processCtx := ctx.Value(ProcessContextKey); processCtx != nil {
		return processCtx.(context.Context)
	}
	return ctx
}

// Cancel cancels the command context, if one was installed.
func Cancel(ctx context.Context) {
	if cancel, ok := ctx.Value(CancelKey).(context.CancelFunc); ok {
		cancel()
	}
}

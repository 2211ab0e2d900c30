package options

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asnowfix/deco/internal/global"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"
)

const COMMAND_DEFAULT_TIMEOUT time.Duration = 0 // No timeout by default (wait indefinitely)

var Flags struct {
	Verbose        bool
	Debug          bool
	Quiet          bool
	Json           bool
	Config         string
	CommandTimeout time.Duration // the value taken by --command-timeout / -C
}

// CommandLineContext installs the cancel function, the version and the process-wide
// context, and cancels everything on SIGINT or SIGTERM.
func CommandLineContext(ctx context.Context, timeout time.Duration, version string) context.Context {
	var cancel context.CancelFunc

	processCtx, processCancel := context.WithCancel(ctx)

	if timeout > 0 {
		ctx, cancel = context.WithTimeout(processCtx, timeout)
	} else {
		ctx, cancel = context.WithCancel(processCtx)
	}
	ctx = context.WithValue(ctx, global.CancelKey, cancel)
	ctx = context.WithValue(ctx, global.ProcessContextKey, processCtx)
	ctx = context.WithValue(ctx, global.VersionKey, version)

	go func() {
		log := logr.FromContextOrDiscard(ctx)
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		select {
		case <-signals:
			log.Info("Received signal")
		case <-processCtx.Done():
		}
		cancel()
		processCancel()
	}()
	return ctx
}

// PrintResult writes out as JSON with --json, as YAML otherwise.
func PrintResult(out any) error {
	return WriteResult(os.Stdout, Flags.Json, out)
}

func WriteResult(w io.Writer, asJson bool, out any) error {
	if asJson {
		s, err := json.Marshal(out)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(s))
		return err
	}
	s, err := yaml.Marshal(out)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(w, string(s))
	return err
}

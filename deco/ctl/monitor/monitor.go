package monitor

import (
	"github.com/asnowfix/deco/deco/config"
	"github.com/asnowfix/deco/deco/ctl/options"
	decomon "github.com/asnowfix/deco/deco/monitor"
	"github.com/asnowfix/deco/internal/mynet"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "monitor",
	Short: "Poll the registry devices and forward their readings until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := logr.FromContextOrDiscard(ctx)
		cfg := config.FromContext(ctx)

		m, err := options.OpenManager(ctx, cfg)
		if err != nil {
			return err
		}
		reg := m.Snapshot()
		m.Close()

		resolver := mynet.NewResolver(log, cfg.Discovery.Window)
		defer resolver.Close()

		sink, err := options.Sink(log, cfg, resolver)
		if err != nil {
			return err
		}
		defer sink.Close()

		targets := decomon.Targets(cfg, reg)
		if len(targets) == 0 {
			log.Info("No device to monitor, run a scan first")
			return nil
		}

		s := decomon.NewSupervisor(ctx, cfg.Monitor.JoinTimeout)
		s.Sync(decomon.Specs(targets, options.NewChannel(cfg), sink, nil))
		log.Info("Monitoring", "devices", s.Names())

		<-ctx.Done()
		s.StopAll()
		return nil
	},
}

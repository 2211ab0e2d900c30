package main

import (
	"fmt"
	"os"

	"github.com/asnowfix/deco/deco/config"
	"github.com/asnowfix/deco/deco/ctl/esp"
	"github.com/asnowfix/deco/deco/ctl/identify"
	"github.com/asnowfix/deco/deco/ctl/list"
	"github.com/asnowfix/deco/deco/ctl/monitor"
	"github.com/asnowfix/deco/deco/ctl/options"
	"github.com/asnowfix/deco/deco/ctl/scan"
	"github.com/asnowfix/deco/deco/daemon"
	"github.com/asnowfix/deco/hlog"
	"github.com/asnowfix/deco/internal/global"

	"github.com/go-logr/logr"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "deco",
	Short: "Discover, register and monitor the smart devices of the LAN",
	Args:  cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if options.Flags.Quiet {
			hlog.InitWithLevel(false, false, zerolog.Disabled)
		} else {
			hlog.InitWithDebug(options.Flags.Verbose, options.Flags.Debug)
		}
		log := hlog.Logger

		ctx := logr.NewContext(cmd.Context(), log)
		ctx = options.CommandLineContext(ctx, options.Flags.CommandTimeout, getVersion())

		v, err := config.NewViper(options.Flags.Config)
		if err != nil {
			log.Error(err, "Failed to read configuration", "file", options.Flags.Config)
			return err
		}
		cfg, err := config.Load(v)
		if err != nil {
			log.Error(err, "Invalid configuration", "file", v.ConfigFileUsed())
			return err
		}
		log.V(1).Info("Loaded configuration", "file", v.ConfigFileUsed(), "registry", cfg.Registry.Path, "backend", cfg.Registry.Backend)

		cmd.SetContext(config.NewContext(ctx, cfg))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		global.Cancel(ctx)
		<-ctx.Done()
		return nil
	},
}

func init() {
	Cmd.PersistentFlags().BoolVarP(&options.Flags.Verbose, "verbose", "v", false, "verbose output")
	Cmd.PersistentFlags().BoolVarP(&options.Flags.Debug, "debug", "d", false, "debug output")
	Cmd.PersistentFlags().BoolVarP(&options.Flags.Quiet, "quiet", "q", false, "no log output")
	Cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")
	Cmd.PersistentFlags().BoolVarP(&options.Flags.Json, "json", "j", false, "output in JSON format")
	Cmd.PersistentFlags().StringVarP(&options.Flags.Config, "config", "c", "", "configuration `file` (default: deco.yaml in ., ~/.config/deco or /etc/deco)")
	Cmd.PersistentFlags().DurationVarP(&options.Flags.CommandTimeout, "command-timeout", "C", options.COMMAND_DEFAULT_TIMEOUT, "timeout for the whole command (0 to wait indefinitely)")

	Cmd.AddCommand(scan.Cmd)
	Cmd.AddCommand(list.Cmd)
	Cmd.AddCommand(identify.Cmd)
	Cmd.AddCommand(esp.Cmd)
	Cmd.AddCommand(monitor.Cmd)
	Cmd.AddCommand(daemon.Cmd)
}

func main() {
	cobra.EnableTraverseRunHooks = true
	err := Cmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

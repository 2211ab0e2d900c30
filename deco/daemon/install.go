package daemon

import (
	"context"

	"github.com/asnowfix/deco/deco/config"
	"github.com/asnowfix/deco/deco/ctl/options"

	"github.com/go-logr/logr"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

func init() {
	Cmd.AddCommand(runCmd)
	Cmd.AddCommand(installCmd)
	Cmd.AddCommand(uninstallCmd)
}

func load(ctx context.Context) (service.Service, service.Logger, *daemon, error) {
	log, err := logr.FromContext(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	arguments := []string{"daemon", "run"}
	if options.Flags.Config != "" {
		arguments = append(arguments, "--config", options.Flags.Config)
	}
	svcConfig := service.Config{
		Name:        "deco",
		DisplayName: "Deco",
		Description: "Deco Daemon, scanning the LAN periodically and monitoring the known devices",
		Arguments:   arguments,
	}

	d := NewDaemon(ctx, config.FromContext(ctx))

	s, err := service.New(d, &svcConfig)
	if err != nil {
		log.Error(err, "Failed to create (background) service")
		return nil, nil, nil, err
	}
	logger, err := s.Logger(nil)
	if err != nil {
		log.Error(err, "Failed to create (background) service logger")
		return nil, nil, nil, err
	}
	return s, logger, d, nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon, in the foreground or under the service manager",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, d, err := load(cmd.Context())
		if err != nil {
			return err
		}
		if service.Interactive() {
			return d.Run()
		}
		return s.Run()
	},
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install Deco as a " + service.Platform() + " service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, l, _, err := load(cmd.Context())
		if err != nil {
			return err
		}
		l.Info("Installing service")
		return s.Install()
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Uninstall Deco as a " + service.Platform() + " service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, l, _, err := load(cmd.Context())
		if err != nil {
			return err
		}
		l.Info("Uninstalling service")
		return s.Uninstall()
	},
}

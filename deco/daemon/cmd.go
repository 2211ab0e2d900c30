package daemon

import (
	"github.com/asnowfix/deco/deco/ctl/options"
	"github.com/asnowfix/deco/hlog"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "daemon",
	Short: "Deco Daemon",
	Long:  "Deco Daemon, scanning the LAN periodically and monitoring the known devices",
	Args:  cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// the daemon logs at info level unless told otherwise
		if !options.Flags.Quiet {
			hlog.InitForDaemon(options.Flags.Verbose, options.Flags.Debug)
			cmd.SetContext(logr.NewContext(cmd.Context(), hlog.Logger))
		}
		return nil
	},
}

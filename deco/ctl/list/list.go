package list

import (
	"os"

	"github.com/asnowfix/deco/deco/config"
	"github.com/asnowfix/deco/deco/ctl/options"

	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "list",
	Short: "List the devices of the registry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		m, err := options.OpenManager(ctx, config.FromContext(ctx))
		if err != nil {
			return err
		}
		defer m.Close()

		reg := m.Snapshot()
		if options.Flags.Json {
			return options.PrintResult(reg)
		}
		options.PrintRegistry(os.Stdout, reg)
		return nil
	},
}

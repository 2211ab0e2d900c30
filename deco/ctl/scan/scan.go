package scan

import (
	"os"

	"github.com/asnowfix/deco/deco/config"
	"github.com/asnowfix/deco/deco/ctl/options"
	"github.com/asnowfix/deco/deco/devices"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

var reclassify bool

func init() {
	Cmd.Flags().BoolVar(&reclassify, "reclassify", false, "replace stored capabilities with the ones probed in this pass")
}

var Cmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover devices on the LAN and update the registry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := logr.FromContextOrDiscard(ctx)
		cfg := config.FromContext(ctx)

		m, err := options.OpenManager(ctx, cfg)
		if err != nil {
			return err
		}
		defer m.Close()

		reg, diff, err := options.ScanPass(ctx, cfg, options.NewChannel(cfg), m, devices.Options{Reclassify: reclassify})
		if err != nil {
			log.Error(err, "Scan pass not persisted")
			if reg == nil {
				return err
			}
		}

		if options.Flags.Json {
			return options.PrintResult(struct {
				Devices devices.Registry `json:"devices"`
				Diff    devices.Diff     `json:"diff"`
			}{reg, diff})
		}
		options.PrintRegistry(os.Stdout, reg)
		os.Stdout.WriteString("\n")
		options.PrintDiff(os.Stdout, diff)
		return err
	},
}

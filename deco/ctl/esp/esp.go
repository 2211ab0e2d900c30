package esp

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/asnowfix/deco/deco/config"
	"github.com/asnowfix/deco/deco/ctl/options"
	espstatus "github.com/asnowfix/deco/pkg/esp"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var save bool

func init() {
	Cmd.Flags().BoolVar(&save, "save", false, "write each status as <Hostname>.yml next to the registry")
}

var Cmd = &cobra.Command{
	Use:   "esp ADDRESS...",
	Short: "Read the status page of ESP devices",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := logr.FromContextOrDiscard(ctx)
		cfg := config.FromContext(ctx)
		ch := options.NewChannel(cfg)

		all := make(map[string]map[string]string, len(args))
		for _, address := range args {
			facts, err := espstatus.Fetch(ctx, ch, address)
			if err != nil {
				log.Error(err, "Failed to read ESP status", "address", address)
				continue
			}
			all[address] = facts

			if save {
				path := filepath.Join(filepath.Dir(cfg.Registry.Path), filepath.Base(facts[espstatus.HostnameKey])+".yml")
				data, err := yaml.Marshal(facts)
				if err != nil {
					return err
				}
				if err := os.WriteFile(path, data, 0o644); err != nil {
					return fmt.Errorf("saving %s status: %w", address, err)
				}
				log.Info("Saved ESP status", "address", address, "path", path)
			}
		}
		return options.PrintResult(all)
	},
}

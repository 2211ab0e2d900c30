package identify

import (
	"fmt"
	"net"

	"github.com/asnowfix/deco/deco/config"
	"github.com/asnowfix/deco/deco/ctl/options"
	"github.com/asnowfix/deco/deco/discovery"

	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "identify [CIDR|ADDRESS...]",
	Short: "Tell what kind of device answers at each address",
	Long: `Checks every address for a Shelly (Gen2+ then Gen1), WLED or ESP status page.
Without arguments, the configured discovery sources are used together with a sweep of the local network.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.FromContext(ctx)

		var sources []discovery.Source
		if len(args) == 0 {
			sources = options.Sources(cfg, true)
		}
		var static []string
		for _, arg := range args {
			if _, _, err := net.ParseCIDR(arg); err == nil {
				sources = append(sources, discovery.SweepSource{
					Subnet:      arg,
					Port:        cfg.Discovery.Port,
					Concurrency: cfg.Discovery.Concurrency,
					DialTimeout: cfg.Transport.Timeout,
				})
				continue
			}
			static = append(static, arg)
		}
		sources = append(sources, discovery.StaticSource{Addresses: static})

		candidates := discovery.Discover(ctx, sources...)
		profiles := discovery.IdentifyAll(ctx, options.NewChannel(cfg), cfg.Policy(), cfg.Discovery.Concurrency, candidates)

		if options.Flags.Json {
			return options.PrintResult(profiles)
		}
		for _, p := range profiles {
			model := p.Model
			if model == "" {
				model = "N/A"
			}
			gen := "N/A"
			if p.Generation > 0 {
				gen = fmt.Sprintf("%d", p.Generation)
			}
			fmt.Printf("%-21s | %-8s | %-3s | %s\n", p.Address, p.Kind, gen, model)
		}
		return nil
	},
}

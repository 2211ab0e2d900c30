package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/asnowfix/deco/pkg/shelly"

	"github.com/go-logr/logr"
	"github.com/grandcat/zeroconf"
	"golang.org/x/sync/errgroup"
)

const DefaultWindow = 5 * time.Second

var DefaultServices = []string{shelly.MDNS_SHELLIES, shelly.MDNS_HTTP}

// MDNSSource browses DNS-SD services for a fixed window and yields every advertised host.
type MDNSSource struct {
	Services []string
	Window   time.Duration
	// Filter keeps only the instances or host names containing it (case-insensitive).
	Filter string
}

func (s MDNSSource) Name() string { return "mdns" }

func (s MDNSSource) Candidates(ctx context.Context) ([]Candidate, error) {
	log := logr.FromContextOrDiscard(ctx).WithName("MDNSSource")

	services := s.Services
	if len(services) == 0 {
		services = DefaultServices
	}
	window := s.Window
	if window <= 0 {
		window = DefaultWindow
	}

	ctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	var mu sync.Mutex
	var found []Candidate

	g, ctx := errgroup.WithContext(ctx)
	for _, service := range services {
		g.Go(func() error {
			resolver, err := zeroconf.NewResolver(nil)
			if err != nil {
				return fmt.Errorf("initializing ZeroConf resolver: %w", err)
			}

			entries := make(chan *zeroconf.ServiceEntry, 16)
			if err := resolver.Browse(ctx, service, "local.", entries); err != nil {
				return fmt.Errorf("browsing %s: %w", service, err)
			}
			log.V(1).Info("Started ZeroConf browsing", "service", service, "window", window)

			for {
				select {
				case <-ctx.Done():
					return nil
				case entry, ok := <-entries:
					if !ok {
						return nil
					}
					c, keep := s.candidate(entry)
					if !keep {
						log.V(1).Info("Skipping entry", "instance", entry.Instance, "host", entry.HostName)
						continue
					}
					log.V(1).Info("Browsed", "service", service, "instance", entry.Instance, "address", c.Address)
					mu.Lock()
					found = append(found, c)
					mu.Unlock()
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Merge(found), nil
}

func (s MDNSSource) candidate(entry *zeroconf.ServiceEntry) (Candidate, bool) {
	if entry == nil {
		return Candidate{}, false
	}
	if s.Filter != "" {
		f := strings.ToLower(s.Filter)
		if !strings.Contains(strings.ToLower(entry.Instance), f) && !strings.Contains(strings.ToLower(entry.HostName), f) {
			return Candidate{}, false
		}
	}

	address := EntryAddress(entry)
	if address == "" {
		return Candidate{}, false
	}

	txt := shelly.ParseTXT(entry.Text)
	return Candidate{
		Address: address,
		Source:  s.Name(),
		Hint: Hint{
			Instance:    entry.Instance,
			Generation:  txt.Generation,
			Application: txt.Application,
			Version:     txt.Version,
		},
	}, true
}

// EntryAddress picks the address to reach a browsed service: the first routable IPv4, then
// the first routable IPv6, then the advertised host name.
func EntryAddress(entry *zeroconf.ServiceEntry) string {
	for _, ip := range entry.AddrIPv4 {
		if usable(ip) {
			return ip.String()
		}
	}
	for _, ip := range entry.AddrIPv6 {
		if usable(ip) {
			return ip.String()
		}
	}
	return strings.TrimSuffix(entry.HostName, ".")
}

func usable(ip net.IP) bool {
	return ip != nil && !ip.IsLinkLocalUnicast() && !ip.IsLoopback() && !ip.IsUnspecified()
}

package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/asnowfix/deco/internal/mynet"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPort        = 80
	DefaultConcurrency = 64
	// a /20
	MaxSweepHosts = 4094
)

// SweepSource connects to a TCP port on every host of a subnet and yields those accepting.
type SweepSource struct {
	// Subnet in CIDR notation. Empty means the network of the interface reaching the gateway.
	Subnet      string
	Port        int
	Concurrency int
	DialTimeout time.Duration
}

func (s SweepSource) Name() string { return "sweep" }

func (s SweepSource) network(log logr.Logger) (*net.IPNet, error) {
	if s.Subnet != "" {
		_, nw, err := net.ParseCIDR(s.Subnet)
		if err != nil {
			return nil, fmt.Errorf("parsing subnet %q: %w", s.Subnet, err)
		}
		return nw, nil
	}
	_, _, nw, err := mynet.LocalNetwork(log)
	return nw, err
}

func (s SweepSource) Candidates(ctx context.Context) ([]Candidate, error) {
	log := logr.FromContextOrDiscard(ctx).WithName("SweepSource")

	nw, err := s.network(log)
	if err != nil {
		return nil, err
	}
	hosts, err := mynet.Hosts(nw, MaxSweepHosts)
	if err != nil {
		return nil, err
	}

	port := s.Port
	if port <= 0 {
		port = DefaultPort
	}
	concurrency := s.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	timeout := s.DialTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	log.Info("Sweeping", "network", nw.String(), "hosts", len(hosts), "port", port)

	var mu sync.Mutex
	var found []Candidate
	dialer := net.Dialer{Timeout: timeout}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, ip := range hosts {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			address := net.JoinHostPort(ip.String(), strconv.Itoa(port))
			conn, err := dialer.DialContext(gctx, "tcp", address)
			if err != nil {
				return nil
			}
			conn.Close()
			if port == DefaultPort {
				address = ip.String()
			}
			log.V(1).Info("Port open", "address", address, "port", port)
			mu.Lock()
			found = append(found, Candidate{Address: address, Source: s.Name()})
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Merge(found), nil
}

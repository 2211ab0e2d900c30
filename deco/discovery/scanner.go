package discovery

import (
	"context"
	"errors"
	"sync"

	"github.com/asnowfix/deco/deco/devices"
	"github.com/asnowfix/deco/hlog"
	"github.com/asnowfix/deco/pkg/retry"
	"github.com/asnowfix/deco/pkg/shelly"
	"github.com/asnowfix/deco/pkg/shelly/shttp"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Scanner turns candidates into observations by resolving each one's identity and probing
// its capabilities.
type Scanner struct {
	resolver    *shelly.Resolver
	prober      *shelly.Prober
	concurrency int
}

func NewScanner(ch *shttp.Channel, policy retry.Policy, concurrency int) *Scanner {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Scanner{
		resolver:    shelly.NewResolver(ch, policy),
		prober:      shelly.NewProber(ch, policy),
		concurrency: concurrency,
	}
}

// WithExclusiveProbing makes the prober stop at the first capability found.
func (s *Scanner) WithExclusiveProbing(exclusive bool) *Scanner {
	s.prober.Exclusive = exclusive
	return s
}

// Scan visits every candidate concurrently and returns once all of them are done. Devices
// that cannot be reached or identified are logged and left out; they never fail the scan.
func (s *Scanner) Scan(ctx context.Context, candidates []Candidate) []devices.Observation {
	log := logr.FromContextOrDiscard(ctx).WithName("Scanner").WithValues("scan", uuid.NewString())
	log.Info("Scanning", "candidates", len(candidates))

	var mu sync.Mutex
	observations := make([]devices.Observation, 0, len(candidates))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, c := range candidates {
		g.Go(func() error {
			obs, err := s.observe(logr.NewContext(ctx, log), c)
			if err != nil {
				var nie *shelly.NoIdentityError
				if errors.As(err, &nie) {
					// warning: logr has no such level
					log.Error(nie, "Dropping device without identity", "address", c.Address, "source", c.Source)
				} else {
					hlog.ErrorIfNotCanceled(ctx, log, err, "Failed to observe device", "address", c.Address, "source", c.Source)
				}
				return nil
			}
			mu.Lock()
			observations = append(observations, obs)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	log.Info("Scanned", "candidates", len(candidates), "observations", len(observations))
	return observations
}

func (s *Scanner) observe(ctx context.Context, c Candidate) (devices.Observation, error) {
	id, err := s.resolver.Resolve(ctx, c.Address)
	if err != nil {
		return devices.Observation{}, err
	}
	gen := id.Generation
	if gen == 0 {
		gen = c.Hint.Generation
	}
	caps := s.prober.Probe(ctx, c.Address)
	return devices.Observation{
		Identity:     id.Key,
		Address:      c.Address,
		Id:           id.Id,
		Name:         id.Name,
		MAC:          id.MAC,
		Model:        id.Model,
		Firmware:     id.Firmware,
		FirmwareId:   id.FirmwareId,
		Generation:   gen,
		Capabilities: devices.NewCapabilities(caps...),
		Source:       c.Source,
	}, nil
}

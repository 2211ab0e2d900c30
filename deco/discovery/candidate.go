package discovery

import (
	"context"
	"net"
	"sort"
	"sync"

	"github.com/asnowfix/deco/hlog"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

// Hint is what a source learnt about a candidate before talking to it.
type Hint struct {
	Instance    string `json:"instance,omitempty"`
	Generation  int    `json:"gen,omitempty"`
	Application string `json:"app,omitempty"`
	Version     string `json:"ver,omitempty"`
}

// Candidate is an address that may host a device.
type Candidate struct {
	Address string `json:"address"`
	Hint    Hint   `json:"hint,omitempty"`
	Source  string `json:"source"`
}

// Source yields candidates. A source error is logged by Discover and does not prevent other
// sources from contributing.
type Source interface {
	Name() string
	Candidates(ctx context.Context) ([]Candidate, error)
}

// Discover runs every source concurrently and merges their results.
func Discover(ctx context.Context, sources ...Source) []Candidate {
	log := logr.FromContextOrDiscard(ctx).WithName("Discover")

	var mu sync.Mutex
	found := make([][]Candidate, len(sources))

	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			c, err := src.Candidates(ctx)
			if err != nil {
				hlog.ErrorIfNotCanceled(ctx, log, err, "Discovery source failed", "source", src.Name())
				return nil
			}
			log.V(1).Info("Source done", "source", src.Name(), "candidates", len(c))
			mu.Lock()
			found[i] = c
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return Merge(found...)
}

// Merge deduplicates candidates by address. The first occurrence wins, with hints from later
// ones filling its blanks. The result is sorted by address.
func Merge(lists ...[]Candidate) []Candidate {
	byAddress := make(map[string]*Candidate)
	order := make([]string, 0)
	for _, list := range lists {
		for _, c := range list {
			if c.Address == "" {
				continue
			}
			prev, ok := byAddress[c.Address]
			if !ok {
				c := c
				byAddress[c.Address] = &c
				order = append(order, c.Address)
				continue
			}
			if prev.Hint.Instance == "" {
				prev.Hint.Instance = c.Hint.Instance
			}
			if prev.Hint.Generation == 0 {
				prev.Hint.Generation = c.Hint.Generation
			}
			if prev.Hint.Application == "" {
				prev.Hint.Application = c.Hint.Application
			}
			if prev.Hint.Version == "" {
				prev.Hint.Version = c.Hint.Version
			}
		}
	}

	sort.Slice(order, func(i, j int) bool { return lessAddress(order[i], order[j]) })
	merged := make([]Candidate, 0, len(order))
	for _, a := range order {
		merged = append(merged, *byAddress[a])
	}
	return merged
}

// lessAddress orders IPv4 addresses numerically and anything else lexically after them.
func lessAddress(a, b string) bool {
	ia, ib := net.ParseIP(a).To4(), net.ParseIP(b).To4()
	switch {
	case ia != nil && ib != nil:
		for k := range ia {
			if ia[k] != ib[k] {
				return ia[k] < ib[k]
			}
		}
		return false
	case ia != nil:
		return true
	case ib != nil:
		return false
	default:
		return a < b
	}
}

// StaticSource yields the addresses listed in the configuration.
type StaticSource struct {
	Addresses []string
}

func (s StaticSource) Name() string { return "static" }

func (s StaticSource) Candidates(ctx context.Context) ([]Candidate, error) {
	c := make([]Candidate, 0, len(s.Addresses))
	for _, a := range s.Addresses {
		c = append(c, Candidate{Address: a, Source: s.Name()})
	}
	return c, nil
}

package discovery

import (
	"context"
	"net/http"

	"github.com/asnowfix/deco/pkg/retry"
	"github.com/asnowfix/deco/pkg/shelly"
	"github.com/asnowfix/deco/pkg/shelly/shttp"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

type Kind string

const (
	KindShelly  Kind = "Shelly"
	KindWLED    Kind = "WLED"
	KindESP     Kind = "ESP"
	KindUnknown Kind = "unknown"
)

// Profile is the coarse kind of whatever answers HTTP at an address.
type Profile struct {
	Address    string `json:"ip" yaml:"ip"`
	Kind       Kind   `json:"type" yaml:"type"`
	Generation int    `json:"gen,omitempty" yaml:"gen,omitempty"`
	Model      string `json:"model,omitempty" yaml:"model,omitempty"`
}

const (
	WLEDStatePath = "json/state"
	ESPStatusPath = "status"
)

// Identify tries the known profiles in order: Shelly Gen2+, Shelly Gen1, WLED, ESP status
// page. The first endpoint answering 200 decides.
func Identify(ctx context.Context, ch *shttp.Channel, policy retry.Policy, address string) Profile {
	log := logr.FromContextOrDiscard(ctx).WithValues("address", address)

	var info shelly.DeviceInfo
	if err := retry.Run(ctx, policy, func(ctx context.Context) error {
		return ch.GetJSON(ctx, address, shelly.DeviceInfoPath, &info)
	}); err == nil {
		return Profile{Address: address, Kind: KindShelly, Generation: 2, Model: deref(info.Model)}
	}

	info = shelly.DeviceInfo{}
	if err := retry.Run(ctx, policy, func(ctx context.Context) error {
		return ch.GetJSON(ctx, address, shelly.Gen1DeviceInfoPath, &info)
	}); err == nil {
		return Profile{Address: address, Kind: KindShelly, Generation: 1, Model: deref(info.Type)}
	}

	if ok(ctx, ch, policy, address, WLEDStatePath) {
		return Profile{Address: address, Kind: KindWLED, Model: "ESP-Light"}
	}
	if ok(ctx, ch, policy, address, ESPStatusPath) {
		return Profile{Address: address, Kind: KindESP, Model: "ESP-Device"}
	}

	log.V(1).Info("No known profile")
	return Profile{Address: address, Kind: KindUnknown}
}

// IdentifyAll runs Identify on every candidate concurrently and returns the profiles in
// candidate order.
func IdentifyAll(ctx context.Context, ch *shttp.Channel, policy retry.Policy, concurrency int, candidates []Candidate) []Profile {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	profiles := make([]Profile, len(candidates))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, c := range candidates {
		g.Go(func() error {
			profiles[i] = Identify(ctx, ch, policy, c.Address)
			return nil
		})
	}
	g.Wait()
	return profiles
}

func ok(ctx context.Context, ch *shttp.Channel, policy retry.Policy, address, path string) bool {
	err := retry.Run(ctx, policy, func(ctx context.Context) error {
		res, err := ch.Do(ctx, http.MethodGet, address, path, nil)
		if err != nil {
			return err
		}
		return shttp.CheckStatus(res.StatusCode)
	})
	return err == nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

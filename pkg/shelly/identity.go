package shelly

import (
	"context"

	"github.com/asnowfix/deco/pkg/retry"
	"github.com/asnowfix/deco/pkg/shelly/shttp"

	"github.com/go-logr/logr"
)

const (
	DeviceInfoPath     = "rpc/Shelly.GetDeviceInfo"
	Gen1DeviceInfoPath = "shelly"
)

// Resolver reads the device-info document of a device and extracts its identity.
type Resolver struct {
	ch     *shttp.Channel
	policy retry.Policy
}

func NewResolver(ch *shttp.Channel, policy retry.Policy) *Resolver {
	return &Resolver{ch: ch, policy: policy}
}

// Resolve queries the Gen2+ device-info method first and falls back to the Gen1 `/shelly`
// document when the device rejects it. Unreachable devices are not retried on the Gen1
// endpoint.
func (r *Resolver) Resolve(ctx context.Context, address string) (Identity, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("address", address)

	info, err := r.deviceInfo(ctx, address, DeviceInfoPath)
	if err != nil {
		if !retry.IsTerminal(err) {
			return Identity{}, err
		}
		log.V(1).Info("Device-info method rejected, trying Gen1 endpoint", "error", err.Error())
		info, err = r.deviceInfo(ctx, address, Gen1DeviceInfoPath)
		if err != nil {
			return Identity{}, err
		}
	}

	id, err := info.Identity(address)
	if err != nil {
		return Identity{}, err
	}
	log.V(1).Info("Resolved", "identity", id.Key, "model", id.Model, "gen", id.Generation)
	return id, nil
}

func (r *Resolver) deviceInfo(ctx context.Context, address, path string) (*DeviceInfo, error) {
	return retry.Do(ctx, r.policy, func(ctx context.Context) (*DeviceInfo, error) {
		var info DeviceInfo
		if err := r.ch.GetJSON(ctx, address, path, &info); err != nil {
			return nil, err
		}
		return &info, nil
	})
}

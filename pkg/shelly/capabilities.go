package shelly

import (
	"context"

	"github.com/asnowfix/deco/pkg/retry"
	"github.com/asnowfix/deco/pkg/shelly/shttp"

	"github.com/go-logr/logr"
)

const (
	CapRelay      = "relay"
	CapCover      = "cover"
	CapEM         = "em"
	CapPowerMeter = "power_meter"
	CapInput      = "input"
	CapGeneric    = "generic"
)

// Check associates a capability tag with the RPC method that proves it.
type Check struct {
	Tag    string
	Method string
}

// Checks is the probe order. It is also the priority order when probing is exclusive.
var Checks = []Check{
	{CapRelay, "Switch.GetConfig"},
	{CapCover, "Cover.GetConfig"},
	{CapEM, "EM.GetConfig"},
	{CapPowerMeter, "PM1.GetConfig"},
	{CapInput, "Input.GetConfig"},
}

// Prober finds the capabilities of a device by calling each check method with an empty
// parameter object. A method answering HTTP 200 proves the capability; any error, timeout
// or other status counts as absent.
//
// Probing is inclusive by default: every check runs and every positive answer is kept.
// With Exclusive set, the first positive answer ends the probe.
type Prober struct {
	ch        *shttp.Channel
	policy    retry.Policy
	Exclusive bool
}

func NewProber(ch *shttp.Channel, policy retry.Policy) *Prober {
	return &Prober{ch: ch, policy: policy}
}

// Probe returns the positive tags in check order, or just CapGeneric.
func (p *Prober) Probe(ctx context.Context, address string) []string {
	log := logr.FromContextOrDiscard(ctx).WithValues("address", address)

	caps := make([]string, 0, len(Checks))
	for _, c := range Checks {
		if ctx.Err() != nil {
			break
		}
		err := retry.Run(ctx, p.policy, func(ctx context.Context) error {
			return p.ch.CallE(ctx, address, c.Method, nil, nil)
		})
		if err != nil {
			log.V(1).Info("Capability absent", "method", c.Method, "error", err.Error())
			continue
		}
		caps = append(caps, c.Tag)
		if p.Exclusive {
			break
		}
	}

	if len(caps) == 0 {
		caps = append(caps, CapGeneric)
	}
	log.V(1).Info("Capabilities", "tags", caps)
	return caps
}

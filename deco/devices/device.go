package devices

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/asnowfix/deco/pkg/shelly"
)

type Category string

const (
	CategoryCover   Category = "Cover"
	CategoryEM      Category = "EM"
	CategoryPlug    Category = "Plug"
	CategoryGeneric Category = "Generic"
)

// Classify maps a capability set to its category. First match wins:
// cover, then energy meter, then relay with power meter.
func Classify(caps Capabilities) Category {
	switch {
	case caps.Has(shelly.CapCover):
		return CategoryCover
	case caps.Has(shelly.CapEM):
		return CategoryEM
	case caps.Has(shelly.CapRelay) && caps.Has(shelly.CapPowerMeter):
		return CategoryPlug
	default:
		return CategoryGeneric
	}
}

// Capabilities is a sorted set of capability tags. The generic tag only survives in an
// otherwise empty set.
type Capabilities []string

func NewCapabilities(tags ...string) Capabilities {
	seen := make(map[string]struct{}, len(tags))
	caps := make(Capabilities, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		caps = append(caps, tag)
	}
	if len(caps) > 1 {
		filtered := caps[:0]
		for _, tag := range caps {
			if tag != shelly.CapGeneric {
				filtered = append(filtered, tag)
			}
		}
		caps = filtered
	}
	sort.Strings(caps)
	return caps
}

func (c Capabilities) Has(tag string) bool {
	for _, t := range c {
		if t == tag {
			return true
		}
	}
	return false
}

func (c Capabilities) Union(other Capabilities) Capabilities {
	all := make([]string, 0, len(c)+len(other))
	all = append(all, c...)
	all = append(all, other...)
	return NewCapabilities(all...)
}

func (c Capabilities) String() string {
	return strings.Join(c, ",")
}

// DeviceRecord is everything the registry knows about one device.
type DeviceRecord struct {
	Identity     string       `json:"identity" yaml:"identity" db:"identity"`
	Address      string       `json:"address,omitempty" yaml:"address,omitempty" db:"address"`
	Id           string       `json:"id,omitempty" yaml:"id,omitempty" db:"id"`
	Name         string       `json:"name,omitempty" yaml:"name,omitempty" db:"name"`
	MAC          string       `json:"mac,omitempty" yaml:"mac,omitempty" db:"mac"`
	Model        string       `json:"model,omitempty" yaml:"model,omitempty" db:"model"`
	Firmware     string       `json:"firmware,omitempty" yaml:"firmware,omitempty" db:"firmware"`
	FirmwareId   string       `json:"firmware_id,omitempty" yaml:"firmware_id,omitempty" db:"firmware_id"`
	Generation   int          `json:"generation,omitempty" yaml:"generation,omitempty" db:"generation"`
	Capabilities Capabilities `json:"capabilities,omitempty" yaml:"capabilities,omitempty" db:"-"`
	Category     Category     `json:"category" yaml:"category" db:"category"`
	Present      bool         `json:"present" yaml:"present" db:"present"`
	LastSeen     time.Time    `json:"last_seen,omitempty" yaml:"last_seen,omitempty" db:"-"`
}

func (r *DeviceRecord) Clone() *DeviceRecord {
	c := *r
	if r.Capabilities != nil {
		c.Capabilities = append(Capabilities(nil), r.Capabilities...)
	}
	return &c
}

// State is the presence as shown to users.
func (r *DeviceRecord) State() string {
	if r.Present {
		return "online"
	}
	return "offline"
}

// DisplayName is the friendliest non-empty name of the device.
func (r *DeviceRecord) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Identity
}

// Registry maps identities to records.
type Registry map[string]*DeviceRecord

func (reg Registry) Clone() Registry {
	c := make(Registry, len(reg))
	for k, r := range reg {
		if r != nil {
			c[k] = r.Clone()
		}
	}
	return c
}

// Sorted returns the records ordered by identity.
func (reg Registry) Sorted() []*DeviceRecord {
	keys := make([]string, 0, len(reg))
	for k := range reg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	records := make([]*DeviceRecord, 0, len(keys))
	for _, k := range keys {
		records = append(records, reg[k])
	}
	return records
}

// Normalize repairs what a store may have loaded: the map key is the identity, capability
// sets are canonicalised and categories recomputed.
func (reg Registry) Normalize() {
	for k, r := range reg {
		if r == nil {
			delete(reg, k)
			continue
		}
		r.Identity = k
		if r.Capabilities != nil {
			r.Capabilities = NewCapabilities(r.Capabilities...)
		}
		r.Category = Classify(r.Capabilities)
	}
}

// Validate checks the invariants every registry must hold in memory.
func (reg Registry) Validate() error {
	for k, r := range reg {
		if r == nil {
			return fmt.Errorf("%w: nil record under %q", ErrInvariant, k)
		}
		if r.Identity != k {
			return fmt.Errorf("%w: record %q stored under %q", ErrInvariant, r.Identity, k)
		}
		if r.Category == "" {
			return fmt.Errorf("%w: record %q has no category", ErrInvariant, k)
		}
	}
	return nil
}

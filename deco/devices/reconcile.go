package devices

import (
	"errors"
	"sort"
	"time"
)

// ErrInvariant reports a registry that broke its own rules in memory. It is the only
// reconciliation failure that must stop the process.
var ErrInvariant = errors.New("registry invariant violated")

// Observation is what one scan pass learnt about one device. Empty fields are unknown and
// never erase what the registry already holds; nil Capabilities means "not probed".
type Observation struct {
	Identity     string
	Address      string
	Id           string
	Name         string
	MAC          string
	Model        string
	Firmware     string
	FirmwareId   string
	Generation   int
	Capabilities Capabilities
	Source       string
}

type AddressChange struct {
	Old string `json:"old" yaml:"old"`
	New string `json:"new" yaml:"new"`
}

// Diff summarises what a pass changed.
type Diff struct {
	New       []string                 `json:"new,omitempty" yaml:"new,omitempty"`
	Vanished  []string                 `json:"vanished,omitempty" yaml:"vanished,omitempty"`
	IPChanged map[string]AddressChange `json:"ip_changed,omitempty" yaml:"ip_changed,omitempty"`
}

func (d Diff) Empty() bool {
	return len(d.New) == 0 && len(d.Vanished) == 0 && len(d.IPChanged) == 0
}

// Options tune a reconciliation pass.
type Options struct {
	// Reclassify replaces the stored capabilities of every observed device with the
	// observed ones instead of adding to them.
	Reclassify bool
}

// Reconcile merges one pass of observations into a copy of previous:
//
//  1. every record starts the pass offline;
//  2. unknown identities are inserted;
//  3. known identities get every non-empty observed field, their capabilities extended
//     (or replaced when reclassifying) and their category recomputed;
//  4. observed records are online with last_seen moved to now, never backwards.
//
// Records are never deleted. Observations are applied in (identity, address) order so the
// result does not depend on the order they were collected in.
func Reconcile(previous Registry, observations []Observation, now time.Time, opts Options) (Registry, Diff) {
	next := previous.Clone()
	wasPresent := make(map[string]bool, len(next))
	for k, r := range next {
		wasPresent[k] = r.Present
		r.Present = false
	}

	sorted := make([]Observation, 0, len(observations))
	for _, o := range observations {
		if o.Identity != "" {
			sorted = append(sorted, o)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Identity != sorted[j].Identity {
			return sorted[i].Identity < sorted[j].Identity
		}
		return sorted[i].Address < sorted[j].Address
	})

	diff := Diff{IPChanged: make(map[string]AddressChange)}
	observed := make(map[string]bool, len(sorted))

	for _, o := range sorted {
		r, known := next[o.Identity]
		if !known {
			r = &DeviceRecord{Identity: o.Identity}
			next[o.Identity] = r
			if !observed[o.Identity] {
				diff.New = append(diff.New, o.Identity)
			}
		} else if _, existed := previous[o.Identity]; existed && o.Address != "" {
			old := previous[o.Identity].Address
			if old != "" && old != o.Address {
				diff.IPChanged[o.Identity] = AddressChange{Old: old, New: o.Address}
			}
		}
		// a reclassified record starts over once per pass, then accumulates
		merge(r, o, opts.Reclassify && !observed[o.Identity])
		observed[o.Identity] = true

		r.Present = true
		if now.After(r.LastSeen) {
			r.LastSeen = now
		}
	}

	for k := range previous {
		if wasPresent[k] && !observed[k] {
			diff.Vanished = append(diff.Vanished, k)
		}
	}
	sort.Strings(diff.New)
	sort.Strings(diff.Vanished)
	if len(diff.IPChanged) == 0 {
		diff.IPChanged = nil
	}
	return next, diff
}

func merge(r *DeviceRecord, o Observation, replaceCapabilities bool) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&r.Address, o.Address)
	set(&r.Id, o.Id)
	set(&r.Name, o.Name)
	set(&r.MAC, o.MAC)
	set(&r.Model, o.Model)
	set(&r.Firmware, o.Firmware)
	set(&r.FirmwareId, o.FirmwareId)
	if o.Generation != 0 {
		r.Generation = o.Generation
	}

	if o.Capabilities != nil {
		if replaceCapabilities {
			r.Capabilities = NewCapabilities(o.Capabilities...)
		} else {
			r.Capabilities = r.Capabilities.Union(o.Capabilities)
		}
	}
	r.Category = Classify(r.Capabilities)
}

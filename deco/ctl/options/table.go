package options

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/asnowfix/deco/deco/devices"
)

const rowFormat = "%-35s | %-7s | %-20s | %-25s | %s\n"

// PrintRegistry prints one row per record, sorted by identity.
func PrintRegistry(w io.Writer, reg devices.Registry) {
	fmt.Fprintf(w, rowFormat, "Name", "State", "Model", "Capabilities", "Category")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, r := range reg.Sorted() {
		fmt.Fprintf(w, rowFormat, r.DisplayName(), r.State(), r.Model, r.Capabilities.String(), r.Category)
	}
}

// PrintDiff summarises a pass: new devices, address changes, then devices gone offline.
func PrintDiff(w io.Writer, diff devices.Diff) {
	if diff.Empty() {
		fmt.Fprintln(w, "No changes")
		return
	}
	for _, id := range diff.New {
		fmt.Fprintf(w, "+ %s\n", id)
	}
	for _, id := range sortedKeys(diff.IPChanged) {
		c := diff.IPChanged[id]
		fmt.Fprintf(w, "* %s %s -> %s\n", id, c.Old, c.New)
	}
	for _, id := range diff.Vanished {
		fmt.Fprintf(w, "- %s\n", id)
	}
}

func sortedKeys(m map[string]devices.AddressChange) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

type kind string

const (
	counter kind = "counter"
	gauge   kind = "gauge"
)

type series struct {
	name   string
	labels string
	kind   kind
	value  float64
}

// Metrics holds counters and gauges and writes them in the Prometheus text format.
type Metrics struct {
	mu     sync.RWMutex
	series map[string]*series
}

func New() *Metrics {
	return &Metrics{series: make(map[string]*series)}
}

// labelString renders key/value pairs as {k1="v1",k2="v2"}. An odd trailing key is ignored.
func labelString(labels []string) string {
	if len(labels) < 2 {
		return ""
	}
	parts := make([]string, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		v := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(labels[i+1])
		parts = append(parts, fmt.Sprintf(`%s="%s"`, labels[i], v))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func (m *Metrics) get(name string, k kind, labels []string) *series {
	ls := labelString(labels)
	key := name + ls
	s, ok := m.series[key]
	if !ok {
		s = &series{name: name, labels: ls, kind: k}
		m.series[key] = s
	}
	return s
}

// Inc adds one to a counter.
func (m *Metrics) Inc(name string, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(name, counter, labels).value++
}

// Set sets a gauge.
func (m *Metrics) Set(name string, value float64, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(name, gauge, labels).value = value
}

// Value returns the current value of a series, zero when it does not exist.
func (m *Metrics) Value(name string, labels ...string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.series[name+labelString(labels)]; ok {
		return s.value
	}
	return 0
}

// WriteTo writes every series, grouped by name and sorted.
func (m *Metrics) WriteTo(w io.Writer) (int64, error) {
	m.mu.RLock()
	all := make([]series, 0, len(m.series))
	for _, s := range m.series {
		all = append(all, *s)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].name != all[j].name {
			return all[i].name < all[j].name
		}
		return all[i].labels < all[j].labels
	})

	var b strings.Builder
	last := ""
	for _, s := range all {
		if s.name != last {
			fmt.Fprintf(&b, "# TYPE %s %s\n", s.name, s.kind)
			last = s.name
		}
		fmt.Fprintf(&b, "%s%s %v\n", s.name, s.labels, s.value)
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

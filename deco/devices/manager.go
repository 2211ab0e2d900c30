package devices

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// Store persists a whole registry at once.
type Store interface {
	Load(ctx context.Context) (Registry, error)
	Save(ctx context.Context, reg Registry) error
	Close() error
}

// Manager is the single writer of the registry: it loads it once, applies reconciliation
// passes one at a time and persists the result after each of them.
type Manager struct {
	mu       sync.Mutex
	log      logr.Logger
	store    Store
	registry Registry
	now      func() time.Time
}

// NewManager loads the registry from store. A missing or unreadable registry is logged and
// replaced by an empty one.
func NewManager(ctx context.Context, store Store) *Manager {
	log, err := logr.FromContext(ctx)
	if err != nil {
		panic("BUG: No logger initialized")
	}

	m := &Manager{
		log:   log.WithName("Registry"),
		store: store,
		now:   time.Now,
	}

	reg, err := store.Load(ctx)
	if err != nil {
		m.log.Error(err, "Failed to load registry, starting empty")
		reg = make(Registry)
	}
	if reg == nil {
		reg = make(Registry)
	}
	reg.Normalize()
	m.registry = reg
	m.log.V(1).Info("Loaded registry", "devices", len(reg))
	return m
}

// Reconcile applies one pass of observations and persists the outcome. A persistence
// failure is logged and returned together with the updated registry: the previous stored
// registry stays in place until a later save succeeds.
func (m *Manager) Reconcile(ctx context.Context, observations []Observation, opts Options) (Registry, Diff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, diff := Reconcile(m.registry, observations, m.now(), opts)
	if err := next.Validate(); err != nil {
		return nil, Diff{}, err
	}
	m.registry = next

	m.log.Info("Reconciled", "observations", len(observations), "devices", len(next), "new", len(diff.New), "vanished", len(diff.Vanished), "ip_changed", len(diff.IPChanged))

	if err := m.store.Save(ctx, next); err != nil {
		m.log.Error(err, "Failed to persist registry")
		return next.Clone(), diff, fmt.Errorf("persisting registry: %w", err)
	}
	return next.Clone(), diff, nil
}

// Snapshot returns a copy of the current registry.
func (m *Manager) Snapshot() Registry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.Clone()
}

func (m *Manager) Get(identity string) (*DeviceRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.registry[identity]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

func (m *Manager) Close() error {
	return m.store.Close()
}

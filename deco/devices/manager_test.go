package devices

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
)

type memoryStore struct {
	mu      sync.Mutex
	saved   Registry
	saves   int
	loadErr error
	saveErr error
}

func (s *memoryStore) Load(ctx context.Context) (Registry, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.saved.Clone(), nil
}

func (s *memoryStore) Save(ctx context.Context, reg Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.saved = reg.Clone()
	return nil
}

func (s *memoryStore) Close() error { return nil }

func TestManagerPersistsEveryPass(t *testing.T) {
	ctx := logr.NewContext(context.Background(), testr.New(t))
	store := &memoryStore{saved: Registry{}}
	m := NewManager(ctx, store)

	_, _, err := m.Reconcile(ctx, []Observation{{Identity: "devB", Capabilities: NewCapabilities("cover")}}, Options{})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	_, _, err = m.Reconcile(ctx, nil, Options{})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if store.saves != 2 {
		t.Errorf("expected 2 saves, got %d", store.saves)
	}
	if r := store.saved["devB"]; r == nil || r.Present {
		t.Errorf("stored record should exist and be offline after an empty pass: %+v", r)
	}
}

func TestManagerStartsEmptyOnLoadFailure(t *testing.T) {
	ctx := logr.NewContext(context.Background(), testr.New(t))
	m := NewManager(ctx, &memoryStore{loadErr: errors.New("yaml: line 3: did not find expected key")})

	if n := len(m.Snapshot()); n != 0 {
		t.Errorf("expected an empty registry, got %d records", n)
	}
}

func TestManagerKeepsMemoryStateWhenSaveFails(t *testing.T) {
	ctx := logr.NewContext(context.Background(), testr.New(t))
	store := &memoryStore{saved: Registry{}, saveErr: errors.New("read-only file system")}
	m := NewManager(ctx, store)

	reg, _, err := m.Reconcile(ctx, []Observation{{Identity: "dev"}}, Options{})
	if err == nil {
		t.Fatal("expected the save error")
	}
	if _, ok := reg["dev"]; !ok {
		t.Error("updated registry not returned")
	}
	if _, ok := m.Get("dev"); !ok {
		t.Error("in-memory registry not updated")
	}
	if len(store.saved) != 0 {
		t.Error("store content changed despite the failure")
	}
}

func TestManagerSerializesPasses(t *testing.T) {
	ctx := logr.NewContext(context.Background(), testr.New(t))
	store := &memoryStore{saved: Registry{}}
	m := NewManager(ctx, store)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			if _, _, err := m.Reconcile(ctx, []Observation{{Identity: id}}, Options{}); err != nil {
				t.Errorf("Reconcile: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if n := len(m.Snapshot()); n != 8 {
		t.Errorf("expected 8 records, got %d", n)
	}
	if store.saves != 8 {
		t.Errorf("expected 8 saves, got %d", store.saves)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	ctx := logr.NewContext(context.Background(), testr.New(t))
	m := NewManager(ctx, &memoryStore{saved: Registry{"dev": {Identity: "dev", Model: "A"}}})

	snap := m.Snapshot()
	snap["dev"].Model = "changed"
	if r, _ := m.Get("dev"); r.Model != "A" {
		t.Error("snapshot aliases the manager state")
	}
}

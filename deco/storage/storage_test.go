package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/asnowfix/deco/deco/devices"

	"github.com/go-logr/logr/testr"
)

func sampleRegistry() devices.Registry {
	seen := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	return devices.Registry{
		"plug-desk": {
			Identity: "plug-desk", Address: "192.168.1.42", Id: "shellyplusplugs-e86beae", Name: "plug-desk",
			MAC: "E86BEA0A1B2C", Model: "SNPL-00112EU", Firmware: "1.0.8", Generation: 2,
			Capabilities: devices.Capabilities{"power_meter", "relay"}, Category: devices.CategoryPlug,
			Present: true, LastSeen: seen,
		},
		"C45BBE6A0B1C": {
			Identity: "C45BBE6A0B1C", Address: "192.168.1.43", Model: "SHSW-25", Generation: 1,
			Capabilities: devices.Capabilities{"cover"}, Category: devices.CategoryCover,
			LastSeen: seen.Add(-time.Hour),
		},
	}
}

func TestYAMLStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "registry.yaml")
	s := NewYAMLStore(testr.New(t), path)

	want := sampleRegistry()
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip changed the registry:\n got %+v\nwant %+v", got, want)
	}
}

func TestYAMLStoreMissingFileIsEmpty(t *testing.T) {
	s := NewYAMLStore(testr.New(t), filepath.Join(t.TempDir(), "none.yaml"))
	reg, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reg == nil || len(reg) != 0 {
		t.Errorf("expected an empty registry, got %v", reg)
	}
}

func TestYAMLStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	if err := os.WriteFile(path, []byte("devices: [unterminated\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := NewYAMLStore(testr.New(t), path).Load(context.Background())
	var serr *Error
	if !errors.As(err, &serr) || serr.Kind != KindCorrupt {
		t.Fatalf("expected a corrupt storage error, got %v", err)
	}
}

func TestSQLiteStoreCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	garbage := []byte(strings.Repeat("this is not an sqlite database\n", 64))
	if err := os.WriteFile(path, garbage, 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := NewSQLiteStore(testr.New(t), path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()

	reg, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(reg) != 0 {
		t.Errorf("expected an empty registry, got %v", reg)
	}
	moved, err := os.ReadFile(path + CorruptSuffix)
	if err != nil {
		t.Fatalf("corrupt file not kept aside: %v", err)
	}
	if string(moved) != string(garbage) {
		t.Error("corrupt file content changed")
	}
	if err := s.Save(context.Background(), sampleRegistry()); err != nil {
		t.Errorf("Save on the fresh database: %v", err)
	}
}

func TestYAMLStoreLeavesNoTemporaryFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewYAMLStore(testr.New(t), filepath.Join(dir, "registry.yaml"))
	for i := 0; i < 3; i++ {
		if err := s.Save(context.Background(), sampleRegistry()); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "registry.yaml" {
		t.Errorf("unexpected directory content: %v", entries)
	}
}

func TestYAMLStoreFailedSaveKeepsPreviousFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	s := NewYAMLStore(testr.New(t), path)
	if err := s.Save(context.Background(), sampleRegistry()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	before, _ := os.ReadFile(path)

	// a directory in place of the target makes the rename fail
	blocked := NewYAMLStore(testr.New(t), filepath.Join(dir, "sub"))
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "keep"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := blocked.Save(context.Background(), sampleRegistry()); err == nil {
		t.Fatal("expected the save to fail")
	}

	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Error("previous registry file changed")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Errorf("temporary file left behind: %v", entries)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(testr.New(t), filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()

	want := sampleRegistry()
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// a second save replaces rather than appends
	delete(want, "C45BBE6A0B1C")
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip changed the registry:\n got %+v\nwant %+v", got, want)
	}
}

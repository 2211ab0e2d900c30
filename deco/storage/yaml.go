package storage

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/asnowfix/deco/deco/devices"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"
)

const documentVersion = 1

// document is the on-disk layout. Map keys are written sorted, so two saves of the same
// registry produce the same bytes apart from updated_at.
type document struct {
	Version   int              `yaml:"version"`
	UpdatedAt time.Time        `yaml:"updated_at"`
	Devices   devices.Registry `yaml:"devices"`
}

// YAMLStore keeps the registry in a single YAML file, replaced atomically on every save.
type YAMLStore struct {
	path string
	log  logr.Logger
}

func NewYAMLStore(log logr.Logger, path string) *YAMLStore {
	return &YAMLStore{path: path, log: log.WithName("YAMLStore")}
}

func (s *YAMLStore) Path() string {
	return s.path
}

// Load reads the registry. A missing file is an empty registry, not an error.
func (s *YAMLStore) Load(ctx context.Context) (devices.Registry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Info("No registry yet", "path", s.path)
		return make(devices.Registry), nil
	}
	if err != nil {
		return nil, &Error{Op: "load", Path: s.path, Kind: KindIO, Err: err}
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &Error{Op: "load", Path: s.path, Kind: KindCorrupt, Err: err}
	}
	if doc.Devices == nil {
		doc.Devices = make(devices.Registry)
	}
	s.log.V(1).Info("Loaded registry", "path", s.path, "devices", len(doc.Devices), "updated_at", doc.UpdatedAt)
	return doc.Devices, nil
}

// Save writes the whole registry to a temporary file next to the target, syncs it and
// renames it over the target.
func (s *YAMLStore) Save(ctx context.Context, reg devices.Registry) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(document{Version: documentVersion, UpdatedAt: time.Now().UTC(), Devices: reg}); err != nil {
		return &Error{Op: "save", Path: s.path, Kind: KindCorrupt, Err: err}
	}
	if err := enc.Close(); err != nil {
		return &Error{Op: "save", Path: s.path, Kind: KindCorrupt, Err: err}
	}

	if err := writeFileAtomic(s.path, buf.Bytes(), 0o644); err != nil {
		return &Error{Op: "save", Path: s.path, Kind: KindIO, Err: err}
	}
	s.log.V(1).Info("Saved registry", "path", s.path, "devices", len(reg))
	return nil
}

func (s *YAMLStore) Close() error {
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), perm); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

package storage

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/asnowfix/deco/deco/devices"

	"github.com/go-logr/logr"
	"github.com/jmoiron/sqlx"
	"github.com/ncruces/go-sqlite3"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// deviceRow adds the columns that need a text encoding to the plain record fields.
type deviceRow struct {
	devices.DeviceRecord
	CapabilitiesText string `db:"capabilities"`
	LastSeenText     string `db:"last_seen"`
}

// SQLiteStore keeps the registry in a single SQLite table. Every save rewrites the table in
// one transaction, so readers never observe a half-written registry.
type SQLiteStore struct {
	db   *sqlx.DB
	path string
	log  logr.Logger
}

// CorruptSuffix is appended to the name of a database file that SQLite cannot read.
const CorruptSuffix = ".corrupt"

// NewSQLiteStore opens or creates the database at path. A file that is not a usable SQLite
// database is moved to path+CorruptSuffix and replaced by an empty one.
func NewSQLiteStore(log logr.Logger, path string) (*SQLiteStore, error) {
	log = log.WithName("SQLiteStore")

	s, err := openSQLite(log, path)
	var serr *Error
	if err == nil || !errors.As(err, &serr) || serr.Kind != KindCorrupt {
		return s, err
	}

	moved := path + CorruptSuffix
	log.Error(err, "Corrupt registry database, starting empty", "path", path, "moved_to", moved)
	if err := os.Rename(path, moved); err != nil {
		return nil, &Error{Op: "open", Path: path, Kind: KindIO, Err: err}
	}
	for _, suffix := range []string{"-journal", "-wal", "-shm"} {
		os.Remove(path + suffix)
	}
	return openSQLite(log, path)
}

func openSQLite(log logr.Logger, path string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		log.Error(err, "Failed to connect to database", "dbType", "sqlite3", "dbName", path)
		return nil, &Error{Op: "open", Path: path, Kind: sqliteKind(err), Err: err}
	}

	s := &SQLiteStore{
		db:   db,
		path: path,
		log:  log,
	}
	if err := s.createTable(); err != nil {
		db.Close()
		return nil, &Error{Op: "open", Path: path, Kind: sqliteKind(err), Err: err}
	}
	return s, nil
}

func sqliteKind(err error) Kind {
	if errors.Is(err, sqlite3.NOTADB) || errors.Is(err, sqlite3.CORRUPT) {
		return KindCorrupt
	}
	return KindIO
}

func (s *SQLiteStore) createTable() error {
	schema := `
    CREATE TABLE IF NOT EXISTS devices (
        identity TEXT PRIMARY KEY,
        address TEXT NOT NULL DEFAULT '',
        id TEXT NOT NULL DEFAULT '',
        name TEXT NOT NULL DEFAULT '',
        mac TEXT NOT NULL DEFAULT '',
        model TEXT NOT NULL DEFAULT '',
        firmware TEXT NOT NULL DEFAULT '',
        firmware_id TEXT NOT NULL DEFAULT '',
        generation INTEGER NOT NULL DEFAULT 0,
        capabilities TEXT NOT NULL DEFAULT '',
        category TEXT NOT NULL DEFAULT '',
        present INTEGER NOT NULL DEFAULT 0,
        last_seen TEXT NOT NULL DEFAULT ''
    );
`
	_, err := s.db.Exec(schema)
	if err != nil {
		s.log.Error(err, "Failed to execute create table query")
		return err
	}
	s.log.V(1).Info("Created table")
	return nil
}

func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Load(ctx context.Context) (devices.Registry, error) {
	var rows []deviceRow
	err := s.db.SelectContext(ctx, &rows, "SELECT * FROM devices")
	if err != nil {
		s.log.Error(err, "Failed to load devices")
		return nil, &Error{Op: "load", Path: s.path, Kind: sqliteKind(err), Err: err}
	}

	reg := make(devices.Registry, len(rows))
	for _, row := range rows {
		r := row.DeviceRecord
		if row.CapabilitiesText != "" {
			r.Capabilities = devices.NewCapabilities(strings.Split(row.CapabilitiesText, ",")...)
		}
		if row.LastSeenText != "" {
			r.LastSeen, err = time.Parse(time.RFC3339Nano, row.LastSeenText)
			if err != nil {
				return nil, &Error{Op: "load", Path: s.path, Kind: KindCorrupt, Err: err}
			}
		}
		reg[r.Identity] = &r
	}
	s.log.V(1).Info("Loaded registry", "path", s.path, "devices", len(reg))
	return reg, nil
}

func (s *SQLiteStore) Save(ctx context.Context, reg devices.Registry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &Error{Op: "save", Path: s.path, Kind: KindIO, Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM devices"); err != nil {
		return &Error{Op: "save", Path: s.path, Kind: KindIO, Err: err}
	}

	query := `INSERT INTO devices (identity, address, id, name, mac, model, firmware, firmware_id, generation, capabilities, category, present, last_seen)
        VALUES (:identity, :address, :id, :name, :mac, :model, :firmware, :firmware_id, :generation, :capabilities, :category, :present, :last_seen)`
	for _, r := range reg.Sorted() {
		row := deviceRow{DeviceRecord: *r, CapabilitiesText: r.Capabilities.String()}
		if !r.LastSeen.IsZero() {
			row.LastSeenText = r.LastSeen.UTC().Format(time.RFC3339Nano)
		}
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			s.log.Error(err, "Failed to insert device", "identity", r.Identity)
			return &Error{Op: "save", Path: s.path, Kind: KindIO, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &Error{Op: "save", Path: s.path, Kind: KindIO, Err: err}
	}
	s.log.V(1).Info("Saved registry", "path", s.path, "devices", len(reg))
	return nil
}

// Close closes the database connection & syncs it to persistent storage.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

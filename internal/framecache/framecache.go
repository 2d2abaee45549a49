// Package framecache persists computed session artifacts (race frame lists,
// qualifying catalogs) in a local sqlite database keyed by (year, round,
// session kind). Entries are stored as a single CBOR blob so a reload
// restores the frame list byte for byte.
package framecache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/gridline-data/gridline.replay/internal/telemetry"
)

// ErrMiss is returned by Load when no usable entry exists for the key.
// Corrupt blobs surface as a miss so a rebuild replaces them.
var ErrMiss = errors.New("framecache: entry not found")

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Entry is one cached session artifact. Exactly one of Race and Quali is
// set, depending on the session kind.
type Entry struct {
	Race    *telemetry.RaceData     `cbor:"race,omitempty"`
	Quali   *telemetry.QualiCatalog `cbor:"quali,omitempty"`
	SavedAt time.Time               `cbor:"saved_at"`
}

// Cache is a handle on the artifact database. Safe for concurrent use.
type Cache struct {
	db  *sql.DB
	enc cbor.EncMode
}

// Open opens (creating if needed) the cache database at path and applies
// pending schema migrations.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	// Canonical encoding keeps the stored blob deterministic for a given
	// frame list.
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db, enc: enc}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error { return c.db.Close() }

// Load restores the entry for the key. Returns ErrMiss when absent or when
// the stored blob does not decode.
func (c *Cache) Load(ctx context.Context, year, round int, kind string) (*Entry, error) {
	var payload []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT payload FROM sessions WHERE year = ? AND round = ? AND kind = ?`,
		year, round, kind).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("framecache load: %w", err)
	}

	var e Entry
	if err := cbor.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("%w: corrupt payload for %d/%d/%s: %v", ErrMiss, year, round, kind, err)
	}
	return &e, nil
}

// Save stores (or replaces) the entry for the key.
func (c *Cache) Save(ctx context.Context, year, round int, kind string, e *Entry) error {
	payload, err := c.enc.Marshal(e)
	if err != nil {
		return fmt.Errorf("framecache encode: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO sessions (year, round, kind, payload, saved_at) VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (year, round, kind) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`,
		year, round, kind, payload)
	if err != nil {
		return fmt.Errorf("framecache save: %w", err)
	}
	return nil
}

// Delete removes the entry for the key if present. Used by forced
// refreshes before a rebuild.
func (c *Cache) Delete(ctx context.Context, year, round int, kind string) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE year = ? AND round = ? AND kind = ?`, year, round, kind)
	return err
}

// Keys lists the cached session keys, newest first.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT year, round, kind FROM sessions ORDER BY saved_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var year, round int
		var kind string
		if err := rows.Scan(&year, &round, &kind); err != nil {
			return nil, err
		}
		keys = append(keys, fmt.Sprintf("%d_%d_%s", year, round, kind))
	}
	return keys, rows.Err()
}

// migrateUp applies all pending migrations from the embedded set.
func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

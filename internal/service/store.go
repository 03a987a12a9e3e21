// Package service implements the advertising id provider: a persistent
// identity store, the binder stub that answers the advertising id contract,
// and the HTTP host exposing that stub over websocket.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Identity is the stored advertising identity.
type Identity struct {
	ID                   string    `json:"id"`
	LimitTrackingEnabled bool      `json:"limit_tracking_enabled"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Store persists a single advertising identity in SQLite.
type Store struct {
	db     *sql.DB
	dbPath string

	// serializes read-modify-write of the identity row
	mu sync.Mutex
}

// OpenStore opens or creates the store at dbPath. The special path
// ":memory:" keeps the identity in memory.
func OpenStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Debug().Str("path", dbPath).Msg("identity store opened")
	return &Store{db: db, dbPath: dbPath}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS identity (
			slot INTEGER PRIMARY KEY CHECK (slot = 0),
			ad_id TEXT NOT NULL,
			limit_tracking INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Current returns the stored identity, generating a random identifier on
// first use.
func (s *Store) Current(ctx context.Context) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, err := s.load(ctx)
	if err == nil {
		return ident, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Identity{}, err
	}

	ident = Identity{ID: uuid.New().String(), UpdatedAt: time.Now().UTC()}
	if err := s.save(ctx, ident); err != nil {
		return Identity{}, err
	}
	log.Info().Str("ad_id", ident.ID).Msg("generated advertising identifier")
	return ident, nil
}

// Reset replaces the identifier with a new random one, keeping the
// limit-tracking preference.
func (s *Store) Reset(ctx context.Context) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, err := s.load(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Identity{}, err
	}

	ident.ID = uuid.New().String()
	ident.UpdatedAt = time.Now().UTC()
	if err := s.save(ctx, ident); err != nil {
		return Identity{}, err
	}
	log.Info().Str("ad_id", ident.ID).Msg("advertising identifier reset")
	return ident, nil
}

// SetLimitTracking stores the user's limit-tracking preference.
func (s *Store) SetLimitTracking(ctx context.Context, enabled bool) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, err := s.load(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		ident = Identity{ID: uuid.New().String()}
	} else if err != nil {
		return Identity{}, err
	}

	ident.LimitTrackingEnabled = enabled
	ident.UpdatedAt = time.Now().UTC()
	if err := s.save(ctx, ident); err != nil {
		return Identity{}, err
	}
	return ident, nil
}

func (s *Store) load(ctx context.Context) (Identity, error) {
	var (
		ident     Identity
		limit     int
		updatedAt string
	)
	row := s.db.QueryRowContext(ctx, "SELECT ad_id, limit_tracking, updated_at FROM identity WHERE slot = 0")
	if err := row.Scan(&ident.ID, &limit, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, err
		}
		return Identity{}, fmt.Errorf("failed to load identity: %w", err)
	}

	ident.LimitTrackingEnabled = limit != 0
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		ident.UpdatedAt = t
	}
	return ident, nil
}

func (s *Store) save(ctx context.Context, ident Identity) error {
	limit := 0
	if ident.LimitTrackingEnabled {
		limit = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identity (slot, ad_id, limit_tracking, updated_at) VALUES (0, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			ad_id = excluded.ad_id,
			limit_tracking = excluded.limit_tracking,
			updated_at = excluded.updated_at
	`, ident.ID, limit, ident.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}
	return nil
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

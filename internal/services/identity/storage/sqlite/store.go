package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/singlesignon/identity/internal/platform/errors"
	sqlitemigrate "github.com/singlesignon/identity/internal/platform/storage/sqlitemigrate"
	"github.com/singlesignon/identity/internal/services/identity/storage"
	"github.com/singlesignon/identity/internal/services/identity/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements operational-store persistence over SQLite.
//
// A single SQLite file backs grants, consents, and client/resource
// registration so the expiry index, cleanup deletes, and redemption updates
// share one set of transactional guarantees.
type Store struct {
	sqlDB *sql.DB
	clock func() time.Time
}

// Open opens the operational SQLite store and applies bundled migrations.
//
// Keeping schema evolution here means callers never coordinate migrations
// independently.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	// modernc.org/sqlite only honors the _pragma=name(value) form; the
	// mattn-style _busy_timeout/_journal_mode keys are silently ignored,
	// which would leave busy_timeout at 0 and break the single-winner
	// consume guarantee under concurrent redemption.
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{
		sqlDB: sqlDB,
		clock: time.Now,
	}

	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// DB returns the raw database handle for maintenance tooling.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.sqlDB
}

// SetClock overrides the store's time source. Intended for tests.
func (s *Store) SetClock(clock func() time.Time) {
	if s == nil || clock == nil {
		return
	}
	s.clock = clock
}

func (s *Store) now() time.Time {
	if s == nil || s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func (s *Store) ensureDB() error {
	if s == nil || s.sqlDB == nil {
		return storage.ErrUnavailable
	}
	return nil
}

// unavailable wraps infrastructure failures so callers can retry with
// backoff instead of treating them as missing records.
func unavailable(op string, err error) error {
	return apperrors.Wrap(apperrors.CodeStoreUnavailable, op, err)
}

// optionalMillis converts a nullable timestamp for storage.
func optionalMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

// timeFromNull restores a nullable stored timestamp.
func timeFromNull(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	restored := fromMillis(value.Int64)
	return &restored
}

// joinScopes flattens a scope list for storage. Scopes are space-separated
// on the wire, so the same convention keeps rows greppable.
func joinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// splitScopes restores a stored scope list.
func splitScopes(value string) []string {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// CountExpired reports how many grants and consents have an expiry before
// threshold. Used by maintenance tooling to preview a reclaim pass.
func (s *Store) CountExpired(ctx context.Context, threshold time.Time) (grants, consents int, err error) {
	if err := s.ensureDB(); err != nil {
		return 0, 0, err
	}
	cutoff := toMillis(threshold)

	err = s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM grants WHERE expires_at IS NOT NULL AND expires_at < ?`,
		cutoff,
	).Scan(&grants)
	if err != nil {
		return 0, 0, unavailable("count expired grants", err)
	}

	err = s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM consents WHERE expires_at IS NOT NULL AND expires_at < ?`,
		cutoff,
	).Scan(&consents)
	if err != nil {
		return 0, 0, unavailable("count expired consents", err)
	}
	return grants, consents, nil
}

// beginTx starts a transaction with unavailability mapping applied.
func (s *Store) beginTx(ctx context.Context, op string) (*sql.Tx, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(op, err)
	}
	return tx, nil
}

var errNoRows = sql.ErrNoRows

// isNoRows reports whether the error is the driver's empty-result marker.
func isNoRows(err error) bool {
	return errors.Is(err, errNoRows)
}

var _ storage.GrantStore = (*Store)(nil)
var _ storage.ConsentStore = (*Store)(nil)
var _ storage.ClientStore = (*Store)(nil)

package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/singlesignon/identity/internal/services/identity/grant"
	"github.com/singlesignon/identity/internal/services/identity/storage"
)

const grantColumns = `handle, kind, client_id, subject_id, session_id, data, created_at, expires_at, consumed_at`

// PutGrant inserts a new grant record.
//
// A handle held by an expired record is reclaimed in the same transaction, so
// handle reuse after expiry never collides. A live holder fails the insert
// with ErrDuplicateHandle.
func (s *Store) PutGrant(ctx context.Context, g grant.Grant) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	if err := grant.Validate(g); err != nil {
		return err
	}

	tx, err := s.beginTx(ctx, "put grant")
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	nowMillis := toMillis(s.now())
	var existingExpiry sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT expires_at FROM grants WHERE handle = ?`, g.Handle,
	).Scan(&existingExpiry)
	switch {
	case err == nil:
		if !existingExpiry.Valid || existingExpiry.Int64 > nowMillis {
			return storage.ErrDuplicateHandle
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM grants WHERE handle = ?`, g.Handle); err != nil {
			return unavailable("reclaim expired handle", err)
		}
	case isNoRows(err):
		// Handle is free.
	default:
		return unavailable("check grant handle", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO grants (`+grantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.Handle,
		string(g.Kind),
		g.ClientID,
		g.SubjectID,
		g.SessionID,
		g.Data,
		toMillis(g.CreatedAt),
		optionalMillis(g.ExpiresAt),
		optionalMillis(g.ConsumedAt),
	)
	if err != nil {
		return unavailable("insert grant", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit put grant", err)
	}
	return nil
}

// GetGrant returns the grant for handle when kind matches and the expiry has
// not passed.
//
// Expiry is enforced here, at read time, so validation stays correct even
// when cleanup is disabled or lagging. Kind mismatch surfaces as ErrNotFound
// rather than a distinct error so a probing client learns nothing about what
// the handle actually is.
func (s *Store) GetGrant(ctx context.Context, handle string, kind grant.Kind) (grant.Grant, error) {
	if err := s.ensureDB(); err != nil {
		return grant.Grant{}, err
	}
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return grant.Grant{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+grantColumns+` FROM grants WHERE handle = ? AND kind = ?`,
		handle, string(kind),
	)
	g, err := scanGrant(row)
	if err != nil {
		if isNoRows(err) {
			return grant.Grant{}, storage.ErrNotFound
		}
		return grant.Grant{}, unavailable("get grant", err)
	}
	if g.Expired(s.now()) {
		return grant.Grant{}, storage.ErrNotFound
	}
	return g, nil
}

// ConsumeGrant atomically transitions a grant from unconsumed to consumed.
//
// The single conditional UPDATE is the linearization point: exactly one
// caller observes an affected row regardless of concurrency; everyone else
// is told the grant was already consumed.
func (s *Store) ConsumeGrant(ctx context.Context, handle string, at time.Time) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return storage.ErrNotFound
	}

	nowMillis := toMillis(s.now())
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE grants SET consumed_at = ?
		WHERE handle = ? AND consumed_at IS NULL
			AND (expires_at IS NULL OR expires_at > ?)`,
		toMillis(at), handle, nowMillis,
	)
	if err != nil {
		return unavailable("consume grant", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return unavailable("consume grant rows", err)
	}
	if affected == 1 {
		return nil
	}

	// Lost the race or the grant is gone; report which without a second
	// write.
	var consumedAt, expiresAt sql.NullInt64
	err = s.sqlDB.QueryRowContext(ctx,
		`SELECT consumed_at, expires_at FROM grants WHERE handle = ?`, handle,
	).Scan(&consumedAt, &expiresAt)
	if err != nil {
		if isNoRows(err) {
			return storage.ErrNotFound
		}
		return unavailable("inspect grant", err)
	}
	if expiresAt.Valid && expiresAt.Int64 <= nowMillis {
		return storage.ErrNotFound
	}
	return storage.ErrAlreadyConsumed
}

// DeleteGrant removes a grant. Absent handles are not an error, so retries
// after a timeout stay safe.
func (s *Store) DeleteGrant(ctx context.Context, handle string) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM grants WHERE handle = ?`, handle); err != nil {
		return unavailable("delete grant", err)
	}
	return nil
}

// DeleteGrantsBySubject removes every grant issued to a subject, optionally
// narrowed to a single client. Used by logout and revocation sweeps.
func (s *Store) DeleteGrantsBySubject(ctx context.Context, subjectID, clientID string) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil
	}
	clientID = strings.TrimSpace(clientID)

	var err error
	if clientID == "" {
		_, err = s.sqlDB.ExecContext(ctx,
			`DELETE FROM grants WHERE subject_id = ?`, subjectID)
	} else {
		_, err = s.sqlDB.ExecContext(ctx,
			`DELETE FROM grants WHERE subject_id = ? AND client_id = ?`, subjectID, clientID)
	}
	if err != nil {
		return unavailable("delete grants by subject", err)
	}
	return nil
}

// DeleteExpiredGrants removes up to limit grants with expiry before
// threshold and returns the reclaimed handles.
//
// Selection and deletion share one transaction so the expiry index and grant
// rows never disagree, and ordering by (expires_at, handle) keeps repeated
// batched runs deterministic.
func (s *Store) DeleteExpiredGrants(ctx context.Context, threshold time.Time, limit int) ([]string, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	tx, err := s.beginTx(ctx, "delete expired grants")
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT handle FROM grants
		WHERE expires_at IS NOT NULL AND expires_at < ?
		ORDER BY expires_at ASC, handle ASC
		LIMIT ?`,
		toMillis(threshold), limit,
	)
	if err != nil {
		return nil, unavailable("select expired grants", err)
	}
	var handles []string
	for rows.Next() {
		var handle string
		if err := rows.Scan(&handle); err != nil {
			_ = rows.Close()
			return nil, unavailable("scan expired grant", err)
		}
		handles = append(handles, handle)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate expired grants", err)
	}
	if err := rows.Close(); err != nil {
		return nil, unavailable("close expired grants", err)
	}
	if len(handles) == 0 {
		return nil, tx.Commit()
	}

	placeholders := strings.Repeat("?,", len(handles))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(handles))
	for i, handle := range handles {
		args[i] = handle
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM grants WHERE handle IN (`+placeholders+`)`, args...,
	); err != nil {
		return nil, unavailable("delete expired grants", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit expired grants", err)
	}
	return handles, nil
}

type grantScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row grantScanner) (grant.Grant, error) {
	var g grant.Grant
	var kind string
	var createdAt int64
	var expiresAt, consumedAt sql.NullInt64
	if err := row.Scan(
		&g.Handle,
		&kind,
		&g.ClientID,
		&g.SubjectID,
		&g.SessionID,
		&g.Data,
		&createdAt,
		&expiresAt,
		&consumedAt,
	); err != nil {
		return grant.Grant{}, err
	}
	g.Kind = grant.Kind(kind)
	g.CreatedAt = fromMillis(createdAt)
	g.ExpiresAt = timeFromNull(expiresAt)
	g.ConsumedAt = timeFromNull(consumedAt)
	return g, nil
}

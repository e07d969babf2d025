package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/singlesignon/identity/internal/services/identity/grant"
	"github.com/singlesignon/identity/internal/services/identity/storage"
)

// GetConsent returns the consent recorded for a subject and client.
//
// Expired consents surface as ErrNotFound at read time; the row stays behind
// for the cleanup scheduler to reclaim.
func (s *Store) GetConsent(ctx context.Context, subjectID, clientID string) (grant.Consent, error) {
	if err := s.ensureDB(); err != nil {
		return grant.Consent{}, err
	}
	subjectID = strings.TrimSpace(subjectID)
	clientID = strings.TrimSpace(clientID)
	if subjectID == "" || clientID == "" {
		return grant.Consent{}, storage.ErrNotFound
	}

	var c grant.Consent
	var scopes string
	var createdAt, updatedAt int64
	var expiresAt sql.NullInt64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT subject_id, client_id, scopes, created_at, updated_at, expires_at
		FROM consents WHERE subject_id = ? AND client_id = ?`,
		subjectID, clientID,
	).Scan(&c.SubjectID, &c.ClientID, &scopes, &createdAt, &updatedAt, &expiresAt)
	if err != nil {
		if isNoRows(err) {
			return grant.Consent{}, storage.ErrNotFound
		}
		return grant.Consent{}, unavailable("get consent", err)
	}
	c.Scopes = splitScopes(scopes)
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	c.ExpiresAt = timeFromNull(expiresAt)
	if c.Expired(s.now()) {
		return grant.Consent{}, storage.ErrNotFound
	}
	return c, nil
}

// UpsertConsent stores or replaces a subject's consent decision.
//
// Consent is keyed by (subject, client); a new approval replaces the scope
// set rather than accumulating history.
func (s *Store) UpsertConsent(ctx context.Context, c grant.Consent) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	normalized, err := grant.NormalizeConsent(c)
	if err != nil {
		return err
	}

	now := s.now()
	if normalized.CreatedAt.IsZero() {
		normalized.CreatedAt = now
	}
	if normalized.UpdatedAt.IsZero() {
		normalized.UpdatedAt = now
	}

	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO consents (subject_id, client_id, scopes, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(subject_id, client_id) DO UPDATE SET
			scopes = excluded.scopes,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`,
		normalized.SubjectID,
		normalized.ClientID,
		joinScopes(normalized.Scopes),
		toMillis(normalized.CreatedAt),
		toMillis(normalized.UpdatedAt),
		optionalMillis(normalized.ExpiresAt),
	)
	if err != nil {
		return unavailable("upsert consent", err)
	}
	return nil
}

// DeleteConsent removes a consent record. Absent records are not an error.
func (s *Store) DeleteConsent(ctx context.Context, subjectID, clientID string) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	subjectID = strings.TrimSpace(subjectID)
	clientID = strings.TrimSpace(clientID)
	if subjectID == "" || clientID == "" {
		return nil
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM consents WHERE subject_id = ? AND client_id = ?`,
		subjectID, clientID,
	); err != nil {
		return unavailable("delete consent", err)
	}
	return nil
}

// DeleteExpiredConsents removes up to limit consents with expiry before
// threshold and reports how many were removed.
func (s *Store) DeleteExpiredConsents(ctx context.Context, threshold time.Time, limit int) (int, error) {
	if err := s.ensureDB(); err != nil {
		return 0, err
	}
	if limit <= 0 {
		return 0, nil
	}

	result, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM consents WHERE rowid IN (
			SELECT rowid FROM consents
			WHERE expires_at IS NOT NULL AND expires_at < ?
			ORDER BY expires_at ASC, subject_id ASC, client_id ASC
			LIMIT ?
		)`,
		toMillis(threshold), limit,
	)
	if err != nil {
		return 0, unavailable("delete expired consents", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, unavailable("expired consents rows", err)
	}
	return int(affected), nil
}

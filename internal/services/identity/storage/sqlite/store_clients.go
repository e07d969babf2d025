package sqlite

import (
	"context"
	"strings"

	apperrors "github.com/singlesignon/identity/internal/platform/errors"
	"github.com/singlesignon/identity/internal/services/identity/storage"
)

// joinURIs flattens redirect URIs for storage. URIs may not contain spaces
// without percent-encoding, so space separation is unambiguous.
func joinURIs(uris []string) string {
	return strings.Join(uris, " ")
}

// PutClient stores or replaces a registered client.
func (s *Store) PutClient(ctx context.Context, c storage.Client) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	c.ID = strings.TrimSpace(c.ID)
	if c.ID == "" {
		return apperrors.New(apperrors.CodeClientEmptyID, "client id is required")
	}
	if strings.TrimSpace(c.SecretHash) == "" {
		return apperrors.New(apperrors.CodeClientEmptySecret, "client secret hash is required")
	}

	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO clients (id, name, secret_hash, redirect_uris, scopes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			secret_hash = excluded.secret_hash,
			redirect_uris = excluded.redirect_uris,
			scopes = excluded.scopes,
			updated_at = excluded.updated_at`,
		c.ID,
		c.Name,
		c.SecretHash,
		joinURIs(c.RedirectURIs),
		joinScopes(c.Scopes),
		toMillis(c.CreatedAt),
		toMillis(c.UpdatedAt),
	)
	if err != nil {
		return unavailable("put client", err)
	}
	return nil
}

// GetClient returns a registered client by identifier.
func (s *Store) GetClient(ctx context.Context, clientID string) (storage.Client, error) {
	if err := s.ensureDB(); err != nil {
		return storage.Client{}, err
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return storage.Client{}, storage.ErrNotFound
	}

	var c storage.Client
	var uris, scopes string
	var createdAt, updatedAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, name, secret_hash, redirect_uris, scopes, created_at, updated_at
		FROM clients WHERE id = ?`,
		clientID,
	).Scan(&c.ID, &c.Name, &c.SecretHash, &uris, &scopes, &createdAt, &updatedAt)
	if err != nil {
		if isNoRows(err) {
			return storage.Client{}, storage.ErrNotFound
		}
		return storage.Client{}, unavailable("get client", err)
	}
	c.RedirectURIs = splitScopes(uris)
	c.Scopes = splitScopes(scopes)
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return c, nil
}

// ListClients returns every registered client, ordered by identifier.
func (s *Store) ListClients(ctx context.Context) ([]storage.Client, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, name, secret_hash, redirect_uris, scopes, created_at, updated_at
		FROM clients ORDER BY id ASC`)
	if err != nil {
		return nil, unavailable("list clients", err)
	}
	defer rows.Close()

	var clients []storage.Client
	for rows.Next() {
		var c storage.Client
		var uris, scopes string
		var createdAt, updatedAt int64
		if err := rows.Scan(&c.ID, &c.Name, &c.SecretHash, &uris, &scopes, &createdAt, &updatedAt); err != nil {
			return nil, unavailable("scan client", err)
		}
		c.RedirectURIs = splitScopes(uris)
		c.Scopes = splitScopes(scopes)
		c.CreatedAt = fromMillis(createdAt)
		c.UpdatedAt = fromMillis(updatedAt)
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate clients", err)
	}
	return clients, nil
}

// PutResource stores or replaces a protected resource definition.
func (s *Store) PutResource(ctx context.Context, r storage.Resource) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return apperrors.New(apperrors.CodeResourceEmptyName, "resource name is required")
	}

	now := s.now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO resources (name, scopes, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			scopes = excluded.scopes,
			updated_at = excluded.updated_at`,
		r.Name,
		joinScopes(r.Scopes),
		toMillis(r.CreatedAt),
		toMillis(r.UpdatedAt),
	)
	if err != nil {
		return unavailable("put resource", err)
	}
	return nil
}

// GetResourcesByScopes returns resources reachable through any of the given
// scopes, ordered by name.
func (s *Store) GetResourcesByScopes(ctx context.Context, scopes []string) ([]storage.Resource, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		scope = strings.TrimSpace(scope)
		if scope != "" {
			wanted[scope] = struct{}{}
		}
	}
	if len(wanted) == 0 {
		return nil, nil
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT name, scopes, created_at, updated_at FROM resources ORDER BY name ASC`)
	if err != nil {
		return nil, unavailable("list resources", err)
	}
	defer rows.Close()

	var matched []storage.Resource
	for rows.Next() {
		var r storage.Resource
		var stored string
		var createdAt, updatedAt int64
		if err := rows.Scan(&r.Name, &stored, &createdAt, &updatedAt); err != nil {
			return nil, unavailable("scan resource", err)
		}
		r.Scopes = splitScopes(stored)
		r.CreatedAt = fromMillis(createdAt)
		r.UpdatedAt = fromMillis(updatedAt)
		for _, scope := range r.Scopes {
			if _, ok := wanted[scope]; ok {
				matched = append(matched, r)
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate resources", err)
	}
	return matched, nil
}

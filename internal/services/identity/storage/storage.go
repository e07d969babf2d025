// Package storage defines persistence contracts for the operational store.
//
// These interfaces exist so issuance, validation, and cleanup logic can depend
// on stable grant semantics without coupling to SQLite schema details.
package storage

import (
	"context"
	"time"

	"github.com/singlesignon/identity/internal/platform/errors"
	"github.com/singlesignon/identity/internal/services/identity/grant"
)

var (
	// ErrNotFound indicates a requested record is missing, expired, or
	// filtered out by a kind mismatch. Callers must not be able to tell
	// those cases apart.
	ErrNotFound = errors.New(errors.CodeNotFound, "record not found")
	// ErrDuplicateHandle indicates an insert collided with a live handle.
	// Recoverable: regenerate the handle and retry.
	ErrDuplicateHandle = errors.New(errors.CodeDuplicateHandle, "grant handle already exists")
	// ErrAlreadyConsumed indicates a one-time-use grant was already redeemed.
	ErrAlreadyConsumed = errors.New(errors.CodeAlreadyConsumed, "grant already consumed")
	// ErrUnavailable indicates a transient storage failure. Retryable with
	// backoff; never means the record does not exist.
	ErrUnavailable = errors.New(errors.CodeStoreUnavailable, "store unavailable")
)

// GrantStore persists issued security artifacts keyed by opaque handle.
type GrantStore interface {
	// PutGrant inserts a new grant. It fails with ErrDuplicateHandle when
	// the handle is held by a record that has not yet expired; an expired
	// holder is replaced.
	PutGrant(ctx context.Context, g grant.Grant) error
	// GetGrant returns the grant for handle when its kind matches and its
	// expiry has not passed. Expired or kind-mismatched records surface as
	// ErrNotFound. Consumed grants remain readable until reclaimed.
	GetGrant(ctx context.Context, handle string, kind grant.Kind) (grant.Grant, error)
	// ConsumeGrant transitions a grant from unconsumed to consumed. Exactly
	// one concurrent caller succeeds per handle; later callers observe
	// ErrAlreadyConsumed. Absent or expired handles surface as ErrNotFound.
	ConsumeGrant(ctx context.Context, handle string, at time.Time) error
	// DeleteGrant removes a grant. Deleting an absent handle is not an error.
	DeleteGrant(ctx context.Context, handle string) error
	// DeleteGrantsBySubject removes all grants for a subject, optionally
	// narrowed to one client. Used by logout and revocation sweeps.
	DeleteGrantsBySubject(ctx context.Context, subjectID, clientID string) error
	// DeleteExpiredGrants removes up to limit grants whose expiry precedes
	// threshold, in ascending (expiry, handle) order, and returns the
	// removed handles. Row and index removal are atomic.
	DeleteExpiredGrants(ctx context.Context, threshold time.Time, limit int) ([]string, error)
}

// ConsentStore persists subject-to-client consent decisions.
type ConsentStore interface {
	GetConsent(ctx context.Context, subjectID, clientID string) (grant.Consent, error)
	UpsertConsent(ctx context.Context, c grant.Consent) error
	DeleteConsent(ctx context.Context, subjectID, clientID string) error
	// DeleteExpiredConsents removes up to limit consents whose expiry
	// precedes threshold and reports how many were removed.
	DeleteExpiredConsents(ctx context.Context, threshold time.Time, limit int) (int, error)
}

// Client describes a registered client application.
//
// SecretHash holds a bcrypt hash; plaintext secrets are never persisted.
type Client struct {
	ID           string
	Name         string
	SecretHash   string
	RedirectURIs []string
	Scopes       []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Resource describes a protected resource reachable through scopes.
type Resource struct {
	Name      string
	Scopes    []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClientStore persists registered clients and protected resources.
//
// Registration writes are out-of-band; hot-path reads go through the cached
// configuration provider, not this interface.
type ClientStore interface {
	PutClient(ctx context.Context, c Client) error
	GetClient(ctx context.Context, clientID string) (Client, error)
	ListClients(ctx context.Context) ([]Client, error)
	PutResource(ctx context.Context, r Resource) error
	GetResourcesByScopes(ctx context.Context, scopes []string) ([]Resource, error)
}

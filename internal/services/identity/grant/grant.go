// Package grant provides the grant and consent domain model.
package grant

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/singlesignon/identity/internal/platform/errors"
	"github.com/singlesignon/identity/internal/platform/id"
)

var (
	// ErrEmptyHandle indicates a missing grant handle.
	ErrEmptyHandle = apperrors.New(apperrors.CodeGrantEmptyHandle, "grant handle is required")
	// ErrEmptyClientID indicates a missing client identifier.
	ErrEmptyClientID = apperrors.New(apperrors.CodeGrantEmptyClientID, "grant client id is required")
	// ErrInvalidKind indicates an unrecognized grant kind.
	ErrInvalidKind = apperrors.New(apperrors.CodeGrantInvalidKind, "grant kind is not recognized")
	// ErrMissingExpiry indicates a one-time-use grant without an expiry.
	ErrMissingExpiry = apperrors.New(apperrors.CodeGrantMissingExpiry, "one-time-use grants must expire")
)

// Kind identifies the protocol artifact a grant record represents.
type Kind string

const (
	KindAuthorizationCode Kind = "authorization_code"
	KindRefreshToken      Kind = "refresh_token"
	KindReferenceToken    Kind = "reference_token"
	KindDeviceCode        Kind = "device_code"
	KindUserCode          Kind = "user_code"
)

// Valid reports whether the kind is one of the known grant kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindAuthorizationCode, KindRefreshToken, KindReferenceToken, KindDeviceCode, KindUserCode:
		return true
	}
	return false
}

// OneTimeUse reports whether redemption must consume the grant.
//
// One-time kinds are the replay-sensitive artifacts: a second redemption of
// the same handle is an attack or a client bug, never a legitimate retry.
func (k Kind) OneTimeUse() bool {
	switch k {
	case KindAuthorizationCode, KindDeviceCode, KindUserCode:
		return true
	}
	return false
}

// Grant represents one issued security artifact.
//
// SubjectID is empty for client-credentials grants. ExpiresAt is nil only for
// kinds that may outlive a fixed window (refresh and reference tokens).
// ConsumedAt is set at most once, by redemption.
type Grant struct {
	Handle     string
	Kind       Kind
	ClientID   string
	SubjectID  string
	SessionID  string
	Data       []byte
	CreatedAt  time.Time
	ExpiresAt  *time.Time
	ConsumedAt *time.Time
}

// Expired reports whether the grant's expiry has passed at the given time.
// Grants without an expiry never expire.
func (g Grant) Expired(now time.Time) bool {
	if g.ExpiresAt == nil {
		return false
	}
	return !g.ExpiresAt.After(now)
}

// Consumed reports whether the grant has already been redeemed.
func (g Grant) Consumed() bool {
	return g.ConsumedAt != nil
}

// CreateGrantInput describes the metadata needed to issue a grant.
type CreateGrantInput struct {
	Kind      Kind
	ClientID  string
	SubjectID string
	SessionID string
	Data      []byte
	TTL       time.Duration
}

// CreateGrant builds a new grant with a freshly generated handle.
//
// A zero TTL produces a non-expiring grant, which validation rejects for
// one-time-use kinds.
func CreateGrant(input CreateGrantInput, now func() time.Time, handleGenerator func() (string, error)) (Grant, error) {
	if now == nil {
		now = time.Now
	}
	if handleGenerator == nil {
		handleGenerator = id.NewID
	}

	handle, err := handleGenerator()
	if err != nil {
		return Grant{}, fmt.Errorf("generate grant handle: %w", err)
	}

	createdAt := now().UTC()
	g := Grant{
		Handle:    handle,
		Kind:      input.Kind,
		ClientID:  strings.TrimSpace(input.ClientID),
		SubjectID: strings.TrimSpace(input.SubjectID),
		SessionID: strings.TrimSpace(input.SessionID),
		Data:      input.Data,
		CreatedAt: createdAt,
	}
	if input.TTL > 0 {
		expiresAt := createdAt.Add(input.TTL)
		g.ExpiresAt = &expiresAt
	}
	if err := Validate(g); err != nil {
		return Grant{}, err
	}
	return g, nil
}

// Validate enforces grant record invariants before persistence.
func Validate(g Grant) error {
	if strings.TrimSpace(g.Handle) == "" {
		return ErrEmptyHandle
	}
	if strings.TrimSpace(g.ClientID) == "" {
		return ErrEmptyClientID
	}
	if !g.Kind.Valid() {
		return ErrInvalidKind
	}
	if g.Kind.OneTimeUse() && g.ExpiresAt == nil {
		return ErrMissingExpiry
	}
	return nil
}

// Consent represents a subject's recorded approval of a client's scopes.
//
// A nil ExpiresAt means the consent stands until explicitly revoked.
type Consent struct {
	SubjectID string
	ClientID  string
	Scopes    []string
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt *time.Time
}

var (
	// ErrConsentEmptySubjectID indicates a missing consent subject.
	ErrConsentEmptySubjectID = apperrors.New(apperrors.CodeConsentEmptySubjectID, "consent subject id is required")
	// ErrConsentEmptyClientID indicates a missing consent client.
	ErrConsentEmptyClientID = apperrors.New(apperrors.CodeConsentEmptyClientID, "consent client id is required")
	// ErrConsentEmptyScopes indicates a consent without any approved scope.
	ErrConsentEmptyScopes = apperrors.New(apperrors.CodeConsentEmptyScopes, "consent scopes are required")
)

// Expired reports whether the consent's expiry has passed at the given time.
func (c Consent) Expired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !c.ExpiresAt.After(now)
}

// NormalizeConsent trims and validates a consent record before persistence.
func NormalizeConsent(c Consent) (Consent, error) {
	c.SubjectID = strings.TrimSpace(c.SubjectID)
	c.ClientID = strings.TrimSpace(c.ClientID)
	if c.SubjectID == "" {
		return Consent{}, ErrConsentEmptySubjectID
	}
	if c.ClientID == "" {
		return Consent{}, ErrConsentEmptyClientID
	}
	scopes := make([]string, 0, len(c.Scopes))
	for _, scope := range c.Scopes {
		scope = strings.TrimSpace(scope)
		if scope != "" {
			scopes = append(scopes, scope)
		}
	}
	if len(scopes) == 0 {
		return Consent{}, ErrConsentEmptyScopes
	}
	c.Scopes = scopes
	return c, nil
}

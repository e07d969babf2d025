// Package subject verifies signed subject assertions handed over by the
// upstream identity provider.
//
// The operational store never authenticates end users itself. Authentication
// happens upstream; the result crosses this boundary as a short-lived EdDSA
// token naming the subject, and everything persisted here keys off the
// subject identifier it carries.
package subject

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/singlesignon/identity/internal/platform/errors"
)

// Environment variables read by LoadConfigFromEnv.
const (
	EnvSubjectIssuer    = "SINGLESIGNON_SUBJECT_ISSUER"
	EnvSubjectAudience  = "SINGLESIGNON_SUBJECT_AUDIENCE"
	EnvSubjectPublicKey = "SINGLESIGNON_SUBJECT_PUBLIC_KEY"
)

// assertionEnv holds raw env values before post-parse validation.
type assertionEnv struct {
	Issuer    string `env:"SINGLESIGNON_SUBJECT_ISSUER"`
	Audience  string `env:"SINGLESIGNON_SUBJECT_AUDIENCE"`
	PublicKey string `env:"SINGLESIGNON_SUBJECT_PUBLIC_KEY"`
}

// Config defines how subject assertions are verified.
type Config struct {
	Issuer   string
	Audience string
	Key      ed25519.PublicKey
	Now      func() time.Time
}

// Subject is the validated identity carried by an assertion.
type Subject struct {
	ID        string
	SessionID string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	NotBefore time.Time
	IssuedAt  time.Time
	JWTID     string
}

// assertionClaims is the internal claims type used for JWT parsing.
type assertionClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// LoadConfigFromEnv reads assertion verification configuration.
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw assertionEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse subject assertion env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	publicKey := strings.TrimSpace(raw.PublicKey)
	if issuer == "" {
		return Config{}, fmt.Errorf("SINGLESIGNON_SUBJECT_ISSUER is required")
	}
	if audience == "" {
		return Config{}, fmt.Errorf("SINGLESIGNON_SUBJECT_AUDIENCE is required")
	}
	if publicKey == "" {
		return Config{}, fmt.Errorf("SINGLESIGNON_SUBJECT_PUBLIC_KEY is required")
	}
	keyBytes, err := decodeBase64(publicKey)
	if err != nil {
		return Config{}, fmt.Errorf("decode subject assertion public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return Config{}, fmt.Errorf("subject assertion public key must be %d bytes", ed25519.PublicKeySize)
	}
	if now == nil {
		now = time.Now
	}
	return Config{
		Issuer:   issuer,
		Audience: audience,
		Key:      ed25519.PublicKey(keyBytes),
		Now:      now,
	}, nil
}

// Verify checks an assertion's signature and claims and returns the subject
// it names.
func Verify(assertion string, cfg Config) (Subject, error) {
	assertion = strings.TrimSpace(assertion)
	if assertion == "" {
		return Subject{}, apperrors.New(apperrors.CodeAssertionInvalid, "subject assertion is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Issuer == "" || cfg.Audience == "" || len(cfg.Key) != ed25519.PublicKeySize {
		return Subject{}, errors.New("subject assertion verifier is not configured")
	}

	var parsed assertionClaims
	_, err := jwt.ParseWithClaims(assertion, &parsed, func(token *jwt.Token) (any, error) {
		return cfg.Key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Subject{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != cfg.Issuer {
		return Subject{}, apperrors.WithMetadata(
			apperrors.CodeAssertionMismatch,
			"subject assertion issuer mismatch",
			map[string]string{"Field": "issuer"},
		)
	}
	if !audienceContains(parsed.Audience, cfg.Audience) {
		return Subject{}, apperrors.WithMetadata(
			apperrors.CodeAssertionMismatch,
			"subject assertion audience mismatch",
			map[string]string{"Field": "audience"},
		)
	}

	if strings.TrimSpace(parsed.Subject) == "" {
		return Subject{}, apperrors.New(apperrors.CodeAssertionInvalid, "subject assertion sub is required")
	}
	if parsed.ID == "" {
		return Subject{}, apperrors.New(apperrors.CodeAssertionInvalid, "subject assertion jti is required")
	}
	if parsed.ExpiresAt == nil {
		return Subject{}, apperrors.New(apperrors.CodeAssertionInvalid, "subject assertion exp is required")
	}

	now := cfg.Now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return Subject{}, apperrors.New(apperrors.CodeAssertionExpired, "subject assertion is expired")
	}
	if parsed.NotBefore != nil {
		nbf := parsed.NotBefore.Time.UTC()
		if now.Before(nbf) {
			return Subject{}, apperrors.New(apperrors.CodeAssertionInvalid, "subject assertion not active yet")
		}
	}

	subject := Subject{
		ID:        parsed.Subject,
		SessionID: parsed.SessionID,
		Issuer:    parsed.Issuer,
		Audience:  []string(parsed.Audience),
		ExpiresAt: exp,
		JWTID:     parsed.ID,
	}
	if parsed.NotBefore != nil {
		subject.NotBefore = parsed.NotBefore.Time.UTC()
	}
	if parsed.IssuedAt != nil {
		subject.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return subject, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeAssertionInvalid, "subject assertion signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeAssertionInvalid, "subject assertion alg is invalid")
	}
	return apperrors.New(apperrors.CodeAssertionInvalid, "subject assertion is invalid")
}

// audienceContains reports whether the audience list contains the given value.
func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}

// Package errors provides structured error handling for the identity services.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Grant errors
	CodeGrantEmptyHandle   Code = "GRANT_EMPTY_HANDLE"
	CodeGrantEmptyClientID Code = "GRANT_EMPTY_CLIENT_ID"
	CodeGrantInvalidKind   Code = "GRANT_INVALID_KIND"
	CodeGrantMissingExpiry Code = "GRANT_MISSING_EXPIRY"
	CodeDuplicateHandle    Code = "GRANT_DUPLICATE_HANDLE"
	CodeAlreadyConsumed    Code = "GRANT_ALREADY_CONSUMED"

	// Consent errors
	CodeConsentEmptySubjectID Code = "CONSENT_EMPTY_SUBJECT_ID"
	CodeConsentEmptyClientID  Code = "CONSENT_EMPTY_CLIENT_ID"
	CodeConsentEmptyScopes    Code = "CONSENT_EMPTY_SCOPES"

	// Client/resource registration errors
	CodeClientEmptyID       Code = "CLIENT_EMPTY_ID"
	CodeClientEmptySecret   Code = "CLIENT_EMPTY_SECRET"
	CodeClientSecretInvalid Code = "CLIENT_SECRET_INVALID"
	CodeResourceEmptyName   Code = "RESOURCE_EMPTY_NAME"

	// Subject assertion errors
	CodeAssertionInvalid  Code = "ASSERTION_INVALID"
	CodeAssertionExpired  Code = "ASSERTION_EXPIRED"
	CodeAssertionMismatch Code = "ASSERTION_MISMATCH"

	// Storage errors
	CodeNotFound         Code = "NOT_FOUND"
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeGrantEmptyHandle,
		CodeGrantEmptyClientID,
		CodeGrantInvalidKind,
		CodeGrantMissingExpiry,
		CodeConsentEmptySubjectID,
		CodeConsentEmptyClientID,
		CodeConsentEmptyScopes,
		CodeClientEmptyID,
		CodeClientEmptySecret,
		CodeResourceEmptyName,
		CodeAssertionInvalid,
		CodeAssertionMismatch:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeAlreadyConsumed,
		CodeAssertionExpired:
		return codes.FailedPrecondition

	// Unauthenticated - credential checks
	case CodeClientSecretInvalid:
		return codes.Unauthenticated

	// NotFound - resource doesn't exist
	case CodeNotFound:
		return codes.NotFound

	// AlreadyExists - unique resource constraint
	case CodeDuplicateHandle:
		return codes.AlreadyExists

	// Unavailable - transient infrastructure failure
	case CodeStoreUnavailable:
		return codes.Unavailable

	default:
		return codes.Internal
	}
}

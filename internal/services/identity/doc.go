// Package identity owns durable persistence for issued grants, consent
// decisions, and client configuration.
//
// Token issuance and user authentication happen elsewhere; this boundary is
// the system of record those flows write to and read from. Grants are opaque
// handles with expiry and single-redemption semantics, consents are keyed by
// subject and client, and client/resource registration shares the same
// store.
//
// Subpackages:
//   - app: server wiring and lifecycle
//   - grant: grant and consent domain model
//   - storage: persistence interfaces and SQLite implementation
//   - cleanup: recurring expired-record reclaim
//   - configstore: cached client/resource configuration provider
//   - subject: identity-delegate assertion verification
package identity

// Package provider defines the core interfaces and types for secret backends in secretops.
//
// This package is the foundational abstraction for storing and retrieving secrets
// across heterogeneous backends: an encrypted local file store, process environment
// variables, and managed cloud key vaults (Azure Key Vault, AWS Secrets Manager,
// Google Secret Manager). All backend implementations must implement the Provider
// interface to ensure consistent behavior across storage systems.
//
// # Provider Architecture
//
// A Provider owns exactly one backend: its connection or file handle and any derived
// key material. Providers never share state with each other. The resolver package
// composes initialized providers into a priority-ordered fallback chain for reads
// and routes writes to a single designated writable provider.
//
// The Provider interface provides a uniform API for:
//   - Retrieving current or historical secret versions
//   - Writing new secrets and new versions of existing secrets
//   - Listing secret metadata without exposing values
//   - Rotating secrets while preserving their identity
//   - Cheap liveness probing and deterministic teardown
//
// # Implementing a Custom Provider
//
// To implement a custom provider:
//
//  1. Implement the Provider interface
//  2. Call ValidateSecretName before any I/O in every operation that takes a name
//  3. Register a factory for your provider type in the provider registry
//
// Read-only backends implement Set, Delete, and Rotate by returning
// UnsupportedOperationError so callers never silently assume writes work.
//
// # Error Handling
//
// Providers use the typed errors defined in this package: ValidationError,
// NotFoundError, ExpiredError, IntegrityError, TransientError, and
// UnsupportedOperationError. Providers never swallow errors except inside
// HealthCheck, which converts any failure into false.
//
// # Security Considerations
//
// Providers must:
//   - Never log secret values (use the logging.Secret wrapper)
//   - Keep plaintext only transiently in memory, never persisted
//   - Scrub decryption key material on Close, including on error paths
//   - Use secure transport when talking to remote vaults
//
// # Threading and Concurrency
//
// Provider implementations must be safe for concurrent use. Multiple goroutines
// may call provider methods at once; implementations that maintain internal state
// (the local store, the cloud read cache) synchronize internally.
package provider

import (
	"context"
	"time"
)

// ScopeGlobal is the default scope assigned to secrets written without an
// explicit scope.
const ScopeGlobal = "global"

// Provider defines the interface that all secret backends must implement.
//
// Implementations must be safe for concurrent use. Every operation that takes a
// secret name validates it with ValidateSecretName before touching storage; this
// is a cross-cutting contract, not an optional courtesy.
type Provider interface {
	// Name returns the provider's unique identifier, a stable lowercase
	// string used for logging, metadata attribution, and write routing.
	Name() string

	// Priority returns the provider's position in the read fallback chain.
	// Higher values are consulted first.
	Priority() int

	// Initialize performs one-time setup: opening files, deriving keys,
	// verifying cloud connectivity. It must be called before any other
	// operation. A failed Initialize leaves the provider unusable and the
	// error must be propagated, never silently degraded.
	Initialize(ctx context.Context) error

	// Get returns the current version of a secret, or a specific historical
	// version when opts.Version is set.
	//
	// An absent or expired secret returns (nil, nil) unless opts.Required is
	// true, which converts absence into NotFoundError and expiry into
	// ExpiredError. Requesting an explicit version returns that version even
	// if it has expired; expiry is only enforced on unqualified reads.
	Get(ctx context.Context, name string, opts *GetOptions) (*SecretValue, error)

	// Set writes a new secret or a new version of an existing one.
	//
	// By default a write to an existing name preserves the prior version in
	// history and increments the version counter. Callers opt out of
	// versioning via opts.CreateVersion. Relative expirations
	// (opts.ExpiresIn) are normalized to absolute timestamps at write time.
	Set(ctx context.Context, name, value string, opts *SetOptions) (*SecretMetadata, error)

	// Delete removes the secret and all of its historical versions. The
	// returned bool reports whether the secret existed.
	Delete(ctx context.Context, name string) (bool, error)

	// List returns metadata only, filtered by the options' glob pattern,
	// scope, required tags, and expiration inclusion flag. Values are never
	// included.
	List(ctx context.Context, opts *ListOptions) ([]SecretMetadata, error)

	// Rotate replaces a secret's value while preserving its scope and tags,
	// optionally marking the superseded version as immediately expired.
	// Expiring a version never deletes it, only hides it from unqualified
	// reads.
	Rotate(ctx context.Context, name string, opts *RotateOptions) (*SecretMetadata, error)

	// HealthCheck is a cheap liveness probe. It never returns an error;
	// any internal failure is reported as false.
	HealthCheck(ctx context.Context) bool

	// Close releases resources and scrubs any decryption key material held
	// in memory. Close is idempotent.
	Close() error
}

// SecretMetadata is the provider-agnostic descriptive record returned by Get
// and List. It never contains the decrypted value.
type SecretMetadata struct {
	// ID is a stable identifier assigned by the owning provider.
	ID string `json:"id"`

	// Name is the logical secret name (see ValidateSecretName).
	Name string `json:"name"`

	// Provider is the name of the backend the record came from.
	Provider string `json:"provider"`

	// Version is the version number of this record. Versions start at 1 and
	// increment by one per versioned write.
	Version int `json:"version"`

	// Scope partitions secrets into namespaces. Defaults to ScopeGlobal.
	Scope string `json:"scope"`

	// Tags are free-form labels attached at write time.
	Tags []string `json:"tags,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the record carries an expiration in the past
// relative to now.
func (m *SecretMetadata) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}

// SecretValue pairs metadata with the decrypted plaintext. Values are held
// transiently in memory for the duration of a caller's use and are never
// persisted or logged.
type SecretValue struct {
	SecretMetadata

	// Value is the decrypted secret. Providers must never log this field.
	Value string `json:"-"`
}

// GetOptions controls Get behavior.
type GetOptions struct {
	// Version selects a specific historical version. Zero means current.
	Version int

	// Required converts not-found and expired into hard failures instead of
	// a nil result.
	Required bool
}

// SetOptions controls Set behavior.
type SetOptions struct {
	// Scope assigns a namespace. Empty means ScopeGlobal for new secrets and
	// "keep existing" for updates.
	Scope string

	// Tags replace the secret's tag set when non-nil.
	Tags []string

	// ExpiresAt sets an absolute expiration timestamp.
	ExpiresAt *time.Time

	// ExpiresIn sets an expiration relative to the time of the write. It is
	// normalized to an absolute timestamp at write time and ignored when
	// ExpiresAt is set.
	ExpiresIn time.Duration

	// CreateVersion controls whether an update preserves the prior version
	// in history. Nil means true.
	CreateVersion *bool
}

// ResolveExpiry normalizes the expiration options to an absolute timestamp,
// or nil when no expiration was requested.
func (o *SetOptions) ResolveExpiry(now time.Time) *time.Time {
	if o == nil {
		return nil
	}
	if o.ExpiresAt != nil {
		t := *o.ExpiresAt
		return &t
	}
	if o.ExpiresIn > 0 {
		t := now.Add(o.ExpiresIn)
		return &t
	}
	return nil
}

// VersionedWrite reports whether this write should preserve the prior version.
func (o *SetOptions) VersionedWrite() bool {
	if o == nil || o.CreateVersion == nil {
		return true
	}
	return *o.CreateVersion
}

// RotateOptions controls Rotate behavior.
type RotateOptions struct {
	// NewValue is the replacement secret value. Required.
	NewValue string

	// ExpireOldVersion marks the superseded version as expired at rotation
	// time, hiding it from unqualified reads without deleting it.
	ExpireOldVersion bool
}

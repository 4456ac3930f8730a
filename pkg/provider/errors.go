package provider

import (
	"errors"
	"fmt"
)

// ValidationError indicates a bad secret name or bad options. Always local,
// never retried, and never a reason to fall through to another provider.
type ValidationError struct {
	// Field names the offending input ("name", "options.newValue", ...).
	Field string

	// Message describes the violation.
	Message string
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return "validation failed: " + e.Message
}

// NotFoundError indicates that a secret or a specific version is absent.
// Providers only surface it when the caller requested Required; otherwise
// absence is reported as a nil result.
type NotFoundError struct {
	Provider string
	Name     string
	Version  int
}

func (e NotFoundError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("secret not found: %s version %d in %s", e.Name, e.Version, e.Provider)
	}
	return fmt.Sprintf("secret not found: %s in %s", e.Name, e.Provider)
}

// ExpiredError indicates the secret exists but its expiration has passed.
// It receives the same treatment as NotFoundError on unqualified reads.
type ExpiredError struct {
	Provider string
	Name     string
	Version  int
}

func (e ExpiredError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("secret expired: %s version %d in %s", e.Name, e.Version, e.Provider)
	}
	return fmt.Sprintf("secret expired: %s in %s", e.Name, e.Provider)
}

// IntegrityError indicates an authentication-tag mismatch during decryption or
// a master-key-hash mismatch on store load. Always fatal, never retried: it
// means tampering, corruption, or the wrong key, none of which resolve on a
// second attempt or a different provider.
type IntegrityError struct {
	// Op is the operation that detected the failure ("decrypt", "open-store").
	Op      string
	Message string
	Err     error
}

func (e IntegrityError) Error() string {
	msg := fmt.Sprintf("integrity check failed during %s: %s", e.Op, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e IntegrityError) Unwrap() error {
	return e.Err
}

// TransientError wraps a backend failure that is expected to resolve on retry
// (network blip, rate limit, service unavailable). Providers retry transient
// failures with bounded exponential backoff before surfacing this wrapper.
type TransientError struct {
	Provider string
	Op       string
	Err      error
}

func (e TransientError) Error() string {
	return fmt.Sprintf("%s: transient backend failure during %s: %v", e.Provider, e.Op, e.Err)
}

func (e TransientError) Unwrap() error {
	return e.Err
}

// UnsupportedOperationError indicates a write was attempted on a read-only
// provider. Always fatal and immediate; never partially succeeds.
type UnsupportedOperationError struct {
	Provider string
	Op       string
}

func (e UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s: operation %q not supported by read-only provider", e.Provider, e.Op)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// IsExpired reports whether err is (or wraps) an ExpiredError.
func IsExpired(err error) bool {
	var ex ExpiredError
	return errors.As(err, &ex)
}

// IsIntegrity reports whether err is (or wraps) an IntegrityError.
func IsIntegrity(err error) bool {
	var ie IntegrityError
	return errors.As(err, &ie)
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te TransientError
	return errors.As(err, &te)
}

// IsUnsupported reports whether err is (or wraps) an UnsupportedOperationError.
func IsUnsupported(err error) bool {
	var ue UnsupportedOperationError
	return errors.As(err, &ue)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

package provider

import (
	"path"
	"regexp"
	"time"
)

// Secret names are 3-128 characters, start with a lowercase letter, and are
// otherwise restricted to lowercase letters, digits, hyphen, and underscore.
var secretNameRe = regexp.MustCompile(`^[a-z][a-z0-9\-_]{2,127}$`)

// ValidateSecretName enforces the secret naming contract. Every provider calls
// it before any I/O so a malformed name can never reach storage.
func ValidateSecretName(name string) error {
	if name == "" {
		return ValidationError{Field: "name", Message: "secret name must not be empty"}
	}
	if len(name) < 3 || len(name) > 128 {
		return ValidationError{Field: "name", Message: "secret name must be 3-128 characters"}
	}
	if !secretNameRe.MatchString(name) {
		return ValidationError{
			Field:   "name",
			Message: "secret name must start with a lowercase letter and contain only lowercase letters, digits, hyphen, underscore",
		}
	}
	return nil
}

// ValidateRotateOptions enforces the Rotate preconditions shared by every
// provider.
func ValidateRotateOptions(opts *RotateOptions) error {
	if opts == nil || opts.NewValue == "" {
		return ValidationError{Field: "options.newValue", Message: "rotation requires a new value"}
	}
	return nil
}

// ListOptions controls List filtering. The zero value matches everything
// except expired secrets.
type ListOptions struct {
	// Pattern is a glob matched against secret names (path.Match syntax).
	// Empty matches all names.
	Pattern string

	// Scope restricts results to one scope. Empty matches all scopes.
	Scope string

	// Tags lists tags a secret must all carry to be included.
	Tags []string

	// IncludeExpired includes secrets whose expiration has passed.
	IncludeExpired bool
}

// Match reports whether a metadata record passes the filter at time now.
//
// A malformed glob pattern matches nothing rather than failing the listing;
// List is a merge surface and one provider's bad pattern should not abort it.
func (o *ListOptions) Match(m *SecretMetadata, now time.Time) bool {
	if o == nil {
		o = &ListOptions{}
	}
	if o.Pattern != "" {
		ok, err := path.Match(o.Pattern, m.Name)
		if err != nil || !ok {
			return false
		}
	}
	if o.Scope != "" && m.Scope != o.Scope {
		return false
	}
	for _, want := range o.Tags {
		if !containsTag(m.Tags, want) {
			return false
		}
	}
	if !o.IncludeExpired && m.Expired(now) {
		return false
	}
	return true
}

func containsTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

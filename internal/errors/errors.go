// Package errors carries the user-facing error envelopes used by the CLI
// layer. Typed provider errors (not-found, expired, integrity, transient)
// live in pkg/provider; this package wraps them with actionable context.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// UserError represents an error shown to the user with helpful context.
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context.
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// ProviderError wraps a backend error with provider and operation context plus
// a suggestion when the failure mode is recognizable.
func ProviderError(provider string, operation string, err error) error {
	return UserError{
		Message:    fmt.Sprintf("%s provider error during %s", provider, operation),
		Suggestion: getProviderSuggestion(provider, err),
		Err:        err,
	}
}

// getProviderSuggestion returns a remediation hint based on provider type and
// error text.
func getProviderSuggestion(provider string, err error) string {
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(provider, "azure"):
		switch {
		case strings.Contains(errStr, "forbidden") || strings.Contains(errStr, "access denied"):
			return "Check Key Vault access policies: 'Get', 'Set', and 'List' permissions are required for secrets"
		case strings.Contains(errStr, "401") || strings.Contains(errStr, "unauthorized"):
			return "Check authentication: verify managed identity, service principal, or 'az login'"
		case strings.Contains(errStr, "404") || strings.Contains(errStr, "secretnotfound"):
			return "Verify the secret exists in the Key Vault; secret names are case-sensitive"
		case strings.Contains(errStr, "429") || strings.Contains(errStr, "throttled"):
			return "Key Vault throttled the request. Lower the request rate or rely on the read cache"
		}

	case strings.Contains(provider, "aws"):
		switch {
		case strings.Contains(errStr, "credentials") || strings.Contains(errStr, "authorization"):
			return "Configure AWS credentials: 'aws configure' or set AWS_PROFILE"
		case strings.Contains(errStr, "accessdenied"):
			return "Check IAM permissions for secretsmanager:GetSecretValue and secretsmanager:PutSecretValue"
		case strings.Contains(errStr, "resourcenotfound"):
			return "Verify the secret name and region. List secrets with: 'aws secretsmanager list-secrets'"
		case strings.Contains(errStr, "throttling"):
			return "AWS rate limit exceeded. Wait a moment and try again"
		}

	case strings.Contains(provider, "gcp"):
		switch {
		case strings.Contains(errStr, "permission") || strings.Contains(errStr, "forbidden"):
			return "Grant roles/secretmanager.admin (or a narrower role) on the project"
		case strings.Contains(errStr, "not found"):
			return "Verify the secret exists: 'gcloud secrets list'"
		case strings.Contains(errStr, "quota") || strings.Contains(errStr, "resource exhausted"):
			return "Secret Manager quota exceeded. Wait a moment and try again"
		}

	case provider == "local":
		if strings.Contains(errStr, "integrity") || strings.Contains(errStr, "key hash") {
			return "The master key does not match the one used to create the store. Check SECRETOPS_MASTER_KEY"
		}
		if strings.Contains(errStr, "permission denied") {
			return "Check file permissions on the store file and its directory"
		}

	case provider == "env":
		if strings.Contains(errStr, "not supported") {
			return "The environment provider is read-only. Route writes to the local or a cloud provider"
		}
	}

	if strings.Contains(errStr, "timeout") {
		return "The operation timed out. Check your network connection and try again"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return "Unable to connect. Check your network and provider configuration"
	}

	return ""
}

// IsRetryable checks if an error looks transient based on its message. Used by
// the CLI for advice only; providers classify transience structurally before
// retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"broken pipe",
		"rate limit",
		"throttling",
		"too many requests",
		"service unavailable",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// Simplify unwraps and rewrites common technical errors into user-facing ones.
// Errors that are already user-facing pass through unchanged.
func Simplify(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := err.(UserError); ok {
		return err
	}
	if _, ok := err.(ConfigError); ok {
		return err
	}

	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	errStr := rootErr.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	return err
}

package provider

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSecretName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "api-key", false},
		{"with digits", "db2-password", false},
		{"with underscore", "service_token", false},
		{"minimum length", "abc", false},
		{"maximum length", "a" + strings.Repeat("b", 127), false},
		{"empty", "", true},
		{"too short", "ab", true},
		{"too long", "a" + strings.Repeat("b", 128), true},
		{"uppercase", "API-KEY", true},
		{"leading digit", "2fa-token", true},
		{"leading hyphen", "-key", true},
		{"space", "api key", true},
		{"dot", "api.key", true},
		{"slash", "api/key", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateSecretName(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsValidation(err), "expected a validation error, got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRotateOptions(t *testing.T) {
	t.Parallel()

	assert.Error(t, ValidateRotateOptions(nil))
	assert.Error(t, ValidateRotateOptions(&RotateOptions{}))
	assert.NoError(t, ValidateRotateOptions(&RotateOptions{NewValue: "v"}))
}

func TestListOptionsMatch(t *testing.T) {
	t.Parallel()

	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	meta := func(name, scope string, tags []string, expiresAt *time.Time) *SecretMetadata {
		return &SecretMetadata{Name: name, Scope: scope, Tags: tags, ExpiresAt: expiresAt}
	}

	tests := []struct {
		name string
		opts *ListOptions
		m    *SecretMetadata
		want bool
	}{
		{"nil options match live", nil, meta("api-key", "global", nil, nil), true},
		{"nil options exclude expired", nil, meta("api-key", "global", nil, &past), false},
		{"pattern match", &ListOptions{Pattern: "db-*"}, meta("db-url", "global", nil, nil), true},
		{"pattern mismatch", &ListOptions{Pattern: "db-*"}, meta("api-key", "global", nil, nil), false},
		{"malformed pattern matches nothing", &ListOptions{Pattern: "[unclosed"}, meta("api-key", "global", nil, nil), false},
		{"scope match", &ListOptions{Scope: "production"}, meta("api-key", "production", nil, nil), true},
		{"scope mismatch", &ListOptions{Scope: "production"}, meta("api-key", "staging", nil, nil), false},
		{"all tags required", &ListOptions{Tags: []string{"a", "b"}}, meta("api-key", "global", []string{"a", "b", "c"}, nil), true},
		{"missing tag", &ListOptions{Tags: []string{"a", "b"}}, meta("api-key", "global", []string{"a"}, nil), false},
		{"expired excluded", &ListOptions{}, meta("api-key", "global", nil, &past), false},
		{"expired included on request", &ListOptions{IncludeExpired: true}, meta("api-key", "global", nil, &past), true},
		{"future expiry is live", &ListOptions{}, meta("api-key", "global", nil, &future), true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.opts.Match(tt.m, now))
		})
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/Lobbi-Docs/secretops/internal/errors"
	"github.com/Lobbi-Docs/secretops/internal/logging"
)

func writeConfig(t *testing.T, content string) *Config {
	t.Helper()

	path := filepath.Join(t.TempDir(), "secretops.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return &Config{Path: path, Logger: logging.NewWithWriter(os.Stderr, false)}
}

func TestLoadValidConfig(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, `
version: 1
default_writer: vault
providers:
  vault:
    type: local
    priority: 100
    path: /var/lib/secretops/store.json
  environment:
    type: env
    priority: 50
    allow_unprefixed: true
`)
	require.NoError(t, cfg.Load())
	require.NotNil(t, cfg.Definition)

	assert.Equal(t, 1, cfg.Definition.Version)
	assert.Equal(t, "vault", cfg.Definition.DefaultWriter)
	require.Len(t, cfg.Definition.Providers, 2)

	vault, err := cfg.GetProvider("vault")
	require.NoError(t, err)
	assert.Equal(t, "local", vault.Type)
	assert.Equal(t, 100, vault.Priority)
	// Provider-specific keys ride inline next to type and priority.
	assert.Equal(t, "/var/lib/secretops/store.json", vault.Config["path"])

	env, err := cfg.GetProvider("environment")
	require.NoError(t, err)
	assert.Equal(t, true, env.Config["allow_unprefixed"])
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	cfg := &Config{Path: filepath.Join(t.TempDir(), "absent.yaml"), Logger: logging.NewWithWriter(os.Stderr, false)}
	err := cfg.Load()
	require.Error(t, err)

	var cfgErr dserrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "path", cfgErr.Field)
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, "version: 1\nproviders:\n  broken: [unclosed\n")
	err := cfg.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "YAML")
}

func TestLoadUnsupportedVersion(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, `
version: 2
providers:
  vault:
    type: local
    priority: 100
`)
	err := cfg.Load()
	require.Error(t, err)

	var cfgErr dserrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "version", cfgErr.Field)
}

func TestLoadSchemaViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "no providers",
			content: "version: 1\nproviders: {}\n",
		},
		{
			name: "provider missing type",
			content: `
version: 1
providers:
  vault:
    priority: 100
`,
		},
		{
			name: "negative priority",
			content: `
version: 1
providers:
  vault:
    type: local
    priority: -5
`,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := writeConfig(t, tt.content)
			err := cfg.Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "schema")
		})
	}
}

func TestLoadUnknownDefaultWriter(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, `
version: 1
default_writer: nonexistent
providers:
  vault:
    type: local
    priority: 100
`)
	err := cfg.Load()
	require.Error(t, err)

	var cfgErr dserrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "default_writer", cfgErr.Field)
	assert.Contains(t, cfgErr.Suggestion, "vault")
}

func TestGetProviderUnknown(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, `
version: 1
providers:
  vault:
    type: local
    priority: 100
`)
	require.NoError(t, cfg.Load())

	_, err := cfg.GetProvider("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vault", "the error should name the available providers")
}

func TestProviderNamesOrder(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, `
version: 1
providers:
  zeta:
    type: env
    priority: 50
  alpha:
    type: env
    priority: 50
  vault:
    type: local
    priority: 100
`)
	require.NoError(t, cfg.Load())

	// Descending priority, ties broken by name, matching resolution order.
	assert.Equal(t, []string{"vault", "alpha", "zeta"}, cfg.ProviderNames())
}

package providers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/Lobbi-Docs/secretops/internal/errors"
	"github.com/Lobbi-Docs/secretops/internal/logging"
	"github.com/Lobbi-Docs/secretops/pkg/provider"
)

func TestRegistryTypes(t *testing.T) {
	t.Parallel()

	types := Types()
	assert.Contains(t, types, "local")
	assert.Contains(t, types, "env")
	assert.Contains(t, types, "azure.keyvault")
	assert.Contains(t, types, "aws.secretsmanager")
	assert.Contains(t, types, "gcp.secretmanager")
	assert.IsIncreasing(t, types)
}

func TestRegistryBuild(t *testing.T) {
	t.Parallel()

	logger := logging.NewWithWriter(os.Stderr, false)

	p, err := Build("env", "environment", 50, map[string]interface{}{}, logger)
	require.NoError(t, err)
	assert.Equal(t, "environment", p.Name())
	assert.Equal(t, 50, p.Priority())

	p, err = Build("local", "vault", 100, map[string]interface{}{
		"path":       filepath.Join(t.TempDir(), "store.json"),
		"master_key": "test-master-key",
	}, logger)
	require.NoError(t, err)
	assert.Equal(t, "vault", p.Name())
}

func TestRegistryBuildUnknownType(t *testing.T) {
	t.Parallel()

	_, err := Build("vault.hashicorp", "vault", 10, map[string]interface{}{}, logging.NewWithWriter(os.Stderr, false))
	require.Error(t, err)

	var cfgErr dserrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "type", cfgErr.Field)
	assert.Contains(t, cfgErr.Suggestion, "local")
}

func TestRegistryBuildPropagatesFactoryErrors(t *testing.T) {
	t.Parallel()

	// The local factory requires a path.
	_, err := Build("local", "vault", 100, map[string]interface{}{}, logging.NewWithWriter(os.Stderr, false))
	assert.Error(t, err)
}

func TestRegistryRegister(t *testing.T) {
	Register("custom.test", func(name string, priority int, config map[string]interface{}, logger *logging.Logger) (provider.Provider, error) {
		return NewEnvProvider(name, priority, config, logger)
	})

	p, err := Build("custom.test", "custom", 5, map[string]interface{}{}, logging.NewWithWriter(os.Stderr, false))
	require.NoError(t, err)
	assert.Equal(t, "custom", p.Name())
	assert.Contains(t, Types(), "custom.test")
}

package providers

import (
	"fmt"
	"sort"

	dserrors "github.com/Lobbi-Docs/secretops/internal/errors"
	"github.com/Lobbi-Docs/secretops/internal/logging"
	"github.com/Lobbi-Docs/secretops/pkg/provider"
)

// Factory builds a provider from its declared name, priority, and inline
// config map.
type Factory func(name string, priority int, config map[string]interface{}, logger *logging.Logger) (provider.Provider, error)

var factories = map[string]Factory{
	"local": func(name string, priority int, config map[string]interface{}, logger *logging.Logger) (provider.Provider, error) {
		return NewLocalStoreProvider(name, priority, config, logger)
	},
	"env": func(name string, priority int, config map[string]interface{}, logger *logging.Logger) (provider.Provider, error) {
		return NewEnvProvider(name, priority, config, logger)
	},
	"azure.keyvault": func(name string, priority int, config map[string]interface{}, logger *logging.Logger) (provider.Provider, error) {
		return NewAzureKeyVaultProvider(name, priority, config, logger)
	},
	"aws.secretsmanager": func(name string, priority int, config map[string]interface{}, logger *logging.Logger) (provider.Provider, error) {
		return NewAWSSecretsManagerProvider(name, priority, config, logger)
	},
	"gcp.secretmanager": func(name string, priority int, config map[string]interface{}, logger *logging.Logger) (provider.Provider, error) {
		return NewGCPSecretManagerProvider(name, priority, config, logger)
	},
}

// Register adds a provider factory under the given type key. It is intended
// for tests and for embedding applications that ship extra backends.
func Register(providerType string, factory Factory) {
	factories[providerType] = factory
}

// Build constructs a provider for the given type key.
func Build(providerType, name string, priority int, config map[string]interface{}, logger *logging.Logger) (provider.Provider, error) {
	factory, ok := factories[providerType]
	if !ok {
		return nil, dserrors.ConfigError{
			Field:      "type",
			Message:    fmt.Sprintf("unknown provider type %q", providerType),
			Suggestion: fmt.Sprintf("Use one of: %v", Types()),
		}
	}
	return factory(name, priority, config, logger)
}

// Types returns the registered provider type keys, sorted.
func Types() []string {
	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

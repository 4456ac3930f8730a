package providers

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/Lobbi-Docs/secretops/internal/logging"
	"github.com/Lobbi-Docs/secretops/internal/metrics"
	"github.com/Lobbi-Docs/secretops/pkg/provider"
)

// DefaultEnvPrefix is the prefix prepended to transformed secret names when
// none is configured.
const DefaultEnvPrefix = "CLAUDE_SECRET_"

// EnvConfig holds environment provider configuration.
type EnvConfig struct {
	// Prefix is prepended to the transformed name ("api-key" ->
	// "CLAUDE_SECRET_API_KEY").
	Prefix string

	// Delimiter replaces hyphens in the secret name. Defaults to "_".
	Delimiter string

	// AllowUnprefixed retries a miss with the bare uppercased name so
	// standard deployment variables (DATABASE_URL) can double as secrets.
	AllowUnprefixed bool
}

// EnvProvider is the read-only adapter over the process environment. It is
// stateless beyond configuration and needs no synchronization. Set, Delete,
// and Rotate fail with UnsupportedOperationError by contract, not as a
// missing feature.
type EnvProvider struct {
	name     string
	priority int
	config   EnvConfig
	logger   *logging.Logger
}

// NewEnvProvider creates an environment variable provider from a config map.
func NewEnvProvider(name string, priority int, configMap map[string]interface{}, logger *logging.Logger) (*EnvProvider, error) {
	config := EnvConfig{
		Prefix:    DefaultEnvPrefix,
		Delimiter: "_",
	}

	if prefix, ok := configMap["prefix"].(string); ok {
		config.Prefix = prefix
	}
	if delim, ok := configMap["delimiter"].(string); ok && delim != "" {
		config.Delimiter = delim
	}
	if fallback, ok := configMap["allow_unprefixed"].(bool); ok {
		config.AllowUnprefixed = fallback
	}

	return &EnvProvider{
		name:     name,
		priority: priority,
		config:   config,
		logger:   logger,
	}, nil
}

// Name returns the provider name.
func (p *EnvProvider) Name() string {
	return p.name
}

// Priority returns the provider's fallback-chain priority.
func (p *EnvProvider) Priority() int {
	return p.priority
}

// Initialize is a no-op; the process environment needs no setup.
func (p *EnvProvider) Initialize(ctx context.Context) error {
	return nil
}

// envName transforms a secret name into its environment variable form.
func (p *EnvProvider) envName(name string) string {
	return p.config.Prefix + strings.ToUpper(strings.ReplaceAll(name, "-", p.config.Delimiter))
}

// secretName reverses envName. The second return is false when the variable
// does not carry the prefix.
func (p *EnvProvider) secretName(envVar string) (string, bool) {
	if !strings.HasPrefix(envVar, p.config.Prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(envVar, p.config.Prefix)
	return strings.ToLower(strings.ReplaceAll(rest, p.config.Delimiter, "-")), true
}

// Get looks up the transformed name, then (when enabled) the bare uppercased
// name without the prefix.
func (p *EnvProvider) Get(ctx context.Context, name string, opts *provider.GetOptions) (*provider.SecretValue, error) {
	if err := provider.ValidateSecretName(name); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &provider.GetOptions{}
	}

	// The environment holds exactly one version of everything.
	if opts.Version > 1 {
		if opts.Required {
			return nil, provider.NotFoundError{Provider: p.name, Name: name, Version: opts.Version}
		}
		return nil, nil
	}

	envVar := p.envName(name)
	value, ok := os.LookupEnv(envVar)
	if !ok && p.config.AllowUnprefixed {
		envVar = strings.ToUpper(strings.ReplaceAll(name, "-", p.config.Delimiter))
		value, ok = os.LookupEnv(envVar)
	}
	if !ok {
		metrics.Operations.WithLabelValues(p.name, "get", "miss").Inc()
		if opts.Required {
			return nil, provider.NotFoundError{Provider: p.name, Name: name}
		}
		return nil, nil
	}

	p.logger.Debug("env provider %q: resolved %s from %s", p.name, name, envVar)
	metrics.Operations.WithLabelValues(p.name, "get", "hit").Inc()

	return &provider.SecretValue{
		SecretMetadata: p.metadata(name),
		Value:          value,
	}, nil
}

// Set always fails: the environment provider is read-only.
func (p *EnvProvider) Set(ctx context.Context, name, value string, opts *provider.SetOptions) (*provider.SecretMetadata, error) {
	return nil, provider.UnsupportedOperationError{Provider: p.name, Op: "set"}
}

// Delete always fails: the environment provider is read-only.
func (p *EnvProvider) Delete(ctx context.Context, name string) (bool, error) {
	return false, provider.UnsupportedOperationError{Provider: p.name, Op: "delete"}
}

// Rotate always fails: the environment provider is read-only.
func (p *EnvProvider) Rotate(ctx context.Context, name string, opts *provider.RotateOptions) (*provider.SecretMetadata, error) {
	return nil, provider.UnsupportedOperationError{Provider: p.name, Op: "rotate"}
}

// List reverse-transforms every prefixed environment variable and re-validates
// the recovered name, silently skipping any that do not round-trip cleanly.
// That protects against false positives from unrelated variables sharing the
// prefix.
func (p *EnvProvider) List(ctx context.Context, opts *provider.ListOptions) ([]provider.SecretMetadata, error) {
	now := time.Now()
	var results []provider.SecretMetadata

	for _, kv := range os.Environ() {
		envVar, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}

		name, prefixed := p.secretName(envVar)
		if !prefixed {
			continue
		}
		if provider.ValidateSecretName(name) != nil {
			continue
		}
		if p.envName(name) != envVar {
			continue
		}

		meta := p.metadata(name)
		if opts.Match(&meta, now) {
			results = append(results, meta)
		}
	}

	metrics.Operations.WithLabelValues(p.name, "list", "ok").Inc()
	return results, nil
}

// HealthCheck always succeeds; the process environment cannot be down.
func (p *EnvProvider) HealthCheck(ctx context.Context) bool {
	return true
}

// Close is a no-op; the provider holds no key material or handles.
func (p *EnvProvider) Close() error {
	return nil
}

func (p *EnvProvider) metadata(name string) provider.SecretMetadata {
	return provider.SecretMetadata{
		ID:       p.envName(name),
		Name:     name,
		Provider: p.name,
		Version:  1,
		Scope:    provider.ScopeGlobal,
	}
}

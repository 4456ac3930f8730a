package commands

import (
	"context"
	"fmt"

	"github.com/Lobbi-Docs/secretops/internal/config"
	"github.com/Lobbi-Docs/secretops/internal/providers"
	"github.com/Lobbi-Docs/secretops/internal/resolve"
	"github.com/Lobbi-Docs/secretops/pkg/provider"
)

// buildResolver loads the configuration, constructs every declared provider,
// and initializes the resulting chain.
func buildResolver(ctx context.Context, cfg *config.Config) (*resolve.Resolver, error) {
	if err := cfg.Load(); err != nil {
		return nil, err
	}

	var chain []provider.Provider
	for _, name := range cfg.ProviderNames() {
		pc, err := cfg.GetProvider(name)
		if err != nil {
			return nil, err
		}
		p, err := providers.Build(pc.Type, name, pc.Priority, pc.Config, cfg.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build provider %q: %w", name, err)
		}
		chain = append(chain, p)
	}

	resolver, err := resolve.New(chain, cfg.Definition.DefaultWriter, cfg.Logger)
	if err != nil {
		return nil, err
	}
	if err := resolver.Initialize(ctx); err != nil {
		resolver.Close()
		return nil, err
	}
	return resolver, nil
}

// Package resolve chains secret providers into a single lookup surface.
//
// Reads walk the chain in descending priority and fall through only when a
// provider definitively has no live value for the name. Writes go to a single
// designated writer so that mutation never fans out across backends.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"sort"

	dserrors "github.com/Lobbi-Docs/secretops/internal/errors"
	"github.com/Lobbi-Docs/secretops/internal/logging"
	"github.com/Lobbi-Docs/secretops/internal/metrics"
	"github.com/Lobbi-Docs/secretops/pkg/provider"
)

// Resolver fans a provider chain into the single-provider contract.
type Resolver struct {
	providers []provider.Provider
	writer    provider.Provider
	logger    *logging.Logger
}

// New builds a resolver over the given providers, sorted by descending
// priority. writerName selects the provider that receives writes; when empty,
// the highest-priority provider that supports writes is used.
func New(providerList []provider.Provider, writerName string, logger *logging.Logger) (*Resolver, error) {
	if len(providerList) == 0 {
		return nil, dserrors.ConfigError{
			Field:      "providers",
			Message:    "at least one provider is required",
			Suggestion: "Declare a provider in the providers section of the config",
		}
	}

	sorted := make([]provider.Provider, len(providerList))
	copy(sorted, providerList)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})

	r := &Resolver{providers: sorted, logger: logger}

	if writerName != "" {
		for _, p := range sorted {
			if p.Name() == writerName {
				r.writer = p
				break
			}
		}
		if r.writer == nil {
			return nil, dserrors.ConfigError{
				Field:      "default_writer",
				Message:    fmt.Sprintf("no provider named %q", writerName),
				Suggestion: "Set default_writer to the name of a declared provider",
			}
		}
	} else {
		// Top of the chain by default; write attempts against a read-only
		// backend surface as UnsupportedOperationError.
		r.writer = sorted[0]
	}

	return r, nil
}

// Initialize initializes every provider in the chain, failing on the first
// error.
func (r *Resolver) Initialize(ctx context.Context) error {
	for _, p := range r.providers {
		if err := p.Initialize(ctx); err != nil {
			return dserrors.ProviderError(p.Name(), "initialize", err)
		}
		r.logger.Debug("provider %q initialized (priority %d)", p.Name(), p.Priority())
	}
	return nil
}

// Providers returns the chain in resolution order.
func (r *Resolver) Providers() []provider.Provider {
	out := make([]provider.Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Writer returns the provider that receives writes.
func (r *Resolver) Writer() provider.Provider {
	return r.writer
}

// Get resolves a secret through the chain. A provider is skipped only when it
// definitively lacks a live value; integrity, validation, and transport
// errors stop resolution immediately so a corrupted high-priority store can
// never be silently papered over by a lower one.
func (r *Resolver) Get(ctx context.Context, name string, opts *provider.GetOptions) (*provider.SecretValue, error) {
	if opts == nil {
		opts = &provider.GetOptions{}
	}

	// Required is enforced here, after the whole chain has been consulted.
	chainOpts := *opts
	chainOpts.Required = false

	for i, p := range r.providers {
		value, err := p.Get(ctx, name, &chainOpts)
		if err != nil {
			if provider.IsNotFound(err) || provider.IsExpired(err) {
				value = nil
			} else {
				return nil, dserrors.ProviderError(p.Name(), "get", err)
			}
		}
		if value != nil {
			if i > 0 {
				metrics.Fallbacks.Inc()
				r.logger.Debug("secret %q resolved by fallback provider %q", name, p.Name())
			}
			return value, nil
		}
	}

	if opts.Required {
		return nil, provider.NotFoundError{Name: name, Version: opts.Version}
	}
	return nil, nil
}

// Set writes through the designated writer.
func (r *Resolver) Set(ctx context.Context, name, value string, opts *provider.SetOptions) (*provider.SecretMetadata, error) {
	meta, err := r.writer.Set(ctx, name, value, opts)
	if err != nil {
		return nil, dserrors.ProviderError(r.writer.Name(), "set", err)
	}
	return meta, nil
}

// Delete removes a secret through the designated writer.
func (r *Resolver) Delete(ctx context.Context, name string) (bool, error) {
	deleted, err := r.writer.Delete(ctx, name)
	if err != nil {
		return false, dserrors.ProviderError(r.writer.Name(), "delete", err)
	}
	return deleted, nil
}

// Rotate rotates a secret through the designated writer.
func (r *Resolver) Rotate(ctx context.Context, name string, opts *provider.RotateOptions) (*provider.SecretMetadata, error) {
	meta, err := r.writer.Rotate(ctx, name, opts)
	if err != nil {
		return nil, dserrors.ProviderError(r.writer.Name(), "rotate", err)
	}
	return meta, nil
}

// List merges listings across the chain, deduplicating by name with the
// highest-priority provider winning. Listing is best-effort: a failing
// provider is logged and skipped rather than failing the merge.
func (r *Resolver) List(ctx context.Context, opts *provider.ListOptions) ([]provider.SecretMetadata, error) {
	seen := make(map[string]struct{})
	var merged []provider.SecretMetadata

	for _, p := range r.providers {
		entries, err := p.List(ctx, opts)
		if err != nil {
			if provider.IsUnsupported(err) {
				continue
			}
			r.logger.Warn("provider %q list failed, skipping: %v", p.Name(), dserrors.Simplify(err))
			continue
		}
		for _, meta := range entries {
			if _, dup := seen[meta.Name]; dup {
				continue
			}
			seen[meta.Name] = struct{}{}
			merged = append(merged, meta)
		}
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].Name < merged[j].Name })
	return merged, nil
}

// HealthCheck reports per-provider health keyed by provider name.
func (r *Resolver) HealthCheck(ctx context.Context) map[string]bool {
	health := make(map[string]bool, len(r.providers))
	for _, p := range r.providers {
		health[p.Name()] = p.HealthCheck(ctx)
	}
	return health
}

// Close closes every provider, collecting errors.
func (r *Resolver) Close() error {
	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("provider %q: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

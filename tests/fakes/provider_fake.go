package fakes

import (
	"context"
	"sync"
	"time"

	"github.com/Lobbi-Docs/secretops/pkg/provider"
)

// FakeProvider is a scriptable in-memory provider for resolver and registry
// tests.
type FakeProvider struct {
	mu sync.Mutex

	ProviderName     string
	ProviderPriority int

	// Secrets holds values returned by Get and List.
	Secrets map[string]*provider.SecretValue

	// GetErr, when set, is returned by every Get.
	GetErr error
	// ListErr, when set, is returned by every List.
	ListErr error
	// InitErr, when set, is returned by Initialize.
	InitErr error
	// CloseErr, when set, is returned by Close.
	CloseErr error

	// Healthy is reported by HealthCheck.
	Healthy bool

	GetCalls    int
	Initialized bool
	Closed      bool
}

// NewFakeProvider creates a healthy fake with no secrets.
func NewFakeProvider(name string, priority int) *FakeProvider {
	return &FakeProvider{
		ProviderName:     name,
		ProviderPriority: priority,
		Secrets:          make(map[string]*provider.SecretValue),
		Healthy:          true,
	}
}

// AddSecret stores a live secret value.
func (f *FakeProvider) AddSecret(name, value string) {
	now := time.Now()
	f.Secrets[name] = &provider.SecretValue{
		SecretMetadata: provider.SecretMetadata{
			Name:      name,
			Provider:  f.ProviderName,
			Version:   1,
			Scope:     provider.ScopeGlobal,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Value: value,
	}
}

func (f *FakeProvider) Name() string  { return f.ProviderName }
func (f *FakeProvider) Priority() int { return f.ProviderPriority }

func (f *FakeProvider) Initialize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InitErr != nil {
		return f.InitErr
	}
	f.Initialized = true
	return nil
}

func (f *FakeProvider) Get(ctx context.Context, name string, opts *provider.GetOptions) (*provider.SecretValue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetCalls++
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	value, exists := f.Secrets[name]
	if !exists {
		if opts != nil && opts.Required {
			return nil, provider.NotFoundError{Provider: f.ProviderName, Name: name}
		}
		return nil, nil
	}
	copied := *value
	return &copied, nil
}

func (f *FakeProvider) Set(ctx context.Context, name, value string, opts *provider.SetOptions) (*provider.SecretMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()

	meta := provider.SecretMetadata{
		Name:      name,
		Provider:  f.ProviderName,
		Version:   1,
		Scope:     provider.ScopeGlobal,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, ok := f.Secrets[name]; ok {
		meta.Version = existing.Version
		if opts.VersionedWrite() {
			meta.Version++
		}
		meta.Scope = existing.Scope
		meta.Tags = existing.Tags
		meta.CreatedAt = existing.CreatedAt
	}
	if opts != nil && opts.Scope != "" {
		meta.Scope = opts.Scope
	}
	if opts != nil && opts.Tags != nil {
		meta.Tags = opts.Tags
	}
	meta.ExpiresAt = opts.ResolveExpiry(now)

	f.Secrets[name] = &provider.SecretValue{SecretMetadata: meta, Value: value}
	return &meta, nil
}

func (f *FakeProvider) Delete(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.Secrets[name]; !exists {
		return false, nil
	}
	delete(f.Secrets, name)
	return true, nil
}

func (f *FakeProvider) List(ctx context.Context, opts *provider.ListOptions) ([]provider.SecretMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	now := time.Now()
	var out []provider.SecretMetadata
	for _, value := range f.Secrets {
		meta := value.SecretMetadata
		if opts.Match(&meta, now) {
			out = append(out, meta)
		}
	}
	return out, nil
}

func (f *FakeProvider) Rotate(ctx context.Context, name string, opts *provider.RotateOptions) (*provider.SecretMetadata, error) {
	if err := provider.ValidateRotateOptions(opts); err != nil {
		return nil, err
	}
	f.mu.Lock()
	existing, exists := f.Secrets[name]
	f.mu.Unlock()
	if !exists {
		return nil, provider.NotFoundError{Provider: f.ProviderName, Name: name}
	}
	return f.Set(ctx, name, opts.NewValue, &provider.SetOptions{
		Scope: existing.Scope,
		Tags:  existing.Tags,
	})
}

func (f *FakeProvider) HealthCheck(ctx context.Context) bool {
	return f.Healthy
}

func (f *FakeProvider) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return f.CloseErr
}

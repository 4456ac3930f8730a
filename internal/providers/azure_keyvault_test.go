package providers

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/Lobbi-Docs/secretops/internal/errors"
	"github.com/Lobbi-Docs/secretops/internal/logging"
	"github.com/Lobbi-Docs/secretops/pkg/provider"
	"github.com/Lobbi-Docs/secretops/tests/fakes"
	"github.com/Lobbi-Docs/secretops/tests/testutil"
)

func newTestAzureProvider(t *testing.T, fake *fakes.FakeKeyVaultClient, extra map[string]interface{}) *AzureKeyVaultProvider {
	t.Helper()

	config := map[string]interface{}{
		"vault_url": "https://fake-vault.vault.azure.net/",
	}
	for k, v := range extra {
		config[k] = v
	}

	p, err := NewAzureKeyVaultProvider("azure", 80, config, logging.NewWithWriter(os.Stderr, false), WithAzureKeyVaultClient(fake))
	require.NoError(t, err)
	require.NoError(t, p.Initialize(context.Background()))
	t.Cleanup(func() { p.Close() })
	return p
}

func TestAzureProviderRequiresVaultURL(t *testing.T) {
	t.Parallel()

	_, err := NewAzureKeyVaultProvider("azure", 80, map[string]interface{}{}, logging.NewWithWriter(os.Stderr, false))
	require.Error(t, err)

	var cfgErr dserrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "vault_url", cfgErr.Field)
}

func TestAzureProviderVersionedWrites(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeKeyVaultClient()
	p := newTestAzureProvider(t, fake, map[string]interface{}{"cache_ttl_seconds": 0})
	ctx := context.Background()

	meta, err := p.Set(ctx, "api-key", "one", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.Version)

	meta, err = p.Set(ctx, "api-key", "two", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, meta.Version)

	current, err := p.Get(ctx, "api-key", nil)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "two", current.Value)
	assert.Equal(t, 2, current.Version)

	// The logical version counter is resolved to the vault's native version
	// through the version tag.
	old, err := p.Get(ctx, "api-key", &provider.GetOptions{Version: 1})
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.Equal(t, "one", old.Value)
	assert.Equal(t, 1, old.Version)

	missing, err := p.Get(ctx, "api-key", &provider.GetOptions{Version: 5})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAzureProviderCache(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeKeyVaultClient()
	p := newTestAzureProvider(t, fake, nil)
	ctx := context.Background()

	_, err := p.Set(ctx, "api-key", "cached", nil)
	require.NoError(t, err)

	_, err = p.Get(ctx, "api-key", nil)
	require.NoError(t, err)
	callsAfterFirst := fake.GetSecretCalls

	got, err := p.Get(ctx, "api-key", nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "cached", got.Value)
	assert.Equal(t, callsAfterFirst, fake.GetSecretCalls, "second unqualified read must be served from cache")

	// Versioned reads are authoritative and bypass the cache.
	_, err = p.Get(ctx, "api-key", &provider.GetOptions{Version: 1})
	require.NoError(t, err)
	assert.Greater(t, fake.GetSecretCalls, callsAfterFirst)
}

func TestAzureProviderSetInvalidatesCache(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeKeyVaultClient()
	p := newTestAzureProvider(t, fake, nil)
	ctx := context.Background()

	_, err := p.Set(ctx, "api-key", "before", nil)
	require.NoError(t, err)
	_, err = p.Get(ctx, "api-key", nil)
	require.NoError(t, err)

	_, err = p.Set(ctx, "api-key", "after", nil)
	require.NoError(t, err)

	got, err := p.Get(ctx, "api-key", nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "after", got.Value, "a write must not leave a stale cached read behind")
}

func TestAzureProviderExpiry(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeKeyVaultClient()
	p := newTestAzureProvider(t, fake, map[string]interface{}{"cache_ttl_seconds": 0})
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	_, err := p.Set(ctx, "stale-token", "old", &provider.SetOptions{ExpiresAt: &past})
	require.NoError(t, err)

	got, err := p.Get(ctx, "stale-token", nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = p.Get(ctx, "stale-token", &provider.GetOptions{Required: true})
	assert.True(t, provider.IsExpired(err))

	explicit, err := p.Get(ctx, "stale-token", &provider.GetOptions{Version: 1})
	require.NoError(t, err)
	require.NotNil(t, explicit, "explicit-version reads serve expired payloads")
	assert.Equal(t, "old", explicit.Value)
}

func TestAzureProviderRotate(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeKeyVaultClient()
	p := newTestAzureProvider(t, fake, map[string]interface{}{"cache_ttl_seconds": 0})
	ctx := context.Background()

	_, err := p.Rotate(ctx, "absent-key", &provider.RotateOptions{NewValue: "x"})
	assert.True(t, provider.IsNotFound(err))

	_, err = p.Set(ctx, "api-key", "before", &provider.SetOptions{
		Scope: "production",
		Tags:  []string{"ci"},
	})
	require.NoError(t, err)

	meta, err := p.Rotate(ctx, "api-key", &provider.RotateOptions{NewValue: "after", ExpireOldVersion: true})
	require.NoError(t, err)
	assert.Equal(t, 2, meta.Version)
	assert.Equal(t, "production", meta.Scope)
	assert.Equal(t, []string{"ci"}, meta.Tags)

	// The superseded native version is expired, not deleted: it stays
	// reachable by explicit logical version and carries an expiration.
	old, err := p.Get(ctx, "api-key", &provider.GetOptions{Version: 1})
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.Equal(t, "before", old.Value)
	require.NotNil(t, old.ExpiresAt)
	assert.False(t, old.ExpiresAt.After(time.Now()))
}

func TestAzureProviderDelete(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeKeyVaultClient()
	p := newTestAzureProvider(t, fake, map[string]interface{}{"cache_ttl_seconds": 0})
	ctx := context.Background()

	deleted, err := p.Delete(ctx, "api-key")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = p.Set(ctx, "api-key", "value", nil)
	require.NoError(t, err)

	deleted, err = p.Delete(ctx, "api-key")
	require.NoError(t, err)
	assert.True(t, deleted)

	got, err := p.Get(ctx, "api-key", nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAzureProviderList(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeKeyVaultClient()
	p := newTestAzureProvider(t, fake, map[string]interface{}{"cache_ttl_seconds": 0})
	ctx := context.Background()

	_, err := p.Set(ctx, "db-url", "x", &provider.SetOptions{Scope: "production", Tags: []string{"db"}})
	require.NoError(t, err)
	_, err = p.Set(ctx, "api-key", "x", &provider.SetOptions{Scope: "staging"})
	require.NoError(t, err)

	entries, err := p.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byName := make(map[string]provider.SecretMetadata, len(entries))
	for _, e := range entries {
		byName[e.Name] = e
	}
	assert.Equal(t, "production", byName["db-url"].Scope)
	assert.Equal(t, []string{"db"}, byName["db-url"].Tags)
	assert.Equal(t, 1, byName["db-url"].Version)
	assert.Equal(t, "staging", byName["api-key"].Scope)

	filtered, err := p.List(ctx, &provider.ListOptions{Scope: "staging"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "api-key", filtered[0].Name)
}

func TestAzureProviderHealthCheck(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeKeyVaultClient()
	p := newTestAzureProvider(t, fake, map[string]interface{}{"cache_ttl_seconds": 0})
	ctx := context.Background()

	assert.True(t, p.HealthCheck(ctx))

	fake.Err = errors.New("vault unreachable")
	assert.False(t, p.HealthCheck(ctx))
}

func TestAzureProviderContract(t *testing.T) {
	t.Parallel()

	p := newTestAzureProvider(t, fakes.NewFakeKeyVaultClient(), map[string]interface{}{
		"cache_ttl_seconds": 0,
		"retry_attempts":    1,
	})
	testutil.RunProviderContractTests(t, testutil.ProviderTestCase{
		Name:     "azure.keyvault",
		Provider: p,
	})
}

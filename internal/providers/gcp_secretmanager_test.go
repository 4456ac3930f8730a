package providers

import (
	"context"
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

func newTestGCPProvider(t *testing.T, fake *fakes.FakeSecretManagerClient) *GCPSecretManagerProvider {
	t.Helper()

	p, err := NewGCPSecretManagerProvider("gcp", 60, map[string]interface{}{
		"project_id":        "test-project",
		"cache_ttl_seconds": 0,
		"retry_attempts":    1,
	}, logging.NewWithWriter(os.Stderr, false), WithGCPSecretManagerClient(fake))
	require.NoError(t, err)
	require.NoError(t, p.Initialize(context.Background()))
	t.Cleanup(func() { p.Close() })
	return p
}

func TestGCPProviderRequiresProjectID(t *testing.T) {
	t.Parallel()

	_, err := NewGCPSecretManagerProvider("gcp", 60, map[string]interface{}{}, logging.NewWithWriter(os.Stderr, false))
	require.Error(t, err)

	var cfgErr dserrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "project_id", cfgErr.Field)
}

func TestGCPProviderNativeVersionNumbers(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeSecretManagerClient()
	p := newTestGCPProvider(t, fake)
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

	// Version numbers map straight onto version resources; no tag scan is
	// needed for explicit reads.
	old, err := p.Get(ctx, "api-key", &provider.GetOptions{Version: 1})
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.Equal(t, "one", old.Value)
	assert.Equal(t, 1, old.Version)

	missing, err := p.Get(ctx, "api-key", &provider.GetOptions{Version: 5})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGCPProviderScopeAndTags(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeSecretManagerClient()
	p := newTestGCPProvider(t, fake)
	ctx := context.Background()

	_, err := p.Set(ctx, "db-password", "x", &provider.SetOptions{
		Scope: "production",
		Tags:  []string{"db", "rotate"},
	})
	require.NoError(t, err)

	got, err := p.Get(ctx, "db-password", nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "production", got.Scope)
	assert.Equal(t, []string{"db", "rotate"}, got.Tags)

	// Writes that do not restate scope or tags keep the existing ones.
	_, err = p.Set(ctx, "db-password", "y", nil)
	require.NoError(t, err)

	got, err = p.Get(ctx, "db-password", nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "production", got.Scope)
	assert.Equal(t, []string{"db", "rotate"}, got.Tags)
}

func TestGCPProviderExpiry(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeSecretManagerClient()
	p := newTestGCPProvider(t, fake)
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
	require.NotNil(t, explicit)
	assert.Equal(t, "old", explicit.Value)
}

func TestGCPProviderRotate(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeSecretManagerClient()
	p := newTestGCPProvider(t, fake)
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

	current, err := p.Get(ctx, "api-key", nil)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "after", current.Value)

	// Secret Manager has no per-version expiration; the old version is
	// disabled instead, so accessing it fails rather than returning a
	// payload.
	_, err = p.Get(ctx, "api-key", &provider.GetOptions{Version: 1})
	assert.Error(t, err)
}

func TestGCPProviderRotateKeepsOldVersionByDefault(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeSecretManagerClient()
	p := newTestGCPProvider(t, fake)
	ctx := context.Background()

	_, err := p.Set(ctx, "api-key", "before", nil)
	require.NoError(t, err)

	_, err = p.Rotate(ctx, "api-key", &provider.RotateOptions{NewValue: "after"})
	require.NoError(t, err)

	old, err := p.Get(ctx, "api-key", &provider.GetOptions{Version: 1})
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.Equal(t, "before", old.Value)
}

func TestGCPProviderDelete(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeSecretManagerClient()
	p := newTestGCPProvider(t, fake)
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

func TestGCPProviderList(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeSecretManagerClient()
	p := newTestGCPProvider(t, fake)
	ctx := context.Background()

	_, err := p.Set(ctx, "db-url", "x", &provider.SetOptions{Scope: "production", Tags: []string{"db"}})
	require.NoError(t, err)
	_, err = p.Set(ctx, "api-key", "x", &provider.SetOptions{Scope: "staging"})
	require.NoError(t, err)
	_, err = p.Set(ctx, "api-key", "y", nil)
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
	// The version annotation keeps List accurate without per-secret calls.
	assert.Equal(t, 2, byName["api-key"].Version)

	filtered, err := p.List(ctx, &provider.ListOptions{Scope: "production"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "db-url", filtered[0].Name)
}

func TestGCPProviderClose(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeSecretManagerClient()
	p := newTestGCPProvider(t, fake)

	require.NoError(t, p.Close())
	assert.True(t, fake.Closed, "closing the provider must release the client connection")
}

func TestGCPProviderContract(t *testing.T) {
	t.Parallel()

	p := newTestGCPProvider(t, fakes.NewFakeSecretManagerClient())
	testutil.RunProviderContractTests(t, testutil.ProviderTestCase{
		Name:     "gcp.secretmanager",
		Provider: p,
	})
}

package providers

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lobbi-Docs/secretops/internal/logging"
	"github.com/Lobbi-Docs/secretops/pkg/provider"
	"github.com/Lobbi-Docs/secretops/tests/testutil"
)

func newTestLocalProvider(t *testing.T, path string) *LocalStoreProvider {
	t.Helper()

	p, err := NewLocalStoreProvider("local", 100, map[string]interface{}{
		"path":       path,
		"master_key": "test-master-key",
	}, logging.NewWithWriter(os.Stderr, false))
	require.NoError(t, err)
	require.NoError(t, p.Initialize(context.Background()))
	t.Cleanup(func() { p.Close() })
	return p
}

func TestLocalProviderRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewLocalStoreProvider("local", 100, map[string]interface{}{}, logging.NewWithWriter(os.Stderr, false))
	assert.Error(t, err)
}

func TestLocalProviderCreatesStoreFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "store", "secrets.json")
	p := newTestLocalProvider(t, path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	assert.True(t, p.HealthCheck(context.Background()))
}

func TestLocalProviderStoreFileNeverHoldsPlaintext(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "secrets.json")
	p := newTestLocalProvider(t, path)
	ctx := context.Background()

	_, err := p.Set(ctx, "db-password", "hunter2-plaintext", nil)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2-plaintext")

	var store map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &store), "store file must stay valid JSON")
}

func TestLocalProviderVersioning(t *testing.T) {
	t.Parallel()

	p := newTestLocalProvider(t, filepath.Join(t.TempDir(), "secrets.json"))
	ctx := context.Background()

	meta, err := p.Set(ctx, "api-key", "one", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.Version)
	assert.NotEmpty(t, meta.ID)

	meta, err = p.Set(ctx, "api-key", "two", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, meta.Version)

	meta, err = p.Set(ctx, "api-key", "three", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, meta.Version)

	current, err := p.Get(ctx, "api-key", nil)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "three", current.Value)
	assert.Equal(t, 3, current.Version)

	for v, want := range map[int]string{1: "one", 2: "two", 3: "three"} {
		got, err := p.Get(ctx, "api-key", &provider.GetOptions{Version: v})
		require.NoError(t, err)
		require.NotNil(t, got, "version %d must be readable", v)
		assert.Equal(t, want, got.Value)
		assert.Equal(t, v, got.Version)
	}

	// Version 4 does not exist.
	missing, err := p.Get(ctx, "api-key", &provider.GetOptions{Version: 4})
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = p.Get(ctx, "api-key", &provider.GetOptions{Version: 4, Required: true})
	assert.True(t, provider.IsNotFound(err))
}

func TestLocalProviderUnversionedOverwrite(t *testing.T) {
	t.Parallel()

	p := newTestLocalProvider(t, filepath.Join(t.TempDir(), "secrets.json"))
	ctx := context.Background()

	_, err := p.Set(ctx, "api-key", "one", nil)
	require.NoError(t, err)

	noVersion := false
	meta, err := p.Set(ctx, "api-key", "two", &provider.SetOptions{CreateVersion: &noVersion})
	require.NoError(t, err)
	assert.Equal(t, 1, meta.Version, "opting out of versioning must not bump the counter")

	got, err := p.Get(ctx, "api-key", &provider.GetOptions{Version: 1})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "two", got.Value, "in-place overwrite replaces the payload")
}

func TestLocalProviderExpiry(t *testing.T) {
	t.Parallel()

	p := newTestLocalProvider(t, filepath.Join(t.TempDir(), "secrets.json"))
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	_, err := p.Set(ctx, "stale-token", "old", &provider.SetOptions{ExpiresAt: &past})
	require.NoError(t, err)

	got, err := p.Get(ctx, "stale-token", nil)
	require.NoError(t, err)
	assert.Nil(t, got, "expired secret must read as absent")

	_, err = p.Get(ctx, "stale-token", &provider.GetOptions{Required: true})
	assert.True(t, provider.IsExpired(err), "Required read of expired secret must fail with ExpiredError, got %v", err)

	// Still listable when expired entries are requested.
	entries, err := p.List(ctx, &provider.ListOptions{IncludeExpired: true})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "stale-token", entries[0].Name)

	entries, err = p.List(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, entries, "default listing excludes expired entries")
}

func TestLocalProviderExplicitVersionReadableAfterExpiry(t *testing.T) {
	t.Parallel()

	p := newTestLocalProvider(t, filepath.Join(t.TempDir(), "secrets.json"))
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	_, err := p.Set(ctx, "api-key", "expired-payload", &provider.SetOptions{ExpiresAt: &past})
	require.NoError(t, err)

	got, err := p.Get(ctx, "api-key", &provider.GetOptions{Version: 1})
	require.NoError(t, err)
	require.NotNil(t, got, "explicitly requested versions are served even when expired")
	assert.Equal(t, "expired-payload", got.Value)
}

func TestLocalProviderPersistenceAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "secrets.json")
	ctx := context.Background()

	p := newTestLocalProvider(t, path)
	_, err := p.Set(ctx, "api-key", "persisted", &provider.SetOptions{
		Scope: "production",
		Tags:  []string{"ci"},
	})
	require.NoError(t, err)
	_, err = p.Set(ctx, "api-key", "persisted-v2", nil)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	reopened := newTestLocalProvider(t, path)
	got, err := reopened.Get(ctx, "api-key", nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "persisted-v2", got.Value)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, "production", got.Scope)
	assert.Equal(t, []string{"ci"}, got.Tags)

	old, err := reopened.Get(ctx, "api-key", &provider.GetOptions{Version: 1})
	require.NoError(t, err)
	require.NotNil(t, old, "history must survive reopen")
	assert.Equal(t, "persisted", old.Value)
}

func TestLocalProviderWrongMasterKey(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "secrets.json")
	p := newTestLocalProvider(t, path)
	_, err := p.Set(context.Background(), "api-key", "value", nil)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	wrong, err := NewLocalStoreProvider("local", 100, map[string]interface{}{
		"path":       path,
		"master_key": "a-different-key",
	}, logging.NewWithWriter(os.Stderr, false))
	require.NoError(t, err)

	err = wrong.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, provider.IsIntegrity(err), "wrong master key must fail store open with IntegrityError, got %v", err)
}

func TestLocalProviderDeleteRemovesHistory(t *testing.T) {
	t.Parallel()

	p := newTestLocalProvider(t, filepath.Join(t.TempDir(), "secrets.json"))
	ctx := context.Background()

	_, err := p.Set(ctx, "api-key", "one", nil)
	require.NoError(t, err)
	_, err = p.Set(ctx, "api-key", "two", nil)
	require.NoError(t, err)

	deleted, err := p.Delete(ctx, "api-key")
	require.NoError(t, err)
	assert.True(t, deleted)

	got, err := p.Get(ctx, "api-key", &provider.GetOptions{Version: 1})
	require.NoError(t, err)
	assert.Nil(t, got, "delete must remove history, not just the current version")

	deleted, err = p.Delete(ctx, "api-key")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestLocalProviderRotate(t *testing.T) {
	t.Parallel()

	p := newTestLocalProvider(t, filepath.Join(t.TempDir(), "secrets.json"))
	ctx := context.Background()

	_, err := p.Rotate(ctx, "absent-key", &provider.RotateOptions{NewValue: "x"})
	assert.True(t, provider.IsNotFound(err))

	_, err = p.Rotate(ctx, "api-key", nil)
	assert.True(t, provider.IsValidation(err), "rotation without a new value must fail validation")

	_, err = p.Set(ctx, "api-key", "before", &provider.SetOptions{
		Scope: "production",
		Tags:  []string{"rotated-by-ci"},
	})
	require.NoError(t, err)

	meta, err := p.Rotate(ctx, "api-key", &provider.RotateOptions{NewValue: "after", ExpireOldVersion: true})
	require.NoError(t, err)
	assert.Equal(t, 2, meta.Version)
	assert.Equal(t, "production", meta.Scope)
	assert.Equal(t, []string{"rotated-by-ci"}, meta.Tags)

	current, err := p.Get(ctx, "api-key", nil)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "after", current.Value)

	// The expired old version stays readable by explicit version number.
	old, err := p.Get(ctx, "api-key", &provider.GetOptions{Version: 1})
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.Equal(t, "before", old.Value)
	require.NotNil(t, old.ExpiresAt)
	assert.False(t, old.ExpiresAt.After(time.Now()))
}

func TestLocalProviderListFilters(t *testing.T) {
	t.Parallel()

	p := newTestLocalProvider(t, filepath.Join(t.TempDir(), "secrets.json"))
	ctx := context.Background()

	_, err := p.Set(ctx, "db-url", "x", &provider.SetOptions{Scope: "production", Tags: []string{"db"}})
	require.NoError(t, err)
	_, err = p.Set(ctx, "db-password", "x", &provider.SetOptions{Scope: "production", Tags: []string{"db", "rotate"}})
	require.NoError(t, err)
	_, err = p.Set(ctx, "api-key", "x", &provider.SetOptions{Scope: "staging"})
	require.NoError(t, err)

	entries, err := p.List(ctx, &provider.ListOptions{Pattern: "db-*"})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = p.List(ctx, &provider.ListOptions{Scope: "staging"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "api-key", entries[0].Name)

	entries, err = p.List(ctx, &provider.ListOptions{Tags: []string{"db", "rotate"}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "db-password", entries[0].Name)
}

func TestLocalProviderContract(t *testing.T) {
	t.Parallel()

	p := newTestLocalProvider(t, filepath.Join(t.TempDir(), "secrets.json"))
	testutil.RunProviderContractTests(t, testutil.ProviderTestCase{
		Name:     "local",
		Provider: p,
	})
}

func TestLocalProviderRejectsUninitializedUse(t *testing.T) {
	t.Parallel()

	p, err := NewLocalStoreProvider("local", 100, map[string]interface{}{
		"path":       filepath.Join(t.TempDir(), "secrets.json"),
		"master_key": "k",
	}, logging.NewWithWriter(os.Stderr, false))
	require.NoError(t, err)

	_, err = p.Get(context.Background(), "api-key", nil)
	assert.Error(t, err)
	assert.False(t, p.HealthCheck(context.Background()))
}

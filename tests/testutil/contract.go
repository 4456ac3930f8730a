// Package testutil provides testing utilities and helpers for secretops
// tests.
//
// This file implements the provider contract test framework that validates
// all providers implement the provider.Provider interface correctly and
// consistently.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lobbi-Docs/secretops/pkg/provider"
)

// ProviderTestCase defines a provider under test.
type ProviderTestCase struct {
	// Name is a descriptive name for this test case (usually the provider
	// name).
	Name string

	// Provider is the provider implementation to test. It must already be
	// initialized.
	Provider provider.Provider

	// SkipWrites skips Set/Delete/Rotate tests for read-only providers.
	SkipWrites bool

	// SkipConcurrency skips the concurrency test.
	SkipConcurrency bool
}

// RunProviderContractTests runs the shared behavior suite against a provider:
// consistent identity, absent-name semantics, name validation, write/read
// round trips with versioning, delete idempotence, and concurrent reads.
//
// Example usage:
//
//	tc := testutil.ProviderTestCase{
//	    Name:     "local",
//	    Provider: localProvider,
//	}
//	testutil.RunProviderContractTests(t, tc)
func RunProviderContractTests(t *testing.T, tc ProviderTestCase) {
	t.Helper()

	require.NotNil(t, tc.Provider, "Provider cannot be nil")
	require.NotEmpty(t, tc.Name, "Test case name cannot be empty")

	t.Run("Name", func(t *testing.T) {
		testProviderName(t, tc)
	})

	t.Run("AbsentSecret", func(t *testing.T) {
		testAbsentSecret(t, tc)
	})

	t.Run("NameValidation", func(t *testing.T) {
		testNameValidation(t, tc)
	})

	if !tc.SkipWrites {
		t.Run("WriteReadDelete", func(t *testing.T) {
			testWriteReadDelete(t, tc)
		})

		t.Run("Rotate", func(t *testing.T) {
			testRotate(t, tc)
		})
	}

	if !tc.SkipConcurrency {
		t.Run("Concurrency", func(t *testing.T) {
			testConcurrency(t, tc)
		})
	}
}

func testProviderName(t *testing.T, tc ProviderTestCase) {
	t.Helper()

	name := tc.Provider.Name()
	assert.NotEmpty(t, name, "Name() must return a non-empty string")
	assert.Equal(t, name, tc.Provider.Name(), "Name() must be consistent across calls")
	assert.Equal(t, strings.ToLower(name), name, "Name() should be lowercase")
	assert.Equal(t, tc.Provider.Priority(), tc.Provider.Priority(), "Priority() must be consistent across calls")
}

func testAbsentSecret(t *testing.T, tc ProviderTestCase) {
	t.Helper()
	ctx := context.Background()

	value, err := tc.Provider.Get(ctx, "contract-absent-name", nil)
	require.NoError(t, err, "absent secret must not be an error without Required")
	assert.Nil(t, value)

	_, err = tc.Provider.Get(ctx, "contract-absent-name", &provider.GetOptions{Required: true})
	require.Error(t, err)
	assert.True(t, provider.IsNotFound(err), "Required read of absent secret must return a not-found error, got %v", err)
}

func testNameValidation(t *testing.T, tc ProviderTestCase) {
	t.Helper()
	ctx := context.Background()

	for _, bad := range []string{"", "UPPER", "1-leading-digit", "has space", "ab"} {
		_, err := tc.Provider.Get(ctx, bad, nil)
		require.Error(t, err, "name %q must be rejected", bad)
		assert.True(t, provider.IsValidation(err), "name %q must fail validation, got %v", bad, err)
	}
}

func testWriteReadDelete(t *testing.T, tc ProviderTestCase) {
	t.Helper()
	ctx := context.Background()
	name := "contract-round-trip"

	meta, err := tc.Provider.Set(ctx, name, "first", nil)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, 1, meta.Version)
	assert.Equal(t, provider.ScopeGlobal, meta.Scope)

	value, err := tc.Provider.Get(ctx, name, nil)
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.Equal(t, "first", value.Value)
	assert.Equal(t, 1, value.Version)

	// Versioned overwrite bumps the counter and preserves history.
	meta, err = tc.Provider.Set(ctx, name, "second", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, meta.Version)

	value, err = tc.Provider.Get(ctx, name, nil)
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.Equal(t, "second", value.Value)

	old, err := tc.Provider.Get(ctx, name, &provider.GetOptions{Version: 1})
	require.NoError(t, err)
	require.NotNil(t, old, "version 1 must stay readable after overwrite")
	assert.Equal(t, "first", old.Value)

	deleted, err := tc.Provider.Delete(ctx, name)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = tc.Provider.Delete(ctx, name)
	require.NoError(t, err, "deleting an absent secret must not be an error")
	assert.False(t, deleted)

	value, err = tc.Provider.Get(ctx, name, nil)
	require.NoError(t, err)
	assert.Nil(t, value, "secret must be gone after delete")
}

func testRotate(t *testing.T, tc ProviderTestCase) {
	t.Helper()
	ctx := context.Background()
	name := "contract-rotation"

	_, err := tc.Provider.Rotate(ctx, "contract-absent-name", &provider.RotateOptions{NewValue: "x"})
	require.Error(t, err)
	assert.True(t, provider.IsNotFound(err), "rotating an absent secret must be a not-found error, got %v", err)

	_, err = tc.Provider.Set(ctx, name, "before", &provider.SetOptions{
		Scope: "production",
		Tags:  []string{"contract"},
	})
	require.NoError(t, err)

	meta, err := tc.Provider.Rotate(ctx, name, &provider.RotateOptions{NewValue: "after"})
	require.NoError(t, err)
	assert.Equal(t, 2, meta.Version)
	assert.Equal(t, "production", meta.Scope, "rotation must preserve scope")
	assert.Equal(t, []string{"contract"}, meta.Tags, "rotation must preserve tags")

	value, err := tc.Provider.Get(ctx, name, nil)
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.Equal(t, "after", value.Value)

	_, err = tc.Provider.Delete(ctx, name)
	require.NoError(t, err)
}

func testConcurrency(t *testing.T, tc ProviderTestCase) {
	t.Helper()
	ctx := context.Background()

	name := "contract-concurrent"
	if !tc.SkipWrites {
		_, err := tc.Provider.Set(ctx, name, "shared", nil)
		require.NoError(t, err)
		defer tc.Provider.Delete(ctx, name)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tc.Provider.Get(ctx, name, nil); err != nil {
				errs <- fmt.Errorf("concurrent get: %w", err)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetOptionsResolveExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("nil options", func(t *testing.T) {
		t.Parallel()
		var opts *SetOptions
		assert.Nil(t, opts.ResolveExpiry(now))
	})

	t.Run("no expiry requested", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, (&SetOptions{}).ResolveExpiry(now))
	})

	t.Run("relative expiry", func(t *testing.T) {
		t.Parallel()
		got := (&SetOptions{ExpiresIn: time.Hour}).ResolveExpiry(now)
		require.NotNil(t, got)
		assert.Equal(t, now.Add(time.Hour), *got)
	})

	t.Run("absolute wins over relative", func(t *testing.T) {
		t.Parallel()
		at := now.Add(24 * time.Hour)
		got := (&SetOptions{ExpiresAt: &at, ExpiresIn: time.Minute}).ResolveExpiry(now)
		require.NotNil(t, got)
		assert.Equal(t, at, *got)
	})
}

func TestSetOptionsVersionedWrite(t *testing.T) {
	t.Parallel()

	var nilOpts *SetOptions
	assert.True(t, nilOpts.VersionedWrite(), "nil options default to versioned")
	assert.True(t, (&SetOptions{}).VersionedWrite())

	v := false
	assert.False(t, (&SetOptions{CreateVersion: &v}).VersionedWrite())
	v = true
	assert.True(t, (&SetOptions{CreateVersion: &v}).VersionedWrite())
}

func TestSecretMetadataExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()

	m := &SecretMetadata{}
	assert.False(t, m.Expired(now), "no expiration means never expired")

	past := now.Add(-time.Second)
	m.ExpiresAt = &past
	assert.True(t, m.Expired(now))

	// Expiration exactly at now counts as expired.
	m.ExpiresAt = &now
	assert.True(t, m.Expired(now))

	future := now.Add(time.Second)
	m.ExpiresAt = &future
	assert.False(t, m.Expired(now))
}

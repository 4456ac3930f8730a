package secure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyBufferOpenAndDestroy(t *testing.T) {
	buf := NewKeyBuffer([]byte("key material"))

	locked, err := buf.Open()
	require.NoError(t, err)
	assert.Equal(t, []byte("key material"), locked.Bytes())
	locked.Destroy()

	// Reopen works until the buffer itself is destroyed.
	locked, err = buf.Open()
	require.NoError(t, err)
	locked.Destroy()

	buf.Destroy()
	assert.True(t, buf.Destroyed())

	_, err = buf.Open()
	assert.ErrorIs(t, err, ErrDestroyed)

	buf.Destroy() // idempotent
	assert.True(t, buf.Destroyed())
}

func TestNewKeyBufferWipesSource(t *testing.T) {
	src := []byte("wipe me")
	NewKeyBuffer(src)
	assert.Equal(t, make([]byte, len(src)), src, "source bytes must be wiped during sealing")
}

func TestWipe(t *testing.T) {
	t.Parallel()

	p := []byte{1, 2, 3}
	Wipe(p)
	assert.Equal(t, []byte{0, 0, 0}, p)

	Wipe(nil) // must not panic
}

func TestResolveMasterKeySources(t *testing.T) {
	t.Run("explicit wins", func(t *testing.T) {
		t.Setenv(MasterKeyEnvVar, "from-env")

		buf, err := ResolveMasterKey("explicit-key")
		require.NoError(t, err)
		defer buf.Destroy()

		locked, err := buf.Open()
		require.NoError(t, err)
		defer locked.Destroy()
		assert.Equal(t, "explicit-key", locked.String())
	})

	t.Run("environment variable", func(t *testing.T) {
		t.Setenv(MasterKeyEnvVar, "from-env")

		buf, err := ResolveMasterKey("")
		require.NoError(t, err)
		defer buf.Destroy()

		locked, err := buf.Open()
		require.NoError(t, err)
		defer locked.Destroy()
		assert.Equal(t, "from-env", locked.String())
	})
}

// Package secure provides memory-safe storage for key material and the
// master-key resolution chain for the local store.
//
// Key material at rest in memory is held in a memguard enclave: encrypted with
// XSalsa20-Poly1305, mlocked to keep it out of swap, and fenced by guard
// pages. Plaintext key bytes only exist inside a short-lived LockedBuffer that
// the caller destroys when done. For complete cleanup of all memguard data at
// process exit, call memguard.Purge in a defer in main.
package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// KeyBuffer holds key material in a protected memory region. The source bytes
// passed to NewKeyBuffer are wiped as part of sealing, so the caller does not
// retain a plaintext copy.
type KeyBuffer struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	destroyed bool
}

// NewKeyBuffer seals key bytes into a protected enclave. The input slice is
// wiped by memguard during sealing.
func NewKeyBuffer(key []byte) *KeyBuffer {
	return &KeyBuffer{enclave: memguard.NewEnclave(key)}
}

// Open decrypts the enclave into a locked buffer. The caller must call
// Destroy on the returned buffer when done:
//
//	locked, err := buf.Open()
//	if err != nil {
//	    return err
//	}
//	defer locked.Destroy()
//	use(locked.Bytes())
//
// After the KeyBuffer itself has been destroyed, Open returns ErrDestroyed.
func (b *KeyBuffer) Open() (*memguard.LockedBuffer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.destroyed {
		return nil, ErrDestroyed
	}
	return b.enclave.Open()
}

// Destroy drops the enclave reference and marks the buffer unusable. It is
// idempotent. The enclave's contents are encrypted at rest, so dropping the
// reference is sufficient; full scrubbing happens at memguard.Purge.
func (b *KeyBuffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return
	}
	b.enclave = nil
	b.destroyed = true
}

// Destroyed reports whether Destroy has been called.
func (b *KeyBuffer) Destroyed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.destroyed
}

// Wipe zeroes a byte slice in place. Callers use it on transient plaintext
// copies that never entered an enclave.
func Wipe(p []byte) {
	for i := range p {
		p[i] = 0
	}
}

// Package crypto implements the authenticated encryption engine behind the
// local encrypted store: AES-256-GCM keyed by a scrypt derivation of
// (master key, salt), with per-store key identity.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/scrypt"

	"github.com/Lobbi-Docs/secretops/internal/secure"
	"github.com/Lobbi-Docs/secretops/pkg/provider"
)

const (
	// Algorithm identifies the AEAD used for every payload this engine
	// produces. The store format records it per version so a future
	// migration can distinguish old payloads.
	Algorithm = "aes-256-gcm"

	// SaltSize is the size of the random per-store KDF salt.
	SaltSize = 32

	nonceSize = 12
	tagSize   = 16
	keySize   = 32

	// scrypt parameters. N=2^15 keeps derivation under ~100ms while staying
	// memory-hard enough that the master key cannot be brute-forced cheaply.
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// EncryptedPayload is one immutable encrypted secret version as stored on
// disk. All byte fields are standard base64.
type EncryptedPayload struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	AuthTag    string `json:"auth_tag"`
	Algorithm  string `json:"algorithm"`
	KeyID      string `json:"key_id"`
}

// Engine performs authenticated encryption with a key derived from a master
// key and a per-store salt. The derived key lives in a memguard enclave and is
// only materialized for the duration of a single operation. Engine is safe for
// concurrent use; Destroy must not race with in-flight operations.
type Engine struct {
	keyID string
	key   *secure.KeyBuffer
}

// NewEngine derives the working key from (masterKey, salt) with scrypt and
// seals it. The master key is never used directly as the cipher key.
func NewEngine(masterKey, salt []byte) (*Engine, error) {
	if len(masterKey) == 0 {
		return nil, fmt.Errorf("master key must not be empty")
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("salt must not be empty")
	}

	derived, err := scrypt.Key(masterKey, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}

	sum := sha256.Sum256(derived)
	keyID := hex.EncodeToString(sum[:8])

	// NewKeyBuffer wipes the derived slice while sealing it.
	return &Engine{
		keyID: keyID,
		key:   secure.NewKeyBuffer(derived),
	}, nil
}

// NewSalt generates a fresh random KDF salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// MasterKeyHash fingerprints (masterKey, salt) for store-load verification.
// It is not usable for key recovery.
func MasterKeyHash(masterKey, salt []byte) string {
	h := sha256.New()
	h.Write(masterKey)
	h.Write(salt)
	return hex.EncodeToString(h.Sum(nil))
}

// KeyID returns the identifier of the active derived key.
func (e *Engine) KeyID() string {
	return e.keyID
}

// Encrypt seals plaintext under the derived key with a fresh random nonce.
// The GCM tag is carried separately from the ciphertext in the payload.
func (e *Engine) Encrypt(plaintext string) (*EncryptedPayload, error) {
	gcm, locked, err := e.openAEAD()
	if err != nil {
		return nil, err
	}
	defer locked.Destroy()

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return &EncryptedPayload{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		IV:         base64.StdEncoding.EncodeToString(nonce),
		AuthTag:    base64.StdEncoding.EncodeToString(tag),
		Algorithm:  Algorithm,
		KeyID:      e.keyID,
	}, nil
}

// Decrypt verifies and opens a payload. Any authentication failure, key
// mismatch, or malformed field surfaces as an IntegrityError, never as garbage
// plaintext.
func (e *Engine) Decrypt(p *EncryptedPayload) (string, error) {
	if p == nil {
		return "", provider.IntegrityError{Op: "decrypt", Message: "missing payload"}
	}
	if p.Algorithm != Algorithm {
		return "", provider.IntegrityError{
			Op:      "decrypt",
			Message: fmt.Sprintf("unsupported algorithm %q", p.Algorithm),
		}
	}
	if p.KeyID != e.keyID {
		return "", provider.IntegrityError{
			Op:      "decrypt",
			Message: fmt.Sprintf("payload key id %s does not match active key %s", p.KeyID, e.keyID),
		}
	}

	ciphertext, err := base64.StdEncoding.DecodeString(p.Ciphertext)
	if err != nil {
		return "", provider.IntegrityError{Op: "decrypt", Message: "malformed ciphertext", Err: err}
	}
	nonce, err := base64.StdEncoding.DecodeString(p.IV)
	if err != nil || len(nonce) != nonceSize {
		return "", provider.IntegrityError{Op: "decrypt", Message: "malformed iv", Err: err}
	}
	tag, err := base64.StdEncoding.DecodeString(p.AuthTag)
	if err != nil || len(tag) != tagSize {
		return "", provider.IntegrityError{Op: "decrypt", Message: "malformed auth tag", Err: err}
	}

	gcm, locked, err := e.openAEAD()
	if err != nil {
		return "", err
	}
	defer locked.Destroy()

	plaintext, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", provider.IntegrityError{
			Op:      "decrypt",
			Message: "authentication tag mismatch (tampering, corruption, or wrong key)",
			Err:     err,
		}
	}

	return string(plaintext), nil
}

// Destroy wipes the derived key material. The engine is unusable afterwards;
// Destroy is idempotent.
func (e *Engine) Destroy() {
	e.key.Destroy()
}

// openAEAD materializes the derived key and builds the GCM instance. The
// returned locked buffer must be destroyed by the caller once the operation
// completes.
func (e *Engine) openAEAD() (cipher.AEAD, *memguard.LockedBuffer, error) {
	locked, err := e.key.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("encryption key unavailable: %w", err)
	}

	block, err := aes.NewCipher(locked.Bytes())
	if err != nil {
		locked.Destroy()
		return nil, nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		locked.Destroy()
		return nil, nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return gcm, locked, nil
}

package secure

import (
	"errors"
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

// ErrDestroyed is returned by KeyBuffer.Open after Destroy.
var ErrDestroyed = errors.New("key buffer destroyed")

// ErrNoMasterKey is returned when no master-key source yields a value.
var ErrNoMasterKey = errors.New("no master key available")

const (
	// MasterKeyEnvVar is the environment variable consulted for the local
	// store master key.
	MasterKeyEnvVar = "SECRETOPS_MASTER_KEY"

	keyringService = "secretops"
	keyringAccount = "master-key"
)

// ResolveMasterKey returns the master key for the local store, sealed in a
// KeyBuffer. Sources are consulted in order: the explicit value (from
// configuration), the SECRETOPS_MASTER_KEY environment variable, then the OS
// keyring under service "secretops". A keyring lookup failure other than
// "not found" is reported, since it usually means a locked or headless
// keychain rather than an absent key.
func ResolveMasterKey(explicit string) (*KeyBuffer, error) {
	if explicit != "" {
		return NewKeyBuffer([]byte(explicit)), nil
	}

	if v := os.Getenv(MasterKeyEnvVar); v != "" {
		return NewKeyBuffer([]byte(v)), nil
	}

	v, err := keyring.Get(keyringService, keyringAccount)
	if err == nil && v != "" {
		return NewKeyBuffer([]byte(v)), nil
	}
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("keyring lookup failed: %w", err)
	}

	return nil, ErrNoMasterKey
}

// StoreMasterKey saves a master key in the OS keyring so later runs resolve it
// without the environment variable.
func StoreMasterKey(key string) error {
	if key == "" {
		return errors.New("master key must not be empty")
	}
	if err := keyring.Set(keyringService, keyringAccount, key); err != nil {
		return fmt.Errorf("keyring store failed: %w", err)
	}
	return nil
}

// DeleteMasterKey removes the master key from the OS keyring. Missing entries
// are not an error.
func DeleteMasterKey() error {
	err := keyring.Delete(keyringService, keyringAccount)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete failed: %w", err)
	}
	return nil
}

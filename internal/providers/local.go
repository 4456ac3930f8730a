package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lobbi-Docs/secretops/internal/crypto"
	"github.com/Lobbi-Docs/secretops/internal/logging"
	"github.com/Lobbi-Docs/secretops/internal/metrics"
	"github.com/Lobbi-Docs/secretops/internal/secure"
	"github.com/Lobbi-Docs/secretops/pkg/provider"
)

// storeFormatVersion is written into every store file so a future master-key
// migration path can be added without breaking existing stores.
const storeFormatVersion = 1

// LocalStoreConfig holds local provider configuration.
type LocalStoreConfig struct {
	// Path is the store file location.
	Path string

	// MasterKey overrides the SECRETOPS_MASTER_KEY / OS-keyring resolution
	// chain when set.
	MasterKey string

	// CreateIfMissing creates an empty store on first Initialize. Defaults
	// to true.
	CreateIfMissing bool

	// FileMode is applied to the store file. Defaults to owner-only 0600.
	FileMode os.FileMode
}

// LocalStoreProvider is the durable, versioned, file-backed secret store. The
// whole store is read into memory on Initialize and rewritten on every
// mutation, so mutating calls serialize behind a single writer lock.
//
// The store is a single-writer-process design: two processes opening the same
// file concurrently will lose updates. No advisory file locking is attempted.
type LocalStoreProvider struct {
	name     string
	priority int
	config   LocalStoreConfig
	logger   *logging.Logger

	mu          sync.RWMutex
	engine      *crypto.Engine
	store       *localStore
	initialized bool
}

// localStore is the on-disk unit of durability.
type localStore struct {
	Version int    `json:"version"`
	KeyID   string `json:"key_id"`
	KeyHash string `json:"key_hash"`
	Salt    string `json:"salt"`

	Secrets  map[string]*localSecret          `json:"secrets"`
	Versions map[string][]*localSecretVersion `json:"versions"`
}

// localSecret is the current version of one secret plus its descriptive
// record.
type localSecret struct {
	ID        string                   `json:"id"`
	Version   int                      `json:"version"`
	Scope     string                   `json:"scope"`
	Tags      []string                 `json:"tags,omitempty"`
	CreatedAt time.Time                `json:"created_at"`
	UpdatedAt time.Time                `json:"updated_at"`
	ExpiresAt *time.Time               `json:"expires_at,omitempty"`
	Payload   *crypto.EncryptedPayload `json:"payload"`
}

// localSecretVersion is one immutable historical version. Payloads are never
// mutated after creation; expiring a version only sets ExpiresAt.
type localSecretVersion struct {
	Version   int                      `json:"version"`
	CreatedAt time.Time                `json:"created_at"`
	ExpiresAt *time.Time               `json:"expires_at,omitempty"`
	Payload   *crypto.EncryptedPayload `json:"payload"`
}

// NewLocalStoreProvider creates a local encrypted store provider from a config
// map.
func NewLocalStoreProvider(name string, priority int, configMap map[string]interface{}, logger *logging.Logger) (*LocalStoreProvider, error) {
	config := LocalStoreConfig{
		CreateIfMissing: true,
		FileMode:        0o600,
	}

	if path, ok := configMap["path"].(string); ok {
		config.Path = path
	}
	if mk, ok := configMap["master_key"].(string); ok {
		config.MasterKey = mk
	}
	if create, ok := configMap["create_if_missing"].(bool); ok {
		config.CreateIfMissing = create
	}

	if config.Path == "" {
		return nil, fmt.Errorf("local provider %q: path is required", name)
	}

	return &LocalStoreProvider{
		name:     name,
		priority: priority,
		config:   config,
		logger:   logger,
	}, nil
}

// Name returns the provider name.
func (p *LocalStoreProvider) Name() string {
	return p.name
}

// Priority returns the provider's fallback-chain priority.
func (p *LocalStoreProvider) Priority() int {
	return p.priority
}

// Initialize resolves the master key, then either creates an empty store or
// loads and verifies an existing one. A key-hash mismatch on load is a hard
// IntegrityError: decrypting with the wrong key must fail here, not produce
// garbage plaintext later.
func (p *LocalStoreProvider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}

	keyBuf, err := secure.ResolveMasterKey(p.config.MasterKey)
	if err != nil {
		return fmt.Errorf("local provider %q: %w", p.name, err)
	}
	defer keyBuf.Destroy()

	locked, err := keyBuf.Open()
	if err != nil {
		return fmt.Errorf("local provider %q: %w", p.name, err)
	}
	defer locked.Destroy()
	masterKey := locked.Bytes()

	data, err := os.ReadFile(p.config.Path)
	switch {
	case os.IsNotExist(err):
		if !p.config.CreateIfMissing {
			return fmt.Errorf("local provider %q: store file %s does not exist", p.name, p.config.Path)
		}
		if err := p.createStoreLocked(masterKey); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("local provider %q: failed to read store: %w", p.name, err)
	default:
		if err := p.loadStoreLocked(masterKey, data); err != nil {
			return err
		}
	}

	p.initialized = true
	p.logger.Debug("local provider %q: store open at %s (key %s)", p.name, p.config.Path, p.store.KeyID)
	return nil
}

func (p *LocalStoreProvider) createStoreLocked(masterKey []byte) error {
	salt, err := crypto.NewSalt()
	if err != nil {
		return fmt.Errorf("local provider %q: %w", p.name, err)
	}

	engine, err := crypto.NewEngine(masterKey, salt)
	if err != nil {
		return fmt.Errorf("local provider %q: %w", p.name, err)
	}

	p.engine = engine
	p.store = &localStore{
		Version:  storeFormatVersion,
		KeyID:    engine.KeyID(),
		KeyHash:  crypto.MasterKeyHash(masterKey, salt),
		Salt:     base64.StdEncoding.EncodeToString(salt),
		Secrets:  make(map[string]*localSecret),
		Versions: make(map[string][]*localSecretVersion),
	}

	if dir := filepath.Dir(p.config.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("local provider %q: failed to create store directory: %w", p.name, err)
		}
	}

	return p.persistLocked()
}

func (p *LocalStoreProvider) loadStoreLocked(masterKey, data []byte) error {
	var store localStore
	if err := json.Unmarshal(data, &store); err != nil {
		return fmt.Errorf("local provider %q: corrupt store file: %w", p.name, err)
	}
	if store.Version > storeFormatVersion {
		return fmt.Errorf("local provider %q: store format %d is newer than supported %d", p.name, store.Version, storeFormatVersion)
	}

	salt, err := base64.StdEncoding.DecodeString(store.Salt)
	if err != nil {
		return provider.IntegrityError{Op: "open-store", Message: "malformed salt", Err: err}
	}

	if got := crypto.MasterKeyHash(masterKey, salt); got != store.KeyHash {
		return provider.IntegrityError{
			Op:      "open-store",
			Message: "master key hash mismatch (store was created with a different master key)",
		}
	}

	engine, err := crypto.NewEngine(masterKey, salt)
	if err != nil {
		return fmt.Errorf("local provider %q: %w", p.name, err)
	}

	if store.Secrets == nil {
		store.Secrets = make(map[string]*localSecret)
	}
	if store.Versions == nil {
		store.Versions = make(map[string][]*localSecretVersion)
	}

	p.engine = engine
	p.store = &store
	return nil
}

// persistLocked rewrites the entire store to disk via a temp file and rename.
// Caller holds the write lock. File permission enforcement is best-effort:
// chmod failures are logged as warnings because some filesystems do not
// support owner-only bits.
func (p *LocalStoreProvider) persistLocked() error {
	data, err := json.MarshalIndent(p.store, "", "  ")
	if err != nil {
		return fmt.Errorf("local provider %q: failed to marshal store: %w", p.name, err)
	}

	tmp := p.config.Path + ".tmp"
	if err := os.WriteFile(tmp, data, p.config.FileMode); err != nil {
		return fmt.Errorf("local provider %q: failed to write store: %w", p.name, err)
	}
	if err := os.Rename(tmp, p.config.Path); err != nil {
		return fmt.Errorf("local provider %q: failed to replace store: %w", p.name, err)
	}

	if err := os.Chmod(p.config.Path, p.config.FileMode); err != nil {
		p.logger.Warn("local provider %q: could not restrict store permissions: %v", p.name, err)
	}

	return nil
}

func (p *LocalStoreProvider) requireInit() error {
	if !p.initialized || p.store == nil {
		return fmt.Errorf("local provider %q: not initialized", p.name)
	}
	return nil
}

// Get returns the current or a specific historical version. Expiry is
// enforced at read time for unqualified reads only; an explicitly requested
// version is returned even when expired.
func (p *LocalStoreProvider) Get(ctx context.Context, name string, opts *provider.GetOptions) (*provider.SecretValue, error) {
	if err := provider.ValidateSecretName(name); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &provider.GetOptions{}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := p.requireInit(); err != nil {
		return nil, err
	}

	rec, ok := p.store.Secrets[name]
	if !ok {
		metrics.Operations.WithLabelValues(p.name, "get", "miss").Inc()
		if opts.Required {
			return nil, provider.NotFoundError{Provider: p.name, Name: name, Version: opts.Version}
		}
		return nil, nil
	}

	if opts.Version > 0 {
		return p.getVersionLocked(name, rec, opts)
	}

	if rec.ExpiresAt != nil && !rec.ExpiresAt.After(time.Now()) {
		metrics.Operations.WithLabelValues(p.name, "get", "expired").Inc()
		if opts.Required {
			return nil, provider.ExpiredError{Provider: p.name, Name: name}
		}
		return nil, nil
	}

	value, err := p.engine.Decrypt(rec.Payload)
	if err != nil {
		return nil, err
	}

	metrics.Operations.WithLabelValues(p.name, "get", "hit").Inc()
	return &provider.SecretValue{
		SecretMetadata: p.metadataLocked(name, rec),
		Value:          value,
	}, nil
}

// getVersionLocked serves an explicit-version read from the current record or
// the history list. Caller holds at least the read lock.
func (p *LocalStoreProvider) getVersionLocked(name string, rec *localSecret, opts *provider.GetOptions) (*provider.SecretValue, error) {
	var payload *crypto.EncryptedPayload
	meta := p.metadataLocked(name, rec)

	switch {
	case opts.Version == rec.Version:
		payload = rec.Payload
	default:
		for _, v := range p.store.Versions[name] {
			if v.Version == opts.Version {
				payload = v.Payload
				meta.Version = v.Version
				meta.CreatedAt = v.CreatedAt
				meta.UpdatedAt = v.CreatedAt
				meta.ExpiresAt = v.ExpiresAt
				break
			}
		}
	}

	if payload == nil {
		metrics.Operations.WithLabelValues(p.name, "get", "miss").Inc()
		if opts.Required {
			return nil, provider.NotFoundError{Provider: p.name, Name: name, Version: opts.Version}
		}
		return nil, nil
	}

	value, err := p.engine.Decrypt(payload)
	if err != nil {
		return nil, err
	}

	metrics.Operations.WithLabelValues(p.name, "get", "hit").Inc()
	return &provider.SecretValue{SecretMetadata: meta, Value: value}, nil
}

// Set writes a new secret or a new version of an existing one. The prior
// current payload is pushed into the history list before being overwritten,
// which keeps the audit trail append-only and current-version lookup O(1).
func (p *LocalStoreProvider) Set(ctx context.Context, name, value string, opts *provider.SetOptions) (*provider.SecretMetadata, error) {
	if err := provider.ValidateSecretName(name); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireInit(); err != nil {
		return nil, err
	}

	rec, err := p.applySetLocked(name, value, opts, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if err := p.persistLocked(); err != nil {
		return nil, err
	}

	metrics.Operations.WithLabelValues(p.name, "set", "ok").Inc()
	meta := p.metadataLocked(name, rec)
	return &meta, nil
}

// applySetLocked mutates the in-memory store without persisting. Caller holds
// the write lock and persists afterwards.
func (p *LocalStoreProvider) applySetLocked(name, value string, opts *provider.SetOptions, now time.Time) (*localSecret, error) {
	payload, err := p.engine.Encrypt(value)
	if err != nil {
		return nil, err
	}

	expiresAt := opts.ResolveExpiry(now)
	rec, exists := p.store.Secrets[name]

	if !exists {
		scope := provider.ScopeGlobal
		if opts != nil && opts.Scope != "" {
			scope = opts.Scope
		}
		rec = &localSecret{
			ID:        uuid.NewString(),
			Version:   1,
			Scope:     scope,
			CreatedAt: now,
			UpdatedAt: now,
			ExpiresAt: expiresAt,
			Payload:   payload,
		}
		if opts != nil {
			rec.Tags = opts.Tags
		}
		p.store.Secrets[name] = rec
		return rec, nil
	}

	if opts.VersionedWrite() {
		p.store.Versions[name] = append(p.store.Versions[name], &localSecretVersion{
			Version:   rec.Version,
			CreatedAt: rec.UpdatedAt,
			ExpiresAt: rec.ExpiresAt,
			Payload:   rec.Payload,
		})
		rec.Version++
	}

	if opts != nil && opts.Scope != "" {
		rec.Scope = opts.Scope
	}
	if opts != nil && opts.Tags != nil {
		rec.Tags = opts.Tags
	}
	rec.UpdatedAt = now
	rec.ExpiresAt = expiresAt
	rec.Payload = payload

	return rec, nil
}

// Delete removes the secret and all of its history.
func (p *LocalStoreProvider) Delete(ctx context.Context, name string) (bool, error) {
	if err := provider.ValidateSecretName(name); err != nil {
		return false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireInit(); err != nil {
		return false, err
	}

	if _, ok := p.store.Secrets[name]; !ok {
		return false, nil
	}

	delete(p.store.Secrets, name)
	delete(p.store.Versions, name)

	if err := p.persistLocked(); err != nil {
		return false, err
	}

	metrics.Operations.WithLabelValues(p.name, "delete", "ok").Inc()
	return true, nil
}

// List returns metadata for every secret passing the filter. Values are never
// decrypted.
func (p *LocalStoreProvider) List(ctx context.Context, opts *provider.ListOptions) ([]provider.SecretMetadata, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := p.requireInit(); err != nil {
		return nil, err
	}

	now := time.Now()
	results := make([]provider.SecretMetadata, 0, len(p.store.Secrets))
	for name, rec := range p.store.Secrets {
		meta := p.metadataLocked(name, rec)
		if opts.Match(&meta, now) {
			results = append(results, meta)
		}
	}

	metrics.Operations.WithLabelValues(p.name, "list", "ok").Inc()
	return results, nil
}

// Rotate replaces the secret's value, preserving scope and tags, and
// optionally marks the just-superseded version as expired. The whole sequence
// runs under one writer lock and one persist so a crash cannot leave the new
// version written without the old one recorded.
func (p *LocalStoreProvider) Rotate(ctx context.Context, name string, opts *provider.RotateOptions) (*provider.SecretMetadata, error) {
	if err := provider.ValidateSecretName(name); err != nil {
		return nil, err
	}
	if err := provider.ValidateRotateOptions(opts); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireInit(); err != nil {
		return nil, err
	}

	existing, ok := p.store.Secrets[name]
	if !ok {
		return nil, provider.NotFoundError{Provider: p.name, Name: name}
	}

	now := time.Now().UTC()
	oldVersion := existing.Version

	rec, err := p.applySetLocked(name, opts.NewValue, &provider.SetOptions{
		Scope: existing.Scope,
		Tags:  existing.Tags,
	}, now)
	if err != nil {
		return nil, err
	}

	if opts.ExpireOldVersion {
		for _, v := range p.store.Versions[name] {
			if v.Version == oldVersion {
				expired := now
				v.ExpiresAt = &expired
			}
		}
	}

	if err := p.persistLocked(); err != nil {
		return nil, err
	}

	metrics.Operations.WithLabelValues(p.name, "rotate", "ok").Inc()
	meta := p.metadataLocked(name, rec)
	return &meta, nil
}

// HealthCheck reports whether the store is open and the backing file still
// readable. It never returns an error.
func (p *LocalStoreProvider) HealthCheck(ctx context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.initialized || p.store == nil {
		return false
	}
	if _, err := os.Stat(p.config.Path); err != nil {
		return false
	}
	return true
}

// Close scrubs the derived key material and drops the in-memory store. It is
// idempotent.
func (p *LocalStoreProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.engine != nil {
		p.engine.Destroy()
		p.engine = nil
	}
	p.store = nil
	p.initialized = false
	return nil
}

func (p *LocalStoreProvider) metadataLocked(name string, rec *localSecret) provider.SecretMetadata {
	meta := provider.SecretMetadata{
		ID:        rec.ID,
		Name:      name,
		Provider:  p.name,
		Version:   rec.Version,
		Scope:     rec.Scope,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if rec.Tags != nil {
		meta.Tags = append([]string(nil), rec.Tags...)
	}
	if rec.ExpiresAt != nil {
		t := *rec.ExpiresAt
		meta.ExpiresAt = &t
	}
	return meta
}

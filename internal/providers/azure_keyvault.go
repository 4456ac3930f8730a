package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	dserrors "github.com/Lobbi-Docs/secretops/internal/errors"
	"github.com/Lobbi-Docs/secretops/internal/logging"
	"github.com/Lobbi-Docs/secretops/internal/metrics"
	"github.com/Lobbi-Docs/secretops/pkg/provider"
)

// defaultTagPrefix namespaces the tags this provider writes so they never
// collide with a vault's own reserved tags.
const defaultTagPrefix = "secretops-"

const defaultCacheTTL = 5 * time.Minute

// AzureKeyVaultClientAPI is the subset of the azsecrets client this provider
// uses. It exists so tests can inject a fake.
type AzureKeyVaultClientAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
	SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error)
	DeleteSecret(ctx context.Context, name string, options *azsecrets.DeleteSecretOptions) (azsecrets.DeleteSecretResponse, error)
	UpdateSecretProperties(ctx context.Context, name string, version string, parameters azsecrets.UpdateSecretPropertiesParameters, options *azsecrets.UpdateSecretPropertiesOptions) (azsecrets.UpdateSecretPropertiesResponse, error)
	NewListSecretPropertiesPager(options *azsecrets.ListSecretPropertiesOptions) *runtime.Pager[azsecrets.ListSecretPropertiesResponse]
	NewListSecretPropertiesVersionsPager(name string, options *azsecrets.ListSecretPropertiesVersionsOptions) *runtime.Pager[azsecrets.ListSecretPropertiesVersionsResponse]
}

// AzureKeyVaultConfig holds Azure Key Vault provider configuration.
type AzureKeyVaultConfig struct {
	VaultURL           string
	TenantID           string
	ClientID           string
	ClientSecret       string
	UseManagedIdentity bool
	UserAssignedID     string

	// TagPrefix namespaces the scope/tags/version tags on each secret.
	TagPrefix string

	// CacheTTL bounds the in-memory read cache. Zero disables caching.
	CacheTTL time.Duration

	Retry retryConfig
}

// AzureKeyVaultProvider adapts a managed Azure Key Vault to the provider
// contract. It adds two behaviors the local provider has no need for: a TTL
// read cache keyed by secret name (bypassed for versioned reads, which must be
// authoritative) and retry with capped exponential backoff around every remote
// call, triggered only for transient failure signatures.
//
// Scope and custom tags, which Key Vault has no native concept of, are encoded
// into vault tags under the configured prefix; the tag set is serialized as
// JSON. The numeric version counter is carried the same way, since Key Vault
// versions are opaque strings.
type AzureKeyVaultProvider struct {
	name     string
	priority int
	client   AzureKeyVaultClientAPI
	logger   *logging.Logger
	config   AzureKeyVaultConfig
	cache    *secretCache
}

// AzureProviderOption is a functional option for configuring Azure providers.
type AzureProviderOption func(*AzureKeyVaultProvider)

// WithAzureKeyVaultClient sets a custom Key Vault client (for testing).
func WithAzureKeyVaultClient(client AzureKeyVaultClientAPI) AzureProviderOption {
	return func(p *AzureKeyVaultProvider) {
		p.client = client
	}
}

// NewAzureKeyVaultProvider creates an Azure Key Vault provider from a config
// map.
func NewAzureKeyVaultProvider(name string, priority int, configMap map[string]interface{}, logger *logging.Logger, opts ...AzureProviderOption) (*AzureKeyVaultProvider, error) {
	config := AzureKeyVaultConfig{
		UseManagedIdentity: true,
		TagPrefix:          defaultTagPrefix,
		CacheTTL:           defaultCacheTTL,
		Retry:              defaultRetryConfig(),
	}

	if vaultURL, ok := configMap["vault_url"].(string); ok {
		config.VaultURL = vaultURL
	}
	if tenantID, ok := configMap["tenant_id"].(string); ok {
		config.TenantID = tenantID
	}
	if clientID, ok := configMap["client_id"].(string); ok {
		config.ClientID = clientID
	}
	if clientSecret, ok := configMap["client_secret"].(string); ok {
		config.ClientSecret = clientSecret
	}
	if useMI, ok := configMap["use_managed_identity"].(bool); ok {
		config.UseManagedIdentity = useMI
	}
	if userAssignedID, ok := configMap["user_assigned_identity_id"].(string); ok {
		config.UserAssignedID = userAssignedID
	}
	if tagPrefix, ok := configMap["tag_prefix"].(string); ok && tagPrefix != "" {
		config.TagPrefix = tagPrefix
	}
	if ttlSec, ok := configMap["cache_ttl_seconds"].(int); ok {
		config.CacheTTL = time.Duration(ttlSec) * time.Second
	}
	if attempts, ok := configMap["retry_attempts"].(int); ok && attempts > 0 {
		config.Retry.MaxAttempts = attempts
	}
	if baseMs, ok := configMap["retry_base_ms"].(int); ok && baseMs > 0 {
		config.Retry.BaseDelay = time.Duration(baseMs) * time.Millisecond
	}

	if config.VaultURL == "" {
		return nil, dserrors.ConfigError{
			Field:      "vault_url",
			Message:    "vault_url is required for Azure Key Vault",
			Suggestion: "Provide the Key Vault URL (e.g., https://my-vault.vault.azure.net/)",
		}
	}
	if _, err := url.Parse(config.VaultURL); err != nil {
		return nil, dserrors.ConfigError{
			Field:      "vault_url",
			Message:    "Invalid vault_url format",
			Suggestion: "Use format: https://vault-name.vault.azure.net/",
		}
	}

	p := &AzureKeyVaultProvider{
		name:     name,
		priority: priority,
		logger:   logger,
		config:   config,
		cache:    newSecretCache(config.CacheTTL),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		client, err := newAzureKeyVaultClient(config)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure Key Vault client: %w", err)
		}
		p.client = client
	}

	return p, nil
}

func newAzureKeyVaultClient(config AzureKeyVaultConfig) (*azsecrets.Client, error) {
	var cred azcore.TokenCredential
	var err error

	switch {
	case config.ClientSecret != "":
		cred, err = azidentity.NewClientSecretCredential(config.TenantID, config.ClientID, config.ClientSecret, nil)
	case config.UseManagedIdentity && config.UserAssignedID != "":
		cred, err = azidentity.NewManagedIdentityCredential(&azidentity.ManagedIdentityCredentialOptions{
			ID: azidentity.ClientID(config.UserAssignedID),
		})
	case config.UseManagedIdentity:
		cred, err = azidentity.NewManagedIdentityCredential(nil)
	default:
		cred, err = azidentity.NewDefaultAzureCredential(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	return azsecrets.NewClient(config.VaultURL, cred, nil)
}

// Name returns the provider name.
func (p *AzureKeyVaultProvider) Name() string {
	return p.name
}

// Priority returns the provider's fallback-chain priority.
func (p *AzureKeyVaultProvider) Priority() int {
	return p.priority
}

// Initialize verifies vault connectivity with a minimal listing call.
func (p *AzureKeyVaultProvider) Initialize(ctx context.Context) error {
	err := withRetry(ctx, p.logger, p.config.Retry, p.name, "initialize", func() error {
		pager := p.client.NewListSecretPropertiesPager(nil)
		_, err := pager.NextPage(ctx)
		return err
	})
	if err != nil {
		return dserrors.ProviderError(p.name, "initialize", err)
	}
	return nil
}

// tag key helpers

func (p *AzureKeyVaultProvider) scopeTag() string   { return p.config.TagPrefix + "scope" }
func (p *AzureKeyVaultProvider) tagsTag() string    { return p.config.TagPrefix + "tags" }
func (p *AzureKeyVaultProvider) versionTag() string { return p.config.TagPrefix + "version" }

// Get returns the current version, served from the read cache when fresh, or
// a specific historical version, which always bypasses the cache.
func (p *AzureKeyVaultProvider) Get(ctx context.Context, name string, opts *provider.GetOptions) (*provider.SecretValue, error) {
	if err := provider.ValidateSecretName(name); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &provider.GetOptions{}
	}

	if opts.Version > 0 {
		metrics.CacheEvents.WithLabelValues(p.name, "bypass").Inc()
		return p.getVersion(ctx, name, opts)
	}

	if cached, ok := p.cache.Get(name); ok {
		metrics.CacheEvents.WithLabelValues(p.name, "hit").Inc()
		if cached.Expired(time.Now()) {
			if opts.Required {
				return nil, provider.ExpiredError{Provider: p.name, Name: name}
			}
			return nil, nil
		}
		return cached, nil
	}
	metrics.CacheEvents.WithLabelValues(p.name, "miss").Inc()

	var resp azsecrets.GetSecretResponse
	err := withRetry(ctx, p.logger, p.config.Retry, p.name, "get", func() error {
		var err error
		resp, err = p.client.GetSecret(ctx, name, "", nil)
		return err
	})
	if err != nil {
		if isAzureNotFound(err) {
			metrics.Operations.WithLabelValues(p.name, "get", "miss").Inc()
			if opts.Required {
				return nil, provider.NotFoundError{Provider: p.name, Name: name}
			}
			return nil, nil
		}
		return nil, err
	}

	value := p.secretValueFromResponse(name, resp.Secret)
	p.cache.Set(name, value)

	if value.Expired(time.Now()) {
		metrics.Operations.WithLabelValues(p.name, "get", "expired").Inc()
		if opts.Required {
			return nil, provider.ExpiredError{Provider: p.name, Name: name}
		}
		return nil, nil
	}

	metrics.Operations.WithLabelValues(p.name, "get", "hit").Inc()
	return value, nil
}

// getVersion resolves a numeric version to the vault's native version id by
// scanning version properties for the matching version tag, then fetches it
// authoritatively. Explicit-version reads return the payload even when
// expired.
func (p *AzureKeyVaultProvider) getVersion(ctx context.Context, name string, opts *provider.GetOptions) (*provider.SecretValue, error) {
	want := strconv.Itoa(opts.Version)
	var nativeVersion string

	err := withRetry(ctx, p.logger, p.config.Retry, p.name, "get-version", func() error {
		pager := p.client.NewListSecretPropertiesVersionsPager(name, nil)
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, props := range page.Value {
				if props == nil || props.ID == nil || props.Tags == nil {
					continue
				}
				if v := props.Tags[p.versionTag()]; v != nil && *v == want {
					nativeVersion = props.ID.Version()
					return nil
				}
			}
		}
		return nil
	})
	if err != nil {
		if isAzureNotFound(err) {
			if opts.Required {
				return nil, provider.NotFoundError{Provider: p.name, Name: name, Version: opts.Version}
			}
			return nil, nil
		}
		return nil, err
	}

	if nativeVersion == "" {
		metrics.Operations.WithLabelValues(p.name, "get", "miss").Inc()
		if opts.Required {
			return nil, provider.NotFoundError{Provider: p.name, Name: name, Version: opts.Version}
		}
		return nil, nil
	}

	var resp azsecrets.GetSecretResponse
	err = withRetry(ctx, p.logger, p.config.Retry, p.name, "get-version", func() error {
		var err error
		resp, err = p.client.GetSecret(ctx, name, nativeVersion, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.Operations.WithLabelValues(p.name, "get", "hit").Inc()
	return p.secretValueFromResponse(name, resp.Secret), nil
}

// Set writes a new version to the vault. Key Vault always creates a new
// native version on write; when the caller opts out of versioning the numeric
// version tag is simply left unchanged so the new payload presents as the
// same logical version.
func (p *AzureKeyVaultProvider) Set(ctx context.Context, name, value string, opts *provider.SetOptions) (*provider.SecretMetadata, error) {
	if err := provider.ValidateSecretName(name); err != nil {
		return nil, err
	}

	current, err := p.currentSecret(ctx, name)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	version := 1
	scope := provider.ScopeGlobal
	var tags []string

	if current != nil {
		version = current.Version
		if opts.VersionedWrite() {
			version++
		}
		scope = current.Scope
		tags = current.Tags
	}
	if opts != nil && opts.Scope != "" {
		scope = opts.Scope
	}
	if opts != nil && opts.Tags != nil {
		tags = opts.Tags
	}

	params, err := p.setParameters(value, version, scope, tags, opts.ResolveExpiry(now))
	if err != nil {
		return nil, err
	}

	var resp azsecrets.SetSecretResponse
	err = withRetry(ctx, p.logger, p.config.Retry, p.name, "set", func() error {
		var err error
		resp, err = p.client.SetSecret(ctx, name, params, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	p.cache.Invalidate(name)
	metrics.Operations.WithLabelValues(p.name, "set", "ok").Inc()

	meta := p.secretValueFromResponse(name, resp.Secret).SecretMetadata
	return &meta, nil
}

func (p *AzureKeyVaultProvider) setParameters(value string, version int, scope string, tags []string, expiresAt *time.Time) (azsecrets.SetSecretParameters, error) {
	tagJSON, err := json.Marshal(tags)
	if err != nil {
		return azsecrets.SetSecretParameters{}, fmt.Errorf("failed to encode tags: %w", err)
	}

	params := azsecrets.SetSecretParameters{
		Value: to.Ptr(value),
		Tags: map[string]*string{
			p.scopeTag():   to.Ptr(scope),
			p.tagsTag():    to.Ptr(string(tagJSON)),
			p.versionTag(): to.Ptr(strconv.Itoa(version)),
		},
	}
	if expiresAt != nil {
		params.SecretAttributes = &azsecrets.SecretAttributes{Expires: expiresAt}
	}
	return params, nil
}

// Delete removes the secret. Key Vault soft-deletes server side; from the
// caller's point of view the secret and its history are gone atomically.
func (p *AzureKeyVaultProvider) Delete(ctx context.Context, name string) (bool, error) {
	if err := provider.ValidateSecretName(name); err != nil {
		return false, err
	}

	err := withRetry(ctx, p.logger, p.config.Retry, p.name, "delete", func() error {
		_, err := p.client.DeleteSecret(ctx, name, nil)
		return err
	})
	p.cache.Invalidate(name)
	if err != nil {
		if isAzureNotFound(err) {
			return false, nil
		}
		return false, err
	}

	metrics.Operations.WithLabelValues(p.name, "delete", "ok").Inc()
	return true, nil
}

// List pages through every secret's properties and reconstructs metadata from
// the tag contract. Values are never fetched.
func (p *AzureKeyVaultProvider) List(ctx context.Context, opts *provider.ListOptions) ([]provider.SecretMetadata, error) {
	now := time.Now()
	var results []provider.SecretMetadata

	err := withRetry(ctx, p.logger, p.config.Retry, p.name, "list", func() error {
		results = results[:0]
		pager := p.client.NewListSecretPropertiesPager(nil)
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, props := range page.Value {
				if props == nil || props.ID == nil {
					continue
				}
				name := props.ID.Name()
				if provider.ValidateSecretName(name) != nil {
					continue
				}
				meta := p.metadataFromProperties(name, props)
				if opts.Match(&meta, now) {
					results = append(results, meta)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.Operations.WithLabelValues(p.name, "list", "ok").Inc()
	return results, nil
}

// Rotate writes a replacement value preserving scope and tags, then, when
// requested, sets the superseded native version's expiration to now. The old
// version is hidden from unqualified reads, never deleted.
func (p *AzureKeyVaultProvider) Rotate(ctx context.Context, name string, opts *provider.RotateOptions) (*provider.SecretMetadata, error) {
	if err := provider.ValidateSecretName(name); err != nil {
		return nil, err
	}
	if err := provider.ValidateRotateOptions(opts); err != nil {
		return nil, err
	}

	current, err := p.currentSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, provider.NotFoundError{Provider: p.name, Name: name}
	}

	meta, err := p.Set(ctx, name, opts.NewValue, &provider.SetOptions{
		Scope: current.Scope,
		Tags:  current.Tags,
	})
	if err != nil {
		return nil, err
	}

	if opts.ExpireOldVersion && current.nativeVersion != "" {
		now := time.Now().UTC()
		err := withRetry(ctx, p.logger, p.config.Retry, p.name, "expire-version", func() error {
			_, err := p.client.UpdateSecretProperties(ctx, name, current.nativeVersion, azsecrets.UpdateSecretPropertiesParameters{
				SecretAttributes: &azsecrets.SecretAttributes{Expires: &now},
			}, nil)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	metrics.Operations.WithLabelValues(p.name, "rotate", "ok").Inc()
	return meta, nil
}

// HealthCheck performs a minimal listing call and reports any failure as
// unhealthy. It never returns an error.
func (p *AzureKeyVaultProvider) HealthCheck(ctx context.Context) bool {
	pager := p.client.NewListSecretPropertiesPager(nil)
	if _, err := pager.NextPage(ctx); err != nil {
		p.logger.Debug("azure provider %q: health check failed: %v", p.name, err)
		return false
	}
	return true
}

// Close clears the read cache. Server-side state is unaffected.
func (p *AzureKeyVaultProvider) Close() error {
	p.cache.Clear()
	return nil
}

// azureCurrent carries the current secret's contract metadata plus the native
// version id needed to expire it during rotation.
type azureCurrent struct {
	provider.SecretMetadata
	nativeVersion string
}

func (p *AzureKeyVaultProvider) currentSecret(ctx context.Context, name string) (*azureCurrent, error) {
	var resp azsecrets.GetSecretResponse
	err := withRetry(ctx, p.logger, p.config.Retry, p.name, "get", func() error {
		var err error
		resp, err = p.client.GetSecret(ctx, name, "", nil)
		return err
	})
	if err != nil {
		if isAzureNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	value := p.secretValueFromResponse(name, resp.Secret)
	cur := &azureCurrent{SecretMetadata: value.SecretMetadata}
	if resp.ID != nil {
		cur.nativeVersion = resp.ID.Version()
	}
	return cur, nil
}

func (p *AzureKeyVaultProvider) secretValueFromResponse(name string, secret azsecrets.Secret) *provider.SecretValue {
	v := &provider.SecretValue{
		SecretMetadata: provider.SecretMetadata{
			Name:     name,
			Provider: p.name,
			Version:  1,
			Scope:    provider.ScopeGlobal,
		},
	}
	if secret.Value != nil {
		v.Value = *secret.Value
	}
	if secret.ID != nil {
		v.ID = string(*secret.ID)
	}
	p.applyTags(&v.SecretMetadata, secret.Tags)
	applyAzureAttributes(&v.SecretMetadata, secret.Attributes)
	return v
}

func (p *AzureKeyVaultProvider) metadataFromProperties(name string, props *azsecrets.SecretProperties) provider.SecretMetadata {
	meta := provider.SecretMetadata{
		Name:     name,
		Provider: p.name,
		Version:  1,
		Scope:    provider.ScopeGlobal,
	}
	if props.ID != nil {
		meta.ID = string(*props.ID)
	}
	p.applyTags(&meta, props.Tags)
	applyAzureAttributes(&meta, props.Attributes)
	return meta
}

func (p *AzureKeyVaultProvider) applyTags(meta *provider.SecretMetadata, tags map[string]*string) {
	if tags == nil {
		return
	}
	if scope := tags[p.scopeTag()]; scope != nil && *scope != "" {
		meta.Scope = *scope
	}
	if raw := tags[p.tagsTag()]; raw != nil && *raw != "" {
		var decoded []string
		// Malformed tag JSON means someone edited the vault tags by hand;
		// surface an empty tag set rather than failing the read.
		if err := json.Unmarshal([]byte(*raw), &decoded); err == nil {
			meta.Tags = decoded
		}
	}
	if raw := tags[p.versionTag()]; raw != nil {
		if v, err := strconv.Atoi(*raw); err == nil && v > 0 {
			meta.Version = v
		}
	}
}

func applyAzureAttributes(meta *provider.SecretMetadata, attrs *azsecrets.SecretAttributes) {
	if attrs == nil {
		return
	}
	if attrs.Created != nil {
		meta.CreatedAt = *attrs.Created
	}
	if attrs.Updated != nil {
		meta.UpdatedAt = *attrs.Updated
	}
	if attrs.Expires != nil {
		t := *attrs.Expires
		meta.ExpiresAt = &t
	}
}

// isAzureNotFound checks whether the error indicates an absent secret.
func isAzureNotFound(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == 404
	}
	return strings.Contains(err.Error(), "SecretNotFound") || strings.Contains(err.Error(), "404")
}

package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/fieldmaskpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	dserrors "github.com/Lobbi-Docs/secretops/internal/errors"
	"github.com/Lobbi-Docs/secretops/internal/logging"
	"github.com/Lobbi-Docs/secretops/internal/metrics"
	"github.com/Lobbi-Docs/secretops/pkg/provider"
)

// GCPSecretManagerClientAPI is the subset of Secret Manager operations this
// provider uses, with listing flattened to a slice so fakes stay simple. The
// real client is wrapped by gcpClientAdapter, which drains the SDK iterator.
type GCPSecretManagerClientAPI interface {
	CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest) (*secretmanagerpb.Secret, error)
	AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error)
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error)
	GetSecret(ctx context.Context, req *secretmanagerpb.GetSecretRequest) (*secretmanagerpb.Secret, error)
	UpdateSecret(ctx context.Context, req *secretmanagerpb.UpdateSecretRequest) (*secretmanagerpb.Secret, error)
	DeleteSecret(ctx context.Context, req *secretmanagerpb.DeleteSecretRequest) error
	DisableSecretVersion(ctx context.Context, req *secretmanagerpb.DisableSecretVersionRequest) (*secretmanagerpb.SecretVersion, error)
	ListSecrets(ctx context.Context, req *secretmanagerpb.ListSecretsRequest) ([]*secretmanagerpb.Secret, error)
	Close() error
}

// gcpClientAdapter wraps the real SDK client behind the narrow interface.
type gcpClientAdapter struct {
	client *secretmanager.Client
}

func (a *gcpClientAdapter) CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest) (*secretmanagerpb.Secret, error) {
	return a.client.CreateSecret(ctx, req)
}

func (a *gcpClientAdapter) AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error) {
	return a.client.AddSecretVersion(ctx, req)
}

func (a *gcpClientAdapter) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	return a.client.AccessSecretVersion(ctx, req)
}

func (a *gcpClientAdapter) GetSecret(ctx context.Context, req *secretmanagerpb.GetSecretRequest) (*secretmanagerpb.Secret, error) {
	return a.client.GetSecret(ctx, req)
}

func (a *gcpClientAdapter) UpdateSecret(ctx context.Context, req *secretmanagerpb.UpdateSecretRequest) (*secretmanagerpb.Secret, error) {
	return a.client.UpdateSecret(ctx, req)
}

func (a *gcpClientAdapter) DeleteSecret(ctx context.Context, req *secretmanagerpb.DeleteSecretRequest) error {
	return a.client.DeleteSecret(ctx, req)
}

func (a *gcpClientAdapter) DisableSecretVersion(ctx context.Context, req *secretmanagerpb.DisableSecretVersionRequest) (*secretmanagerpb.SecretVersion, error) {
	return a.client.DisableSecretVersion(ctx, req)
}

func (a *gcpClientAdapter) ListSecrets(ctx context.Context, req *secretmanagerpb.ListSecretsRequest) ([]*secretmanagerpb.Secret, error) {
	var secrets []*secretmanagerpb.Secret
	it := a.client.ListSecrets(ctx, req)
	for {
		secret, err := it.Next()
		if err == iterator.Done {
			return secrets, nil
		}
		if err != nil {
			return nil, err
		}
		secrets = append(secrets, secret)
	}
}

func (a *gcpClientAdapter) Close() error {
	return a.client.Close()
}

// GCPSecretManagerConfig holds GCP provider configuration.
type GCPSecretManagerConfig struct {
	ProjectID             string
	ServiceAccountKeyPath string
	TagPrefix             string
	CacheTTL              time.Duration
	Retry                 retryConfig
}

// GCPSecretManagerProvider adapts Google Secret Manager to the provider
// contract.
//
// Secret Manager versions are natively numeric, so version numbers map
// straight onto version resource names. Scope rides in a label (label values
// have a restrictive charset that scopes fit); the JSON tag array and the
// current version counter ride in annotations.
type GCPSecretManagerProvider struct {
	name     string
	priority int
	client   GCPSecretManagerClientAPI
	logger   *logging.Logger
	config   GCPSecretManagerConfig
	cache    *secretCache
}

// GCPProviderOption is a functional option for configuring GCP providers.
type GCPProviderOption func(*GCPSecretManagerProvider)

// WithGCPSecretManagerClient sets a custom Secret Manager client (for
// testing).
func WithGCPSecretManagerClient(client GCPSecretManagerClientAPI) GCPProviderOption {
	return func(p *GCPSecretManagerProvider) {
		p.client = client
	}
}

// NewGCPSecretManagerProvider creates a GCP Secret Manager provider from a
// config map.
func NewGCPSecretManagerProvider(name string, priority int, configMap map[string]interface{}, logger *logging.Logger, opts ...GCPProviderOption) (*GCPSecretManagerProvider, error) {
	config := GCPSecretManagerConfig{
		TagPrefix: defaultTagPrefix,
		CacheTTL:  defaultCacheTTL,
		Retry:     defaultRetryConfig(),
	}

	if projectID, ok := configMap["project_id"].(string); ok {
		config.ProjectID = projectID
	}
	if keyPath, ok := configMap["service_account_key_path"].(string); ok {
		config.ServiceAccountKeyPath = keyPath
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

	if config.ProjectID == "" {
		return nil, dserrors.ConfigError{
			Field:      "project_id",
			Message:    "project_id is required for GCP Secret Manager",
			Suggestion: "Set project_id in the provider config",
		}
	}

	p := &GCPSecretManagerProvider{
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
		var clientOpts []option.ClientOption
		if config.ServiceAccountKeyPath != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(config.ServiceAccountKeyPath))
		}
		client, err := secretmanager.NewClient(context.Background(), clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
		}
		p.client = &gcpClientAdapter{client: client}
	}

	return p, nil
}

// Name returns the provider name.
func (p *GCPSecretManagerProvider) Name() string {
	return p.name
}

// Priority returns the provider's fallback-chain priority.
func (p *GCPSecretManagerProvider) Priority() int {
	return p.priority
}

func (p *GCPSecretManagerProvider) parent() string {
	return "projects/" + p.config.ProjectID
}

func (p *GCPSecretManagerProvider) secretResource(name string) string {
	return p.parent() + "/secrets/" + name
}

func (p *GCPSecretManagerProvider) versionResource(name string, version int) string {
	return p.secretResource(name) + "/versions/" + strconv.Itoa(version)
}

func (p *GCPSecretManagerProvider) scopeLabel() string       { return p.config.TagPrefix + "scope" }
func (p *GCPSecretManagerProvider) tagsAnnotation() string    { return p.config.TagPrefix + "tags" }
func (p *GCPSecretManagerProvider) versionAnnotation() string { return p.config.TagPrefix + "version" }

// Initialize verifies connectivity and permissions with a minimal listing
// call.
func (p *GCPSecretManagerProvider) Initialize(ctx context.Context) error {
	return withRetry(ctx, p.logger, p.config.Retry, p.name, "initialize", func() error {
		_, err := p.client.ListSecrets(ctx, &secretmanagerpb.ListSecretsRequest{
			Parent:   p.parent(),
			PageSize: 1,
		})
		return err
	})
}

// Get returns the current version (cacheable) or an explicit numeric version,
// which maps directly onto a version resource and bypasses the cache.
func (p *GCPSecretManagerProvider) Get(ctx context.Context, name string, opts *provider.GetOptions) (*provider.SecretValue, error) {
	if err := provider.ValidateSecretName(name); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &provider.GetOptions{}
	}

	if opts.Version == 0 {
		if cached, ok := p.cache.Get(name); ok {
			metrics.CacheEvents.WithLabelValues(p.name, "hit").Inc()
			return p.filterExpired(cached, opts)
		}
		metrics.CacheEvents.WithLabelValues(p.name, "miss").Inc()
	} else {
		metrics.CacheEvents.WithLabelValues(p.name, "bypass").Inc()
	}

	versionName := p.secretResource(name) + "/versions/latest"
	if opts.Version > 0 {
		versionName = p.versionResource(name, opts.Version)
	}

	var access *secretmanagerpb.AccessSecretVersionResponse
	err := withRetry(ctx, p.logger, p.config.Retry, p.name, "get", func() error {
		var err error
		access, err = p.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: versionName})
		return err
	})
	if err != nil {
		if isGCPNotFound(err) {
			metrics.Operations.WithLabelValues(p.name, "get", "miss").Inc()
			if opts.Required {
				return nil, provider.NotFoundError{Provider: p.name, Name: name, Version: opts.Version}
			}
			return nil, nil
		}
		return nil, err
	}

	secret, err := p.getSecret(ctx, name)
	if err != nil {
		return nil, err
	}

	value := &provider.SecretValue{SecretMetadata: p.metadataFromSecret(name, secret)}
	if access.Payload != nil {
		value.Value = string(access.Payload.Data)
	}
	if access.Name != "" {
		if v := versionFromResource(access.Name); v > 0 {
			value.Version = v
		}
	}

	if opts.Version > 0 {
		// Explicit-version reads are returned even when the secret-level
		// expiration has passed.
		metrics.Operations.WithLabelValues(p.name, "get", "hit").Inc()
		return value, nil
	}

	p.cache.Set(name, value)
	metrics.Operations.WithLabelValues(p.name, "get", "hit").Inc()
	return p.filterExpired(value, opts)
}

func (p *GCPSecretManagerProvider) filterExpired(v *provider.SecretValue, opts *provider.GetOptions) (*provider.SecretValue, error) {
	if !v.Expired(time.Now()) {
		return v, nil
	}
	metrics.Operations.WithLabelValues(p.name, "get", "expired").Inc()
	if opts.Required {
		return nil, provider.ExpiredError{Provider: p.name, Name: v.Name}
	}
	return nil, nil
}

// Set creates the secret on first write, then adds a payload version. Secret
// Manager has no in-place overwrite, so opting out of versioning still adds a
// native version; version numbers always reflect the backend's own counter.
func (p *GCPSecretManagerProvider) Set(ctx context.Context, name, value string, opts *provider.SetOptions) (*provider.SecretMetadata, error) {
	if err := provider.ValidateSecretName(name); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	expiresAt := opts.ResolveExpiry(now)

	existing, err := p.getSecretOrNil(ctx, name)
	if err != nil {
		return nil, err
	}

	scope := provider.ScopeGlobal
	var tags []string
	if existing != nil {
		meta := p.metadataFromSecret(name, existing)
		scope = meta.Scope
		tags = meta.Tags
	}
	if opts != nil && opts.Scope != "" {
		scope = opts.Scope
	}
	if opts != nil && opts.Tags != nil {
		tags = opts.Tags
	}

	tagJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tags: %w", err)
	}

	if existing == nil {
		secret := &secretmanagerpb.Secret{
			Replication: &secretmanagerpb.Replication{
				Replication: &secretmanagerpb.Replication_Automatic_{
					Automatic: &secretmanagerpb.Replication_Automatic{},
				},
			},
			Labels:      map[string]string{p.scopeLabel(): scope},
			Annotations: map[string]string{p.tagsAnnotation(): string(tagJSON)},
		}
		if expiresAt != nil {
			secret.Expiration = &secretmanagerpb.Secret_ExpireTime{ExpireTime: timestamppb.New(*expiresAt)}
		}

		err = withRetry(ctx, p.logger, p.config.Retry, p.name, "set", func() error {
			_, err := p.client.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
				Parent:   p.parent(),
				SecretId: name,
				Secret:   secret,
			})
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	var version *secretmanagerpb.SecretVersion
	err = withRetry(ctx, p.logger, p.config.Retry, p.name, "set", func() error {
		var err error
		version, err = p.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
			Parent:  p.secretResource(name),
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	versionNum := versionFromResource(version.GetName())

	// Record the current version counter, scope, tags, and expiration on the
	// secret so List never needs per-secret version calls.
	update := &secretmanagerpb.Secret{
		Name:        p.secretResource(name),
		Labels:      map[string]string{p.scopeLabel(): scope},
		Annotations: map[string]string{p.tagsAnnotation(): string(tagJSON), p.versionAnnotation(): strconv.Itoa(versionNum)},
	}
	paths := []string{"labels", "annotations"}
	if expiresAt != nil {
		update.Expiration = &secretmanagerpb.Secret_ExpireTime{ExpireTime: timestamppb.New(*expiresAt)}
		paths = append(paths, "expire_time")
	}
	err = withRetry(ctx, p.logger, p.config.Retry, p.name, "set", func() error {
		_, err := p.client.UpdateSecret(ctx, &secretmanagerpb.UpdateSecretRequest{
			Secret:     update,
			UpdateMask: &fieldmaskpb.FieldMask{Paths: paths},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	p.cache.Invalidate(name)
	metrics.Operations.WithLabelValues(p.name, "set", "ok").Inc()

	return &provider.SecretMetadata{
		ID:        p.secretResource(name),
		Name:      name,
		Provider:  p.name,
		Version:   versionNum,
		Scope:     scope,
		Tags:      tags,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: expiresAt,
	}, nil
}

// Delete removes the secret and every version.
func (p *GCPSecretManagerProvider) Delete(ctx context.Context, name string) (bool, error) {
	if err := provider.ValidateSecretName(name); err != nil {
		return false, err
	}

	err := withRetry(ctx, p.logger, p.config.Retry, p.name, "delete", func() error {
		return p.client.DeleteSecret(ctx, &secretmanagerpb.DeleteSecretRequest{Name: p.secretResource(name)})
	})
	p.cache.Invalidate(name)
	if err != nil {
		if isGCPNotFound(err) {
			return false, nil
		}
		return false, err
	}

	metrics.Operations.WithLabelValues(p.name, "delete", "ok").Inc()
	return true, nil
}

// List reconstructs metadata from labels and annotations; no payloads are
// accessed.
func (p *GCPSecretManagerProvider) List(ctx context.Context, opts *provider.ListOptions) ([]provider.SecretMetadata, error) {
	now := time.Now()
	var results []provider.SecretMetadata

	err := withRetry(ctx, p.logger, p.config.Retry, p.name, "list", func() error {
		results = results[:0]
		secrets, err := p.client.ListSecrets(ctx, &secretmanagerpb.ListSecretsRequest{Parent: p.parent()})
		if err != nil {
			return err
		}
		for _, secret := range secrets {
			name := nameFromResource(secret.GetName())
			if provider.ValidateSecretName(name) != nil {
				continue
			}
			meta := p.metadataFromSecret(name, secret)
			if opts.Match(&meta, now) {
				results = append(results, meta)
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

// Rotate writes a replacement value preserving scope and tags. When
// ExpireOldVersion is set, the superseded version is disabled; Secret Manager
// has no per-version expiration, and disabling hides the version without
// destroying its payload.
func (p *GCPSecretManagerProvider) Rotate(ctx context.Context, name string, opts *provider.RotateOptions) (*provider.SecretMetadata, error) {
	if err := provider.ValidateSecretName(name); err != nil {
		return nil, err
	}
	if err := provider.ValidateRotateOptions(opts); err != nil {
		return nil, err
	}

	existing, err := p.getSecretOrNil(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, provider.NotFoundError{Provider: p.name, Name: name}
	}

	oldMeta := p.metadataFromSecret(name, existing)

	meta, err := p.Set(ctx, name, opts.NewValue, &provider.SetOptions{
		Scope: oldMeta.Scope,
		Tags:  oldMeta.Tags,
	})
	if err != nil {
		return nil, err
	}

	if opts.ExpireOldVersion && oldMeta.Version > 0 {
		err := withRetry(ctx, p.logger, p.config.Retry, p.name, "expire-version", func() error {
			_, err := p.client.DisableSecretVersion(ctx, &secretmanagerpb.DisableSecretVersionRequest{
				Name: p.versionResource(name, oldMeta.Version),
			})
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
// unhealthy.
func (p *GCPSecretManagerProvider) HealthCheck(ctx context.Context) bool {
	_, err := p.client.ListSecrets(ctx, &secretmanagerpb.ListSecretsRequest{
		Parent:   p.parent(),
		PageSize: 1,
	})
	if err != nil {
		p.logger.Debug("gcp provider %q: health check failed: %v", p.name, err)
		return false
	}
	return true
}

// Close clears the read cache and releases the gRPC connection.
func (p *GCPSecretManagerProvider) Close() error {
	p.cache.Clear()
	return p.client.Close()
}

func (p *GCPSecretManagerProvider) getSecret(ctx context.Context, name string) (*secretmanagerpb.Secret, error) {
	var secret *secretmanagerpb.Secret
	err := withRetry(ctx, p.logger, p.config.Retry, p.name, "describe", func() error {
		var err error
		secret, err = p.client.GetSecret(ctx, &secretmanagerpb.GetSecretRequest{Name: p.secretResource(name)})
		return err
	})
	return secret, err
}

func (p *GCPSecretManagerProvider) getSecretOrNil(ctx context.Context, name string) (*secretmanagerpb.Secret, error) {
	secret, err := p.getSecret(ctx, name)
	if err != nil {
		if isGCPNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return secret, nil
}

func (p *GCPSecretManagerProvider) metadataFromSecret(name string, secret *secretmanagerpb.Secret) provider.SecretMetadata {
	meta := provider.SecretMetadata{
		ID:       secret.GetName(),
		Name:     name,
		Provider: p.name,
		Version:  1,
		Scope:    provider.ScopeGlobal,
	}
	if ct := secret.GetCreateTime(); ct != nil {
		meta.CreatedAt = ct.AsTime()
		meta.UpdatedAt = ct.AsTime()
	}
	if labels := secret.GetLabels(); labels != nil {
		if scope := labels[p.scopeLabel()]; scope != "" {
			meta.Scope = scope
		}
	}
	if annotations := secret.GetAnnotations(); annotations != nil {
		if raw := annotations[p.tagsAnnotation()]; raw != "" {
			var decoded []string
			if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
				meta.Tags = decoded
			}
		}
		if raw := annotations[p.versionAnnotation()]; raw != "" {
			if v, err := strconv.Atoi(raw); err == nil && v > 0 {
				meta.Version = v
			}
		}
	}
	if expireTime := secret.GetExpireTime(); expireTime != nil {
		t := expireTime.AsTime()
		meta.ExpiresAt = &t
	}
	return meta
}

// versionFromResource parses the numeric suffix of a version resource name
// like "projects/p/secrets/s/versions/3".
func versionFromResource(resource string) int {
	idx := strings.LastIndex(resource, "/")
	if idx < 0 {
		return 0
	}
	v, err := strconv.Atoi(resource[idx+1:])
	if err != nil {
		return 0
	}
	return v
}

// nameFromResource parses the secret id out of a secret resource name like
// "projects/p/secrets/s".
func nameFromResource(resource string) string {
	idx := strings.LastIndex(resource, "/")
	if idx < 0 {
		return resource
	}
	return resource[idx+1:]
}

// isGCPNotFound checks whether the error indicates an absent secret or
// version.
func isGCPNotFound(err error) bool {
	if err == nil {
		return false
	}
	if st, ok := status.FromError(err); ok {
		return st.Code() == codes.NotFound
	}
	return false
}

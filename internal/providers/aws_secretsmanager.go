package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/Lobbi-Docs/secretops/internal/logging"
	"github.com/Lobbi-Docs/secretops/internal/metrics"
	"github.com/Lobbi-Docs/secretops/pkg/provider"
)

// SecretsManagerClientAPI is the subset of the AWS Secrets Manager client this
// provider uses. It exists so tests can inject a fake.
type SecretsManagerClientAPI interface {
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
	DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
	ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
	TagResource(ctx context.Context, params *secretsmanager.TagResourceInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.TagResourceOutput, error)
	UpdateSecretVersionStage(ctx context.Context, params *secretsmanager.UpdateSecretVersionStageInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.UpdateSecretVersionStageOutput, error)
}

// AWSSecretsManagerConfig holds AWS provider configuration.
type AWSSecretsManagerConfig struct {
	Region          string
	Endpoint        string // LocalStack or testing
	AccessKeyID     string
	SecretAccessKey string
	TagPrefix       string
	CacheTTL        time.Duration
	Retry           retryConfig
}

// AWSSecretsManagerProvider adapts AWS Secrets Manager to the provider
// contract.
//
// Secrets Manager versions are addressed by opaque ids and staging labels, so
// the numeric version counter is carried two ways: the current number in a
// resource tag, and a staging label "v<N>" attached to each version so
// explicit-version reads stay a single GetSecretValue call. Scope and custom
// tags follow the same tag contract as the other cloud backends; expiration,
// which Secrets Manager has no native concept of, rides in a tag and is
// enforced at read time.
type AWSSecretsManagerProvider struct {
	name     string
	priority int
	client   SecretsManagerClientAPI
	logger   *logging.Logger
	config   AWSSecretsManagerConfig
	cache    *secretCache
}

// AWSProviderOption is a functional option for configuring AWS providers.
type AWSProviderOption func(*AWSSecretsManagerProvider)

// WithSecretsManagerClient sets a custom Secrets Manager client (for testing).
func WithSecretsManagerClient(client SecretsManagerClientAPI) AWSProviderOption {
	return func(p *AWSSecretsManagerProvider) {
		p.client = client
	}
}

// NewAWSSecretsManagerProvider creates an AWS Secrets Manager provider from a
// config map.
func NewAWSSecretsManagerProvider(name string, priority int, configMap map[string]interface{}, logger *logging.Logger, opts ...AWSProviderOption) (*AWSSecretsManagerProvider, error) {
	cfg := AWSSecretsManagerConfig{
		Region:    "us-east-1",
		TagPrefix: defaultTagPrefix,
		CacheTTL:  defaultCacheTTL,
		Retry:     defaultRetryConfig(),
	}

	if r, ok := configMap["region"].(string); ok && r != "" {
		cfg.Region = r
	}
	if e, ok := configMap["endpoint"].(string); ok {
		cfg.Endpoint = e
	}
	if ak, ok := configMap["access_key_id"].(string); ok {
		cfg.AccessKeyID = ak
	}
	if sk, ok := configMap["secret_access_key"].(string); ok {
		cfg.SecretAccessKey = sk
	}
	if tagPrefix, ok := configMap["tag_prefix"].(string); ok && tagPrefix != "" {
		cfg.TagPrefix = tagPrefix
	}
	if ttlSec, ok := configMap["cache_ttl_seconds"].(int); ok {
		cfg.CacheTTL = time.Duration(ttlSec) * time.Second
	}
	if attempts, ok := configMap["retry_attempts"].(int); ok && attempts > 0 {
		cfg.Retry.MaxAttempts = attempts
	}

	p := &AWSSecretsManagerProvider{
		name:     name,
		priority: priority,
		logger:   logger,
		config:   cfg,
		cache:    newSecretCache(cfg.CacheTTL),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		configOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			configOpts = append(configOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
			))
		}

		awsCfg, err := config.LoadDefaultConfig(context.Background(), configOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		var clientOpts []func(*secretsmanager.Options)
		if cfg.Endpoint != "" {
			clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			})
		}
		p.client = secretsmanager.NewFromConfig(awsCfg, clientOpts...)
	}

	return p, nil
}

// Name returns the provider name.
func (p *AWSSecretsManagerProvider) Name() string {
	return p.name
}

// Priority returns the provider's fallback-chain priority.
func (p *AWSSecretsManagerProvider) Priority() int {
	return p.priority
}

// Initialize verifies connectivity and credentials with a minimal listing
// call.
func (p *AWSSecretsManagerProvider) Initialize(ctx context.Context) error {
	return withRetry(ctx, p.logger, p.config.Retry, p.name, "initialize", func() error {
		_, err := p.client.ListSecrets(ctx, &secretsmanager.ListSecretsInput{MaxResults: aws.Int32(1)})
		return err
	})
}

func (p *AWSSecretsManagerProvider) scopeTagKey() string   { return p.config.TagPrefix + "scope" }
func (p *AWSSecretsManagerProvider) tagsTagKey() string    { return p.config.TagPrefix + "tags" }
func (p *AWSSecretsManagerProvider) versionTagKey() string { return p.config.TagPrefix + "version" }
func (p *AWSSecretsManagerProvider) expiresTagKey() string { return p.config.TagPrefix + "expires" }

func stageLabel(version int) string {
	return "v" + strconv.Itoa(version)
}

// Get returns the current version (cacheable) or the version carrying the
// "v<N>" staging label (authoritative, cache bypassed).
func (p *AWSSecretsManagerProvider) Get(ctx context.Context, name string, opts *provider.GetOptions) (*provider.SecretValue, error) {
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

	input := &secretsmanager.GetSecretValueInput{SecretId: aws.String(name)}
	if opts.Version > 0 {
		input.VersionStage = aws.String(stageLabel(opts.Version))
	}

	var out *secretsmanager.GetSecretValueOutput
	err := withRetry(ctx, p.logger, p.config.Retry, p.name, "get", func() error {
		var err error
		out, err = p.client.GetSecretValue(ctx, input)
		return err
	})
	if err != nil {
		if isAWSNotFound(err) {
			metrics.Operations.WithLabelValues(p.name, "get", "miss").Inc()
			if opts.Required {
				return nil, provider.NotFoundError{Provider: p.name, Name: name, Version: opts.Version}
			}
			return nil, nil
		}
		return nil, err
	}

	desc, err := p.describe(ctx, name)
	if err != nil {
		return nil, err
	}

	value := &provider.SecretValue{SecretMetadata: p.metadataFromTags(name, desc.ARN, desc.Tags, desc.CreatedDate, desc.LastChangedDate)}
	if out.SecretString != nil {
		value.Value = *out.SecretString
	}
	if out.CreatedDate != nil && opts.Version > 0 {
		value.CreatedAt = *out.CreatedDate
		value.UpdatedAt = *out.CreatedDate
		value.Version = opts.Version
	}

	if opts.Version > 0 {
		// Explicit-version reads are returned even when expired.
		metrics.Operations.WithLabelValues(p.name, "get", "hit").Inc()
		return value, nil
	}

	p.cache.Set(name, value)
	metrics.Operations.WithLabelValues(p.name, "get", "hit").Inc()
	return p.filterExpired(value, opts)
}

func (p *AWSSecretsManagerProvider) filterExpired(v *provider.SecretValue, opts *provider.GetOptions) (*provider.SecretValue, error) {
	if !v.Expired(time.Now()) {
		return v, nil
	}
	metrics.Operations.WithLabelValues(p.name, "get", "expired").Inc()
	if opts.Required {
		return nil, provider.ExpiredError{Provider: p.name, Name: v.Name}
	}
	return nil, nil
}

// Set writes a new secret or a new version. Each version gets a "v<N>"
// staging label; the resource tags carry the current version number, scope,
// tag set, and expiration.
func (p *AWSSecretsManagerProvider) Set(ctx context.Context, name, value string, opts *provider.SetOptions) (*provider.SecretMetadata, error) {
	if err := provider.ValidateSecretName(name); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	desc, err := p.describe(ctx, name)
	if err != nil && !isAWSNotFound(err) {
		return nil, err
	}

	version := 1
	scope := provider.ScopeGlobal
	var tags []string

	if desc != nil {
		existing := p.metadataFromTags(name, desc.ARN, desc.Tags, desc.CreatedDate, desc.LastChangedDate)
		version = existing.Version
		if opts.VersionedWrite() {
			version++
		}
		scope = existing.Scope
		tags = existing.Tags
	}
	if opts != nil && opts.Scope != "" {
		scope = opts.Scope
	}
	if opts != nil && opts.Tags != nil {
		tags = opts.Tags
	}

	resourceTags, err := p.resourceTags(version, scope, tags, opts.ResolveExpiry(now))
	if err != nil {
		return nil, err
	}

	if desc == nil {
		var created *secretsmanager.CreateSecretOutput
		err = withRetry(ctx, p.logger, p.config.Retry, p.name, "set", func() error {
			var err error
			created, err = p.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
				Name:         aws.String(name),
				SecretString: aws.String(value),
				Tags:         resourceTags,
			})
			return err
		})
		if err != nil {
			return nil, err
		}

		// Label the initial version so explicit version-1 reads resolve.
		_, err = p.client.UpdateSecretVersionStage(ctx, &secretsmanager.UpdateSecretVersionStageInput{
			SecretId:        aws.String(name),
			VersionStage:    aws.String(stageLabel(1)),
			MoveToVersionId: created.VersionId,
		})
		if err != nil {
			return nil, err
		}
	} else {
		err = withRetry(ctx, p.logger, p.config.Retry, p.name, "set", func() error {
			_, err := p.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
				SecretId:      aws.String(name),
				SecretString:  aws.String(value),
				VersionStages: []string{"AWSCURRENT", stageLabel(version)},
			})
			return err
		})
		if err != nil {
			return nil, err
		}

		err = withRetry(ctx, p.logger, p.config.Retry, p.name, "set", func() error {
			_, err := p.client.TagResource(ctx, &secretsmanager.TagResourceInput{
				SecretId: aws.String(name),
				Tags:     resourceTags,
			})
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	p.cache.Invalidate(name)
	metrics.Operations.WithLabelValues(p.name, "set", "ok").Inc()

	meta := provider.SecretMetadata{
		Name:      name,
		Provider:  p.name,
		Version:   version,
		Scope:     scope,
		Tags:      tags,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: opts.ResolveExpiry(now),
	}
	if desc != nil && desc.ARN != nil {
		meta.ID = *desc.ARN
	}
	if desc != nil && desc.CreatedDate != nil {
		meta.CreatedAt = *desc.CreatedDate
	}
	return &meta, nil
}

func (p *AWSSecretsManagerProvider) resourceTags(version int, scope string, tags []string, expiresAt *time.Time) ([]types.Tag, error) {
	tagJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tags: %w", err)
	}

	resourceTags := []types.Tag{
		{Key: aws.String(p.scopeTagKey()), Value: aws.String(scope)},
		{Key: aws.String(p.tagsTagKey()), Value: aws.String(string(tagJSON))},
		{Key: aws.String(p.versionTagKey()), Value: aws.String(strconv.Itoa(version))},
	}
	if expiresAt != nil {
		resourceTags = append(resourceTags, types.Tag{
			Key:   aws.String(p.expiresTagKey()),
			Value: aws.String(expiresAt.Format(time.RFC3339)),
		})
	}
	return resourceTags, nil
}

// Delete force-deletes the secret and all versions without a recovery window.
func (p *AWSSecretsManagerProvider) Delete(ctx context.Context, name string) (bool, error) {
	if err := provider.ValidateSecretName(name); err != nil {
		return false, err
	}

	err := withRetry(ctx, p.logger, p.config.Retry, p.name, "delete", func() error {
		_, err := p.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
			SecretId:                   aws.String(name),
			ForceDeleteWithoutRecovery: aws.Bool(true),
		})
		return err
	})
	p.cache.Invalidate(name)
	if err != nil {
		if isAWSNotFound(err) {
			return false, nil
		}
		return false, err
	}

	metrics.Operations.WithLabelValues(p.name, "delete", "ok").Inc()
	return true, nil
}

// List pages through ListSecrets and reconstructs metadata from the tag
// contract.
func (p *AWSSecretsManagerProvider) List(ctx context.Context, opts *provider.ListOptions) ([]provider.SecretMetadata, error) {
	now := time.Now()
	var results []provider.SecretMetadata

	err := withRetry(ctx, p.logger, p.config.Retry, p.name, "list", func() error {
		results = results[:0]
		var nextToken *string
		for {
			out, err := p.client.ListSecrets(ctx, &secretsmanager.ListSecretsInput{NextToken: nextToken})
			if err != nil {
				return err
			}
			for _, entry := range out.SecretList {
				if entry.Name == nil || provider.ValidateSecretName(*entry.Name) != nil {
					continue
				}
				meta := p.metadataFromTags(*entry.Name, entry.ARN, entry.Tags, entry.CreatedDate, entry.LastChangedDate)
				if opts.Match(&meta, now) {
					results = append(results, meta)
				}
			}
			if out.NextToken == nil {
				return nil
			}
			nextToken = out.NextToken
		}
	})
	if err != nil {
		return nil, err
	}

	metrics.Operations.WithLabelValues(p.name, "list", "ok").Inc()
	return results, nil
}

// Rotate writes a replacement value preserving scope and tags. When
// ExpireOldVersion is set, the superseded version's "v<N>" staging label is
// removed; Secrets Manager has no per-version expiration, so unlabeling is
// how an old version is hidden without deleting it (it remains AWSPREVIOUS
// server side).
func (p *AWSSecretsManagerProvider) Rotate(ctx context.Context, name string, opts *provider.RotateOptions) (*provider.SecretMetadata, error) {
	if err := provider.ValidateSecretName(name); err != nil {
		return nil, err
	}
	if err := provider.ValidateRotateOptions(opts); err != nil {
		return nil, err
	}

	desc, err := p.describe(ctx, name)
	if err != nil {
		if isAWSNotFound(err) {
			return nil, provider.NotFoundError{Provider: p.name, Name: name}
		}
		return nil, err
	}

	existing := p.metadataFromTags(name, desc.ARN, desc.Tags, desc.CreatedDate, desc.LastChangedDate)
	oldVersion := existing.Version
	oldVersionID := currentVersionID(desc)

	meta, err := p.Set(ctx, name, opts.NewValue, &provider.SetOptions{
		Scope: existing.Scope,
		Tags:  existing.Tags,
	})
	if err != nil {
		return nil, err
	}

	if opts.ExpireOldVersion && oldVersionID != "" {
		err := withRetry(ctx, p.logger, p.config.Retry, p.name, "expire-version", func() error {
			_, err := p.client.UpdateSecretVersionStage(ctx, &secretsmanager.UpdateSecretVersionStageInput{
				SecretId:            aws.String(name),
				VersionStage:        aws.String(stageLabel(oldVersion)),
				RemoveFromVersionId: aws.String(oldVersionID),
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
func (p *AWSSecretsManagerProvider) HealthCheck(ctx context.Context) bool {
	_, err := p.client.ListSecrets(ctx, &secretsmanager.ListSecretsInput{MaxResults: aws.Int32(1)})
	if err != nil {
		p.logger.Debug("aws provider %q: health check failed: %v", p.name, err)
		return false
	}
	return true
}

// Close clears the read cache. Server-side state is unaffected.
func (p *AWSSecretsManagerProvider) Close() error {
	p.cache.Clear()
	return nil
}

func (p *AWSSecretsManagerProvider) describe(ctx context.Context, name string) (*secretsmanager.DescribeSecretOutput, error) {
	var out *secretsmanager.DescribeSecretOutput
	err := withRetry(ctx, p.logger, p.config.Retry, p.name, "describe", func() error {
		var err error
		out, err = p.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{SecretId: aws.String(name)})
		return err
	})
	return out, err
}

func (p *AWSSecretsManagerProvider) metadataFromTags(name string, arn *string, tags []types.Tag, created, updated *time.Time) provider.SecretMetadata {
	meta := provider.SecretMetadata{
		Name:     name,
		Provider: p.name,
		Version:  1,
		Scope:    provider.ScopeGlobal,
	}
	if arn != nil {
		meta.ID = *arn
	}
	if created != nil {
		meta.CreatedAt = *created
	}
	if updated != nil {
		meta.UpdatedAt = *updated
	}

	for _, tag := range tags {
		if tag.Key == nil || tag.Value == nil {
			continue
		}
		switch *tag.Key {
		case p.scopeTagKey():
			if *tag.Value != "" {
				meta.Scope = *tag.Value
			}
		case p.tagsTagKey():
			var decoded []string
			if err := json.Unmarshal([]byte(*tag.Value), &decoded); err == nil {
				meta.Tags = decoded
			}
		case p.versionTagKey():
			if v, err := strconv.Atoi(*tag.Value); err == nil && v > 0 {
				meta.Version = v
			}
		case p.expiresTagKey():
			if t, err := time.Parse(time.RFC3339, *tag.Value); err == nil {
				meta.ExpiresAt = &t
			}
		}
	}
	return meta
}

// currentVersionID finds the version id currently staged AWSCURRENT.
func currentVersionID(desc *secretsmanager.DescribeSecretOutput) string {
	for id, stages := range desc.VersionIdsToStages {
		for _, stage := range stages {
			if stage == "AWSCURRENT" {
				return id
			}
		}
	}
	return ""
}

// isAWSNotFound checks whether the error indicates an absent secret or
// version.
func isAWSNotFound(err error) bool {
	if err == nil {
		return false
	}
	var rnf *types.ResourceNotFoundException
	return errors.As(err, &rnf)
}

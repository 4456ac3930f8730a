package fakes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// SMVersion holds one stored version of a fake Secrets Manager secret.
type SMVersion struct {
	ID      string
	Value   string
	Stages  []string
	Created time.Time
}

// SMSecret holds all state of a fake Secrets Manager secret.
type SMSecret struct {
	ARN      string
	Name     string
	Tags     []types.Tag
	Versions []*SMVersion
	Created  time.Time
	Changed  time.Time
}

// FakeSecretsManagerClient is an in-memory implementation of the Secrets
// Manager client interface used by the AWS provider, including staging-label
// movement between versions.
type FakeSecretsManagerClient struct {
	mu         sync.Mutex
	Secrets    map[string]*SMSecret
	versionSeq int

	// Err, when set, is returned by every call. Use it to simulate outages.
	Err error
}

// NewFakeSecretsManagerClient creates an empty fake Secrets Manager.
func NewFakeSecretsManagerClient() *FakeSecretsManagerClient {
	return &FakeSecretsManagerClient{Secrets: make(map[string]*SMSecret)}
}

func awsNotFound() error {
	return &types.ResourceNotFoundException{Message: aws.String("Secrets Manager can't find the specified secret.")}
}

func (f *FakeSecretsManagerClient) nextVersionID() string {
	f.versionSeq++
	return fmt.Sprintf("version-%04d", f.versionSeq)
}

func (f *FakeSecretsManagerClient) lookup(secretID *string) (*SMSecret, error) {
	if secretID == nil {
		return nil, awsNotFound()
	}
	secret, exists := f.Secrets[*secretID]
	if !exists {
		return nil, awsNotFound()
	}
	return secret, nil
}

// CreateSecret creates a secret with an initial AWSCURRENT version.
func (f *FakeSecretsManagerClient) CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}

	name := aws.ToString(params.Name)
	if _, exists := f.Secrets[name]; exists {
		return nil, &types.ResourceExistsException{Message: aws.String("secret already exists")}
	}

	now := time.Now()
	v := &SMVersion{
		ID:      f.nextVersionID(),
		Value:   aws.ToString(params.SecretString),
		Stages:  []string{"AWSCURRENT"},
		Created: now,
	}
	f.Secrets[name] = &SMSecret{
		ARN:      "arn:aws:secretsmanager:us-east-1:000000000000:secret:" + name,
		Name:     name,
		Tags:     params.Tags,
		Versions: []*SMVersion{v},
		Created:  now,
		Changed:  now,
	}

	return &secretsmanager.CreateSecretOutput{
		ARN:       aws.String(f.Secrets[name].ARN),
		Name:      aws.String(name),
		VersionId: aws.String(v.ID),
	}, nil
}

// GetSecretValue returns the version carrying the requested staging label,
// AWSCURRENT by default.
func (f *FakeSecretsManagerClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}

	secret, err := f.lookup(params.SecretId)
	if err != nil {
		return nil, err
	}

	stage := "AWSCURRENT"
	if params.VersionStage != nil {
		stage = *params.VersionStage
	}

	for _, v := range secret.Versions {
		for _, s := range v.Stages {
			if s == stage {
				return &secretsmanager.GetSecretValueOutput{
					ARN:           aws.String(secret.ARN),
					Name:          aws.String(secret.Name),
					SecretString:  aws.String(v.Value),
					VersionId:     aws.String(v.ID),
					VersionStages: append([]string(nil), v.Stages...),
					CreatedDate:   aws.Time(v.Created),
				}, nil
			}
		}
	}
	return nil, awsNotFound()
}

// PutSecretValue stores a new version and moves AWSCURRENT onto it.
func (f *FakeSecretsManagerClient) PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}

	secret, err := f.lookup(params.SecretId)
	if err != nil {
		return nil, err
	}

	stages := params.VersionStages
	if len(stages) == 0 {
		stages = []string{"AWSCURRENT"}
	}
	for _, stage := range stages {
		f.removeStage(secret, stage, "AWSCURRENT")
	}

	now := time.Now()
	v := &SMVersion{
		ID:      f.nextVersionID(),
		Value:   aws.ToString(params.SecretString),
		Stages:  append([]string(nil), stages...),
		Created: now,
	}
	secret.Versions = append(secret.Versions, v)
	secret.Changed = now

	return &secretsmanager.PutSecretValueOutput{
		ARN:           aws.String(secret.ARN),
		Name:          aws.String(secret.Name),
		VersionId:     aws.String(v.ID),
		VersionStages: append([]string(nil), v.Stages...),
	}, nil
}

// removeStage strips stage from every version; the previous AWSCURRENT holder
// gets replacement instead, matching the real service's label movement.
func (f *FakeSecretsManagerClient) removeStage(secret *SMSecret, stage, _ string) {
	for _, v := range secret.Versions {
		kept := v.Stages[:0]
		for _, s := range v.Stages {
			if s == stage {
				if s == "AWSCURRENT" {
					kept = append(kept, "AWSPREVIOUS")
				}
				continue
			}
			kept = append(kept, s)
		}
		v.Stages = kept
	}
}

// DescribeSecret returns metadata including the version-to-stages map.
func (f *FakeSecretsManagerClient) DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}

	secret, err := f.lookup(params.SecretId)
	if err != nil {
		return nil, err
	}

	stages := make(map[string][]string, len(secret.Versions))
	for _, v := range secret.Versions {
		if len(v.Stages) > 0 {
			stages[v.ID] = append([]string(nil), v.Stages...)
		}
	}

	return &secretsmanager.DescribeSecretOutput{
		ARN:                aws.String(secret.ARN),
		Name:               aws.String(secret.Name),
		Tags:               secret.Tags,
		VersionIdsToStages: stages,
		CreatedDate:        aws.Time(secret.Created),
		LastChangedDate:    aws.Time(secret.Changed),
	}, nil
}

// DeleteSecret removes the secret entirely.
func (f *FakeSecretsManagerClient) DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}

	secret, err := f.lookup(params.SecretId)
	if err != nil {
		return nil, err
	}
	delete(f.Secrets, secret.Name)

	return &secretsmanager.DeleteSecretOutput{
		ARN:  aws.String(secret.ARN),
		Name: aws.String(secret.Name),
	}, nil
}

// ListSecrets returns every secret in one page.
func (f *FakeSecretsManagerClient) ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}

	out := &secretsmanager.ListSecretsOutput{}
	for _, secret := range f.Secrets {
		out.SecretList = append(out.SecretList, types.SecretListEntry{
			ARN:             aws.String(secret.ARN),
			Name:            aws.String(secret.Name),
			Tags:            secret.Tags,
			CreatedDate:     aws.Time(secret.Created),
			LastChangedDate: aws.Time(secret.Changed),
		})
	}
	return out, nil
}

// TagResource replaces tags by key.
func (f *FakeSecretsManagerClient) TagResource(ctx context.Context, params *secretsmanager.TagResourceInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.TagResourceOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}

	secret, err := f.lookup(params.SecretId)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]types.Tag, len(secret.Tags))
	for _, tag := range secret.Tags {
		byKey[aws.ToString(tag.Key)] = tag
	}
	for _, tag := range params.Tags {
		byKey[aws.ToString(tag.Key)] = tag
	}
	secret.Tags = secret.Tags[:0]
	for _, tag := range byKey {
		secret.Tags = append(secret.Tags, tag)
	}
	return &secretsmanager.TagResourceOutput{}, nil
}

// UpdateSecretVersionStage moves or removes a staging label.
func (f *FakeSecretsManagerClient) UpdateSecretVersionStage(ctx context.Context, params *secretsmanager.UpdateSecretVersionStageInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.UpdateSecretVersionStageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}

	secret, err := f.lookup(params.SecretId)
	if err != nil {
		return nil, err
	}

	stage := aws.ToString(params.VersionStage)

	if params.RemoveFromVersionId != nil {
		for _, v := range secret.Versions {
			if v.ID != *params.RemoveFromVersionId {
				continue
			}
			kept := v.Stages[:0]
			for _, s := range v.Stages {
				if s != stage {
					kept = append(kept, s)
				}
			}
			v.Stages = kept
		}
	}

	if params.MoveToVersionId != nil {
		for _, v := range secret.Versions {
			if v.ID == *params.MoveToVersionId {
				v.Stages = append(v.Stages, stage)
			}
		}
	}

	return &secretsmanager.UpdateSecretVersionStageOutput{}, nil
}

package fakes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

const fakeVaultURL = "https://fake-vault.vault.azure.net"

// KeyVaultVersion holds one stored version of a fake vault secret.
type KeyVaultVersion struct {
	ID         azsecrets.ID
	Value      string
	Tags       map[string]*string
	Attributes *azsecrets.SecretAttributes
}

// KeyVaultSecret holds all versions of a fake vault secret, oldest first.
type KeyVaultSecret struct {
	Versions []*KeyVaultVersion
}

// Current returns the latest version.
func (s *KeyVaultSecret) Current() *KeyVaultVersion {
	if len(s.Versions) == 0 {
		return nil
	}
	return s.Versions[len(s.Versions)-1]
}

// FakeKeyVaultClient is an in-memory implementation of the Key Vault client
// interface used by the Azure provider. Writes behave like the real vault:
// every SetSecret creates a new native version.
type FakeKeyVaultClient struct {
	mu         sync.Mutex
	Secrets    map[string]*KeyVaultSecret
	versionSeq int

	// Err, when set, is returned by every call. Use it to simulate outages.
	Err error

	// GetSecretCalls counts GetSecret invocations, for asserting on retry
	// and cache behavior.
	GetSecretCalls int
}

// NewFakeKeyVaultClient creates an empty fake vault.
func NewFakeKeyVaultClient() *FakeKeyVaultClient {
	return &FakeKeyVaultClient{Secrets: make(map[string]*KeyVaultSecret)}
}

func azureNotFound() error {
	return &azcore.ResponseError{StatusCode: 404, ErrorCode: "SecretNotFound"}
}

func (f *FakeKeyVaultClient) nextVersionID(name string) azsecrets.ID {
	f.versionSeq++
	return azsecrets.ID(fmt.Sprintf("%s/secrets/%s/%032x", fakeVaultURL, name, f.versionSeq))
}

// GetSecret returns the named secret, latest version when version is empty.
func (f *FakeKeyVaultClient) GetSecret(ctx context.Context, name, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetSecretCalls++

	if f.Err != nil {
		return azsecrets.GetSecretResponse{}, f.Err
	}

	secret, exists := f.Secrets[name]
	if !exists || len(secret.Versions) == 0 {
		return azsecrets.GetSecretResponse{}, azureNotFound()
	}

	v := secret.Current()
	if version != "" {
		v = nil
		for _, candidate := range secret.Versions {
			if candidate.ID.Version() == version {
				v = candidate
				break
			}
		}
		if v == nil {
			return azsecrets.GetSecretResponse{}, azureNotFound()
		}
	}

	return azsecrets.GetSecretResponse{Secret: azsecrets.Secret{
		ID:         to.Ptr(v.ID),
		Value:      to.Ptr(v.Value),
		Tags:       cloneTags(v.Tags),
		Attributes: v.Attributes,
	}}, nil
}

// SetSecret stores a new version of the named secret.
func (f *FakeKeyVaultClient) SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return azsecrets.SetSecretResponse{}, f.Err
	}

	now := time.Now()
	attrs := &azsecrets.SecretAttributes{
		Enabled: to.Ptr(true),
		Created: &now,
		Updated: &now,
	}
	if parameters.SecretAttributes != nil && parameters.SecretAttributes.Expires != nil {
		attrs.Expires = parameters.SecretAttributes.Expires
	}

	v := &KeyVaultVersion{
		ID:         f.nextVersionID(name),
		Tags:       cloneTags(parameters.Tags),
		Attributes: attrs,
	}
	if parameters.Value != nil {
		v.Value = *parameters.Value
	}

	secret, exists := f.Secrets[name]
	if !exists {
		secret = &KeyVaultSecret{}
		f.Secrets[name] = secret
	}
	secret.Versions = append(secret.Versions, v)

	return azsecrets.SetSecretResponse{Secret: azsecrets.Secret{
		ID:         to.Ptr(v.ID),
		Value:      to.Ptr(v.Value),
		Tags:       cloneTags(v.Tags),
		Attributes: v.Attributes,
	}}, nil
}

// DeleteSecret removes the named secret and all its versions.
func (f *FakeKeyVaultClient) DeleteSecret(ctx context.Context, name string, options *azsecrets.DeleteSecretOptions) (azsecrets.DeleteSecretResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return azsecrets.DeleteSecretResponse{}, f.Err
	}

	if _, exists := f.Secrets[name]; !exists {
		return azsecrets.DeleteSecretResponse{}, azureNotFound()
	}
	delete(f.Secrets, name)
	return azsecrets.DeleteSecretResponse{}, nil
}

// UpdateSecretProperties updates attributes and tags of a specific version.
func (f *FakeKeyVaultClient) UpdateSecretProperties(ctx context.Context, name, version string, parameters azsecrets.UpdateSecretPropertiesParameters, options *azsecrets.UpdateSecretPropertiesOptions) (azsecrets.UpdateSecretPropertiesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return azsecrets.UpdateSecretPropertiesResponse{}, f.Err
	}

	secret, exists := f.Secrets[name]
	if !exists {
		return azsecrets.UpdateSecretPropertiesResponse{}, azureNotFound()
	}
	for _, v := range secret.Versions {
		if v.ID.Version() != version {
			continue
		}
		if parameters.SecretAttributes != nil && parameters.SecretAttributes.Expires != nil {
			if v.Attributes == nil {
				v.Attributes = &azsecrets.SecretAttributes{}
			}
			v.Attributes.Expires = parameters.SecretAttributes.Expires
		}
		if parameters.Tags != nil {
			v.Tags = cloneTags(parameters.Tags)
		}
		return azsecrets.UpdateSecretPropertiesResponse{}, nil
	}
	return azsecrets.UpdateSecretPropertiesResponse{}, azureNotFound()
}

// NewListSecretPropertiesPager returns a single-page pager over the current
// version of every stored secret.
func (f *FakeKeyVaultClient) NewListSecretPropertiesPager(options *azsecrets.ListSecretPropertiesOptions) *runtime.Pager[azsecrets.ListSecretPropertiesResponse] {
	return runtime.NewPager(runtime.PagingHandler[azsecrets.ListSecretPropertiesResponse]{
		More: func(azsecrets.ListSecretPropertiesResponse) bool { return false },
		Fetcher: func(ctx context.Context, _ *azsecrets.ListSecretPropertiesResponse) (azsecrets.ListSecretPropertiesResponse, error) {
			f.mu.Lock()
			defer f.mu.Unlock()

			if f.Err != nil {
				return azsecrets.ListSecretPropertiesResponse{}, f.Err
			}

			var page azsecrets.ListSecretPropertiesResponse
			for _, secret := range f.Secrets {
				v := secret.Current()
				if v == nil {
					continue
				}
				page.Value = append(page.Value, &azsecrets.SecretProperties{
					ID:         to.Ptr(v.ID),
					Tags:       cloneTags(v.Tags),
					Attributes: v.Attributes,
				})
			}
			return page, nil
		},
	})
}

// NewListSecretPropertiesVersionsPager returns a single-page pager over every
// version of the named secret.
func (f *FakeKeyVaultClient) NewListSecretPropertiesVersionsPager(name string, options *azsecrets.ListSecretPropertiesVersionsOptions) *runtime.Pager[azsecrets.ListSecretPropertiesVersionsResponse] {
	return runtime.NewPager(runtime.PagingHandler[azsecrets.ListSecretPropertiesVersionsResponse]{
		More: func(azsecrets.ListSecretPropertiesVersionsResponse) bool { return false },
		Fetcher: func(ctx context.Context, _ *azsecrets.ListSecretPropertiesVersionsResponse) (azsecrets.ListSecretPropertiesVersionsResponse, error) {
			f.mu.Lock()
			defer f.mu.Unlock()

			if f.Err != nil {
				return azsecrets.ListSecretPropertiesVersionsResponse{}, f.Err
			}

			var page azsecrets.ListSecretPropertiesVersionsResponse
			secret, exists := f.Secrets[name]
			if !exists {
				return page, azureNotFound()
			}
			for _, v := range secret.Versions {
				page.Value = append(page.Value, &azsecrets.SecretProperties{
					ID:         to.Ptr(v.ID),
					Tags:       cloneTags(v.Tags),
					Attributes: v.Attributes,
				})
			}
			return page, nil
		},
	})
}

func cloneTags(tags map[string]*string) map[string]*string {
	if tags == nil {
		return nil
	}
	out := make(map[string]*string, len(tags))
	for k, v := range tags {
		if v == nil {
			out[k] = nil
			continue
		}
		out[k] = to.Ptr(*v)
	}
	return out
}

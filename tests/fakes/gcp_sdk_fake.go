package fakes

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// GCPVersion holds one stored version of a fake Secret Manager secret.
type GCPVersion struct {
	Number   int
	Data     []byte
	Disabled bool
	Created  time.Time
}

// GCPSecret holds all state of a fake Secret Manager secret.
type GCPSecret struct {
	Name        string // full resource name
	Labels      map[string]string
	Annotations map[string]string
	ExpireTime  *time.Time
	Versions    []*GCPVersion
	Created     time.Time
}

// FakeSecretManagerClient is an in-memory implementation of the Secret
// Manager client interface used by the GCP provider. Version numbers are
// native and monotonically increasing per secret, like the real service.
type FakeSecretManagerClient struct {
	mu      sync.Mutex
	Secrets map[string]*GCPSecret // keyed by resource name

	// Err, when set, is returned by every call. Use it to simulate outages.
	Err error

	Closed bool
}

// NewFakeSecretManagerClient creates an empty fake Secret Manager.
func NewFakeSecretManagerClient() *FakeSecretManagerClient {
	return &FakeSecretManagerClient{Secrets: make(map[string]*GCPSecret)}
}

func gcpNotFound() error {
	return status.Error(codes.NotFound, "secret not found")
}

func (f *FakeSecretManagerClient) CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest) (*secretmanagerpb.Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}

	resource := req.Parent + "/secrets/" + req.SecretId
	if _, exists := f.Secrets[resource]; exists {
		return nil, status.Error(codes.AlreadyExists, "secret already exists")
	}

	secret := &GCPSecret{
		Name:    resource,
		Created: time.Now(),
	}
	if req.Secret != nil {
		secret.Labels = cloneStringMap(req.Secret.Labels)
		secret.Annotations = cloneStringMap(req.Secret.Annotations)
		if et := req.Secret.GetExpireTime(); et != nil {
			t := et.AsTime()
			secret.ExpireTime = &t
		}
	}
	f.Secrets[resource] = secret
	return f.toProtoLocked(secret), nil
}

func (f *FakeSecretManagerClient) AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}

	secret, exists := f.Secrets[req.Parent]
	if !exists {
		return nil, gcpNotFound()
	}

	v := &GCPVersion{
		Number:  len(secret.Versions) + 1,
		Created: time.Now(),
	}
	if req.Payload != nil {
		v.Data = append([]byte(nil), req.Payload.Data...)
	}
	secret.Versions = append(secret.Versions, v)

	return &secretmanagerpb.SecretVersion{
		Name:       secret.Name + "/versions/" + strconv.Itoa(v.Number),
		State:      secretmanagerpb.SecretVersion_ENABLED,
		CreateTime: timestamppb.New(v.Created),
	}, nil
}

func (f *FakeSecretManagerClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}

	resource, versionRef, ok := splitVersionName(req.Name)
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "malformed version name")
	}

	secret, exists := f.Secrets[resource]
	if !exists || len(secret.Versions) == 0 {
		return nil, gcpNotFound()
	}

	var v *GCPVersion
	if versionRef == "latest" {
		v = secret.Versions[len(secret.Versions)-1]
	} else {
		n, err := strconv.Atoi(versionRef)
		if err != nil || n < 1 || n > len(secret.Versions) {
			return nil, gcpNotFound()
		}
		v = secret.Versions[n-1]
	}

	if v.Disabled {
		return nil, status.Error(codes.FailedPrecondition, "secret version is disabled")
	}

	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    secret.Name + "/versions/" + strconv.Itoa(v.Number),
		Payload: &secretmanagerpb.SecretPayload{Data: append([]byte(nil), v.Data...)},
	}, nil
}

func (f *FakeSecretManagerClient) GetSecret(ctx context.Context, req *secretmanagerpb.GetSecretRequest) (*secretmanagerpb.Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}

	secret, exists := f.Secrets[req.Name]
	if !exists {
		return nil, gcpNotFound()
	}
	return f.toProtoLocked(secret), nil
}

func (f *FakeSecretManagerClient) UpdateSecret(ctx context.Context, req *secretmanagerpb.UpdateSecretRequest) (*secretmanagerpb.Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}

	if req.Secret == nil {
		return nil, status.Error(codes.InvalidArgument, "secret is required")
	}
	secret, exists := f.Secrets[req.Secret.Name]
	if !exists {
		return nil, gcpNotFound()
	}

	paths := map[string]bool{}
	if req.UpdateMask != nil {
		for _, p := range req.UpdateMask.Paths {
			paths[p] = true
		}
	}
	if paths["labels"] {
		secret.Labels = cloneStringMap(req.Secret.Labels)
	}
	if paths["annotations"] {
		secret.Annotations = cloneStringMap(req.Secret.Annotations)
	}
	if paths["expire_time"] {
		if et := req.Secret.GetExpireTime(); et != nil {
			t := et.AsTime()
			secret.ExpireTime = &t
		} else {
			secret.ExpireTime = nil
		}
	}
	return f.toProtoLocked(secret), nil
}

func (f *FakeSecretManagerClient) DeleteSecret(ctx context.Context, req *secretmanagerpb.DeleteSecretRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return f.Err
	}

	if _, exists := f.Secrets[req.Name]; !exists {
		return gcpNotFound()
	}
	delete(f.Secrets, req.Name)
	return nil
}

func (f *FakeSecretManagerClient) DisableSecretVersion(ctx context.Context, req *secretmanagerpb.DisableSecretVersionRequest) (*secretmanagerpb.SecretVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}

	resource, versionRef, ok := splitVersionName(req.Name)
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "malformed version name")
	}
	secret, exists := f.Secrets[resource]
	if !exists {
		return nil, gcpNotFound()
	}
	n, err := strconv.Atoi(versionRef)
	if err != nil || n < 1 || n > len(secret.Versions) {
		return nil, gcpNotFound()
	}
	secret.Versions[n-1].Disabled = true

	return &secretmanagerpb.SecretVersion{
		Name:  req.Name,
		State: secretmanagerpb.SecretVersion_DISABLED,
	}, nil
}

func (f *FakeSecretManagerClient) ListSecrets(ctx context.Context, req *secretmanagerpb.ListSecretsRequest) ([]*secretmanagerpb.Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}

	var out []*secretmanagerpb.Secret
	prefix := req.Parent + "/secrets/"
	for name, secret := range f.Secrets {
		if strings.HasPrefix(name, prefix) {
			out = append(out, f.toProtoLocked(secret))
		}
	}
	return out, nil
}

func (f *FakeSecretManagerClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

func (f *FakeSecretManagerClient) toProtoLocked(secret *GCPSecret) *secretmanagerpb.Secret {
	pb := &secretmanagerpb.Secret{
		Name:        secret.Name,
		Labels:      cloneStringMap(secret.Labels),
		Annotations: cloneStringMap(secret.Annotations),
		CreateTime:  timestamppb.New(secret.Created),
	}
	if secret.ExpireTime != nil {
		pb.Expiration = &secretmanagerpb.Secret_ExpireTime{ExpireTime: timestamppb.New(*secret.ExpireTime)}
	}
	return pb
}

// splitVersionName splits ".../secrets/<id>/versions/<ref>" into the secret
// resource and the version reference.
func splitVersionName(name string) (resource, versionRef string, ok bool) {
	idx := strings.LastIndex(name, "/versions/")
	if idx < 0 {
		return "", "", false
	}
	return name[:idx], name[idx+len("/versions/"):], true
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

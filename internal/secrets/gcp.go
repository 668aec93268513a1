package secrets

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GCPBackend reads and rotates secrets in Google Secret Manager. Each Put
// adds a new secret version; Get always resolves "latest".
type GCPBackend struct {
	project string
	client  *secretmanager.Client
}

func NewGCPBackend(ctx context.Context, project string) (*GCPBackend, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager client: %w", err)
	}
	return &GCPBackend{project: project, client: client}, nil
}

func (b *GCPBackend) Get(ctx context.Context, name string) ([]byte, error) {
	resp, err := b.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s/versions/latest", b.project, name),
	})
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to access secret %q: %w", name, err)
	}
	return resp.GetPayload().GetData(), nil
}

func (b *GCPBackend) Put(ctx context.Context, name string, data []byte) error {
	_, err := b.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent:  fmt.Sprintf("projects/%s/secrets/%s", b.project, name),
		Payload: &secretmanagerpb.SecretPayload{Data: data},
	})
	if err != nil {
		return fmt.Errorf("failed to add version to secret %q: %w", name, err)
	}
	return nil
}

func (b *GCPBackend) Close() error {
	return b.client.Close()
}

package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by a backend when no secret exists under a name.
var ErrNotFound = errors.New("secret not found")

// Backend is a versioned key/value store of opaque secret blobs. Get reads
// the latest version; Put appends a new version so previous tokens remain
// recoverable.
type Backend interface {
	Get(ctx context.Context, name string) ([]byte, error)
	Put(ctx context.Context, name string, data []byte) error
}

// DirBackend keeps secrets as JSON files in a local directory. It exists
// for local runs and tests; production deployments use the Secret Manager
// backend.
type DirBackend struct {
	dir string
}

func NewDirBackend(dir string) (*DirBackend, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create secrets directory: %w", err)
	}
	return &DirBackend{dir: dir}, nil
}

func (b *DirBackend) path(name string) string {
	return filepath.Join(b.dir, name+".json")
}

func (b *DirBackend) Get(ctx context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(b.path(name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Put writes via a temp file and rename so a crash mid-write never leaves a
// truncated secret behind.
func (b *DirBackend) Put(ctx context.Context, name string, data []byte) error {
	tmp := b.path(name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, b.path(name))
}

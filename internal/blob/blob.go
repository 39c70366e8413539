// Package blob stores raw document bytes under content-addressed keys.
package blob

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/expense-intake/internal/common"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = fmt.Errorf("blob: %w", common.ErrNotFound)

// Store is an object store. Implementations are safe for concurrent use.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Key builds the storage key for a document: owner/aa/hash.ext, where aa is the
// first two hex characters of the content hash.
func Key(ownerID uuid.UUID, contentHash, ext string) string {
	prefix := contentHash
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	name := contentHash
	if ext = strings.TrimPrefix(strings.ToLower(ext), "."); ext != "" {
		name += "." + ext
	}
	return path.Join(ownerID.String(), prefix, name)
}

// Open returns the store selected by cfg.Backend.
func Open(ctx context.Context, cfg common.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "dir":
		return NewDirStore(cfg.Dir)
	case "minio":
		return NewMinIO(ctx, MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

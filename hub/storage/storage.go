package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

// ObjectStore is the collaborator contract for resource file storage.
// Implementations must make Delete fail loudly: the patch deletion
// workflow relies on the error to abort its surrounding transaction.
type ObjectStore interface {
	Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error

	Delete(ctx context.Context, key string) error

	// Presign returns a time-limited download URL for the object.
	Presign(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// ResourceKey builds the canonical object key for a patch resource:
// patch/{entryId}/{hash}/{fileName}.
func ResourceKey(patchId uint, hash, fileName string) string {
	return fmt.Sprintf("patch/%d/%s/%s", patchId, hash, fileName)
}

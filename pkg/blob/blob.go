package blob

import (
	"context"
	"io"

	"github.com/stashdav/stashdav/internal/logger"
)

// Store is the contract the engine consumes for object storage. Put returns
// the key actually written, which may differ from the requested one when the
// backend renames on collision; callers must record the returned key.
type Store interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	GetRange(ctx context.Context, key string, off, length int64) (io.ReadCloser, error)
	Copy(ctx context.Context, srcKey, dstKey string) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// List returns all keys under a prefix. Used by the orphan reaper.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Rollback is a best-effort delete used to compensate a put whose metadata
// commit failed. Its own failure is logged and never propagated.
func Rollback(ctx context.Context, s Store, key string) {
	if key == "" {
		return
	}
	if err := s.Delete(ctx, key); err != nil {
		log := logger.New("blob")
		log.Warn().Err(err).Str("key", key).Msg("rollback delete failed, blob orphaned")
	}
}

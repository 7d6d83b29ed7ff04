package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/stashdav/stashdav/internal/logger"
	"github.com/stashdav/stashdav/pkg/blob"
	"github.com/stashdav/stashdav/pkg/meta"
	"github.com/stashdav/stashdav/pkg/pathmap"
	"github.com/stashdav/stashdav/pkg/quota"
	"github.com/stashdav/stashdav/pkg/store"
)

// ErrInvalidPath marks paths that fail validation or escape the owner's
// prefix. The frontend renders it as not-found, never as a server error.
var ErrInvalidPath = errors.New("invalid path")

// MarkerName is the hidden zero-byte file that keeps empty folders alive.
const MarkerName = ".folder"

// Engine orchestrates blob storage, metadata and quota into atomic file
// operations. Every mutator follows reserve, put, commit, compensate on
// failure: the blob store holds the bytes, the metadata store decides
// visibility, and a failed commit rolls the blob back.
type Engine struct {
	store *store.Store
	blobs blob.Store
	quota *quota.Engine
	log   zerolog.Logger
}

func New(s *store.Store, blobs blob.Store, q *quota.Engine) *Engine {
	return &Engine{
		store: s,
		blobs: blobs,
		quota: q,
		log:   logger.New("engine"),
	}
}

func (e *Engine) Quota() *quota.Engine {
	return e.quota
}

func (e *Engine) Blobs() blob.Store {
	return e.blobs
}

// targetKey validates a webdav path and maps it to the owner's storage key.
func targetKey(ownerID uint, davPath string) (string, error) {
	if !pathmap.Validate(davPath) {
		return "", ErrInvalidPath
	}
	key := pathmap.New(ownerID).ToKey(davPath)
	if err := meta.EnforceOwnerPrefix(ownerID, key); err != nil {
		return "", ErrInvalidPath
	}
	return key, nil
}

// Upload stores a new file at davPath. size may be -1 when the content
// length is unknown, in which case the body is buffered first. The returned
// record carries the key actually written, which the blob backend may have
// suffixed on collision.
func (e *Engine) Upload(ctx context.Context, ownerID uint, davPath string, r io.Reader, size int64) (*store.File, error) {
	key, err := targetKey(ownerID, davPath)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.GetByOwnerKey(ctx, ownerID, key); err == nil {
		return nil, store.ErrConflict
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if size < 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		size = int64(len(data))
		r = bytes.NewReader(data)
	}

	if err := e.quota.Reserve(ctx, ownerID, size); err != nil {
		return nil, err
	}

	hr := meta.NewHashingReader(r)
	actualKey, err := e.blobs.Put(ctx, key, hr, size)
	if err != nil {
		if qerr := e.quota.Sub(ctx, ownerID, size); qerr != nil {
			e.log.Warn().Err(qerr).Uint("owner", ownerID).Msg("reservation release failed")
		}
		return nil, err
	}

	// the client's declared length is not trusted blindly
	if actual := hr.BytesRead(); actual != size {
		if err := e.quota.Adjust(ctx, ownerID, size, actual); err != nil {
			blob.Rollback(ctx, e.blobs, actualKey)
			if qerr := e.quota.Sub(ctx, ownerID, size); qerr != nil {
				e.log.Warn().Err(qerr).Uint("owner", ownerID).Msg("reservation release failed")
			}
			return nil, err
		}
		size = actual
	}

	now := time.Now().UTC()
	f := &store.File{
		OwnerID:    ownerID,
		Key:        actualKey,
		Size:       size,
		Mime:       meta.SniffMime(pathmap.Basename(davPath)),
		Sha256:     hr.Sum(),
		UploadedAt: now,
		ModifiedAt: now,
	}
	if err := e.store.CreateFile(ctx, f); err != nil {
		blob.Rollback(ctx, e.blobs, actualKey)
		if qerr := e.quota.Sub(ctx, ownerID, size); qerr != nil {
			e.log.Warn().Err(qerr).Uint("owner", ownerID).Msg("reservation release failed")
		}
		return nil, err
	}
	e.log.Debug().Str("key", actualKey).Int64("size", size).Msg("uploaded")
	return f, nil
}

// Overwrite atomically replaces an existing file's content. The new bytes go
// to a ".tmp" sibling key first; only after the metadata commit does the old
// content get touched, so a reader always sees either the old or the new
// state, never a torn mix and never a gap.
func (e *Engine) Overwrite(ctx context.Context, f *store.File, r io.Reader, size int64) (*store.File, error) {
	baseKey := f.Key
	oldSize := f.Size

	if size < 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		size = int64(len(data))
		r = bytes.NewReader(data)
	}

	if err := e.quota.Adjust(ctx, f.OwnerID, oldSize, size); err != nil {
		return nil, err
	}
	reverseQuota := func() {
		if err := e.quota.Adjust(ctx, f.OwnerID, size, oldSize); err != nil {
			e.log.Warn().Err(err).Uint("owner", f.OwnerID).Msg("quota reversal failed")
		}
	}

	hr := meta.NewHashingReader(r)
	tmpKey, err := e.blobs.Put(ctx, baseKey+".tmp", hr, size)
	if err != nil {
		reverseQuota()
		return nil, err
	}

	now := time.Now().UTC()
	err = e.store.Transaction(ctx, func(tx *gorm.DB) error {
		return tx.Model(f).Updates(map[string]any{
			"key":         tmpKey,
			"size":        size,
			"mime":        f.Mime,
			"sha256":      hr.Sum(),
			"modified_at": now,
		}).Error
	})
	if err != nil {
		blob.Rollback(ctx, e.blobs, tmpKey)
		reverseQuota()
		return nil, translateCommit(err)
	}
	f.Key = tmpKey
	f.Size = size
	f.Sha256 = hr.Sum()
	f.ModifiedAt = now

	// settle the blob back onto its canonical key; the new content is
	// already durable under tmpKey, so a failure here only degrades the key
	// shape until the next overwrite
	if err := e.moveRecord(ctx, f, baseKey); err != nil {
		e.log.Warn().Err(err).Str("key", tmpKey).Msg("settling overwrite onto canonical key failed")
	}
	return f, nil
}

// Delete removes a live file for good: record and quota in one transaction,
// blob via the store's post-delete hook.
func (e *Engine) Delete(ctx context.Context, f *store.File) error {
	return e.store.PurgeFile(ctx, f, func(tx *gorm.DB) error {
		return e.quota.SubTx(tx, f.OwnerID, f.Size)
	})
}

// DeleteFolder hard-deletes every live file under a folder and returns the
// count removed. Folder deletes bypass the trash; a folder has no single
// record to trash.
func (e *Engine) DeleteFolder(ctx context.Context, ownerID uint, folder string) (int, error) {
	prefix, err := targetKey(ownerID, folder)
	if err != nil {
		return 0, err
	}
	files, err := e.store.ListPrefix(ctx, ownerID, prefix)
	if err != nil {
		return 0, err
	}
	for i := range files {
		if err := e.Delete(ctx, &files[i]); err != nil {
			return i, err
		}
	}
	return len(files), nil
}

// translateCommit maps duplicate-key commit failures onto the conflict
// sentinel.
func translateCommit(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return store.ErrConflict
	}
	return err
}

// Open returns a reader over a file's full content.
func (e *Engine) Open(ctx context.Context, f *store.File) (io.ReadCloser, error) {
	return e.blobs.Get(ctx, f.Key)
}

// OpenRange returns a reader over a byte range of a file.
func (e *Engine) OpenRange(ctx context.Context, f *store.File, off, length int64) (io.ReadCloser, error) {
	return e.blobs.GetRange(ctx, f.Key, off, length)
}

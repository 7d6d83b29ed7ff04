package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/stashdav/stashdav/pkg/blob"
	"github.com/stashdav/stashdav/pkg/pathmap"
	"github.com/stashdav/stashdav/pkg/store"
)

// Copy duplicates a file to dstPath within the same owner. The blob copy is
// server-side; tags travel with the record.
func (e *Engine) Copy(ctx context.Context, f *store.File, dstPath string) (*store.File, error) {
	dstKey, err := targetKey(f.OwnerID, dstPath)
	if err != nil {
		return nil, err
	}
	// never land bytes on a live occupant's key
	if _, err := e.store.GetByOwnerKey(ctx, f.OwnerID, dstKey); err == nil {
		return nil, store.ErrConflict
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if err := e.quota.Reserve(ctx, f.OwnerID, f.Size); err != nil {
		return nil, err
	}
	if err := e.blobs.Copy(ctx, f.Key, dstKey); err != nil {
		if qerr := e.quota.Sub(ctx, f.OwnerID, f.Size); qerr != nil {
			e.log.Warn().Err(qerr).Uint("owner", f.OwnerID).Msg("reservation release failed")
		}
		return nil, err
	}

	now := time.Now().UTC()
	dup := &store.File{
		OwnerID:    f.OwnerID,
		Key:        dstKey,
		Size:       f.Size,
		Mime:       f.Mime,
		Sha256:     f.Sha256,
		UploadedAt: now,
		ModifiedAt: now,
		Tags:       f.Tags,
	}
	if err := e.store.CreateFile(ctx, dup); err != nil {
		blob.Rollback(ctx, e.blobs, dstKey)
		if qerr := e.quota.Sub(ctx, f.OwnerID, f.Size); qerr != nil {
			e.log.Warn().Err(qerr).Uint("owner", f.OwnerID).Msg("reservation release failed")
		}
		return nil, err
	}
	return dup, nil
}

// Move relocates a file to dstPath. Atomic from the caller's viewpoint: the
// record flips to the new key in one transaction after the blob copy, and
// only then is the source blob dropped, best effort.
func (e *Engine) Move(ctx context.Context, f *store.File, dstPath string) error {
	dstKey, err := targetKey(f.OwnerID, dstPath)
	if err != nil {
		return err
	}
	return e.moveRecord(ctx, f, dstKey)
}

// moveRecord implements the copy, commit, best-effort-delete move protocol
// against a destination key.
func (e *Engine) moveRecord(ctx context.Context, f *store.File, dstKey string) error {
	srcKey := f.Key
	if srcKey == dstKey {
		return nil
	}
	// a live occupant means the caller has not displaced the destination;
	// refusing here keeps its blob intact
	if _, err := e.store.GetByOwnerKey(ctx, f.OwnerID, dstKey); err == nil {
		return store.ErrConflict
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err := e.blobs.Copy(ctx, srcKey, dstKey); err != nil {
		return err
	}
	now := time.Now().UTC()
	err := e.store.Transaction(ctx, func(tx *gorm.DB) error {
		return tx.Model(f).Updates(map[string]any{
			"key":         dstKey,
			"modified_at": now,
		}).Error
	})
	if err != nil {
		blob.Rollback(ctx, e.blobs, dstKey)
		return translateCommit(err)
	}
	f.Key = dstKey
	f.ModifiedAt = now

	if err := e.blobs.Delete(ctx, srcKey); err != nil {
		e.log.Warn().Err(err).Str("key", srcKey).Msg("source blob delete failed, orphaned")
	}
	return nil
}

// MoveFolder moves every live file under srcFolder to the same relative
// location under dstFolder. Best effort: the first per-file failure aborts
// the walk, leaving already-moved files in place; the count of files moved
// is returned either way.
func (e *Engine) MoveFolder(ctx context.Context, ownerID uint, srcFolder, dstFolder string) (int, error) {
	srcPrefix, err := targetKey(ownerID, srcFolder)
	if err != nil {
		return 0, err
	}
	dstPrefix, err := targetKey(ownerID, dstFolder)
	if err != nil {
		return 0, err
	}

	files, err := e.store.ListPrefix(ctx, ownerID, srcPrefix)
	if err != nil {
		return 0, err
	}
	moved := 0
	for i := range files {
		rel := strings.TrimPrefix(files[i].Key, srcPrefix+"/")
		if err := e.moveRecord(ctx, &files[i], dstPrefix+"/"+rel); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// EnsureFolderMarker uploads a .folder marker when the folder has no live
// files, so a restore into an otherwise-empty parent keeps it visible. The
// user root needs no marker.
func (e *Engine) EnsureFolderMarker(ctx context.Context, ownerID uint, folder string) error {
	if pathmap.IsRoot(folder) {
		return nil
	}
	prefix, err := targetKey(ownerID, folder)
	if err != nil {
		return err
	}
	exists, err := e.store.ExistsUnderPrefix(ctx, ownerID, prefix)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = e.Upload(ctx, ownerID, pathmap.Join(folder, MarkerName), strings.NewReader(""), 0)
	return err
}

// CreateFolder materializes a folder by writing its hidden marker file.
func (e *Engine) CreateFolder(ctx context.Context, ownerID uint, folder string) error {
	if !pathmap.Validate(folder) || pathmap.IsRoot(folder) {
		return ErrInvalidPath
	}
	prefix, err := targetKey(ownerID, folder)
	if err != nil {
		return err
	}
	// occupied by a folder or a file already
	if exists, err := e.store.ExistsUnderPrefix(ctx, ownerID, prefix); err != nil {
		return err
	} else if exists {
		return store.ErrConflict
	}
	if _, err := e.store.GetByOwnerKey(ctx, ownerID, prefix); err == nil {
		return store.ErrConflict
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	_, err = e.Upload(ctx, ownerID, pathmap.Join(folder, MarkerName), strings.NewReader(""), 0)
	return err
}

package trash

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/stashdav/stashdav/internal/logger"
	"github.com/stashdav/stashdav/pkg/blob"
	"github.com/stashdav/stashdav/pkg/engine"
	"github.com/stashdav/stashdav/pkg/meta"
	"github.com/stashdav/stashdav/pkg/pathmap"
	"github.com/stashdav/stashdav/pkg/quota"
	"github.com/stashdav/stashdav/pkg/store"
)

const trashNameRetries = 3

// Engine implements the two-stage delete: files first become trashed records
// whose blob parks under the owner's trash prefix, then a restore, permanent
// delete or retention purge decides their fate. Trashed bytes keep their
// quota reservation.
type Engine struct {
	store     *store.Store
	files     *engine.Engine
	quota     *quota.Engine
	retention time.Duration
	log       zerolog.Logger
}

func New(s *store.Store, files *engine.Engine, q *quota.Engine, retentionDays int) *Engine {
	return &Engine{
		store:     s,
		files:     files,
		quota:     q,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		log:       logger.New("trash"),
	}
}

// trashName derives the unique trash identifier from the original filename:
// stem, double underscore, a UTC microsecond timestamp, extension.
func trashName(originalName string, now time.Time) string {
	stem, ext := meta.SplitStem(originalName)
	ts := now.UTC().Format("20060102T150405.000000")
	// Go has no strftime %f; strip the fraction separator instead
	ts = ts[:15] + ts[16:]
	return fmt.Sprintf("%s__%s%s", stem, ts, ext)
}

// SoftDelete moves a live file into the trash. The blob relocates under the
// owner's trash prefix so the live key is immediately reusable; quota is
// unchanged.
func (e *Engine) SoftDelete(ctx context.Context, f *store.File) error {
	if f.IsDeleted {
		return store.ErrNotFound
	}
	originalKey := f.Key
	name := pathmap.Basename("/" + originalKey)
	mapper := pathmap.New(f.OwnerID)
	blobs := e.files.Blobs()

	var lastErr error
	for attempt := 0; attempt < trashNameRetries; attempt++ {
		now := time.Now().UTC()
		tn := trashName(name, now)
		// the frontend forbids writes into the trash folder, so no live
		// record can ever claim this key
		trashKey := mapper.ToKey(pathmap.Join(pathmap.TrashFolder, tn))
		// an occupied trash key belongs to an earlier same-named delete;
		// retry with a fresh timestamp instead of touching its blob
		if taken, err := blobs.Exists(ctx, trashKey); err != nil {
			return err
		} else if taken {
			lastErr = store.ErrConflict
			continue
		}
		if err := blobs.Copy(ctx, originalKey, trashKey); err != nil {
			return err
		}
		err := e.store.DB().WithContext(ctx).Model(f).Updates(map[string]any{
			"key":          trashKey,
			"is_deleted":   true,
			"deleted_at":   now,
			"original_key": originalKey,
			"trash_name":   tn,
		}).Error
		if err == nil {
			f.Key = trashKey
			f.IsDeleted = true
			f.DeletedAt = &now
			f.OriginalKey = originalKey
			f.TrashName = tn
			if derr := blobs.Delete(ctx, originalKey); derr != nil {
				e.log.Warn().Err(derr).Str("key", originalKey).Msg("live blob delete failed, orphaned")
			}
			return nil
		}
		blob.Rollback(ctx, blobs, trashKey)
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
		lastErr = store.ErrConflict
	}
	return lastErr
}

// Restore brings a trashed file back to life at destKey (default: where it
// was deleted from). A live occupant at the destination forces a rename to
// "{stem} (restored){ext}" in the same parent, using the destination's stem.
func (e *Engine) Restore(ctx context.Context, f *store.File, destKey string) error {
	if !f.IsDeleted {
		return store.ErrNotFound
	}
	if destKey == "" {
		destKey = f.OriginalKey
	}
	if err := meta.EnforceOwnerPrefix(f.OwnerID, destKey); err != nil {
		return engine.ErrInvalidPath
	}

	mapper := pathmap.New(f.OwnerID)
	destPath := mapper.ToWebdav(destKey)

	if _, err := e.store.GetByOwnerKey(ctx, f.OwnerID, destKey); err == nil {
		stem, ext := meta.SplitStem(pathmap.Basename(destPath))
		destPath = pathmap.Join(pathmap.Parent(destPath), fmt.Sprintf("%s (restored)%s", stem, ext))
		destKey = mapper.ToKey(destPath)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if err := e.files.EnsureFolderMarker(ctx, f.OwnerID, pathmap.Parent(destPath)); err != nil {
		e.log.Warn().Err(err).Str("folder", pathmap.Parent(destPath)).Msg("parent marker creation failed")
	}

	clearAttrs := map[string]any{
		"is_deleted":   false,
		"deleted_at":   nil,
		"original_key": "",
		"trash_name":   "",
	}
	if f.Key != destKey {
		// relocate the blob first; the record stays addressable by trash
		// name until the trash attributes are dropped
		if err := e.files.Move(ctx, f, mapper.ToWebdav(destKey)); err != nil {
			return err
		}
	}
	if err := e.store.DB().WithContext(ctx).Model(f).Updates(clearAttrs).Error; err != nil {
		return translateCommit(err)
	}
	f.IsDeleted = false
	f.DeletedAt = nil
	f.OriginalKey = ""
	f.TrashName = ""
	return nil
}

// PermanentDelete removes a trashed file for good, releasing its quota in
// the same transaction; the store's post-delete hook drops the blob.
func (e *Engine) PermanentDelete(ctx context.Context, f *store.File) error {
	if !f.IsDeleted {
		return store.ErrNotFound
	}
	return e.store.PurgeFile(ctx, f, func(tx *gorm.DB) error {
		return e.quota.SubTx(tx, f.OwnerID, f.Size)
	})
}

// List returns an owner's trash, most recently deleted first.
func (e *Engine) List(ctx context.Context, ownerID uint) ([]store.File, error) {
	return e.store.ListTrash(ctx, ownerID)
}

// ByName finds a trashed file by its trash name.
func (e *Engine) ByName(ctx context.Context, ownerID uint, trashName string) (*store.File, error) {
	return e.store.GetTrashByOwnerName(ctx, ownerID, trashName)
}

// ByOriginalName finds the first trashed file whose original basename
// matches. The trash folder lists items under their original names; on a
// pile-up of same-named deletes the newest wins.
func (e *Engine) ByOriginalName(ctx context.Context, ownerID uint, name string) (*store.File, error) {
	files, err := e.store.ListTrash(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for i := range files {
		if pathmap.Basename("/"+files[i].OriginalKey) == name {
			return &files[i], nil
		}
	}
	return nil, store.ErrNotFound
}

// Empty permanently deletes everything in an owner's trash and returns the
// count removed. The first failure stops the drain; earlier deletions stand.
func (e *Engine) Empty(ctx context.Context, ownerID uint) (int, error) {
	files, err := e.store.ListTrash(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	for i := range files {
		if err := e.PermanentDelete(ctx, &files[i]); err != nil {
			return i, err
		}
	}
	return len(files), nil
}

// PurgeExpired permanently deletes up to batch trashed files older than the
// retention window, oldest first. Safe to run repeatedly; aborts on the
// first failure.
func (e *Engine) PurgeExpired(ctx context.Context, now time.Time, batch int) (int, error) {
	cutoff := now.UTC().Add(-e.retention)
	files, err := e.store.ListTrashExpired(ctx, cutoff, batch)
	if err != nil {
		return 0, err
	}
	for i := range files {
		if err := e.PermanentDelete(ctx, &files[i]); err != nil {
			return i, err
		}
		e.log.Info().Str("trash_name", files[i].TrashName).Uint("owner", files[i].OwnerID).Msg("purged expired trash item")
	}
	return len(files), nil
}

func translateCommit(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return store.ErrConflict
	}
	return err
}

// CountExpired reports how many trashed files a purge run would remove.
func (e *Engine) CountExpired(ctx context.Context, now time.Time, batch int) (int, error) {
	files, err := e.store.ListTrashExpired(ctx, now.UTC().Add(-e.retention), batch)
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

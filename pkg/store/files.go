package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// live scopes a query to non-deleted records.
func live(db *gorm.DB) *gorm.DB {
	return db.Where("is_deleted = ?", false)
}

func prefixPattern(prefix string) string {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return escapeLike(prefix) + "%"
}

// escapeLike protects LIKE metacharacters in a literal prefix.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

func (s *Store) CreateFile(ctx context.Context, f *File) error {
	return translate(s.db.WithContext(ctx).Create(f).Error)
}

func (s *Store) SaveFile(ctx context.Context, f *File) error {
	return translate(s.db.WithContext(ctx).Save(f).Error)
}

// GetFileByID reads a record in the all view.
func (s *Store) GetFileByID(ctx context.Context, id uint) (*File, error) {
	var f File
	err := s.db.WithContext(ctx).Preload("Tags").First(&f, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &f, nil
}

// GetByOwnerKey reads a live record by its storage key.
func (s *Store) GetByOwnerKey(ctx context.Context, ownerID uint, key string) (*File, error) {
	var f File
	err := live(s.db.WithContext(ctx)).Preload("Tags").
		First(&f, "owner_id = ? AND key = ?", ownerID, key).Error
	if err != nil {
		return nil, translate(err)
	}
	return &f, nil
}

// GetTrashByOwnerName reads a trashed record by its trash name.
func (s *Store) GetTrashByOwnerName(ctx context.Context, ownerID uint, trashName string) (*File, error) {
	var f File
	err := s.db.WithContext(ctx).Preload("Tags").
		First(&f, "owner_id = ? AND is_deleted = ? AND trash_name = ?", ownerID, true, trashName).Error
	if err != nil {
		return nil, translate(err)
	}
	return &f, nil
}

// ExistsUnderPrefix reports whether any live record's key starts with
// prefix + "/".
func (s *Store) ExistsUnderPrefix(ctx context.Context, ownerID uint, prefix string) (bool, error) {
	var one int
	err := live(s.db.WithContext(ctx).Model(&File{})).Select("1").
		Where("owner_id = ? AND key LIKE ? ESCAPE '\\'", ownerID, prefixPattern(prefix)).
		Take(&one).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ListPrefix returns live records whose key starts with prefix + "/",
// ordered by key.
func (s *Store) ListPrefix(ctx context.Context, ownerID uint, prefix string) ([]File, error) {
	var files []File
	err := live(s.db.WithContext(ctx)).
		Where("owner_id = ? AND key LIKE ? ESCAPE '\\'", ownerID, prefixPattern(prefix)).
		Order("key").Find(&files).Error
	return files, err
}

// ListTrash returns trashed records, most recently deleted first.
func (s *Store) ListTrash(ctx context.Context, ownerID uint) ([]File, error) {
	var files []File
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND is_deleted = ?", ownerID, true).
		Order("deleted_at DESC").Find(&files).Error
	return files, err
}

// ListTrashExpired returns trashed records with deleted_at at or before the
// cutoff, oldest first, up to limit.
func (s *Store) ListTrashExpired(ctx context.Context, cutoff time.Time, limit int) ([]File, error) {
	var files []File
	q := s.db.WithContext(ctx).
		Where("is_deleted = ? AND deleted_at <= ?", true, cutoff).
		Order("deleted_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&files).Error
	return files, err
}

// SumSize totals record sizes for an owner. Trash is included by default;
// trashed bytes still occupy quota.
func (s *Store) SumSize(ctx context.Context, ownerID uint, includeTrash bool) (int64, error) {
	var total int64
	q := s.db.WithContext(ctx).Model(&File{}).Where("owner_id = ?", ownerID)
	if !includeTrash {
		q = live(q)
	}
	err := q.Select("COALESCE(SUM(size), 0)").Scan(&total).Error
	return total, err
}

// UpdateKeysUnderPrefix rewrites the key prefix of every live record below
// oldPrefix and returns the number of rows changed. Metadata-only; callers
// are responsible for the blobs.
func (s *Store) UpdateKeysUnderPrefix(ctx context.Context, ownerID uint, oldPrefix, newPrefix string) (int64, error) {
	old := strings.TrimSuffix(oldPrefix, "/") + "/"
	nw := strings.TrimSuffix(newPrefix, "/") + "/"
	res := live(s.db.WithContext(ctx).Model(&File{})).
		Where("owner_id = ? AND key LIKE ? ESCAPE '\\'", ownerID, prefixPattern(oldPrefix)).
		Updates(map[string]any{
			"key":         gorm.Expr("? || SUBSTR(key, ?)", nw, len(old)+1),
			"modified_at": time.Now().UTC(),
		})
	return res.RowsAffected, translate(res.Error)
}

// ListAllKeys returns every record key of an owner, trash included. The
// orphan reaper diffs this against the blob store.
func (s *Store) ListAllKeys(ctx context.Context, ownerID uint) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).Model(&File{}).
		Where("owner_id = ?", ownerID).Pluck("key", &keys).Error
	return keys, err
}

// ListPrincipalIDs returns the ids of all principals.
func (s *Store) ListPrincipalIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&Principal{}).Pluck("id", &ids).Error
	return ids, err
}

// PurgeFile removes a record for good. The row (and its tag links) is
// deleted together with any extra work in a single transaction; after the
// commit the delete hook disposes of the blob. Hook failures are logged and
// swallowed so that a blob hiccup cannot resurrect a committed delete.
func (s *Store) PurgeFile(ctx context.Context, f *File, extra func(tx *gorm.DB) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(f).Association("Tags").Clear(); err != nil {
			return err
		}
		res := tx.Delete(&File{}, f.ID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if extra != nil {
			return extra(tx)
		}
		return nil
	})
	if err != nil {
		return translate(err)
	}
	if s.deleteHook != nil {
		s.deleteHook(ctx, f.Key)
	}
	return nil
}

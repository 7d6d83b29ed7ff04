package store

import (
	"context"
)

func (s *Store) CreateTag(ctx context.Context, ownerID uint, name, color string) (*Tag, error) {
	t := &Tag{OwnerID: ownerID, Name: name, Color: color}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, translate(err)
	}
	return t, nil
}

func (s *Store) ListTags(ctx context.Context, ownerID uint) ([]Tag, error) {
	var tags []Tag
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).Order("name").Find(&tags).Error
	return tags, err
}

func (s *Store) DeleteTag(ctx context.Context, ownerID, tagID uint) error {
	res := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).Delete(&Tag{}, tagID)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetFileTags replaces a file's tag set.
func (s *Store) SetFileTags(ctx context.Context, f *File, tags []Tag) error {
	return s.db.WithContext(ctx).Model(f).Association("Tags").Replace(tags)
}

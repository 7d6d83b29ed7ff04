package store

import (
	"time"
)

// Principal is an authenticated end user. The gateway only ever reads these;
// account management happens out of band.
type Principal struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"size:150;uniqueIndex;not null"`
	PasswordHash string `gorm:"size:128;not null"`
	Active       bool   `gorm:"not null;default:true"`
	CreatedAt    time.Time
}

// File is the metadata record for one stored object. A record is either live
// (IsDeleted false) or trashed; a trashed record's Key points at the blob
// parked under the owner's trash prefix, with the pre-delete location kept
// in OriginalKey.
//
// Uniqueness of (owner_id, key) among live records and (owner_id, trash_name)
// among trashed records is enforced by partial indexes created in Open.
type File struct {
	ID         uint   `gorm:"primaryKey"`
	OwnerID    uint   `gorm:"not null;index:idx_files_owner_key;index:idx_files_owner_deleted"`
	Key        string `gorm:"size:1024;not null;index:idx_files_owner_key"`
	Size       int64  `gorm:"not null"`
	Mime       string `gorm:"size:255"`
	Sha256     string `gorm:"size:64;index"`
	UploadedAt time.Time
	ModifiedAt time.Time

	IsDeleted   bool       `gorm:"not null;default:false;index:idx_files_owner_deleted"`
	DeletedAt   *time.Time `gorm:"index:idx_files_owner_deleted"`
	OriginalKey string     `gorm:"size:1024"`
	TrashName   string     `gorm:"size:1024"`

	Tags []Tag `gorm:"many2many:file_tags;constraint:OnDelete:CASCADE"`
}

// Tag is a per-owner label. (owner_id, name) is unique.
type Tag struct {
	ID        uint   `gorm:"primaryKey"`
	OwnerID   uint   `gorm:"not null;uniqueIndex:uq_tags_owner_name"`
	Name      string `gorm:"size:100;not null;uniqueIndex:uq_tags_owner_name"`
	Color     string `gorm:"size:7"`
	CreatedAt time.Time
}

// Quota tracks byte usage per principal. Used may exceed Limit after a limit
// downgrade; only new reservations are checked against Limit.
type Quota struct {
	OwnerID    uint  `gorm:"primaryKey"`
	LimitBytes int64 `gorm:"not null;check:limit_bytes >= 0"`
	UsedBytes  int64 `gorm:"not null;default:0;check:used_bytes >= 0"`
}

// Session is one active WebDAV client connection context.
type Session struct {
	ID           uint   `gorm:"primaryKey"`
	SessionID    string `gorm:"size:32;uniqueIndex;not null"`
	OwnerID      uint   `gorm:"not null;index"`
	IP           string `gorm:"size:45"`
	UserAgent    string `gorm:"size:255"`
	StartedAt    time.Time
	LastActivity time.Time `gorm:"index"`
}

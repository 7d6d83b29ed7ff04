package store

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/stashdav/stashdav/internal/logger"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// DeleteHook is invoked after a file record has been physically removed and
// its transaction committed. Implementations delete the blob; errors are
// logged and swallowed, orphans are the reaper's problem.
type DeleteHook func(ctx context.Context, key string)

// Store wraps the metadata database.
type Store struct {
	db         *gorm.DB
	log        zerolog.Logger
	deleteHook DeleteHook
}

// Open opens (creating if needed) the sqlite database at path and migrates
// the schema.
func Open(path string) (*Store, error) {
	// busy timeout keeps concurrent writers queueing instead of failing
	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&Principal{},
		&File{},
		&Tag{},
		&Quota{},
		&Session{},
	); err != nil {
		return nil, err
	}

	// Partial unique indexes: AutoMigrate cannot express the is_deleted
	// predicate, so they are created directly.
	stmts := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_files_owner_key_live ON files(owner_id, "key") WHERE is_deleted = 0`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_files_owner_trash_name ON files(owner_id, trash_name) WHERE is_deleted = 1`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return nil, err
		}
	}

	return &Store{
		db:  db,
		log: logger.New("store"),
	}, nil
}

// DB exposes the underlying handle for packages owning their own queries.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// OnDelete installs the post-delete blob hook.
func (s *Store) OnDelete(h DeleteHook) {
	s.deleteHook = h
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Transaction runs fn inside a database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// translate maps gorm errors to the store's sentinel errors.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConflict
	default:
		return err
	}
}

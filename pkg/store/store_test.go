package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mkFile(t *testing.T, s *Store, owner uint, key string, size int64) *File {
	t.Helper()
	now := time.Now().UTC()
	f := &File{
		OwnerID:    owner,
		Key:        key,
		Size:       size,
		Mime:       "application/octet-stream",
		Sha256:     "deadbeef",
		UploadedAt: now,
		ModifiedAt: now,
	}
	require.NoError(t, s.CreateFile(context.Background(), f))
	return f
}

func trashFile(t *testing.T, s *Store, f *File, name string, deletedAt time.Time) {
	t.Helper()
	f.IsDeleted = true
	f.DeletedAt = &deletedAt
	f.OriginalKey = f.Key
	f.TrashName = name
	require.NoError(t, s.SaveFile(context.Background(), f))
}

func TestLiveKeyUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mkFile(t, s, 7, "7/a.txt", 5)

	dup := &File{OwnerID: 7, Key: "7/a.txt", Size: 1}
	err := s.CreateFile(ctx, dup)
	assert.ErrorIs(t, err, ErrConflict)

	// a different owner may hold the same relative key
	mkFile(t, s, 8, "8/a.txt", 5)
}

func TestTrashedKeyFreesLiveSlot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := mkFile(t, s, 7, "7/a.txt", 5)
	trashFile(t, s, f, "a__20260101T000000000000.txt", time.Now().UTC())

	// the live slot is free again
	mkFile(t, s, 7, "7/a.txt", 9)

	// but trash names are unique per owner
	g := mkFile(t, s, 7, "7/b.txt", 1)
	g.IsDeleted = true
	now := time.Now().UTC()
	g.DeletedAt = &now
	g.OriginalKey = g.Key
	g.TrashName = "a__20260101T000000000000.txt"
	assert.ErrorIs(t, s.SaveFile(ctx, g), ErrConflict)
}

func TestGetByOwnerKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := mkFile(t, s, 7, "7/docs/a.txt", 5)

	got, err := s.GetByOwnerKey(ctx, 7, "7/docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)

	_, err = s.GetByOwnerKey(ctx, 8, "7/docs/a.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	trashFile(t, s, f, "a__x.txt", time.Now().UTC())
	_, err = s.GetByOwnerKey(ctx, 7, "7/docs/a.txt")
	assert.ErrorIs(t, err, ErrNotFound, "trashed records leave the live view")

	got, err = s.GetTrashByOwnerName(ctx, 7, "a__x.txt")
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)
}

func TestPrefixQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mkFile(t, s, 7, "7/docs/a.txt", 1)
	mkFile(t, s, 7, "7/docs/sub/b.txt", 1)
	mkFile(t, s, 7, "7/docsother/c.txt", 1)
	mkFile(t, s, 8, "8/docs/d.txt", 1)

	files, err := s.ListPrefix(ctx, 7, "7/docs")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "7/docs/a.txt", files[0].Key)
	assert.Equal(t, "7/docs/sub/b.txt", files[1].Key)

	ok, err := s.ExistsUnderPrefix(ctx, 7, "7/docs")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ExistsUnderPrefix(ctx, 7, "7/nothing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSumSize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mkFile(t, s, 7, "7/a.txt", 100)
	f := mkFile(t, s, 7, "7/b.txt", 200)
	trashFile(t, s, f, "b__x.txt", time.Now().UTC())
	mkFile(t, s, 8, "8/c.txt", 999)

	all, err := s.SumSize(ctx, 7, true)
	require.NoError(t, err)
	assert.Equal(t, int64(300), all)

	liveOnly, err := s.SumSize(ctx, 7, false)
	require.NoError(t, err)
	assert.Equal(t, int64(100), liveOnly)
}

func TestListTrashOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := mkFile(t, s, 7, "7/old.txt", 1)
	trashFile(t, s, old, "old__x.txt", time.Now().UTC().Add(-48*time.Hour))
	recent := mkFile(t, s, 7, "7/new.txt", 1)
	trashFile(t, s, recent, "new__x.txt", time.Now().UTC())

	trash, err := s.ListTrash(ctx, 7)
	require.NoError(t, err)
	require.Len(t, trash, 2)
	assert.Equal(t, "new__x.txt", trash[0].TrashName)

	expired, err := s.ListTrashExpired(ctx, time.Now().UTC().Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "old__x.txt", expired[0].TrashName)
}

func TestUpdateKeysUnderPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mkFile(t, s, 7, "7/a/x.txt", 1)
	mkFile(t, s, 7, "7/a/sub/y.txt", 1)
	mkFile(t, s, 7, "7/ab/z.txt", 1)

	n, err := s.UpdateKeysUnderPrefix(ctx, 7, "7/a", "7/b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.GetByOwnerKey(ctx, 7, "7/b/x.txt")
	assert.NoError(t, err)
	_, err = s.GetByOwnerKey(ctx, 7, "7/b/sub/y.txt")
	assert.NoError(t, err)
	_, err = s.GetByOwnerKey(ctx, 7, "7/ab/z.txt")
	assert.NoError(t, err, "sibling prefix must not be touched")
}

func TestPurgeFileFiresHook(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var deleted []string
	s.OnDelete(func(_ context.Context, key string) {
		deleted = append(deleted, key)
	})

	f := mkFile(t, s, 7, "7/a.txt", 5)
	require.NoError(t, s.PurgeFile(ctx, f, nil))
	assert.Equal(t, []string{"7/a.txt"}, deleted)

	_, err := s.GetFileByID(ctx, f.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// purge of a gone record reports not found and fires no hook
	err = s.PurgeFile(ctx, f, nil)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, deleted, 1)
}

func TestPurgeFileExtraFailureRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hookFired := false
	s.OnDelete(func(context.Context, string) { hookFired = true })

	f := mkFile(t, s, 7, "7/a.txt", 5)
	err := s.PurgeFile(ctx, f, func(tx *gorm.DB) error {
		return assert.AnError
	})
	require.Error(t, err)
	assert.False(t, hookFired)

	_, err = s.GetFileByID(ctx, f.ID)
	assert.NoError(t, err, "record survives a failed transaction")
}

func TestPrincipals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreatePrincipal(ctx, "alice", "opensesame")
	require.NoError(t, err)

	got, ok := s.Authenticate(ctx, "alice", "opensesame")
	require.True(t, ok)
	assert.Equal(t, p.ID, got.ID)

	_, ok = s.Authenticate(ctx, "alice", "wrong")
	assert.False(t, ok)
	_, ok = s.Authenticate(ctx, "nobody", "opensesame")
	assert.False(t, ok)

	p.Active = false
	require.NoError(t, s.DB().Save(p).Error)
	_, ok = s.Authenticate(ctx, "alice", "opensesame")
	assert.False(t, ok)

	_, err = s.CreatePrincipal(ctx, "alice", "again")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestTags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	vac, err := s.CreateTag(ctx, 7, "vacation", "#ff0000")
	require.NoError(t, err)
	_, err = s.CreateTag(ctx, 7, "vacation", "#00ff00")
	assert.ErrorIs(t, err, ErrConflict)
	_, err = s.CreateTag(ctx, 8, "vacation", "#00ff00")
	assert.NoError(t, err, "tag names are scoped per owner")

	f := mkFile(t, s, 7, "7/a.txt", 1)
	require.NoError(t, s.SetFileTags(ctx, f, []Tag{*vac}))

	got, err := s.GetFileByID(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, got.Tags, 1)
	assert.Equal(t, "vacation", got.Tags[0].Name)

	tags, err := s.ListTags(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, tags, 1)
}

package trash

import (
	"context"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashdav/stashdav/pkg/blob"
	"github.com/stashdav/stashdav/pkg/engine"
	"github.com/stashdav/stashdav/pkg/quota"
	"github.com/stashdav/stashdav/pkg/store"
)

func newTestTrash(t *testing.T) (*Engine, *engine.Engine, *store.Store, *blob.MemoryStore) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	blobs := blob.NewMemory()
	q := quota.New(s, 10<<20)
	files := engine.New(s, blobs, q)
	s.OnDelete(func(ctx context.Context, key string) {
		_ = blobs.Delete(ctx, key)
	})
	return New(s, files, q, 30), files, s, blobs
}

func upload(t *testing.T, files *engine.Engine, owner uint, path, body string) *store.File {
	t.Helper()
	f, err := files.Upload(context.Background(), owner, path, strings.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	return f
}

func readBack(t *testing.T, files *engine.Engine, f *store.File) string {
	t.Helper()
	rc, err := files.Open(context.Background(), f)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func usedBytes(t *testing.T, q *quota.Engine, owner uint) int64 {
	t.Helper()
	row, err := q.Get(context.Background(), owner)
	require.NoError(t, err)
	return row.UsedBytes
}

func TestTrashNameShape(t *testing.T) {
	now := time.Date(2026, 8, 25, 10, 15, 30, 123456000, time.UTC)
	assert.Equal(t, "photo__20260825T101530123456.jpg", trashName("photo.jpg", now))
	assert.Equal(t, "noext__20260825T101530123456", trashName("noext", now))
}

func TestSoftDelete(t *testing.T) {
	e, files, s, blobs := newTestTrash(t)
	ctx := context.Background()

	f := upload(t, files, 7, "/docs/a.txt", "hello")
	require.NoError(t, e.SoftDelete(ctx, f))

	assert.True(t, f.IsDeleted)
	assert.Equal(t, "7/docs/a.txt", f.OriginalKey)
	assert.Regexp(t, regexp.MustCompile(`^a__\d{8}T\d{12}\.txt$`), f.TrashName)
	assert.Equal(t, "7/.Trash/"+f.TrashName, f.Key)

	// gone from the live view; the blob parked under the trash prefix and
	// the live key is free again, quota untouched
	_, err := s.GetByOwnerKey(ctx, 7, "7/docs/a.txt")
	assert.ErrorIs(t, err, store.ErrNotFound)
	ok, err := blobs.Exists(ctx, "7/docs/a.txt")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = blobs.Exists(ctx, f.Key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", readBack(t, files, f))
	assert.Equal(t, int64(5), usedBytes(t, files.Quota(), 7))

	// double delete is rejected
	assert.ErrorIs(t, e.SoftDelete(ctx, f), store.ErrNotFound)
}

// Deleting a file must free its storage key: an immediate re-upload to the
// same path lands on the canonical key, and the trashed bytes survive it.
func TestSoftDeleteFreesKeyForReupload(t *testing.T) {
	e, files, s, _ := newTestTrash(t)
	ctx := context.Background()

	orig := upload(t, files, 7, "/r.txt", "A")
	require.NoError(t, e.SoftDelete(ctx, orig))

	replacement := upload(t, files, 7, "/r.txt", "B")
	assert.Equal(t, "7/r.txt", replacement.Key)

	got, err := s.GetByOwnerKey(ctx, 7, "7/r.txt")
	require.NoError(t, err)
	assert.Equal(t, "B", readBack(t, files, got))

	trashed, err := e.ByName(ctx, 7, orig.TrashName)
	require.NoError(t, err)
	assert.Equal(t, "A", readBack(t, files, trashed))
}

func TestRestoreToOriginalKey(t *testing.T) {
	e, files, s, _ := newTestTrash(t)
	ctx := context.Background()

	f := upload(t, files, 7, "/docs/a.txt", "hello")
	require.NoError(t, e.SoftDelete(ctx, f))
	require.NoError(t, e.Restore(ctx, f, ""))

	got, err := s.GetByOwnerKey(ctx, 7, "7/docs/a.txt")
	require.NoError(t, err)
	assert.False(t, got.IsDeleted)
	assert.Equal(t, "hello", readBack(t, files, got))

	trashList, err := e.List(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, trashList)
}

// Deleting /r.txt, uploading a new /r.txt, then restoring the original must
// land it at "/r (restored).txt" with the old bytes, leaving the new file in
// place.
func TestRestoreWithConflictRename(t *testing.T) {
	e, files, s, _ := newTestTrash(t)
	ctx := context.Background()

	orig := upload(t, files, 7, "/r.txt", "A")
	require.NoError(t, e.SoftDelete(ctx, orig))
	upload(t, files, 7, "/r.txt", "B")

	require.NoError(t, e.Restore(ctx, orig, ""))

	restored, err := s.GetByOwnerKey(ctx, 7, "7/r (restored).txt")
	require.NoError(t, err)
	assert.Equal(t, "A", readBack(t, files, restored))

	current, err := s.GetByOwnerKey(ctx, 7, "7/r.txt")
	require.NoError(t, err)
	assert.Equal(t, "B", readBack(t, files, current))
}

func TestRestoreKeepsTags(t *testing.T) {
	e, files, s, _ := newTestTrash(t)
	ctx := context.Background()

	tag, err := s.CreateTag(ctx, 7, "vacation", "#00ff00")
	require.NoError(t, err)
	f := upload(t, files, 7, "/a.txt", "hello")
	require.NoError(t, s.SetFileTags(ctx, f, []store.Tag{*tag}))

	require.NoError(t, e.SoftDelete(ctx, f))
	require.NoError(t, e.Restore(ctx, f, ""))

	got, err := s.GetFileByID(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, got.Tags, 1)
	assert.Equal(t, "vacation", got.Tags[0].Name)
}

func TestRestoreCreatesParentMarker(t *testing.T) {
	e, files, s, _ := newTestTrash(t)
	ctx := context.Background()

	f := upload(t, files, 7, "/folder/only.txt", "x")
	require.NoError(t, e.SoftDelete(ctx, f))

	// the folder has no other live files, so restore materializes a marker
	require.NoError(t, e.Restore(ctx, f, ""))
	_, err := s.GetByOwnerKey(ctx, 7, "7/folder/.folder")
	assert.NoError(t, err)
}

func TestPermanentDelete(t *testing.T) {
	e, files, s, blobs := newTestTrash(t)
	ctx := context.Background()

	f := upload(t, files, 7, "/a.txt", "hello")
	require.NoError(t, e.SoftDelete(ctx, f))
	require.NoError(t, e.PermanentDelete(ctx, f))

	_, err := s.GetFileByID(ctx, f.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 0, blobs.Len())
	assert.Equal(t, int64(0), usedBytes(t, files.Quota(), 7))

	// live files cannot be permanently deleted through the trash
	g := upload(t, files, 7, "/b.txt", "x")
	assert.ErrorIs(t, e.PermanentDelete(ctx, g), store.ErrNotFound)
}

func TestByOriginalName(t *testing.T) {
	e, files, _, _ := newTestTrash(t)
	ctx := context.Background()

	f := upload(t, files, 7, "/docs/a.txt", "hello")
	require.NoError(t, e.SoftDelete(ctx, f))

	got, err := e.ByOriginalName(ctx, 7, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)

	_, err = e.ByOriginalName(ctx, 7, "missing.txt")
	assert.ErrorIs(t, err, store.ErrNotFound)

	byName, err := e.ByName(ctx, 7, f.TrashName)
	require.NoError(t, err)
	assert.Equal(t, f.ID, byName.ID)
}

func TestEmpty(t *testing.T) {
	e, files, _, blobs := newTestTrash(t)
	ctx := context.Background()

	for _, p := range []string{"/a.txt", "/b.txt", "/c.txt"} {
		f := upload(t, files, 7, p, "xx")
		require.NoError(t, e.SoftDelete(ctx, f))
	}
	keep := upload(t, files, 7, "/keep.txt", "xx")

	n, err := e.Empty(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	trashList, err := e.List(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, trashList)
	assert.Equal(t, int64(2), usedBytes(t, files.Quota(), 7))
	assert.Equal(t, 1, blobs.Len())
	assert.Equal(t, "xx", readBack(t, files, keep))
}

// A 31-day-old trash item is purged, blob and quota included; a 29-day-old
// sibling survives.
func TestPurgeExpired(t *testing.T) {
	e, files, s, blobs := newTestTrash(t)
	ctx := context.Background()

	aged := upload(t, files, 7, "/old.bin", strings.Repeat("x", 200))
	require.NoError(t, e.SoftDelete(ctx, aged))
	fresh := upload(t, files, 7, "/new.bin", strings.Repeat("y", 50))
	require.NoError(t, e.SoftDelete(ctx, fresh))

	agedAt := time.Now().UTC().Add(-31 * 24 * time.Hour)
	require.NoError(t, s.DB().Model(&store.File{}).
		Where("id = ?", aged.ID).Update("deleted_at", agedAt).Error)
	freshAt := time.Now().UTC().Add(-29 * 24 * time.Hour)
	require.NoError(t, s.DB().Model(&store.File{}).
		Where("id = ?", fresh.ID).Update("deleted_at", freshAt).Error)

	pending, err := e.CountExpired(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	n, err := e.PurgeExpired(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetFileByID(ctx, aged.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	ok, err := blobs.Exists(ctx, aged.Key)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, blobs.Len())
	assert.Equal(t, int64(50), usedBytes(t, files.Quota(), 7))

	_, err = s.GetFileByID(ctx, fresh.ID)
	assert.NoError(t, err, "item inside the retention window is untouched")

	// nothing left to purge; rerun is a no-op
	n, err = e.PurgeExpired(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPurgeRespectsBatchSize(t *testing.T) {
	e, files, s, _ := newTestTrash(t)
	ctx := context.Background()

	for _, p := range []string{"/a.txt", "/b.txt", "/c.txt"} {
		f := upload(t, files, 7, p, "x")
		require.NoError(t, e.SoftDelete(ctx, f))
		agedAt := time.Now().UTC().Add(-40 * 24 * time.Hour)
		require.NoError(t, s.DB().Model(&store.File{}).
			Where("id = ?", f.ID).Update("deleted_at", agedAt).Error)
	}

	n, err := e.PurgeExpired(ctx, time.Now(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	remaining, err := e.List(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

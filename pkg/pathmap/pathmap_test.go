package pathmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToKey(t *testing.T) {
	m := New(7)
	assert.Equal(t, "7", m.ToKey("/"))
	assert.Equal(t, "7", m.ToKey(""))
	assert.Equal(t, "7/docs/a.txt", m.ToKey("/docs/a.txt"))
	assert.Equal(t, "7/docs/a.txt", m.ToKey("docs/a.txt/"))
}

func TestToWebdav(t *testing.T) {
	m := New(7)
	assert.Equal(t, "/", m.ToWebdav("7"))
	assert.Equal(t, "/docs/a.txt", m.ToWebdav("7/docs/a.txt"))
	// foreign keys come back with a leading slash, unchanged
	assert.Equal(t, "/9/docs/a.txt", m.ToWebdav("9/docs/a.txt"))
	assert.Equal(t, "/77/x", m.ToWebdav("77/x"))
}

func TestRoundTrip(t *testing.T) {
	m := New(42)
	for _, p := range []string{"/", "/a", "/a/b/c.txt", "/with space/f.jpg"} {
		assert.Equal(t, Normalize(p), m.ToWebdav(m.ToKey(p)), p)
	}
	for _, k := range []string{"42", "42/a", "42/a/b/c.txt"} {
		assert.Equal(t, k, m.ToKey(m.ToWebdav(k)), k)
	}
}

func TestValidate(t *testing.T) {
	assert.True(t, Validate("/docs/a.txt"))
	assert.True(t, Validate("/"))
	assert.False(t, Validate("/docs/../etc/passwd"))
	assert.False(t, Validate("/docs/..hidden"))
	assert.False(t, Validate("/docs/a\x00.txt"))
}

func TestTrashPaths(t *testing.T) {
	assert.True(t, IsTrashRoot("/.Trash"))
	assert.True(t, IsTrashRoot("/.Trash/"))
	assert.False(t, IsTrashRoot("/.Trashy"))
	assert.True(t, IsUnderTrash("/.Trash/a.txt"))
	assert.False(t, IsUnderTrash("/.Trash"))
	assert.Equal(t, "a.txt", TrashItemName("/.Trash/a.txt"))
	assert.Equal(t, "", TrashItemName("/.Trash/a/b.txt"))
	assert.Equal(t, "", TrashItemName("/docs/a.txt"))
}

func TestParentBasenameJoin(t *testing.T) {
	assert.Equal(t, "/docs", Parent("/docs/a.txt"))
	assert.Equal(t, "/", Parent("/a.txt"))
	assert.Equal(t, "a.txt", Basename("/docs/a.txt"))
	assert.Equal(t, "/docs/a.txt", Join("/docs", "a.txt"))
	assert.Equal(t, "/a.txt", Join("/", "a.txt"))
}

func TestHidden(t *testing.T) {
	assert.True(t, Hidden(".folder"))
	assert.True(t, Hidden(".DS_Store"))
	assert.True(t, Hidden(".DS_Store_backup"))
	assert.True(t, Hidden("._resource"))
	assert.False(t, Hidden(".hidden"))
	assert.False(t, Hidden("folder"))
}

package meta

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSniffMime(t *testing.T) {
	assert.Equal(t, "text/plain", SniffMime("a.txt"))
	assert.Equal(t, "image/jpeg", SniffMime("photo.jpg"))
	assert.Equal(t, DefaultMime, SniffMime("noext"))
	assert.Equal(t, DefaultMime, SniffMime("weird.zzz9q"))
}

func TestExtension(t *testing.T) {
	assert.Equal(t, "txt", Extension("a.txt"))
	assert.Equal(t, "jpg", Extension("A.JPG"))
	assert.Equal(t, "", Extension("noext"))
	assert.Equal(t, "gz", Extension("a.tar.gz"))
}

func TestSplitStem(t *testing.T) {
	stem, ext := SplitStem("r.txt")
	assert.Equal(t, "r", stem)
	assert.Equal(t, ".txt", ext)

	stem, ext = SplitStem("noext")
	assert.Equal(t, "noext", stem)
	assert.Equal(t, "", ext)
}

func TestSha256Stream(t *testing.T) {
	r := bytes.NewReader([]byte("hello"))
	// start mid-stream to verify the rewind
	_, err := r.Seek(3, io.SeekStart)
	require.NoError(t, err)

	sum, n, err := Sha256Stream(r)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sum)

	// stream is positioned at start afterwards
	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(rest))
}

func TestHashingReader(t *testing.T) {
	hr := NewHashingReader(strings.NewReader("hello"))
	got, err := io.ReadAll(hr)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	assert.Equal(t, int64(5), hr.BytesRead())
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", hr.Sum())
}

func TestEnforceOwnerPrefix(t *testing.T) {
	assert.NoError(t, EnforceOwnerPrefix(7, "7/docs/a.txt"))
	assert.NoError(t, EnforceOwnerPrefix(7, "7"))
	assert.Error(t, EnforceOwnerPrefix(7, ""))
	assert.Error(t, EnforceOwnerPrefix(7, "8/docs/a.txt"))
	assert.Error(t, EnforceOwnerPrefix(7, "docs/a.txt"))
}

package meta

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"mime"
	"path/filepath"
	"strconv"
	"strings"
)

const DefaultMime = "application/octet-stream"

const hashChunkSize = 8 * 1024

// SniffMime looks up a content type from the file extension.
func SniffMime(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return DefaultMime
	}
	ct := mime.TypeByExtension(ext)
	if ct == "" {
		return DefaultMime
	}
	// drop charset parameters, clients only want the media type
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

// Extension returns the lowercased suffix after the last dot, without the dot.
func Extension(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// SplitStem splits a filename into stem and extension (extension keeps the
// leading dot, may be empty).
func SplitStem(name string) (stem, ext string) {
	ext = filepath.Ext(name)
	return strings.TrimSuffix(name, ext), ext
}

// Sha256Stream computes the SHA-256 of a seekable stream in 8 KiB chunks and
// leaves it positioned at the start.
func Sha256Stream(r io.ReadSeeker) (string, int64, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", 0, err
	}
	h := sha256.New()
	n, err := io.CopyBuffer(h, r, make([]byte, hashChunkSize))
	if err != nil {
		return "", 0, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// HashingReader wraps a stream and computes SHA-256 and byte count as it is
// consumed. Used for single-pass uploads where the content length is known up
// front.
type HashingReader struct {
	r io.Reader
	h hash.Hash
	n int64
}

func NewHashingReader(r io.Reader) *HashingReader {
	return &HashingReader{r: r, h: sha256.New()}
}

func (hr *HashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		hr.h.Write(p[:n])
		hr.n += int64(n)
	}
	return n, err
}

func (hr *HashingReader) Sum() string {
	return hex.EncodeToString(hr.h.Sum(nil))
}

func (hr *HashingReader) BytesRead() int64 {
	return hr.n
}

// EnforceOwnerPrefix checks that a storage key belongs to the given owner.
func EnforceOwnerPrefix(ownerID uint, key string) error {
	if key == "" {
		return fmt.Errorf("empty key")
	}
	first, _, _ := strings.Cut(key, "/")
	id, err := strconv.ParseUint(first, 10, 64)
	if err != nil {
		return fmt.Errorf("key %q has no owner prefix", key)
	}
	if uint(id) != ownerID {
		return fmt.Errorf("key %q does not belong to owner %d", key, ownerID)
	}
	return nil
}

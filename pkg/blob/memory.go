package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/stashdav/stashdav/pkg/meta"
)

// ErrBlobNotFound is returned for reads of keys that were never written.
var ErrBlobNotFound = errors.New("blob not found")

// MemoryStore is an in-process Store used in tests and for local development.
// It never overwrites: a put to an existing key is written under a suffixed
// key, which exercises the callers' use-returned-key discipline.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte

	// FailPut, when set, makes the next Put fail. Tests use it to exercise
	// compensation paths.
	FailPut bool
}

func NewMemory() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, key string, reader io.Reader, _ int64) (string, error) {
	if m.FailPut {
		m.FailPut = false
		return "", errors.New("injected put failure")
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", errors.Wrap(err, "could not read blob content")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	actual := key
	if _, taken := m.blobs[actual]; taken {
		stem, ext := meta.SplitStem(key)
		actual = fmt.Sprintf("%s_%s%s", stem, uuid.NewString()[:8], ext)
	}
	m.blobs[actual] = data
	return actual, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, errors.Wrapf(ErrBlobNotFound, "get '%s'", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStore) GetRange(_ context.Context, key string, off, length int64) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, errors.Wrapf(ErrBlobNotFound, "get range '%s'", key)
	}
	if off < 0 || off > int64(len(data)) {
		return nil, errors.New("range start out of bounds")
	}
	end := off + length
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return io.NopCloser(bytes.NewReader(data[off:end])), nil
}

func (m *MemoryStore) Copy(_ context.Context, srcKey, dstKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[srcKey]
	if !ok {
		return errors.Wrapf(ErrBlobNotFound, "copy source '%s'", srcKey)
	}
	m.blobs[dstKey] = bytes.Clone(data)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[key]
	return ok, nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.blobs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Len reports how many blobs are stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

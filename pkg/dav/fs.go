package dav

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"time"

	"golang.org/x/net/webdav"

	"github.com/stashdav/stashdav/pkg/store"
)

// The webdav.FileSystem below exists only for the verbs delegated to
// x/net/webdav, which are read-only against our tree: LOCK and UNLOCK need
// Stat to confirm the resource, nothing more. All mutation goes through the
// direct handlers, so the write entry points refuse.

type fileInfo struct {
	name    string
	size    int64
	isDir   bool
	modTime time.Time
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return fi.size }
func (fi *fileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fileInfo) IsDir() bool        { return fi.isDir }
func (fi *fileInfo) Sys() any           { return nil }

func (fi *fileInfo) Mode() fs.FileMode {
	if fi.isDir {
		return fs.ModeDir | 0o755
	}
	return 0o644
}

func (h *Handler) statResource(ctx context.Context, name string) (*fileInfo, *store.File, error) {
	owner := PrincipalID(ctx)
	res, err := h.resolver.Resolve(ctx, owner, name)
	if err != nil {
		return nil, nil, os.ErrNotExist
	}
	if res.IsCollection() {
		return &fileInfo{name: path.Base(res.Path), isDir: true, modTime: time.Now()}, nil, nil
	}
	return &fileInfo{
		name:    path.Base(res.Path),
		size:    res.File.Size,
		modTime: res.File.ModifiedAt,
	}, res.File, nil
}

func (h *Handler) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	fi, _, err := h.statResource(ctx, name)
	if err != nil {
		return nil, err
	}
	return fi, nil
}

func (h *Handler) OpenFile(ctx context.Context, name string, flag int, _ os.FileMode) (webdav.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE) != 0 {
		return nil, os.ErrPermission
	}
	fi, f, err := h.statResource(ctx, name)
	if err != nil {
		return nil, err
	}
	return &davFile{h: h, ctx: ctx, info: fi, file: f}, nil
}

func (h *Handler) Mkdir(context.Context, string, os.FileMode) error { return os.ErrPermission }
func (h *Handler) RemoveAll(context.Context, string) error          { return os.ErrPermission }
func (h *Handler) Rename(context.Context, string, string) error     { return os.ErrPermission }

type davFile struct {
	h    *Handler
	ctx  context.Context
	info *fileInfo
	file *store.File // nil for collections

	content *bytes.Reader
}

func (d *davFile) Stat() (os.FileInfo, error) { return d.info, nil }
func (d *davFile) Close() error               { return nil }
func (d *davFile) Write([]byte) (int, error)  { return 0, os.ErrPermission }

// load buffers the blob on first read; the fallback verbs touch bodies
// rarely and the buffering keeps Seek trivial.
func (d *davFile) load() error {
	if d.content != nil {
		return nil
	}
	if d.file == nil {
		d.content = bytes.NewReader(nil)
		return nil
	}
	rc, err := d.h.files.Open(d.ctx, d.file)
	if err != nil {
		return err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	d.content = bytes.NewReader(data)
	return nil
}

func (d *davFile) Read(p []byte) (int, error) {
	if err := d.load(); err != nil {
		return 0, err
	}
	return d.content.Read(p)
}

func (d *davFile) Seek(offset int64, whence int) (int64, error) {
	if err := d.load(); err != nil {
		return 0, err
	}
	return d.content.Seek(offset, whence)
}

func (d *davFile) Readdir(int) ([]os.FileInfo, error) {
	if !d.info.isDir {
		return nil, os.ErrInvalid
	}
	return nil, nil
}

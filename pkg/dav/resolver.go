package dav

import (
	"context"
	"errors"

	"github.com/stashdav/stashdav/pkg/engine"
	"github.com/stashdav/stashdav/pkg/pathmap"
	"github.com/stashdav/stashdav/pkg/store"
	"github.com/stashdav/stashdav/pkg/trash"
)

// ErrForbidden marks operations disallowed for a resource kind, like writing
// inside the trash.
var ErrForbidden = errors.New("operation forbidden")

// Kind tags what a webdav path resolved to.
type Kind int

const (
	KindRoot Kind = iota
	KindFolder
	KindFile
	KindTrashRoot
	KindTrashItem
)

// Resource is the resolver's answer for one (principal, path) pair.
type Resource struct {
	Kind Kind
	Path string      // normalized webdav path
	File *store.File // set for KindFile and KindTrashItem
}

func (r *Resource) IsCollection() bool {
	return r.Kind == KindRoot || r.Kind == KindFolder || r.Kind == KindTrashRoot
}

// Resolver maps a principal and webdav path onto the virtual filesystem.
// Unresolvable and invalid paths both come back as store.ErrNotFound; bad
// paths must never surface as server errors.
type Resolver struct {
	files *engine.Engine
	trash *trash.Engine
	store *store.Store
}

func NewResolver(files *engine.Engine, t *trash.Engine, s *store.Store) *Resolver {
	return &Resolver{files: files, trash: t, store: s}
}

func (rs *Resolver) Resolve(ctx context.Context, ownerID uint, davPath string) (*Resource, error) {
	if !pathmap.Validate(davPath) {
		return nil, store.ErrNotFound
	}
	p := pathmap.Normalize(davPath)

	switch {
	case pathmap.IsRoot(p):
		return &Resource{Kind: KindRoot, Path: p}, nil
	case pathmap.IsTrashRoot(p):
		return &Resource{Kind: KindTrashRoot, Path: p}, nil
	case pathmap.IsUnderTrash(p):
		name := pathmap.TrashItemName(p)
		if name == "" {
			return nil, store.ErrNotFound
		}
		f, err := rs.trash.ByOriginalName(ctx, ownerID, name)
		if err != nil {
			return nil, err
		}
		return &Resource{Kind: KindTrashItem, Path: p, File: f}, nil
	}

	key := pathmap.New(ownerID).ToKey(p)
	f, err := rs.store.GetByOwnerKey(ctx, ownerID, key)
	if err == nil {
		return &Resource{Kind: KindFile, Path: p, File: f}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	exists, err := rs.files.FolderExists(ctx, ownerID, p)
	if err != nil {
		return nil, err
	}
	if exists {
		return &Resource{Kind: KindFolder, Path: p}, nil
	}
	return nil, store.ErrNotFound
}

// ParentExists reports whether the parent of a path can receive a new child:
// the root always can, an existing folder can, anything else cannot.
func (rs *Resolver) ParentExists(ctx context.Context, ownerID uint, davPath string) (bool, error) {
	parent := pathmap.Parent(davPath)
	if pathmap.IsRoot(parent) {
		return true, nil
	}
	if pathmap.IsTrashRoot(parent) || pathmap.IsUnderTrash(parent) {
		return false, nil
	}
	return rs.files.FolderExists(ctx, ownerID, parent)
}

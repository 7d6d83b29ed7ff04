package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/stashdav/stashdav/pkg/pathmap"
	"github.com/stashdav/stashdav/pkg/store"
)

// Entry is one visible member of a folder listing.
type Entry struct {
	Name     string
	IsFolder bool
	File     *store.File // nil for folders
}

// ListDirectory returns every live record under a folder, recursively.
func (e *Engine) ListDirectory(ctx context.Context, ownerID uint, folder string) ([]store.File, error) {
	prefix, err := targetKey(ownerID, folder)
	if err != nil {
		return nil, err
	}
	return e.store.ListPrefix(ctx, ownerID, prefix)
}

// DirectChildren lists the immediate members of a folder, hidden names
// filtered out. A name counts as a folder when any key continues past it.
func (e *Engine) DirectChildren(ctx context.Context, ownerID uint, folder string) ([]Entry, error) {
	files, err := e.ListDirectory(ctx, ownerID, folder)
	if err != nil {
		return nil, err
	}
	prefix, _ := targetKey(ownerID, folder)

	seen := make(map[string]*Entry)
	for i := range files {
		rel := strings.TrimPrefix(files[i].Key, prefix+"/")
		name, _, isNested := strings.Cut(rel, "/")
		if isNested {
			if _, ok := seen[name]; !ok {
				seen[name] = &Entry{Name: name, IsFolder: true}
			}
			continue
		}
		if pathmap.Hidden(name) {
			continue
		}
		seen[name] = &Entry{Name: name, File: &files[i]}
	}

	entries := make([]Entry, 0, len(seen))
	for _, entry := range seen {
		entries = append(entries, *entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// FolderExists reports whether a folder is materialized by any live key
// below it (marker files included).
func (e *Engine) FolderExists(ctx context.Context, ownerID uint, folder string) (bool, error) {
	if pathmap.IsRoot(folder) {
		return true, nil
	}
	prefix, err := targetKey(ownerID, folder)
	if err != nil {
		return false, err
	}
	return e.store.ExistsUnderPrefix(ctx, ownerID, prefix)
}

// FolderTree maps each folder path to its immediate subfolder names, derived
// from the owner's live keys. The root is always present.
func (e *Engine) FolderTree(ctx context.Context, ownerID uint) (map[string][]string, error) {
	files, err := e.ListDirectory(ctx, ownerID, "/")
	if err != nil {
		return nil, err
	}
	mapper := pathmap.New(ownerID)

	children := map[string]map[string]struct{}{"/": {}}
	for i := range files {
		davPath := mapper.ToWebdav(files[i].Key)
		for folder := pathmap.Parent(davPath); !pathmap.IsRoot(folder); folder = pathmap.Parent(folder) {
			parent := pathmap.Parent(folder)
			if children[parent] == nil {
				children[parent] = map[string]struct{}{}
			}
			children[parent][pathmap.Basename(folder)] = struct{}{}
			if children[folder] == nil {
				children[folder] = map[string]struct{}{}
			}
		}
	}

	tree := make(map[string][]string, len(children))
	for folder, names := range children {
		list := make([]string, 0, len(names))
		for name := range names {
			list = append(list, name)
		}
		sort.Strings(list)
		tree[folder] = list
	}
	return tree, nil
}

// LastModifiedUnder returns the newest modified_at below a folder, or zero
// when the folder holds no files.
func (e *Engine) LastModifiedUnder(ctx context.Context, ownerID uint, folder string) (time.Time, bool, error) {
	files, err := e.ListDirectory(ctx, ownerID, folder)
	if err != nil {
		return time.Time{}, false, err
	}
	var lastMod time.Time
	for i := range files {
		if files[i].ModifiedAt.After(lastMod) {
			lastMod = files[i].ModifiedAt
		}
	}
	return lastMod, !lastMod.IsZero(), nil
}

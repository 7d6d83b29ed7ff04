package dav

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/stashdav/stashdav/pkg/pathmap"
	"github.com/stashdav/stashdav/pkg/store"
)

// destinationPath extracts the webdav path from a Destination header, which
// clients send either absolute or as a bare path.
func (h *Handler) destinationPath(r *http.Request) (string, bool) {
	raw := r.Header.Get("Destination")
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	return h.davPath(u.EscapedPath()), true
}

func (h *Handler) handleCopyMove(w http.ResponseWriter, r *http.Request) {
	owner := PrincipalID(r.Context())
	srcPath := h.davPath(r.URL.EscapedPath())
	isMove := r.Method == "MOVE"

	dstPath, ok := h.destinationPath(r)
	if !ok {
		http.Error(w, "Bad Destination", http.StatusBadRequest)
		return
	}
	overwrite := r.Header.Get("Overwrite") != "F"

	if dstPath == srcPath {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	src, err := h.resolver.Resolve(r.Context(), owner, srcPath)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	// the trash only accepts arrivals through DELETE
	if pathmap.IsTrashRoot(dstPath) || pathmap.IsUnderTrash(dstPath) {
		h.writeError(w, r, ErrForbidden)
		return
	}

	switch src.Kind {
	case KindRoot, KindTrashRoot:
		h.writeError(w, r, ErrForbidden)
	case KindTrashItem:
		if !isMove {
			// trashed content is restored, never duplicated
			h.writeError(w, r, ErrForbidden)
			return
		}
		h.restoreTo(w, r, owner, src.File, dstPath)
	case KindFile:
		h.copyMoveFile(w, r, owner, src.File, dstPath, isMove, overwrite)
	case KindFolder:
		h.copyMoveFolder(w, r, owner, src.Path, dstPath, isMove)
	}
}

// restoreTo handles MOVE of a trash item back into the live tree.
func (h *Handler) restoreTo(w http.ResponseWriter, r *http.Request, owner uint, f *store.File, dstPath string) {
	if !pathmap.Validate(dstPath) {
		http.NotFound(w, r)
		return
	}
	ok, err := h.resolver.ParentExists(r.Context(), owner, dstPath)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		http.Error(w, "Conflict", http.StatusConflict)
		return
	}
	if err := h.trash.Restore(r.Context(), f, pathmap.New(owner).ToKey(dstPath)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) copyMoveFile(w http.ResponseWriter, r *http.Request, owner uint, f *store.File, dstPath string, isMove, overwrite bool) {
	ok, err := h.resolver.ParentExists(r.Context(), owner, dstPath)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		http.Error(w, "Conflict", http.StatusConflict)
		return
	}

	replaced, err := h.clearDestination(r.Context(), owner, dstPath, overwrite)
	if errors.Is(err, errPreconditionFailed) {
		http.Error(w, "Precondition Failed", http.StatusPreconditionFailed)
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if isMove {
		err = h.files.Move(r.Context(), f, dstPath)
	} else {
		_, err = h.files.Copy(r.Context(), f, dstPath)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if replaced {
		w.WriteHeader(http.StatusNoContent)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
}

func (h *Handler) copyMoveFolder(w http.ResponseWriter, r *http.Request, owner uint, srcPath, dstPath string, isMove bool) {
	// a folder cannot move into its own subtree
	if strings.HasPrefix(dstPath+"/", srcPath+"/") {
		h.writeError(w, r, ErrForbidden)
		return
	}
	ok, err := h.resolver.ParentExists(r.Context(), owner, dstPath)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		http.Error(w, "Conflict", http.StatusConflict)
		return
	}
	// collection overwrite is not supported
	if _, err := h.resolver.Resolve(r.Context(), owner, dstPath); err == nil {
		http.Error(w, "Precondition Failed", http.StatusPreconditionFailed)
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		h.writeError(w, r, err)
		return
	}

	if isMove {
		if _, err := h.files.MoveFolder(r.Context(), owner, srcPath, dstPath); err != nil {
			h.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		return
	}

	files, err := h.files.ListDirectory(r.Context(), owner, srcPath)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	srcKey := pathmap.New(owner).ToKey(srcPath)
	for i := range files {
		rel := strings.TrimPrefix(files[i].Key, srcKey+"/")
		if _, err := h.files.Copy(r.Context(), &files[i], pathmap.Join(dstPath, rel)); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusCreated)
}

var errPreconditionFailed = errors.New("destination exists")

// clearDestination makes room at dstPath for an incoming file. An occupied
// destination is soft-deleted when Overwrite allows it; a collection there is
// never displaced.
func (h *Handler) clearDestination(ctx context.Context, owner uint, dstPath string, overwrite bool) (bool, error) {
	res, err := h.resolver.Resolve(ctx, owner, dstPath)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !overwrite {
		return false, errPreconditionFailed
	}
	if res.Kind != KindFile {
		return false, ErrForbidden
	}
	if err := h.trash.SoftDelete(ctx, res.File); err != nil {
		return false, err
	}
	return true, nil
}

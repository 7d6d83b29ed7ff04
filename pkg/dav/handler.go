package dav

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/net/webdav"

	"github.com/stashdav/stashdav/internal/logger"
	"github.com/stashdav/stashdav/internal/utils"
	"github.com/stashdav/stashdav/pkg/engine"
	"github.com/stashdav/stashdav/pkg/pathmap"
	"github.com/stashdav/stashdav/pkg/quota"
	"github.com/stashdav/stashdav/pkg/store"
	"github.com/stashdav/stashdav/pkg/trash"
)

// Handler answers the WebDAV verbs for the per-user virtual filesystem. The
// frequent verbs are served directly; LOCK, UNLOCK and PROPPATCH fall back
// to the x/net/webdav handler with an in-process, advisory lock table.
type Handler struct {
	logger   zerolog.Logger
	store    *store.Store
	files    *engine.Engine
	trash    *trash.Engine
	resolver *Resolver
	URLBase  string

	locks webdav.LockSystem
}

func NewHandler(urlBase string, s *store.Store, files *engine.Engine, t *trash.Engine) *Handler {
	h := &Handler{
		logger:   logger.New("webdav"),
		store:    s,
		files:    files,
		trash:    t,
		resolver: NewResolver(files, t, s),
		URLBase:  urlBase,
		locks:    webdav.NewMemLS(),
	}
	return h
}

// href joins a webdav path onto the mount prefix.
func (h *Handler) href(davPath string) string {
	return path.Join("/", h.URLBase, davPath)
}

// davPath strips the mount prefix from an incoming URL path. The input must
// be the raw escaped form (EscapedPath); decoding the already-decoded
// URL.Path would eat literal percent sequences in filenames.
func (h *Handler) davPath(urlPath string) string {
	p := utils.PathUnescape(path.Clean("/" + urlPath))
	base := path.Clean("/" + h.URLBase)
	if base != "/" {
		if p == base {
			return "/"
		}
		if rest, ok := cutPrefix(p, base+"/"); ok {
			return "/" + rest
		}
	}
	return p
}

func cutPrefix(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):], true
	}
	return "", false
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodHead:
		h.handleHead(w, r)
	case http.MethodOptions:
		h.handleOptions(w, r)
	case "PROPFIND":
		h.handlePropfind(w, r)
	case http.MethodPut:
		h.handlePut(w, r)
	case "MKCOL":
		h.handleMkcol(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	case "COPY", "MOVE":
		h.handleCopyMove(w, r)
	default:
		fallback := &webdav.Handler{
			Prefix:     path.Clean("/" + h.URLBase),
			FileSystem: h,
			LockSystem: h.locks,
			Logger: func(r *http.Request, err error) {
				if err != nil {
					h.logger.Trace().
						Err(err).
						Str("method", r.Method).
						Str("path", r.URL.Path).
						Msg("WebDAV error")
				}
			},
		}
		if fallback.Prefix == "/" {
			fallback.Prefix = ""
		}
		fallback.ServeHTTP(w, r)
	}
}

// writeError maps the engine's error kinds onto WebDAV status codes.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var quotaErr *quota.ExceededError
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.NotFound(w, r)
	case errors.Is(err, engine.ErrInvalidPath):
		http.NotFound(w, r)
	case errors.Is(err, store.ErrConflict):
		http.Error(w, "Conflict", http.StatusConflict)
	case errors.Is(err, ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.As(err, &quotaErr):
		http.Error(w, quotaErr.Error(), http.StatusInsufficientStorage)
	default:
		h.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (h *Handler) handleOptions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Allow", "OPTIONS, GET, HEAD, PUT, DELETE, MKCOL, COPY, MOVE, PROPFIND, LOCK, UNLOCK")
	w.Header().Set("DAV", "1, 2")
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handlePropfind(w http.ResponseWriter, r *http.Request) {
	owner := PrincipalID(r.Context())
	res, err := h.resolver.Resolve(r.Context(), owner, h.davPath(r.URL.EscapedPath()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	depth := r.Header.Get("Depth")
	if depth == "" || depth == "infinity" {
		depth = "1"
	}
	entries, err := h.propfindEntries(r, res, owner, depth)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeXml(w, http.StatusMultiStatus, multistatusXML(entries))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	owner := PrincipalID(r.Context())
	res, err := h.resolver.Resolve(r.Context(), owner, h.davPath(r.URL.EscapedPath()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res.IsCollection() {
		// collections answer PROPFIND, not GET
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	h.serveFile(w, r, res.File, true)
}

func (h *Handler) handleHead(w http.ResponseWriter, r *http.Request) {
	owner := PrincipalID(r.Context())
	res, err := h.resolver.Resolve(r.Context(), owner, h.davPath(r.URL.EscapedPath()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res.IsCollection() {
		w.Header().Set("Content-Type", "httpd/unix-directory")
		w.WriteHeader(http.StatusOK)
		return
	}
	h.serveFile(w, r, res.File, false)
}

func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request, f *store.File, withBody bool) {
	w.Header().Set("ETag", fmt.Sprintf("%q", f.Sha256))
	w.Header().Set("Last-Modified", httpTime(f.ModifiedAt))
	w.Header().Set("Accept-Ranges", "bytes")
	contentType := f.Mime
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)

	ranges, err := parseRange(r.Header.Get("Range"), f.Size)
	if err != nil {
		http.Error(w, "Invalid Range", http.StatusRequestedRangeNotSatisfiable)
		return
	}

	if len(ranges) == 1 {
		rng := ranges[0]
		length := rng.end - rng.start + 1
		w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.start, rng.end, f.Size))
		if !withBody {
			w.WriteHeader(http.StatusPartialContent)
			return
		}
		rc, err := h.files.OpenRange(r.Context(), f, rng.start, length)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		defer rc.Close()
		w.WriteHeader(http.StatusPartialContent)
		h.stream(w, r, rc)
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))
	if !withBody {
		w.WriteHeader(http.StatusOK)
		return
	}
	rc, err := h.files.Open(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer rc.Close()
	w.WriteHeader(http.StatusOK)
	h.stream(w, r, rc)
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request, rc io.Reader) {
	if _, err := io.Copy(w, rc); err != nil {
		// client disconnects are routine; headers are out either way
		h.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("stream aborted")
	}
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	owner := PrincipalID(r.Context())
	davPath := h.davPath(r.URL.EscapedPath())

	if pathmap.IsTrashRoot(davPath) || pathmap.IsUnderTrash(davPath) {
		h.writeError(w, r, ErrForbidden)
		return
	}

	res, err := h.resolver.Resolve(r.Context(), owner, davPath)
	switch {
	case err == nil && res.Kind == KindFile:
		if _, err := h.files.Overwrite(r.Context(), res.File, r.Body, r.ContentLength); err != nil {
			h.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case err == nil && res.IsCollection():
		http.Error(w, "Conflict", http.StatusConflict)
	case errors.Is(err, store.ErrNotFound):
		ok, perr := h.resolver.ParentExists(r.Context(), owner, davPath)
		if perr != nil {
			h.writeError(w, r, perr)
			return
		}
		if !ok {
			http.Error(w, "Conflict", http.StatusConflict)
			return
		}
		if _, err := h.files.Upload(r.Context(), owner, davPath, r.Body, r.ContentLength); err != nil {
			h.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	default:
		h.writeError(w, r, err)
	}
}

func (h *Handler) handleMkcol(w http.ResponseWriter, r *http.Request) {
	owner := PrincipalID(r.Context())
	davPath := h.davPath(r.URL.EscapedPath())

	if r.ContentLength > 0 {
		http.Error(w, "Unsupported Media Type", http.StatusUnsupportedMediaType)
		return
	}
	if pathmap.IsTrashRoot(davPath) || pathmap.IsUnderTrash(davPath) {
		h.writeError(w, r, ErrForbidden)
		return
	}
	ok, err := h.resolver.ParentExists(r.Context(), owner, davPath)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		http.Error(w, "Conflict", http.StatusConflict)
		return
	}
	// an occupied name, file or folder, is a conflict
	if _, err := h.resolver.Resolve(r.Context(), owner, davPath); err == nil {
		http.Error(w, "Conflict", http.StatusConflict)
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		h.writeError(w, r, err)
		return
	}
	if err := h.files.CreateFolder(r.Context(), owner, davPath); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	owner := PrincipalID(r.Context())
	res, err := h.resolver.Resolve(r.Context(), owner, h.davPath(r.URL.EscapedPath()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	switch res.Kind {
	case KindRoot:
		h.writeError(w, r, ErrForbidden)
		return
	case KindFile:
		err = h.trash.SoftDelete(r.Context(), res.File)
	case KindTrashItem:
		err = h.trash.PermanentDelete(r.Context(), res.File)
	case KindTrashRoot:
		_, err = h.trash.Empty(r.Context(), owner)
	case KindFolder:
		_, err = h.files.DeleteFolder(r.Context(), owner, res.Path)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

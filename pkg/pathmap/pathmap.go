package pathmap

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// TrashFolder is the virtual folder exposing soft-deleted files.
const TrashFolder = "/.Trash"

// Mapper translates between user-facing paths and storage keys for a single
// owner. Every storage key the engine writes is derived through ToKey from a
// validated path, which is what keeps owners isolated at the storage layer.
type Mapper struct {
	ownerID uint
}

func New(ownerID uint) *Mapper {
	return &Mapper{ownerID: ownerID}
}

func (m *Mapper) OwnerID() uint {
	return m.ownerID
}

// Normalize cleans a webdav path to a canonical form with a leading slash and
// no trailing slash (except root itself).
func Normalize(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = path.Clean(p)
	return p
}

// Validate reports whether a webdav path is safe to use. Paths containing a
// ".." sequence or a NUL byte are rejected; callers treat a failure as
// not-found, never as a server error.
func Validate(p string) bool {
	if strings.Contains(p, "..") {
		return false
	}
	if strings.ContainsRune(p, '\x00') {
		return false
	}
	return true
}

// ToKey maps a webdav path to the owner's storage key.
func (m *Mapper) ToKey(webdavPath string) string {
	p := Normalize(webdavPath)
	if p == "/" {
		return strconv.FormatUint(uint64(m.ownerID), 10)
	}
	return fmt.Sprintf("%d/%s", m.ownerID, strings.Trim(p, "/"))
}

// ToWebdav maps a storage key back to a webdav path. Keys outside the owner's
// prefix are returned with a leading slash, unchanged.
func (m *Mapper) ToWebdav(key string) string {
	root := strconv.FormatUint(uint64(m.ownerID), 10)
	if key == root {
		return "/"
	}
	if rest, ok := strings.CutPrefix(key, root+"/"); ok {
		return "/" + rest
	}
	if strings.HasPrefix(key, "/") {
		return key
	}
	return "/" + key
}

func Parent(p string) string {
	return Normalize(path.Dir(Normalize(p)))
}

func Basename(p string) string {
	return path.Base(Normalize(p))
}

func Join(parent, name string) string {
	return Normalize(path.Join(parent, name))
}

func IsRoot(p string) bool {
	return Normalize(p) == "/"
}

func IsTrashRoot(p string) bool {
	return Normalize(p) == TrashFolder
}

func IsUnderTrash(p string) bool {
	return strings.HasPrefix(Normalize(p), TrashFolder+"/")
}

// TrashItemName returns the member name for a path under the trash folder, or
// "" if the path is not directly under it.
func TrashItemName(p string) string {
	n := Normalize(p)
	rest, ok := strings.CutPrefix(n, TrashFolder+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return ""
	}
	return rest
}

// Hidden reports whether a member name is filtered from listings.
func Hidden(name string) bool {
	return name == ".folder" ||
		strings.HasPrefix(name, ".DS_Store") ||
		strings.HasPrefix(name, "._")
}

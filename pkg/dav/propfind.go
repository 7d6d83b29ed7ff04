package dav

import (
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/stanNthe5/stringbuf"

	"github.com/stashdav/stashdav/pkg/pathmap"
	"github.com/stashdav/stashdav/pkg/store"
)

// entry is one <d:response> in a PROPFIND multistatus.
type entry struct {
	escHref     string // already XML-safe + percent-escaped
	escName     string
	size        int64
	isDir       bool
	modTime     string
	etag        string
	contentType string
	origPath    string // trash items only
}

func httpTime(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

func fileEntry(href string, f *store.File) entry {
	return entry{
		escHref:     xmlEscape(fastEscapePath(href)),
		escName:     xmlEscape(path.Base(href)),
		size:        f.Size,
		modTime:     httpTime(f.ModifiedAt),
		etag:        f.Sha256,
		contentType: f.Mime,
	}
}

func dirEntry(href, name string, modTime time.Time) entry {
	return entry{
		escHref: xmlEscape(fastEscapePath(href)),
		escName: xmlEscape(name),
		isDir:   true,
		modTime: httpTime(modTime),
	}
}

func multistatusXML(entries []entry) stringbuf.StringBuf {
	sb := stringbuf.New("")

	_, _ = sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	_, _ = sb.WriteString(`<d:multistatus xmlns:d="DAV:" xmlns:oc="http://owncloud.org/ns">`)

	for _, e := range entries {
		_, _ = sb.WriteString(`<d:response>`)
		_, _ = sb.WriteString(`<d:href>`)
		_, _ = sb.WriteString(e.escHref)
		_, _ = sb.WriteString(`</d:href>`)
		_, _ = sb.WriteString(`<d:propstat>`)
		_, _ = sb.WriteString(`<d:prop>`)

		if e.isDir {
			_, _ = sb.WriteString(`<d:resourcetype><d:collection/></d:resourcetype>`)
		} else {
			_, _ = sb.WriteString(`<d:resourcetype/>`)
			_, _ = sb.WriteString(`<d:getcontentlength>`)
			_, _ = sb.WriteString(strconv.FormatInt(e.size, 10))
			_, _ = sb.WriteString(`</d:getcontentlength>`)
			if e.contentType != "" {
				_, _ = sb.WriteString(`<d:getcontenttype>`)
				_, _ = sb.WriteString(xmlEscape(e.contentType))
				_, _ = sb.WriteString(`</d:getcontenttype>`)
			}
			if e.etag != "" {
				_, _ = sb.WriteString(`<d:getetag>&quot;`)
				_, _ = sb.WriteString(e.etag)
				_, _ = sb.WriteString(`&quot;</d:getetag>`)
			}
		}

		_, _ = sb.WriteString(`<d:getlastmodified>`)
		_, _ = sb.WriteString(e.modTime)
		_, _ = sb.WriteString(`</d:getlastmodified>`)

		_, _ = sb.WriteString(`<d:displayname>`)
		_, _ = sb.WriteString(e.escName)
		_, _ = sb.WriteString(`</d:displayname>`)

		if e.origPath != "" {
			_, _ = sb.WriteString(`<oc:original-path>`)
			_, _ = sb.WriteString(xmlEscape(e.origPath))
			_, _ = sb.WriteString(`</oc:original-path>`)
		}

		_, _ = sb.WriteString(`</d:prop>`)
		_, _ = sb.WriteString(`<d:status>HTTP/1.1 200 OK</d:status>`)
		_, _ = sb.WriteString(`</d:propstat>`)
		_, _ = sb.WriteString(`</d:response>`)
	}

	_, _ = sb.WriteString(`</d:multistatus>`)
	return sb
}

// propfindEntries collects the multistatus entries for a resource at depth 0
// or 1.
func (h *Handler) propfindEntries(r *http.Request, res *Resource, ownerID uint, depth string) ([]entry, error) {
	ctx := r.Context()
	href := h.href(res.Path)
	now := time.Now()

	switch res.Kind {
	case KindFile:
		return []entry{fileEntry(href, res.File)}, nil

	case KindTrashItem:
		e := fileEntry(href, res.File)
		e.origPath = pathmap.New(ownerID).ToWebdav(res.File.OriginalKey)
		return []entry{e}, nil

	case KindTrashRoot:
		self := dirEntry(href, ".Trash", now)
		if depth == "0" {
			return []entry{self}, nil
		}
		items, err := h.trash.List(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		entries := []entry{self}
		seen := make(map[string]struct{}, len(items))
		for i := range items {
			name := path.Base("/" + items[i].OriginalKey)
			// same-named deletes collapse to the newest
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			e := fileEntry(path.Join(href, name), &items[i])
			e.origPath = pathmap.New(ownerID).ToWebdav(items[i].OriginalKey)
			entries = append(entries, e)
		}
		return entries, nil

	default: // KindRoot, KindFolder
		modTime, ok, err := h.files.LastModifiedUnder(ctx, ownerID, res.Path)
		if err != nil {
			return nil, err
		}
		if !ok {
			modTime = now
		}
		self := dirEntry(href, path.Base(res.Path), modTime)
		if res.Kind == KindRoot {
			self.escName = "/"
		}
		if depth == "0" {
			return []entry{self}, nil
		}

		children, err := h.files.DirectChildren(ctx, ownerID, res.Path)
		if err != nil {
			return nil, err
		}
		entries := []entry{self}
		for _, child := range children {
			childHref := path.Join(href, child.Name)
			if child.IsFolder {
				childMod, ok, err := h.files.LastModifiedUnder(ctx, ownerID, pathmap.Join(res.Path, child.Name))
				if err != nil {
					return nil, err
				}
				if !ok {
					childMod = now
				}
				entries = append(entries, dirEntry(childHref+"/", child.Name, childMod))
			} else {
				entries = append(entries, fileEntry(childHref, child.File))
			}
		}
		// the virtual trash folder appears at the root
		if res.Kind == KindRoot {
			entries = append(entries, dirEntry(path.Join(href, ".Trash")+"/", ".Trash", now))
		}
		return entries, nil
	}
}

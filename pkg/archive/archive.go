// Package archive splits a downloaded payload into the media it carries.
//
// A payload is either the final medium itself (Direct) or a ZIP bundle with a
// "-main" base member and optional "-overlay" members (Bundle).
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	errs "snapmem/pkg/errors"
	"snapmem/pkg/memory"
)

var zipMagic = []byte("PK\x03\x04")

// Item is the result of extraction: Direct or Bundle
type Item interface {
	isItem()
}

// Direct is a payload that is already the final medium
type Direct struct {
	Data []byte
}

// Component is one member of a bundle
type Component struct {
	Name string // base name inside the archive
	Ext  string // lowercase, with leading dot
	Data []byte
}

// Bundle is a base medium with an optional overlay
type Bundle struct {
	Base      Component
	Overlay   *Component
	MediaType memory.MediaType
	// Members holds every regular file in the archive, for raw persistence
	Members []Component
}

func (Direct) isItem() {}
func (Bundle) isItem() {}

// HasOverlay reports whether there is anything to composite
func (b Bundle) HasOverlay() bool {
	return b.Overlay != nil
}

// IsZip reports whether data starts with a ZIP local file header
func IsZip(data []byte) bool {
	return bytes.HasPrefix(data, zipMagic)
}

// Extract classifies payload. declared is the catalog's media type, used when
// the base member's extension is not recognised.
func Extract(payload []byte, declared memory.MediaType) (Item, error) {
	if len(payload) == 0 {
		return nil, errs.ArchiveCorruption("empty payload", nil)
	}
	if !IsZip(payload) {
		return Direct{Data: payload}, nil
	}

	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, errs.ArchiveCorruption("unreadable zip archive", err)
	}

	var members []Component
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		data, err := readMember(f)
		if err != nil {
			return nil, errs.ArchiveCorruption(fmt.Sprintf("unreadable member %q", f.Name), err)
		}
		name := path.Base(f.Name)
		members = append(members, Component{
			Name: name,
			Ext:  strings.ToLower(path.Ext(name)),
			Data: data,
		})
	}

	var base *Component
	var overlays []Component
	for i := range members {
		m := members[i]
		switch {
		case base == nil && strings.Contains(m.Name, "-main"):
			base = &members[i]
		case strings.Contains(m.Name, "-overlay") && overlayRank(m.Ext) >= 0:
			overlays = append(overlays, m)
		}
	}
	if base == nil {
		return nil, errs.ArchiveCorruption("archive has no -main member", nil)
	}
	if len(base.Data) == 0 {
		return nil, errs.ArchiveCorruption(fmt.Sprintf("base member %q is empty", base.Name), nil)
	}

	bundle := Bundle{
		Base:      *base,
		MediaType: mediaTypeFromExt(base.Ext, declared),
		Members:   members,
	}
	if len(overlays) > 0 {
		sort.SliceStable(overlays, func(i, j int) bool {
			return overlayRank(overlays[i].Ext) < overlayRank(overlays[j].Ext)
		})
		ov := overlays[0]
		bundle.Overlay = &ov
	}
	return bundle, nil
}

func readMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// overlayRank orders overlay formats png > webp > jpeg; -1 means unusable
func overlayRank(ext string) int {
	switch ext {
	case ".png":
		return 0
	case ".webp":
		return 1
	case ".jpg", ".jpeg":
		return 2
	default:
		return -1
	}
}

func mediaTypeFromExt(ext string, declared memory.MediaType) memory.MediaType {
	switch ext {
	case ".mp4", ".mov", ".m4v", ".webm":
		return memory.Video
	case ".jpg", ".jpeg", ".png", ".webp":
		return memory.Image
	default:
		return declared
	}
}

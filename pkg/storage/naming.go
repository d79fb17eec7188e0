package storage

import (
	"fmt"
	"path/filepath"
	"strings"

	"snapmem/pkg/memory"
)

const stampLayout = "20060102_150405"

// ProcessedName is the final name of an archive-derived artifact
func ProcessedName(id, ext string) string {
	return id + "-processed" + dotted(ext)
}

// DirectName is the final name of a non-archive download. Entries without a
// usable date fall back to their catalog position.
func DirectName(e memory.Entry) string {
	stamp := fmt.Sprintf("memory_%04d", e.Index)
	if e.HasDate() {
		stamp = e.Date.Format(stampLayout)
	}
	return fmt.Sprintf("%s_%s.%s", stamp, strings.ToLower(e.MediaType.String()), e.MediaType.Ext())
}

// suffixed inserts _<first 8 of id> before the extension
func suffixed(name, id string) string {
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "_" + short + ext
}

func dotted(ext string) string {
	if ext == "" || strings.HasPrefix(ext, ".") {
		return ext
	}
	return "." + ext
}

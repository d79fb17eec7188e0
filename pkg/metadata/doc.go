// Package metadata describes a memory as exported and downloaded. The JSON
// sidecar lives next to the raw components so an archive of raw downloads
// can be reprocessed without the export document.
package metadata

package archive

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "snapmem/pkg/errors"
	"snapmem/pkg/memory"
)

type member struct {
	name string
	data string
}

func buildZip(t *testing.T, members ...member) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range members {
		w, err := zw.Create(m.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(m.data))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractDirect(t *testing.T) {
	item, err := Extract([]byte("\xff\xd8\xff\xe0jpeg"), memory.Image)
	require.NoError(t, err)

	direct, ok := item.(Direct)
	require.True(t, ok)
	assert.Equal(t, []byte("\xff\xd8\xff\xe0jpeg"), direct.Data)
}

func TestExtractBundleWithOverlayPriority(t *testing.T) {
	payload := buildZip(t,
		member{"abc-overlay.jpg", "jpg-overlay"},
		member{"abc-main.mp4", "video-bytes"},
		member{"abc-overlay.webp", "webp-overlay"},
		member{"abc-overlay.png", "png-overlay"},
		member{"abc-overlay.txt", "ignored"},
	)

	item, err := Extract(payload, memory.Image)
	require.NoError(t, err)

	bundle, ok := item.(Bundle)
	require.True(t, ok)
	assert.Equal(t, "abc-main.mp4", bundle.Base.Name)
	assert.Equal(t, ".mp4", bundle.Base.Ext)
	assert.Equal(t, memory.Video, bundle.MediaType, "base extension wins over the catalog type")
	require.True(t, bundle.HasOverlay())
	assert.Equal(t, "abc-overlay.png", bundle.Overlay.Name)
	assert.Equal(t, []byte("png-overlay"), bundle.Overlay.Data)
	assert.Len(t, bundle.Members, 5)
}

func TestExtractBundleWebpBeatsJpeg(t *testing.T) {
	payload := buildZip(t,
		member{"x-main.jpg", "base"},
		member{"x-overlay.jpeg", "j"},
		member{"x-overlay.webp", "w"},
	)

	item, err := Extract(payload, memory.Image)
	require.NoError(t, err)
	assert.Equal(t, "x-overlay.webp", item.(Bundle).Overlay.Name)
}

func TestExtractBundleWithoutOverlay(t *testing.T) {
	payload := buildZip(t, member{"folder/id-main.JPG", "base"})

	item, err := Extract(payload, memory.Video)
	require.NoError(t, err)

	bundle := item.(Bundle)
	assert.False(t, bundle.HasOverlay())
	assert.Equal(t, "id-main.JPG", bundle.Base.Name)
	assert.Equal(t, ".jpg", bundle.Base.Ext)
	assert.Equal(t, memory.Image, bundle.MediaType)
}

func TestExtractUnknownBaseExtensionUsesCatalogType(t *testing.T) {
	payload := buildZip(t, member{"id-main.bin", "base"})

	item, err := Extract(payload, memory.Video)
	require.NoError(t, err)
	assert.Equal(t, memory.Video, item.(Bundle).MediaType)
}

func TestExtractCorruption(t *testing.T) {
	valid := buildZip(t, member{"id-main.jpg", "base"})

	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty payload", nil},
		{"truncated archive", valid[:len(valid)/2]},
		{"zip magic only", []byte("PK\x03\x04garbage")},
		{"no main member", buildZip(t, member{"id-overlay.png", "ov"})},
		{"empty main member", buildZip(t, member{"id-main.jpg", ""})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(tt.payload, memory.Image)
			require.Error(t, err)
			assert.True(t, errs.IsType(err, errs.ErrorTypeArchiveCorruption), "got %v", err)
		})
	}
}

package metadata

import (
	"bytes"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapmem/pkg/archive"
	"snapmem/pkg/memory"
)

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestFromEntryDirectImage(t *testing.T) {
	date := time.Date(2022, 7, 1, 12, 0, 0, 0, time.UTC)
	e := memory.Entry{
		ID:        "abc",
		Index:     3,
		Date:      date,
		RawDate:   "2022-07-01 12:00:00 UTC",
		MediaType: memory.Image,
		URL:       "https://memories.example/dl?mid=abc",
		Location:  "Latitude, Longitude: 1.0, 2.0",
	}
	data := pngOf(t, 90, 160)

	m := FromEntry(e, archive.Direct{Data: data}, len(data))

	assert.Equal(t, PackagingDirect, m.Packaging)
	assert.Equal(t, "Image", m.MediaType)
	assert.Equal(t, 90, m.Width)
	assert.Equal(t, 160, m.Height)
	assert.Equal(t, "9:16", m.AspectRatio())
	require.NotNil(t, m.TakenAt)
	assert.True(t, m.TakenAt.Equal(date))
}

func TestFromEntryVideoBundle(t *testing.T) {
	e := memory.Entry{ID: "vid", MediaType: memory.Video}
	overlay := archive.Component{Name: "vid-overlay.png", Ext: ".png", Data: []byte("png")}
	b := archive.Bundle{
		Base:      archive.Component{Name: "vid-main.mp4", Ext: ".mp4", Data: []byte("mp4 data")},
		Overlay:   &overlay,
		MediaType: memory.Video,
	}
	b.Members = []archive.Component{b.Base, overlay}

	m := FromEntry(e, b, 100)

	assert.Equal(t, PackagingBundle, m.Packaging)
	assert.True(t, m.HasOverlay)
	assert.Nil(t, m.TakenAt)
	assert.Zero(t, m.Width)
	assert.Equal(t, "unknown", m.AspectRatio())
	assert.Equal(t, []Component{{Name: "vid-main.mp4", Size: 8}, {Name: "vid-overlay.png", Size: 3}}, m.Components)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("{not json"))
	assert.Error(t, err)
}

func TestAspectRatio(t *testing.T) {
	tests := []struct {
		w, h int
		want string
	}{
		{1920, 1080, "16:9"},
		{1080, 1080, "1:1"},
		{1080, 1440, "3:4"},
		{1000, 500, "2.00:1"},
	}
	for _, tt := range tests {
		m := &Memory{Width: tt.w, Height: tt.h}
		assert.Equal(t, tt.want, m.AspectRatio(), "%dx%d", tt.w, tt.h)
	}
}

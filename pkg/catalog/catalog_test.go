package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"snapmem/pkg/memory"
)

const exportHTML = `<html><body>
<table>
  <tr><th>Date</th><th>Media Type</th><th>Location</th><th></th></tr>
  <tr>
    <td>2025-12-22 23:03:10 UTC</td><td>Video</td><td>Latitude, Longitude: 48.85, 2.35</td>
    <td><a href="#" onclick="downloadMemories('https://app.snapchat.com/dmd/memories?uid=u&amp;sid=s1&amp;mid=vid-1&amp;sig=x', this, true); return false;">Download</a></td>
  </tr>
  <tr>
    <td>2024-01-02 03:04:05 UTC</td><td>Image</td><td></td>
    <td><a href="#" onclick="downloadMemories('https://app.snapchat.com/dmd/memories?mid=img-1', this, true);">Download</a></td>
  </tr>
  <tr>
    <td>not a date</td><td>Image</td><td></td>
    <td><a href="#" onclick="downloadMemories('https://app.snapchat.com/dmd/memories?mid=img-2', this, true);">Download</a></td>
  </tr>
  <tr><td>2024-01-02 03:04:05 UTC</td><td>Image</td><td>no link</td><td><a href="#">Download</a></td></tr>
  <tr><td>short row</td><td>Image</td></tr>
  <tr>
    <td>2024-05-06 07:08:09 UTC</td><td>Video</td><td></td>
    <td><a onclick="downloadMemories('https://app.snapchat.com/dmd/memories?mid=vid-2');">Download</a></td>
  </tr>
</table>
</body></html>`

func TestParse(t *testing.T) {
	entries, err := Parse(strings.NewReader(exportHTML))
	require.NoError(t, err)
	require.Len(t, entries, 4)

	first := entries[0]
	assert.Equal(t, "vid-1", first.ID)
	assert.Equal(t, 1, first.Index)
	assert.Equal(t, memory.Video, first.MediaType)
	assert.Equal(t, "https://app.snapchat.com/dmd/memories?uid=u&sid=s1&mid=vid-1&sig=x", first.URL)
	assert.Equal(t, "Latitude, Longitude: 48.85, 2.35", first.Location)
	assert.Equal(t, time.Date(2025, 12, 22, 23, 3, 10, 0, time.UTC), first.Date)

	assert.Equal(t, "img-1", entries[1].ID)
	assert.Equal(t, memory.Image, entries[1].MediaType)

	assert.Equal(t, "img-2", entries[2].ID)
	assert.False(t, entries[2].HasDate())
	assert.Equal(t, "not a date", entries[2].RawDate)
	assert.Equal(t, 3, entries[2].Index)

	assert.Equal(t, "vid-2", entries[3].ID)
	assert.Equal(t, 4, entries[3].Index)
}

func TestParseDuplicateIDs(t *testing.T) {
	row := `<tr><td>2024-01-02 03:04:05 UTC</td><td>Image</td><td></td><td><a onclick="downloadMemories('https://x.example/m?mid=dup');">d</a></td></tr>`
	doc := "<table>" + row + row + row + "</table>"

	entries, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "dup", entries[0].ID)
	assert.Equal(t, "dup-2", entries[1].ID)
	assert.Equal(t, "dup-3", entries[2].ID)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memories_history.html")
	require.NoError(t, os.WriteFile(path, []byte(exportHTML), 0644))

	entries, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, entries, 4)

	_, err = Load(filepath.Join(t.TempDir(), "missing.html"))
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	entries, err := Parse(strings.NewReader(exportHTML))
	require.NoError(t, err)

	assert.Equal(t, Summary{Videos: 2, Images: 2, Total: 4}, Summarize(entries))
}

func TestSelectTest(t *testing.T) {
	var entries []memory.Entry
	for i := 0; i < 5; i++ {
		entries = append(entries, memory.Entry{ID: "v" + string(rune('a'+i)), MediaType: memory.Video})
		entries = append(entries, memory.Entry{ID: "i" + string(rune('a'+i)), MediaType: memory.Image})
	}

	selected := SelectTest(entries, 2, 2)
	ids := make([]string, 0, len(selected))
	for _, e := range selected {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"va", "ia", "vb", "ib"}, ids)
}

func TestLimit(t *testing.T) {
	entries := make([]memory.Entry, 5)

	assert.Len(t, Limit(entries, 3), 3)
	assert.Len(t, Limit(entries, 0), 5)
	assert.Len(t, Limit(entries, 10), 5)
}

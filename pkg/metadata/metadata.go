package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"time"

	_ "golang.org/x/image/webp"

	"snapmem/pkg/archive"
	"snapmem/pkg/memory"
)

// FileName is the sidecar stored next to a memory's raw components
const FileName = "memory.json"

// Memory describes one memory as it came out of the export
type Memory struct {
	// Core identifiers
	ID    string `json:"id"`
	Index int    `json:"index"`
	URL   string `json:"url"`

	// Export columns
	TakenAt   *time.Time `json:"taken_at,omitempty"`
	RawDate   string     `json:"raw_date"`
	MediaType string     `json:"media_type"`
	Location  string     `json:"location,omitempty"`

	// Payload
	Packaging  string      `json:"packaging"`
	Size       int         `json:"size"`
	Width      int         `json:"width,omitempty"`
	Height     int         `json:"height,omitempty"`
	HasOverlay bool        `json:"has_overlay"`
	Components []Component `json:"components,omitempty"`

	DownloadedAt time.Time `json:"downloaded_at"`
}

// Component is one archive member
type Component struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

// Packaging values
const (
	PackagingDirect = "direct"
	PackagingBundle = "bundle"
)

// FromEntry builds the sidecar for an entry and its extracted payload
func FromEntry(e memory.Entry, item archive.Item, size int) *Memory {
	m := &Memory{
		ID:           e.ID,
		Index:        e.Index,
		URL:          e.URL,
		RawDate:      e.RawDate,
		MediaType:    e.MediaType.String(),
		Location:     e.Location,
		Size:         size,
		DownloadedAt: time.Now().UTC(),
	}
	if e.HasDate() {
		t := e.Date.UTC()
		m.TakenAt = &t
	}

	switch it := item.(type) {
	case archive.Direct:
		m.Packaging = PackagingDirect
		if e.MediaType == memory.Image {
			m.Width, m.Height = dimensions(it.Data)
		}
	case archive.Bundle:
		m.Packaging = PackagingBundle
		m.HasOverlay = it.HasOverlay()
		for _, c := range it.Members {
			m.Components = append(m.Components, Component{Name: c.Name, Size: len(c.Data)})
		}
		if it.MediaType == memory.Image {
			m.Width, m.Height = dimensions(it.Base.Data)
		}
	}
	return m
}

// dimensions reads the image header; zero when the format is unknown
func dimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

// Marshal encodes the sidecar as indented JSON
func (m *Memory) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return data, nil
}

// Parse decodes a sidecar
func Parse(data []byte) (*Memory, error) {
	var m Memory
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &m, nil
}

// AspectRatio returns the aspect ratio as a string
func (m *Memory) AspectRatio() string {
	if m.Height == 0 {
		return "unknown"
	}

	ratio := float64(m.Width) / float64(m.Height)

	// Common aspect ratios
	switch {
	case ratio > 1.7 && ratio < 1.8:
		return "16:9"
	case ratio > 1.3 && ratio < 1.4:
		return "4:3"
	case ratio > 0.9 && ratio < 1.1:
		return "1:1"
	case ratio > 0.55 && ratio < 0.57:
		return "9:16"
	case ratio > 0.74 && ratio < 0.76:
		return "3:4"
	default:
		return fmt.Sprintf("%.2f:1", ratio)
	}
}

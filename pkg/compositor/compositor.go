// Package compositor merges a bundle's overlay onto its base medium.
//
// Images are blended in-process. Videos are handed to ffmpeg through a Runner,
// with ffprobe supplying the frame size so both inputs scale to the same even
// dimensions.
package compositor

import (
	"context"
	"errors"
	"fmt"

	"snapmem/pkg/archive"
	errs "snapmem/pkg/errors"
	"snapmem/pkg/memory"
)

// ErrTimeout marks a composition stopped by its time limit
var ErrTimeout = errors.New("composition timed out")

// Request asks for one merged artifact written to OutputPath
type Request struct {
	EntryID    string
	Bundle     archive.Bundle
	OutputPath string
}

// Strategy composites one media type
type Strategy interface {
	Composite(ctx context.Context, req Request) error
}

// Compositor dispatches a request to the strategy for its media type
type Compositor struct {
	strategies map[memory.MediaType]Strategy
}

func New(image, video Strategy) *Compositor {
	return &Compositor{strategies: map[memory.MediaType]Strategy{
		memory.Image: image,
		memory.Video: video,
	}}
}

func (c *Compositor) Composite(ctx context.Context, req Request) error {
	if !req.Bundle.HasOverlay() {
		return errs.Composition(0, "bundle has no overlay to composite", nil)
	}
	s, ok := c.strategies[req.Bundle.MediaType]
	if !ok || s == nil {
		return errs.Composition(0, fmt.Sprintf("no strategy for %s", req.Bundle.MediaType), nil)
	}
	return s.Composite(ctx, req)
}

// IsTimeout reports whether err is a composition that ran out of time
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// OutputExt is the extension of the merged artifact for b. It keeps the base
// extension when the output encoder can produce it.
func OutputExt(b archive.Bundle) string {
	if b.MediaType == memory.Video {
		switch b.Base.Ext {
		case ".mp4", ".mov", ".m4v":
			return b.Base.Ext
		}
		return ".mp4"
	}
	switch b.Base.Ext {
	case ".jpg", ".jpeg", ".png":
		return b.Base.Ext
	}
	return ".jpg"
}

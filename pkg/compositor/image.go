package compositor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	errs "snapmem/pkg/errors"
)

// ImageStrategy alpha-blends the overlay over the base frame
type ImageStrategy struct {
	JPEGQuality int
}

func (s *ImageStrategy) Composite(ctx context.Context, req Request) error {
	base, _, err := image.Decode(bytes.NewReader(req.Bundle.Base.Data))
	if err != nil {
		return errs.Composition(0, fmt.Sprintf("decode base %s", req.Bundle.Base.Name), err)
	}
	overlay, _, err := image.Decode(bytes.NewReader(req.Bundle.Overlay.Data))
	if err != nil {
		return errs.Composition(0, fmt.Sprintf("decode overlay %s", req.Bundle.Overlay.Name), err)
	}

	merged := Blend(base, overlay)

	f, err := os.OpenFile(req.OutputPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errs.Filesystem("create staging file", err)
	}
	if err := s.encode(f, merged, filepath.Ext(req.OutputPath)); err != nil {
		f.Close()
		os.Remove(req.OutputPath)
		return errs.Composition(0, "encode merged image", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(req.OutputPath)
		return errs.Filesystem("close staging file", err)
	}
	return nil
}

func (s *ImageStrategy) encode(w io.Writer, img image.Image, ext string) error {
	switch strings.ToLower(ext) {
	case ".png":
		return png.Encode(w, img)
	default:
		quality := s.JPEGQuality
		if quality <= 0 {
			quality = 95
		}
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	}
}

// Blend draws overlay over base, scaling the overlay to the base size when
// they differ. The result has the base's dimensions with origin (0,0).
func Blend(base, overlay image.Image) *image.RGBA {
	bb := base.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bb.Dx(), bb.Dy()))
	draw.Draw(dst, dst.Bounds(), base, bb.Min, draw.Src)

	ob := overlay.Bounds()
	if ob.Dx() == bb.Dx() && ob.Dy() == bb.Dy() {
		draw.Draw(dst, dst.Bounds(), overlay, ob.Min, draw.Over)
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), overlay, ob, draw.Over, nil)
	return dst
}

package message

import (
	"bytes"
	"image"
	_ "image/jpeg"
	"image/png"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// Resolution is a width x height pair in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Standard screenshot resolutions the vision models are tuned for.
var (
	ResolutionXGA   = Resolution{Width: 1024, Height: 768}
	ResolutionWXGA  = Resolution{Width: 1280, Height: 800}
	ResolutionFWXGA = Resolution{Width: 1366, Height: 768}
)

var standardResolutions = []Resolution{ResolutionXGA, ResolutionWXGA, ResolutionFWXGA}

// DefaultViewport is the browser window assumed when none is configured.
var DefaultViewport = Resolution{Width: 1920, Height: 1080}

// TargetResolution picks the standard resolution whose aspect ratio is
// closest to viewport. Viewports already smaller than every standard size
// are kept as they are.
func TargetResolution(viewport Resolution) Resolution {
	if viewport.Width <= 0 || viewport.Height <= 0 {
		viewport = DefaultViewport
	}
	if viewport.Width <= ResolutionXGA.Width && viewport.Height <= ResolutionXGA.Height {
		return viewport
	}
	ratio := float64(viewport.Width) / float64(viewport.Height)
	best := standardResolutions[0]
	bestDiff := math.MaxFloat64
	for _, r := range standardResolutions {
		diff := math.Abs(float64(r.Width)/float64(r.Height) - ratio)
		if diff < bestDiff {
			best, bestDiff = r, diff
		}
	}
	return best
}

// ResizeScreenshots scales every image to target and re-encodes it as PNG.
// Images already at the target size are returned untouched.
func ResizeScreenshots(images []Image, target Resolution) ([]Image, error) {
	out := make([]Image, 0, len(images))
	for i, img := range images {
		resized, err := resize(img, target)
		if err != nil {
			return nil, errors.Wrapf(err, "resize screenshot %d", i)
		}
		out = append(out, resized)
	}
	return out, nil
}

func resize(img Image, target Resolution) (Image, error) {
	src, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return Image{}, errors.Wrap(err, "decode")
	}
	b := src.Bounds()
	if b.Dx() == target.Width && b.Dy() == target.Height {
		return img, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, target.Width, target.Height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return Image{}, errors.Wrap(err, "encode")
	}
	return Image{Data: buf.Bytes(), MIMEType: "image/png"}, nil
}

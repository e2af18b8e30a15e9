package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// Encode downscales img to at most maxWidth pixels wide, keeping the
// aspect ratio, and compresses it as JPEG. smooth selects CatmullRom
// resampling; otherwise NearestNeighbor trades fidelity for speed.
func Encode(img image.Image, maxWidth int, smooth bool, quality int) ([]byte, error) {
	src := img.Bounds()
	if src.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	out := img
	if maxWidth > 0 && src.Dx() > maxWidth {
		h := src.Dy() * maxWidth / src.Dx()
		if h < 1 {
			h = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
		var scaler draw.Scaler = draw.NearestNeighbor
		if smooth {
			scaler = draw.CatmullRom
		}
		scaler.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

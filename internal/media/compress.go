package media

import (
	"bytes"
	"image"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	_ "github.com/gen2brain/webp"

	"golang.org/x/image/draw"
)

// Compressor recompresses downloaded media for fast bot delivery:
// decode, downscale so neither dimension exceeds MaxDim, re-encode as
// JPEG at a fixed quality. Any intermediate color model is flattened
// to RGBA on the way.
type Compressor struct {
	MaxDim  int
	Quality int
}

func NewCompressor(maxDim, quality int) *Compressor {
	return &Compressor{MaxDim: maxDim, Quality: quality}
}

// Compress returns the recompressed JPEG, or the original bytes
// unchanged when decoding or encoding fails.
func (c *Compressor) Compress(data []byte) []byte {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}

	bounds := img.Bounds()
	outW, outH := fit(bounds.Dx(), bounds.Dy(), c.MaxDim)

	dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: c.Quality}); err != nil {
		return data
	}
	return buf.Bytes()
}

func fit(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	if w >= h {
		scaled := h * maxDim / w
		if scaled < 1 {
			scaled = 1
		}
		return maxDim, scaled
	}
	scaled := w * maxDim / h
	if scaled < 1 {
		scaled = 1
	}
	return scaled, maxDim
}

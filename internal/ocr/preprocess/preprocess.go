// Package preprocess prepares rasters for the local OCR engine: it bounds
// the image size, drops color and binarizes with an adaptive threshold.
package preprocess

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

type Options struct {
	// MaxDimension caps width and height. Zero disables resizing.
	MaxDimension int
	// BlockSize is the side of the neighbourhood used for the local mean.
	BlockSize int
	// Offset is subtracted from the local mean before comparison.
	Offset int
}

func DefaultOptions() Options {
	return Options{MaxDimension: 2000, BlockSize: 31, Offset: 10}
}

// Apply resizes, grayscales and thresholds img.
func Apply(img image.Image, opts Options) *image.Gray {
	if opts.MaxDimension > 0 {
		b := img.Bounds()
		if b.Dx() > opts.MaxDimension || b.Dy() > opts.MaxDimension {
			img = imaging.Fit(img, opts.MaxDimension, opts.MaxDimension, imaging.Lanczos)
		}
	}
	gray := imaging.Grayscale(img)
	return Threshold(gray, opts.BlockSize, opts.Offset)
}

// Threshold binarizes img: a pixel becomes white when it is brighter than the
// mean of its block-sized neighbourhood minus offset, black otherwise.
func Threshold(img image.Image, blockSize, offset int) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return out
	}
	if blockSize < 3 {
		blockSize = 3
	}
	half := blockSize / 2

	lum := make([]int64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			lum[y*w+x] = int64(color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y)
		}
	}

	// sum[(y+1)*(w+1)+(x+1)] holds the sum of lum over [0,x]x[0,y].
	stride := w + 1
	sum := make([]int64, stride*(h+1))
	for y := 0; y < h; y++ {
		var row int64
		for x := 0; x < w; x++ {
			row += lum[y*w+x]
			sum[(y+1)*stride+x+1] = sum[y*stride+x+1] + row
		}
	}

	for y := 0; y < h; y++ {
		y0, y1 := clamp(y-half, 0, h-1), clamp(y+half, 0, h-1)
		for x := 0; x < w; x++ {
			x0, x1 := clamp(x-half, 0, w-1), clamp(x+half, 0, w-1)
			area := int64((x1 - x0 + 1) * (y1 - y0 + 1))
			total := sum[(y1+1)*stride+x1+1] - sum[y0*stride+x1+1] - sum[(y1+1)*stride+x0] + sum[y0*stride+x0]
			if lum[y*w+x]*area > total-int64(offset)*area {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

// EncodePNG serializes img for engines that take encoded bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

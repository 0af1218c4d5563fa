package video

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// ThumbnailWidth is the maximum width of stored thumbnails
const ThumbnailWidth = 320

// varianceGrid bounds how many pixels are read per frame
const varianceGrid = 64

// Variance returns the grayscale luminance variance of img, sampled on a
// grid of at most varianceGrid x varianceGrid pixels
func Variance(img image.Image) float64 {
	b := img.Bounds()
	if b.Empty() {
		return 0
	}
	stepX := max(1, b.Dx()/varianceGrid)
	stepY := max(1, b.Dy()/varianceGrid)

	var sum, sumSq, n float64
	for y := b.Min.Y; y < b.Max.Y; y += stepY {
		for x := b.Min.X; x < b.Max.X; x += stepX {
			l := float64(color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
			sum += l
			sumSq += l * l
			n++
		}
	}
	mean := sum / n
	return sumSq/n - mean*mean
}

// SelectThumbnail returns the index of the sample with the highest variance
// above floor. If every sample is near-solid the first sample is chosen.
func SelectThumbnail(samples []FrameSample, floor float64) int {
	best, bestScore := 0, -1.0
	for i, s := range samples {
		v := Variance(s.Image)
		if v < floor {
			continue
		}
		if v > bestScore {
			best, bestScore = i, v
		}
	}
	return best
}

// EncodeThumbnail scales img down to at most maxWidth pixels wide and
// encodes it as JPEG
func EncodeThumbnail(img image.Image, maxWidth int) ([]byte, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > maxWidth {
		h = max(1, h*maxWidth/w)
		w = maxWidth
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

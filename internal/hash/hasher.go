package hash

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"mediadupfinder/internal/models"
)

// FrameDecoder decodes a single frame of a file that Go cannot decode natively
type FrameDecoder interface {
	Frame(ctx context.Context, path string, ts float64) (image.Image, error)
}

// ImageFingerprinter computes average hashes for still images
type ImageFingerprinter struct {
	hashSize int
	fallback FrameDecoder
}

// NewImageFingerprinter creates a new ImageFingerprinter. fallback may be nil.
func NewImageFingerprinter(hashSize int, fallback FrameDecoder) *ImageFingerprinter {
	if hashSize <= 0 {
		hashSize = 8
	}
	return &ImageFingerprinter{hashSize: hashSize, fallback: fallback}
}

// Fingerprint implements the scan engine's fingerprinting strategy for images
func (f *ImageFingerprinter) Fingerprint(ctx context.Context, file models.MediaFile) (*models.Fingerprint, error) {
	info, err := f.HashImage(ctx, file.Path)
	if err != nil {
		return nil, err
	}
	return &models.Fingerprint{File: file, Image: info}, nil
}

// HashImage decodes the image at path and computes its average hash
func (f *ImageFingerprinter) HashImage(ctx context.Context, path string) (*models.ImageFingerprint, error) {
	img, format, err := decodeWithContext(ctx, path)
	if err != nil && errors.Is(err, image.ErrFormat) && f.fallback != nil {
		img, err = f.fallback.Frame(ctx, path, 0)
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	if err != nil {
		return nil, err
	}

	hash, err := HashImage(img, f.hashSize)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	info := &models.ImageFingerprint{
		Hash:   hash,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Format: strings.ToLower(format),
	}
	if taken, ok := takenAt(path); ok {
		info.TakenAt = &taken
	}
	return info, nil
}

// HashImage computes the size x size average hash of img. Video frames are
// hashed with the same function so frame hashes and image hashes agree.
func HashImage(img image.Image, size int) (models.Hash, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", models.ErrDecode)
	}
	h, err := goimagehash.ExtAverageHash(img, size, size)
	if err != nil {
		return nil, fmt.Errorf("failed to compute hash: %w", err)
	}
	return models.Hash(h.GetHash()), nil
}

// decodeWithContext decodes an image, giving up when ctx is done
func decodeWithContext(ctx context.Context, path string) (image.Image, string, error) {
	type result struct {
		img    image.Image
		format string
		err    error
	}
	done := make(chan result, 1)

	go func() {
		img, format, err := decodeFile(path)
		done <- result{img, format, err}
	}()

	select {
	case r := <-done:
		return r.img, r.format, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, "", fmt.Errorf("timeout decoding image %s: %w", path, models.ErrTimeout)
		}
		return nil, "", ctx.Err()
	}
}

func decodeFile(path string) (image.Image, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, "", fmt.Errorf("%w: %w", models.ErrDecode, err)
		}
		return nil, "", fmt.Errorf("%w: failed to decode image: %v", models.ErrDecode, err)
	}
	return img, format, nil
}

// takenAt reads the EXIF capture date, if any
func takenAt(path string) (time.Time, bool) {
	file, err := os.Open(path)
	if err != nil {
		return time.Time{}, false
	}
	defer file.Close()

	x, err := exif.Decode(file)
	if err != nil {
		return time.Time{}, false
	}
	t, err := x.DateTime()
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".bmp": true, ".tiff": true, ".tif": true, ".ico": true,
}

var videoExts = map[string]bool{
	".mp4": true, ".avi": true, ".mkv": true, ".mov": true, ".wmv": true, ".webm": true,
	".m4v": true, ".flv": true, ".mpg": true, ".mpeg": true, ".mts": true,
}

// Classify maps a file extension onto a media kind
func Classify(path string) (models.Kind, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case imageExts[ext]:
		return models.KindImage, true
	case videoExts[ext]:
		return models.KindVideo, true
	default:
		return 0, false
	}
}

// IsSupported checks if a file is a recognized image or video
func IsSupported(path string) bool {
	_, ok := Classify(path)
	return ok
}

// HammingDistance calculates the Hamming distance between two hashes
func HammingDistance(a, b models.Hash) int {
	return a.Distance(b)
}

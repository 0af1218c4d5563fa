package audio

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"mediadupfinder/internal/config"
	"mediadupfinder/internal/models"
)

// PCMSource extracts a mono, resampled audio track
type PCMSource interface {
	Audio(ctx context.Context, path string, sampleRate int, maxSeconds float64) ([]float64, error)
}

// Fingerprinter produces MFCC summary fingerprints for the audio of a video
type Fingerprinter struct {
	source     PCMSource
	sampleRate int
	maxSeconds float64
	extractor  *Extractor
}

// NewFingerprinter creates a new Fingerprinter
func NewFingerprinter(source PCMSource, sampleRate int, maxSeconds float64) *Fingerprinter {
	return &Fingerprinter{
		source:     source,
		sampleRate: sampleRate,
		maxSeconds: maxSeconds,
		extractor:  NewExtractor(sampleRate),
	}
}

// Fingerprint extracts and summarizes the audio track of path. A missing,
// empty or silent track yields an error wrapping models.ErrNoAudioTrack.
func (f *Fingerprinter) Fingerprint(ctx context.Context, path string) (*models.AudioFingerprint, error) {
	samples, err := f.source.Audio(ctx, path, f.sampleRate, f.maxSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to extract audio: %w", err)
	}

	// the source may ignore the cap
	if limit := int(f.maxSeconds * float64(f.sampleRate)); limit > 0 && len(samples) > limit {
		samples = samples[:limit]
	}

	vec, err := f.extractor.Compute(samples)
	if err != nil {
		return nil, err
	}
	return &models.AudioFingerprint{
		Vector:  vec,
		Seconds: float64(len(samples)) / float64(f.sampleRate),
	}, nil
}

// Metric is a distance between two audio fingerprint vectors
type Metric func(a, b []float64) float64

// MetricFor returns the metric registered under name, defaulting to Euclidean
func MetricFor(name string) Metric {
	if name == config.AudioMetricCosine {
		return Cosine
	}
	return Euclidean
}

// Euclidean returns the L2 distance. Vectors of different length are
// infinitely far apart.
func Euclidean(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	return floats.Distance(a, b, 2)
}

// Cosine returns 1 - cos(a, b), in [0, 2]
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		if na == nb {
			return 0
		}
		return 1
	}
	return 1 - floats.Dot(a, b)/(na*nb)
}

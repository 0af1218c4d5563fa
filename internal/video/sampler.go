package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"mediadupfinder/internal/ffmpeg"
	"mediadupfinder/internal/models"
)

// FrameSource probes videos and decodes single frames
type FrameSource interface {
	Probe(ctx context.Context, path string) (ffmpeg.Probe, error)
	Frame(ctx context.Context, path string, ts float64) (image.Image, error)
}

// FrameSample is one decoded frame and the timestamp it was taken at.
// Samples are transient and never stored.
type FrameSample struct {
	Timestamp float64
	Image     image.Image
}

// maxProbeStep caps the neighborhood probed around a failed timestamp
const maxProbeStep = 0.5

// Sampler takes evenly spaced frames from a video
type Sampler struct {
	source FrameSource
	count  int
}

// NewSampler creates a Sampler that requests count frames per video
func NewSampler(source FrameSource, count int) *Sampler {
	if count < 1 {
		count = 1
	}
	return &Sampler{source: source, count: count}
}

// Timestamps returns up to count timestamps evenly spaced across (0, duration).
// When fps is known, timestamps falling on the same frame are collapsed so
// short videos yield as many samples as they have distinct frames. A zero
// or unknown duration yields a single timestamp at 0.
func Timestamps(duration, fps float64, count int) []float64 {
	if duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return []float64{0}
	}
	if count < 1 {
		count = 1
	}

	out := make([]float64, 0, count)
	seen := make(map[int64]bool, count)
	for i := 0; i < count; i++ {
		ts := duration * float64(i+1) / float64(count+1)

		var key int64
		if fps > 0 {
			key = int64(math.Floor(ts * fps))
		} else {
			key = int64(math.Round(ts * 1000))
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ts)
	}
	return out
}

// probeOffsets returns the offsets tried around a timestamp, nearest first
func probeOffsets(duration float64, count int) []float64 {
	step := maxProbeStep
	if duration > 0 {
		step = math.Min(maxProbeStep, duration/float64(2*(count+1)))
	}
	if step <= 0 {
		return []float64{0}
	}
	return []float64{0, step, -step, 2 * step, -2 * step}
}

// Sample decodes one frame per timestamp. A timestamp whose frame cannot be
// decoded is retried in a small neighborhood and dropped if every attempt
// fails. An error is returned only when no frame at all could be decoded.
func (s *Sampler) Sample(ctx context.Context, path string, probe ffmpeg.Probe) ([]FrameSample, error) {
	timestamps := Timestamps(probe.Duration, probe.FrameRate, s.count)
	offsets := probeOffsets(probe.Duration, s.count)

	samples := make([]FrameSample, 0, len(timestamps))
	var lastErr error

	for _, ts := range timestamps {
		if err := ctx.Err(); err != nil {
			return nil, contextError(err)
		}

		for _, off := range offsets {
			at := ts + off
			if at < 0 || (probe.Duration > 0 && at >= probe.Duration) {
				continue
			}

			img, err := s.source.Frame(ctx, path, at)
			if err != nil {
				lastErr = err
				if errors.Is(err, models.ErrTimeout) || ctx.Err() != nil {
					return nil, err
				}
				continue
			}
			samples = append(samples, FrameSample{Timestamp: at, Image: img})
			break
		}
	}

	if len(samples) == 0 {
		if lastErr == nil {
			lastErr = errors.New("no frames decoded")
		}
		return nil, fmt.Errorf("%w: no frame could be sampled: %v", models.ErrDecode, lastErr)
	}
	return samples, nil
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("frame sampling: %w", models.ErrTimeout)
	}
	return err
}

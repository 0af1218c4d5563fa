package video

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"mediadupfinder/internal/hash"
	"mediadupfinder/internal/models"
)

// AudioDisabledNote is recorded on videos fingerprinted without an audio
// fingerprinter
const AudioDisabledNote = "audio fingerprinting disabled"

// AudioFingerprinter summarizes the audio track of a file
type AudioFingerprinter interface {
	Fingerprint(ctx context.Context, path string) (*models.AudioFingerprint, error)
}

// Fingerprinter composes frame sampling, per-frame hashing, thumbnail
// selection and audio fingerprinting into one VideoFingerprint
type Fingerprinter struct {
	source        FrameSource
	sampler       *Sampler
	audio         AudioFingerprinter
	hashSize      int
	varianceFloor float64
	logger        zerolog.Logger
}

// Option configures a Fingerprinter
type Option func(*Fingerprinter)

// WithLogger sets the logger used for per-file diagnostics
func WithLogger(l zerolog.Logger) Option {
	return func(f *Fingerprinter) {
		f.logger = l
	}
}

// WithVarianceFloor sets the variance below which a frame is considered
// near-solid and skipped for thumbnails
func WithVarianceFloor(floor float64) Option {
	return func(f *Fingerprinter) {
		f.varianceFloor = floor
	}
}

// NewFingerprinter creates a Fingerprinter sampling frameCount frames per
// video. audio may be nil, in which case no audio fingerprint is taken.
func NewFingerprinter(source FrameSource, audio AudioFingerprinter, frameCount, hashSize int, opts ...Option) *Fingerprinter {
	f := &Fingerprinter{
		source:        source,
		sampler:       NewSampler(source, frameCount),
		audio:         audio,
		hashSize:      hashSize,
		varianceFloor: 64,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fingerprint implements the scan engine's fingerprinting strategy for videos
func (f *Fingerprinter) Fingerprint(ctx context.Context, file models.MediaFile) (*models.Fingerprint, error) {
	probe, err := f.source.Probe(ctx, file.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to probe video: %w", err)
	}
	if !probe.HasVideo {
		return nil, fmt.Errorf("%w: no video stream", models.ErrDecode)
	}

	samples, err := f.sampler.Sample(ctx, file.Path, probe)
	if err != nil {
		return nil, err
	}

	frames := make([]models.FrameHash, 0, len(samples))
	for _, s := range samples {
		h, err := hash.HashImage(s.Image, f.hashSize)
		if err != nil {
			return nil, fmt.Errorf("failed to hash frame at %.3fs: %w", s.Timestamp, err)
		}
		frames = append(frames, models.FrameHash{Timestamp: s.Timestamp, Hash: h})
	}

	vf := &models.VideoFingerprint{
		Duration: probe.Duration,
		Visual:   models.VideoVisualFingerprint{Frames: frames},
	}

	thumb := samples[SelectThumbnail(samples, f.varianceFloor)]
	vf.ThumbnailAt = thumb.Timestamp
	if data, err := EncodeThumbnail(thumb.Image, ThumbnailWidth); err != nil {
		f.logger.Debug().Err(err).Str("path", file.Path).Msg("thumbnail encoding failed")
	} else {
		vf.Thumbnail = data
	}

	switch {
	case f.audio == nil:
		vf.AudioNote = AudioDisabledNote
	case !probe.HasAudio:
		vf.AudioNote = models.ErrNoAudioTrack.Error()
	default:
		af, err := f.audio.Fingerprint(ctx, file.Path)
		if err != nil {
			// the visual fingerprint stands on its own, even when audio timed out
			vf.AudioNote = err.Error()
			f.logger.Debug().Err(err).Str("path", file.Path).Msg("no audio fingerprint")
		} else {
			vf.Audio = af
		}
	}

	f.logger.Debug().
		Str("path", file.Path).
		Int("frames", len(frames)).
		Bool("audio", vf.Audio != nil).
		Msg("video fingerprinted")

	return &models.Fingerprint{File: file, Video: vf}, nil
}

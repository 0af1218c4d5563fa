package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"sync"
	"testing"

	"mediadupfinder/internal/ffmpeg"
	"mediadupfinder/internal/models"
)

// fakeSource serves synthetic frames; frames inside a failing window error
type fakeSource struct {
	probe  ffmpeg.Probe
	fail   func(ts float64) bool
	render func(ts float64) image.Image

	mu    sync.Mutex
	calls []float64
}

func (s *fakeSource) Probe(_ context.Context, _ string) (ffmpeg.Probe, error) {
	return s.probe, nil
}

func (s *fakeSource) Frame(_ context.Context, _ string, ts float64) (image.Image, error) {
	s.mu.Lock()
	s.calls = append(s.calls, ts)
	s.mu.Unlock()
	if s.fail != nil && s.fail(ts) {
		return nil, fmt.Errorf("%w: corrupt packet", models.ErrDecode)
	}
	if s.render != nil {
		return s.render(ts), nil
	}
	return stripes(32, 24, 4), nil
}

func solid(w, h int, v uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func stripes(w, h, period int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/period)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 250})
			}
		}
	}
	return img
}

func TestTimestamps(t *testing.T) {
	tests := []struct {
		name     string
		duration float64
		fps      float64
		count    int
		want     int
	}{
		{"evenly spaced", 11, 25, 10, 10},
		{"unknown fps", 11, 0, 10, 10},
		{"zero duration", 0, 25, 10, 1},
		{"negative duration", -1, 25, 10, 1},
		{"more samples than frames", 1, 10, 30, 10},
		{"single frame video", 0.04, 25, 10, 1},
		{"single sample", 60, 30, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Timestamps(tt.duration, tt.fps, tt.count)
			if len(got) != tt.want {
				t.Fatalf("Timestamps(%v, %v, %d) returned %d samples, want %d: %v",
					tt.duration, tt.fps, tt.count, len(got), tt.want, got)
			}
			for i, ts := range got {
				if tt.duration > 0 && (ts <= 0 || ts >= tt.duration) {
					t.Errorf("timestamp %v outside (0, %v)", ts, tt.duration)
				}
				if i > 0 && ts <= got[i-1] {
					t.Errorf("timestamps not increasing: %v", got)
				}
			}
		})
	}
}

func TestTimestamps_EvenSpacing(t *testing.T) {
	got := Timestamps(11, 0, 10)
	for i, ts := range got {
		if math.Abs(ts-float64(i+1)) > 1e-9 {
			t.Errorf("timestamp %d = %v, want %v", i, ts, float64(i+1))
		}
	}
}

func TestSampler_ShortVideoDoesNotLoop(t *testing.T) {
	src := &fakeSource{probe: ffmpeg.Probe{Duration: 1, FrameRate: 10, HasVideo: true}}
	samples, err := NewSampler(src, 10).Sample(context.Background(), "short.mp4", src.probe)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if len(samples) == 0 || len(samples) > 10 {
		t.Errorf("expected between 1 and 10 samples, got %d", len(samples))
	}
}

func TestSampler_ProbesNeighborhood(t *testing.T) {
	// the exact timestamp 5.0 fails; the sampler should try nearby offsets
	src := &fakeSource{
		probe: ffmpeg.Probe{Duration: 10, HasVideo: true},
		fail:  func(ts float64) bool { return math.Abs(ts-5) < 1e-9 },
	}
	samples, err := NewSampler(src, 1).Sample(context.Background(), "clip.mp4", src.probe)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(samples))
	}
	if samples[0].Timestamp == 5 {
		t.Error("expected a neighboring timestamp to be used")
	}
	if math.Abs(samples[0].Timestamp-5) > 2*maxProbeStep+1e-9 {
		t.Errorf("neighbor %v too far from 5", samples[0].Timestamp)
	}
}

func TestSampler_DropsUndecodableSample(t *testing.T) {
	// everything around t=4 fails, t=2 and t=6 work
	src := &fakeSource{
		probe: ffmpeg.Probe{Duration: 8, HasVideo: true},
		fail:  func(ts float64) bool { return ts > 2.9 && ts < 5.1 },
	}
	samples, err := NewSampler(src, 3).Sample(context.Background(), "clip.mp4", src.probe)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected the middle sample to be dropped, got %d samples", len(samples))
	}
}

func TestSampler_AllFramesFail(t *testing.T) {
	src := &fakeSource{
		probe: ffmpeg.Probe{Duration: 4, HasVideo: true},
		fail:  func(float64) bool { return true },
	}
	_, err := NewSampler(src, 3).Sample(context.Background(), "broken.mp4", src.probe)
	if !errors.Is(err, models.ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}

func TestSelectThumbnail(t *testing.T) {
	samples := []FrameSample{
		{Timestamp: 1, Image: solid(32, 24, 0)},
		{Timestamp: 2, Image: stripes(32, 24, 8)},
		{Timestamp: 3, Image: solid(32, 24, 255)},
	}
	if got := SelectThumbnail(samples, 64); got != 1 {
		t.Errorf("expected the striped frame, got index %d", got)
	}

	allSolid := []FrameSample{
		{Timestamp: 1, Image: solid(32, 24, 0)},
		{Timestamp: 2, Image: solid(32, 24, 10)},
	}
	if got := SelectThumbnail(allSolid, 64); got != 0 {
		t.Errorf("expected fallback to the first frame, got index %d", got)
	}
}

func TestVariance(t *testing.T) {
	if v := Variance(solid(16, 16, 128)); v != 0 {
		t.Errorf("solid frame variance = %v, want 0", v)
	}
	if v := Variance(stripes(16, 16, 2)); v < 1000 {
		t.Errorf("striped frame variance too low: %v", v)
	}
}

func TestEncodeThumbnail(t *testing.T) {
	data, err := EncodeThumbnail(stripes(1280, 720, 16), ThumbnailWidth)
	if err != nil {
		t.Fatalf("EncodeThumbnail failed: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("thumbnail is not a jpeg: %v", err)
	}
	if b := img.Bounds(); b.Dx() != ThumbnailWidth || b.Dy() != 180 {
		t.Errorf("unexpected thumbnail size %v", b)
	}
}

type fakeAudio struct {
	fp  *models.AudioFingerprint
	err error
}

func (a fakeAudio) Fingerprint(_ context.Context, _ string) (*models.AudioFingerprint, error) {
	return a.fp, a.err
}

func TestFingerprinter(t *testing.T) {
	file := models.MediaFile{Path: "clip.mp4", Kind: models.KindVideo}
	vec := &models.AudioFingerprint{Vector: []float64{1, 2}, Seconds: 3}

	tests := []struct {
		name      string
		probe     ffmpeg.Probe
		audio     AudioFingerprinter
		wantAudio bool
		wantNote  bool
	}{
		{"with audio", ffmpeg.Probe{Duration: 10, HasVideo: true, HasAudio: true}, fakeAudio{fp: vec}, true, false},
		{"no audio stream", ffmpeg.Probe{Duration: 10, HasVideo: true}, fakeAudio{fp: vec}, false, true},
		{"audio extraction fails", ffmpeg.Probe{Duration: 10, HasVideo: true, HasAudio: true},
			fakeAudio{err: fmt.Errorf("failed to extract audio: %w", models.ErrNoAudioTrack)}, false, true},
		{"audio extraction times out", ffmpeg.Probe{Duration: 10, HasVideo: true, HasAudio: true},
			fakeAudio{err: fmt.Errorf("ffmpeg audio extract: %w", models.ErrTimeout)}, false, true},
		{"audio disabled", ffmpeg.Probe{Duration: 10, HasVideo: true, HasAudio: true}, nil, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{probe: tt.probe}
			fp, err := NewFingerprinter(src, tt.audio, 4, 8).Fingerprint(context.Background(), file)
			if err != nil {
				t.Fatalf("Fingerprint failed: %v", err)
			}
			if fp.Video == nil || fp.Image != nil {
				t.Fatalf("expected a video fingerprint, got %+v", fp)
			}
			if got := len(fp.Video.Visual.Frames); got != 4 {
				t.Errorf("expected 4 frame hashes, got %d", got)
			}
			if (fp.Video.Audio != nil) != tt.wantAudio {
				t.Errorf("audio present = %v, want %v", fp.Video.Audio != nil, tt.wantAudio)
			}
			if (fp.Video.AudioNote != "") != tt.wantNote {
				t.Errorf("audio note = %q", fp.Video.AudioNote)
			}
			if len(fp.Video.Thumbnail) == 0 {
				t.Error("expected a thumbnail")
			}
		})
	}
}

func TestFingerprinter_NoVideoStream(t *testing.T) {
	src := &fakeSource{probe: ffmpeg.Probe{Duration: 10, HasAudio: true}}
	_, err := NewFingerprinter(src, nil, 4, 8).Fingerprint(context.Background(), models.MediaFile{Path: "song.mp4"})
	if !errors.Is(err, models.ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}

func TestFingerprinter_ThumbnailSkipsBlackFrames(t *testing.T) {
	src := &fakeSource{
		probe: ffmpeg.Probe{Duration: 4, HasVideo: true},
		render: func(ts float64) image.Image {
			if ts < 2 {
				return solid(32, 24, 0)
			}
			return stripes(32, 24, 4)
		},
	}
	fp, err := NewFingerprinter(src, nil, 3, 8).Fingerprint(context.Background(), models.MediaFile{Path: "fade-in.mp4"})
	if err != nil {
		t.Fatal(err)
	}
	if fp.Video.ThumbnailAt < 2 {
		t.Errorf("thumbnail taken from a black frame at %v", fp.Video.ThumbnailAt)
	}
}

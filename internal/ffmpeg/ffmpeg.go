package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/go-audio/wav"

	"mediadupfinder/internal/models"
)

// Probe describes the streams of a media file as reported by ffprobe
type Probe struct {
	Duration   float64 // seconds, 0 when unknown
	FrameRate  float64 // frames per second, 0 when unknown
	FrameCount int     // 0 when unknown
	HasVideo   bool
	HasAudio   bool
}

// Runner invokes the ffmpeg and ffprobe binaries
type Runner struct {
	ffmpegPath  string
	ffprobePath string
}

// NewRunner creates a Runner. Empty paths fall back to the binaries on PATH.
func NewRunner(ffmpegPath, ffprobePath string) *Runner {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = "ffmpeg"
	}
	if strings.TrimSpace(ffprobePath) == "" {
		ffprobePath = "ffprobe"
	}
	return &Runner{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// Available reports whether both binaries can be found
func (r *Runner) Available() bool {
	if _, err := exec.LookPath(r.ffmpegPath); err != nil {
		return false
	}
	_, err := exec.LookPath(r.ffprobePath)
	return err == nil
}

// Probe reads duration, frame rate and stream presence
func (r *Runner) Probe(ctx context.Context, path string) (Probe, error) {
	cmd := exec.CommandContext(ctx, r.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Probe{}, commandError(ctx, "ffprobe", err, &stderr)
	}
	return parseProbe(stdout.Bytes())
}

type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
		Disposition  struct {
			AttachedPic int `json:"attached_pic"`
		} `json:"disposition"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseProbe(data []byte) (Probe, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Probe{}, fmt.Errorf("%w: invalid ffprobe output: %v", models.ErrDecode, err)
	}

	var p Probe
	p.Duration = parseSeconds(out.Format.Duration)

	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			// cover art is reported as a video stream
			if s.Disposition.AttachedPic == 1 || p.HasVideo {
				continue
			}
			p.HasVideo = true
			p.FrameRate = parseRate(s.AvgFrameRate)
			if p.FrameRate == 0 {
				p.FrameRate = parseRate(s.RFrameRate)
			}
			if n, err := strconv.Atoi(s.NbFrames); err == nil && n > 0 {
				p.FrameCount = n
			}
			if p.Duration == 0 {
				p.Duration = parseSeconds(s.Duration)
			}
		case "audio":
			p.HasAudio = true
		}
	}

	if p.FrameCount == 0 && p.FrameRate > 0 && p.Duration > 0 {
		p.FrameCount = int(p.Duration * p.FrameRate)
	}
	return p, nil
}

func parseSeconds(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// parseRate parses ffprobe rationals such as "30000/1001"
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return parseSeconds(s)
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 || n <= 0 {
		return 0
	}
	return n / d
}

// Frame decodes the frame shown at ts seconds
func (r *Runner) Frame(ctx context.Context, path string, ts float64) (image.Image, error) {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-ss", strconv.FormatFloat(ts, 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	}
	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, commandError(ctx, "ffmpeg frame extract", err, &stderr)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%w: no frame at %.3fs", models.ErrDecode, ts)
	}

	img, err := png.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode frame: %v", models.ErrDecode, err)
	}
	return img, nil
}

// Audio decodes up to maxSeconds of the first audio track as mono samples
// in [-1, 1] at sampleRate Hz. ErrNoAudioTrack is returned when the file has
// no audio or the track is empty.
func (r *Runner) Audio(ctx context.Context, path string, sampleRate int, maxSeconds float64) ([]float64, error) {
	tmp, err := os.CreateTemp("", "mediadup-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", path,
		"-vn",
		"-map", "0:a:0",
		"-t", strconv.FormatFloat(maxSeconds, 'f', 3, 64),
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-acodec", "pcm_s16le",
		"-f", "wav",
		"-y", tmpPath,
	}
	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if isMissingStream(stderr.String()) {
			return nil, models.ErrNoAudioTrack
		}
		return nil, commandError(ctx, "ffmpeg audio extract", err, &stderr)
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open extracted audio: %w", err)
	}
	defer f.Close()

	return decodeWAV(f)
}

// decodeWAV reads a PCM WAV stream and downmixes it to normalized mono
func decodeWAV(rs io.ReadSeeker) ([]float64, error) {
	dec := wav.NewDecoder(rs)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: invalid wav stream", models.ErrDecode)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read pcm: %v", models.ErrDecode, err)
	}

	channels := 1
	if buf.Format != nil && buf.Format.NumChannels > 0 {
		channels = buf.Format.NumChannels
	}
	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = int(dec.BitDepth)
	}
	if depth == 0 {
		depth = 16
	}
	scale := float64(int64(1) << (depth - 1))

	n := len(buf.Data) / channels
	if n == 0 {
		return nil, models.ErrNoAudioTrack
	}

	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c])
		}
		samples[i] = sum / float64(channels) / scale
	}
	return samples, nil
}

func isMissingStream(stderr string) bool {
	msg := strings.ToLower(stderr)
	return strings.Contains(msg, "matches no streams") ||
		strings.Contains(msg, "does not contain any stream") ||
		strings.Contains(msg, "output file is empty")
}

// commandError maps a failed invocation onto the per-file error taxonomy
func commandError(ctx context.Context, op string, err error, stderr *bytes.Buffer) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", op, models.ErrTimeout)
		}
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}

	detail := strings.TrimSpace(stderr.String())
	if i := strings.LastIndexByte(detail, '\n'); i >= 0 {
		detail = detail[i+1:]
	}
	if strings.Contains(strings.ToLower(detail), "no such file") {
		return fmt.Errorf("%s: %w", op, os.ErrNotExist)
	}
	if detail == "" {
		return fmt.Errorf("%w: %s: %v", models.ErrDecode, op, err)
	}
	return fmt.Errorf("%w: %s: %v: %s", models.ErrDecode, op, err, detail)
}

package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"mediadupfinder/internal/models"
)

// Distance metrics accepted by the grouper
const (
	AudioMetricEuclidean = "euclidean"
	AudioMetricCosine    = "cosine"

	VisualMetricBestMatch = "best-match"
	VisualMetricAligned   = "aligned"
)

// Config is the complete set of knobs for one scan. It is passed into the
// engine explicitly and never read from package state.
type Config struct {
	FrameCount         int           `mapstructure:"frame_count"`
	ImageHashThreshold int           `mapstructure:"image_threshold"`
	VisualThreshold    int           `mapstructure:"visual_threshold"`
	AudioThreshold     float64       `mapstructure:"audio_threshold"`
	AudioMetric        string        `mapstructure:"audio_metric"`
	VisualMetric       string        `mapstructure:"visual_metric"`
	HashSize           int           `mapstructure:"hash_size"`
	Workers            int           `mapstructure:"workers"`
	FileTimeout        time.Duration `mapstructure:"file_timeout"`
	MaxAudioSeconds    float64       `mapstructure:"max_audio_seconds"`
	AudioSampleRate    int           `mapstructure:"audio_sample_rate"`
	SolidVarianceFloor float64       `mapstructure:"solid_variance_floor"`
	FFmpegPath         string        `mapstructure:"ffmpeg_path"`
	FFprobePath        string        `mapstructure:"ffprobe_path"`
	CachePath          string        `mapstructure:"cache_path"`
}

// Default returns the configuration used when nothing is overridden
func Default() Config {
	return Config{
		FrameCount:         10,
		ImageHashThreshold: 5,
		VisualThreshold:    8,
		AudioThreshold:     12.0,
		AudioMetric:        AudioMetricEuclidean,
		VisualMetric:       VisualMetricBestMatch,
		HashSize:           8,
		Workers:            runtime.NumCPU(),
		FileTimeout:        2 * time.Minute,
		MaxAudioSeconds:    120,
		AudioSampleRate:    16000,
		SolidVarianceFloor: 64,
		FFmpegPath:         "ffmpeg",
		FFprobePath:        "ffprobe",
	}
}

// Validate rejects values that would make a scan meaningless. All problems
// are reported together, each wrapped in models.ErrInvalidConfig.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{models.ErrInvalidConfig}, args...)...))
		}
	}

	check(c.FrameCount >= 1, "frame count must be at least 1, got %d", c.FrameCount)
	check(c.ImageHashThreshold >= 0, "image threshold must be non-negative, got %d", c.ImageHashThreshold)
	check(c.VisualThreshold >= 0, "visual threshold must be non-negative, got %d", c.VisualThreshold)
	check(c.AudioThreshold >= 0, "audio threshold must be non-negative, got %g", c.AudioThreshold)
	check(c.HashSize >= 8 && c.HashSize%8 == 0, "hash size must be a positive multiple of 8, got %d", c.HashSize)
	check(c.Workers >= 1, "workers must be at least 1, got %d", c.Workers)
	check(c.FileTimeout > 0, "file timeout must be positive, got %s", c.FileTimeout)
	check(c.MaxAudioSeconds > 0, "max audio seconds must be positive, got %g", c.MaxAudioSeconds)
	check(c.AudioSampleRate >= 4000, "audio sample rate must be at least 4000, got %d", c.AudioSampleRate)
	check(c.SolidVarianceFloor >= 0, "solid variance floor must be non-negative, got %g", c.SolidVarianceFloor)
	check(c.AudioMetric == AudioMetricEuclidean || c.AudioMetric == AudioMetricCosine,
		"audio metric must be %q or %q, got %q", AudioMetricEuclidean, AudioMetricCosine, c.AudioMetric)
	check(c.VisualMetric == VisualMetricBestMatch || c.VisualMetric == VisualMetricAligned,
		"visual metric must be %q or %q, got %q", VisualMetricBestMatch, VisualMetricAligned, c.VisualMetric)
	check(strings.TrimSpace(c.FFmpegPath) != "", "ffmpeg path must not be empty")
	check(strings.TrimSpace(c.FFprobePath) != "", "ffprobe path must not be empty")

	return errors.Join(errs...)
}

// Signature identifies the settings that change fingerprint contents, so
// cached fingerprints are only reused under identical settings.
func (c Config) Signature() string {
	return fmt.Sprintf("h%d-f%d-a%g-r%d-v%g", c.HashSize, c.FrameCount, c.MaxAudioSeconds, c.AudioSampleRate, c.SolidVarianceFloor)
}

// Loader reads Config from defaults, a YAML file and MEDIADUP_* environment
// variables. Later sources win.
type Loader struct {
	viper *viper.Viper
}

// NewLoader creates a Loader with defaults registered
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigName("mediadup")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home + "/.mediadupfinder")
	}
	v.SetEnvPrefix("MEDIADUP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("frame_count", d.FrameCount)
	v.SetDefault("image_threshold", d.ImageHashThreshold)
	v.SetDefault("visual_threshold", d.VisualThreshold)
	v.SetDefault("audio_threshold", d.AudioThreshold)
	v.SetDefault("audio_metric", d.AudioMetric)
	v.SetDefault("visual_metric", d.VisualMetric)
	v.SetDefault("hash_size", d.HashSize)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("file_timeout", d.FileTimeout)
	v.SetDefault("max_audio_seconds", d.MaxAudioSeconds)
	v.SetDefault("audio_sample_rate", d.AudioSampleRate)
	v.SetDefault("solid_variance_floor", d.SolidVarianceFloor)
	v.SetDefault("ffmpeg_path", d.FFmpegPath)
	v.SetDefault("ffprobe_path", d.FFprobePath)
	v.SetDefault("cache_path", d.CachePath)

	return &Loader{viper: v}
}

// Viper exposes the underlying instance so command flags can be bound to it
func (l *Loader) Viper() *viper.Viper {
	return l.viper
}

// SetConfigFile forces a specific config file instead of the search path
func (l *Loader) SetConfigFile(path string) {
	l.viper.SetConfigFile(path)
}

// Load resolves and validates the configuration
func (l *Loader) Load() (Config, error) {
	if err := l.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := l.viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation error: %w", err)
	}
	return cfg, nil
}

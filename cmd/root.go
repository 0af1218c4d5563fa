package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"mediadupfinder/internal/config"
	"mediadupfinder/internal/logging"
)

var (
	cfgFile    string
	reportPath string
	logLevel   string
	logJSON    bool

	loader = config.NewLoader()
	logger = logging.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "mediadupfinder",
	Short: "Find and manage duplicate images and videos",
	Long: `mediadupfinder finds duplicate and near-duplicate images and videos.

Images are compared by average hash. Videos are compared by the hashes of
evenly spaced frames, then split by an MFCC fingerprint of their audio so
that the same footage with a different soundtrack is not reported.
In every group the oldest file is kept.

Example usage:
  mediadupfinder scan ./media --report dupes.json   # Scan and save a report
  mediadupfinder list --report dupes.json           # List duplicate groups
  mediadupfinder clean --report dupes.json --dry-run
  mediadupfinder serve ./media                      # Local HTTP API`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		logger = logging.New(logging.LogLevel(logLevel), os.Stderr, logJSON)
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (default ./mediadup.yaml or ~/.mediadupfinder/mediadup.yaml)")

	// Default report path
	homeDir, _ := os.UserHomeDir()
	defaultReport := filepath.Join(homeDir, ".mediadupfinder", "report.json")
	flags.StringVar(&reportPath, "report", defaultReport, "Path to the scan report")
	flags.StringVar(&logLevel, "log-level", string(logging.WarnLevel), "Log level (debug, info, warn, error)")
	flags.BoolVar(&logJSON, "log-json", false, "Write logs as JSON lines")

	d := config.Default()
	flags.Int("workers", d.Workers, "Number of parallel workers")
	flags.Int("frames", d.FrameCount, "Frames sampled per video")
	flags.Int("image-threshold", d.ImageHashThreshold, "Hamming distance threshold for images")
	flags.Int("visual-threshold", d.VisualThreshold, "Frame distance threshold for videos")
	flags.Float64("audio-threshold", d.AudioThreshold, "MFCC distance threshold for video audio")
	flags.String("audio-metric", d.AudioMetric, "Audio distance (euclidean, cosine)")
	flags.String("visual-metric", d.VisualMetric, "Frame distance aggregation (best-match, aligned)")
	flags.Duration("file-timeout", d.FileTimeout, "Time limit for fingerprinting one file")
	flags.String("cache", "", "Fingerprint cache database (empty disables caching)")

	v := loader.Viper()
	for key, flag := range map[string]string{
		"workers":          "workers",
		"frame_count":      "frames",
		"image_threshold":  "image-threshold",
		"visual_threshold": "visual-threshold",
		"audio_threshold":  "audio-threshold",
		"audio_metric":     "audio-metric",
		"visual_metric":    "visual-metric",
		"file_timeout":     "file-timeout",
		"cache_path":       "cache",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

// loadConfig resolves defaults, config file, environment and flags
func loadConfig() (config.Config, error) {
	if cfgFile != "" {
		loader.SetConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return config.Config{}, err
	}
	logger.Debug().Str("signature", cfg.Signature()).Int("workers", cfg.Workers).Msg("configuration loaded")
	return cfg, nil
}

// absRoots resolves and checks the directories given on the command line
func absRoots(args []string) ([]string, error) {
	roots := make([]string, 0, len(args))
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path: %w", err)
		}
		if _, err := os.Stat(abs); err != nil {
			return nil, fmt.Errorf("path not found: %w", err)
		}
		roots = append(roots, abs)
	}
	return roots, nil
}

package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"mediadupfinder/internal/ffmpeg"
	"mediadupfinder/internal/fileutil"
	"mediadupfinder/internal/models"
	"mediadupfinder/internal/scan"
	"mediadupfinder/internal/storage"
)

var (
	noReport   bool
	showErrors int
)

var scanCmd = &cobra.Command{
	Use:   "scan <folder>...",
	Short: "Scan folders for duplicate images and videos",
	Long: `Scan folders recursively for images and videos and detect duplicates.

The scan will:
1. Find all supported images and videos
2. Hash images, sample and hash video frames, fingerprint video audio
3. Group similar files and pick the oldest file of each group to keep
4. Save a report for list and clean

Example:
  mediadupfinder scan ./photos ./videos
  mediadupfinder scan /path/to/media --image-threshold 3 --frames 16
  mediadupfinder scan ./media --cache ~/.mediadupfinder/cache.db`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&noReport, "no-report", false, "Do not write a report")
	scanCmd.Flags().IntVar(&showErrors, "show-errors", 20, "Maximum errors to print (0 = all)")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	roots, err := absRoots(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, root := range roots {
		fmt.Printf("Scanning: %s\n", root)
	}
	fmt.Printf("Thresholds: image %d, visual %d, audio %.1f\n", cfg.ImageHashThreshold, cfg.VisualThreshold, cfg.AudioThreshold)
	fmt.Printf("Workers: %d\n\n", cfg.Workers)

	if !ffmpeg.NewRunner(cfg.FFmpegPath, cfg.FFprobePath).Available() {
		fmt.Println(warnStyle.Render("ffmpeg/ffprobe not found: videos will be reported as errors"))
		fmt.Println()
	}

	files, walkErrs, err := fileutil.Walk(ctx, roots)
	if err != nil {
		return fmt.Errorf("failed to walk folders: %w", err)
	}
	if len(files) == 0 {
		// still replace the report and show walk errors below
		fmt.Println("No images or videos found.")
	}

	opts := []scan.Option{scan.WithLogger(logger)}
	var cache *storage.Cache
	if cfg.CachePath != "" {
		cache, err = storage.OpenCache(cfg.CachePath, cfg.Signature())
		if err != nil {
			return fmt.Errorf("failed to open cache: %w", err)
		}
		defer cache.Close()
		opts = append(opts, scan.WithCache(cache))
	}

	var p *mpb.Progress
	var bar *mpb.Bar
	if len(files) > 0 {
		p = mpb.New(mpb.WithWidth(64))
		bar = p.AddBar(int64(len(files)),
			mpb.PrependDecorators(
				decor.Name("Fingerprinting: "),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
				decor.EwmaETA(decor.ET_STYLE_GO, 60),
			),
		)
		opts = append(opts, scan.WithProgress(func(done, _ int, _ string) {
			bar.SetCurrent(int64(done))
		}))
	}

	engine := scan.NewEngine(cfg, opts...)
	result, err := engine.Run(ctx, files)
	if p != nil {
		if err == nil {
			bar.SetCurrent(int64(len(files)))
		} else {
			bar.Abort(false)
		}
		p.Wait()
	}

	if errors.Is(err, models.ErrCancelledScan) {
		fmt.Println("Scan cancelled.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	result.AddErrors(walkErrs)
	if cache != nil {
		if err := cache.RecordScan(ctx, result); err != nil {
			logger.Warn().Err(err).Msg("failed to record scan history")
		}
	}

	fmt.Println()
	printResultSummary(result)
	fmt.Println()
	for _, group := range result.Groups {
		printGroup(group, false)
	}
	printErrors(result.Errors, showErrors)

	if !noReport {
		report := &storage.Report{Roots: roots, Signature: cfg.Signature(), Result: result}
		if err := storage.WriteReport(reportPath, report); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Printf("Report saved to %s\n", reportPath)
	}

	if len(result.Groups) > 0 {
		fmt.Println()
		fmt.Println("Run 'mediadupfinder list' to see duplicate groups")
		fmt.Println("Run 'mediadupfinder clean --dry-run' to preview deletions")
	}
	return nil
}

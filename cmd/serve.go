package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mediadupfinder/internal/metrics"
	"mediadupfinder/internal/scan"
	"mediadupfinder/internal/server"
	"mediadupfinder/internal/storage"
)

var (
	servePort    int
	serveHost    string
	serveTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve [folder]...",
	Short: "Start the local HTTP API for a duplicate review UI",
	Long: `Start a local HTTP server that a UI can use to run scans, review
duplicate groups with thumbnails and remove duplicates.

The server will:
- Load the last scan report, if there is one
- Scan the given folders (or the report's folders) on POST /api/scan
- Serve groups, errors and thumbnails for the latest result
- Validate and remove duplicates on POST /api/delete
- Expose Prometheus metrics on /metrics
- Auto-shutdown after idle timeout (paused while a client sends heartbeats)

Example:
  mediadupfinder serve ./media          # Start on default port 8080
  mediadupfinder serve -p 3000 ./media  # Use custom port
  mediadupfinder serve --timeout 10m    # 10 minute idle timeout`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHost, "host", "localhost", "Interface to listen on")
	serveCmd.Flags().DurationVar(&serveTimeout, "timeout", 5*time.Minute, "Idle timeout (0 to disable)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	roots, err := absRoots(args)
	if err != nil {
		return err
	}

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(metrics.NewMetrics()),
		server.WithIdleTimeout(serveTimeout),
	}

	report, err := storage.ReadReport(reportPath)
	switch {
	case err == nil:
		opts = append(opts, server.WithResult(report.Result))
		if len(roots) == 0 {
			roots = report.Roots
		}
		fmt.Printf("Loaded report %s (%d groups)\n", reportPath, len(report.Result.Groups))
	case errors.Is(err, fs.ErrNotExist):
	default:
		logger.Warn().Err(err).Str("report", reportPath).Msg("ignoring unreadable report")
	}

	if cfg.CachePath != "" {
		cache, err := storage.OpenCache(cfg.CachePath, cfg.Signature())
		if err != nil {
			return fmt.Errorf("failed to open cache: %w", err)
		}
		defer cache.Close()
		opts = append(opts, server.WithEngineOptions(scan.WithCache(cache)))
	}

	srv := server.New(cfg, roots, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("%s:%d", serveHost, servePort)
	fmt.Println(titleStyle.Render("Starting server at http://" + addr))
	for _, root := range roots {
		fmt.Printf("Folder: %s\n", root)
	}
	fmt.Printf("Idle timeout: %v (resets on activity, pauses while a client is active)\n", serveTimeout)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	return srv.Start(ctx, addr)
}

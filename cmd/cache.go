package cmd

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"mediadupfinder/internal/storage"
)

var historyLimit int

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the fingerprint cache",
	Long: `Inspect and maintain the fingerprint cache set with --cache or cache_path.

Example:
  mediadupfinder cache stats --cache ~/.mediadupfinder/cache.db
  mediadupfinder cache history -n 5
  mediadupfinder cache prune`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the number of cached fingerprints",
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := openCache()
		if err != nil {
			return err
		}
		defer cache.Close()

		n, err := cache.Count(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Cached fingerprints: %d\n", n)
		return nil
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop entries for missing files or other settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := openCache()
		if err != nil {
			return err
		}
		defer cache.Close()

		n, err := cache.Prune(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d entries\n", n)
		return nil
	},
}

var cacheHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent scans",
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := openCache()
		if err != nil {
			return err
		}
		defer cache.Close()

		records, err := cache.History(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No scans recorded.")
			return nil
		}

		fmt.Printf("%-36s  %-14s  %-8s  %6s  %6s  %6s  %s\n", "Scan", "Started", "Took", "Files", "Groups", "Dupes", "Errors")
		for _, r := range records {
			fmt.Printf("%-36s  %-14s  %-8s  %6d  %6d  %6d  %d\n",
				r.ID, humanize.Time(r.StartedAt), r.Duration.Round(1e8), r.TotalFiles, r.TotalGroups, r.TotalDuplicates, r.TotalErrors)
		}
		return nil
	},
}

func init() {
	cacheHistoryCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of scans to show")
	cacheCmd.AddCommand(cacheStatsCmd, cachePruneCmd, cacheHistoryCmd)
	rootCmd.AddCommand(cacheCmd)
}

func openCache() (*storage.Cache, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.CachePath == "" {
		return nil, errors.New("no cache configured (set --cache or cache_path)")
	}
	cache, err := storage.OpenCache(cfg.CachePath, cfg.Signature())
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return cache, nil
}

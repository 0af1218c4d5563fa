package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mediadupfinder/internal/fileutil"
	"mediadupfinder/internal/models"
	"mediadupfinder/internal/storage"
)

var (
	dryRun    bool
	moveTo    string
	permanent bool
	noConfirm bool
	groupIDs  []int
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove or move duplicate images and videos",
	Long: `Remove duplicates found by the last scan, keeping the oldest file of each group.

Every file is checked before it is touched: it must still exist, be a regular
file with the size and modification time recorded by the scan, and the file
kept in its group must still be present.

Options:
  --dry-run     Preview what would be removed without actually removing
  --permanent   Delete files permanently instead of moving to trash
  --move-to     Move duplicates to a specific folder
  --yes         Skip confirmation prompt
  --group       Specify group IDs to clean (can be used multiple times)

Example:
  mediadupfinder clean                     # Move to trash (default)
  mediadupfinder clean --permanent         # Delete permanently
  mediadupfinder clean --move-to=./backup  # Move to specific folder
  mediadupfinder clean --dry-run           # Preview only
  mediadupfinder clean --group=1 --group=3 # Clean only groups 1 and 3`,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview without removing")
	cleanCmd.Flags().BoolVar(&permanent, "permanent", false, "Delete permanently instead of moving to trash")
	cleanCmd.Flags().StringVar(&moveTo, "move-to", "", "Move duplicates to this folder")
	cleanCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompt")
	cleanCmd.Flags().IntSliceVarP(&groupIDs, "group", "g", nil, "Group IDs to clean (can be specified multiple times)")
	cleanCmd.MarkFlagsMutuallyExclusive("permanent", "move-to")
	rootCmd.AddCommand(cleanCmd)
}

// candidate is a deletion candidate together with its group
type candidate struct {
	group  *models.DuplicateGroup
	member *models.Member
}

func runClean(cmd *cobra.Command, args []string) error {
	report, err := storage.ReadReport(reportPath)
	if err != nil {
		return fmt.Errorf("failed to read report (run 'mediadupfinder scan <folder>' first): %w", err)
	}
	result := report.Result
	groups := result.Groups

	if len(groups) == 0 {
		fmt.Println("No duplicate groups found.")
		return nil
	}

	// Filter groups if --group is specified
	if len(groupIDs) > 0 {
		groupIDSet := make(map[int]bool)
		for _, id := range groupIDs {
			groupIDSet[id] = true
		}

		var filtered []*models.DuplicateGroup
		for _, group := range groups {
			if groupIDSet[group.ID] {
				filtered = append(filtered, group)
			}
		}

		if len(filtered) == 0 {
			fmt.Printf("No matching groups found for IDs: %v\n", groupIDs)
			fmt.Println("Run 'mediadupfinder list' to see available group IDs.")
			return nil
		}

		groups = filtered
		fmt.Printf("Processing %d selected group(s): %v\n\n", len(groups), groupIDs)
	}

	// Collect candidates that are still safe to remove
	var toRemove []candidate
	var skipped int
	var totalSize int64
	for _, group := range groups {
		for _, m := range group.Candidates() {
			if err := fileutil.Validate(group, m); err != nil {
				logger.Info().Err(err).Msg("skipping candidate")
				fmt.Println(dimStyle.Render("  skip " + err.Error()))
				skipped++
				continue
			}
			toRemove = append(toRemove, candidate{group: group, member: m})
			totalSize += m.Size
		}
	}

	if len(toRemove) == 0 {
		fmt.Println("No files to remove (files may have been changed or already deleted).")
		return nil
	}

	remover := &fileutil.Remover{Mode: fileutil.ModeTrash}
	action := "move to trash"
	if moveTo != "" {
		remover.Mode, remover.MoveTo = fileutil.ModeMove, moveTo
		action = fmt.Sprintf("move to %s", moveTo)
	} else if permanent {
		remover.Mode = fileutil.ModePermanent
		action = "permanently delete"
	}

	fmt.Printf("Will %s %d files (%s)\n\n", action, len(toRemove), formatSize(totalSize))

	if dryRun {
		fmt.Println("Files to be removed:")
		for _, c := range toRemove {
			fmt.Printf("  %s %s\n", dropStyle.Render("✗"), c.member.Path)
			fmt.Println(dimStyle.Render("      keeps " + c.group.Keep))
		}
		fmt.Println()
		fmt.Println("(Dry run - no files were modified)")
		fmt.Println("Run without --dry-run to actually remove files.")
		return nil
	}

	// Confirm unless --yes flag is set
	if !noConfirm {
		fmt.Printf("Are you sure you want to %s %d files? [y/N]: ", action, len(toRemove))
		reader := bufio.NewReader(os.Stdin)
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Process files
	var processed, failed int
	var reclaimed int64
	for _, c := range toRemove {
		if err := remover.Remove(c.group, c.member); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to process %s: %v\n", c.member.Path, err)
			failed++
			continue
		}
		processed++
		reclaimed += c.member.Size
		result.RemoveMember(c.group, c.member.Path)
		logger.Info().Str("path", c.member.Path).Str("mode", remover.Mode.String()).Msg("duplicate removed")
	}

	// Keep the report in step with the disk
	if processed > 0 {
		if err := storage.WriteReport(reportPath, report); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to update report: %v\n", err)
		}
	}

	fmt.Println()
	switch remover.Mode {
	case fileutil.ModeMove:
		fmt.Printf("Moved %d files to %s\n", processed, moveTo)
	case fileutil.ModePermanent:
		fmt.Printf("Permanently deleted %d files\n", processed)
	default:
		fmt.Printf("Moved %d files to trash\n", processed)
	}
	if skipped > 0 {
		fmt.Printf("Skipped: %d files\n", skipped)
	}
	if failed > 0 {
		fmt.Println(warnStyle.Render(fmt.Sprintf("Failed: %d files", failed)))
	}
	fmt.Printf("Space reclaimed: %s\n", formatSize(reclaimed))

	return nil
}

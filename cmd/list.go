package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mediadupfinder/internal/models"
	"mediadupfinder/internal/storage"
)

var (
	listJSON    bool
	listVerbose bool
	listSummary bool
	listErrors  bool
	listKind    string
	listLimit   int
	listOffset  int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all duplicate groups",
	Long: `Display the duplicate groups of the last scan report.

Each group shows:
- Group ID and kind (image or video)
- Files in the group with their size and modification time
- Which file will be kept (oldest) marked with ✓
- Which files will be removed marked with ✗

Example:
  mediadupfinder list              # Show first 10 groups (default)
  mediadupfinder list -n 0         # Show all groups
  mediadupfinder list -s           # Summary view (compact)
  mediadupfinder list --offset 10  # Groups 11-20
  mediadupfinder list --kind video # Video groups only
  mediadupfinder list --errors     # Files that failed to fingerprint`,
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	listCmd.Flags().BoolVarP(&listVerbose, "verbose", "v", false, "Show detailed file info")
	listCmd.Flags().BoolVarP(&listSummary, "summary", "s", false, "Show summary only (group counts and sizes)")
	listCmd.Flags().BoolVar(&listErrors, "errors", false, "Show per-file errors instead of groups")
	listCmd.Flags().StringVar(&listKind, "kind", "", "Only show groups of this kind (image, video)")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 10, "Limit number of groups to display (0 = all)")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "Skip first N groups (for pagination)")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	report, err := storage.ReadReport(reportPath)
	if err != nil {
		return fmt.Errorf("failed to read report (run 'mediadupfinder scan <folder>' first): %w", err)
	}
	result := report.Result

	if listErrors {
		if listJSON {
			return writeJSON(result.Errors)
		}
		if len(result.Errors) == 0 {
			fmt.Println("No errors.")
			return nil
		}
		printErrors(result.Errors, 0)
		return nil
	}

	groups := result.Groups
	if listKind != "" {
		var kind models.Kind
		if err := kind.UnmarshalText([]byte(listKind)); err != nil {
			return err
		}
		groups = filterKind(groups, kind)
	}

	if listJSON {
		return writeJSON(groups)
	}

	if len(groups) == 0 {
		fmt.Println("No duplicate groups found.")
		fmt.Println("Run 'mediadupfinder scan <folder>' to scan for duplicates.")
		return nil
	}

	// Calculate totals
	totalDuplicates := 0
	var totalSavings int64
	for _, group := range groups {
		totalDuplicates += len(group.Candidates())
		totalSavings += group.Reclaimable()
	}

	fmt.Printf("Found %d duplicate groups (%d duplicates, %s reclaimable)\n",
		len(groups), totalDuplicates, formatSize(totalSavings))
	fmt.Println(dimStyle.Render(fmt.Sprintf("Scan %s of %d files, %s", result.ID, result.TotalFiles, result.StartedAt.Format("2006-01-02 15:04"))))
	fmt.Println()

	// Apply pagination
	totalGroups := len(groups)
	groups, startIdx := paginate(groups, listOffset, listLimit)

	// Display groups
	if len(groups) == 0 {
		fmt.Printf("No groups in range (offset %d exceeds total %d)\n", listOffset, totalGroups)
	} else if listSummary {
		printSummaryTable(groups)
	} else {
		for _, group := range groups {
			printGroup(group, listVerbose)
		}
	}

	// Show pagination info
	endIdx := startIdx + len(groups)
	if len(groups) > 0 {
		fmt.Printf("Showing groups %d-%d of %d\n", startIdx+1, endIdx, totalGroups)
		if endIdx < totalGroups {
			limitArg := ""
			if listLimit > 0 {
				limitArg = fmt.Sprintf(" -n %d", listLimit)
			}
			fmt.Printf("Next page: mediadupfinder list%s --offset %d\n", limitArg, endIdx)
		}
	}

	if n := len(result.Errors); n > 0 {
		fmt.Println(warnStyle.Render(fmt.Sprintf("%d files had errors, see 'mediadupfinder list --errors'", n)))
	}

	fmt.Println()
	fmt.Println("Run 'mediadupfinder clean --dry-run' to preview deletions")
	fmt.Println("Run 'mediadupfinder clean' to remove duplicates")

	return nil
}

func filterKind(groups []*models.DuplicateGroup, kind models.Kind) []*models.DuplicateGroup {
	var out []*models.DuplicateGroup
	for _, g := range groups {
		if g.Kind == kind {
			out = append(out, g)
		}
	}
	return out
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// paginate returns one page of groups and the index it starts at.
// A negative offset starts at the first group, a limit <= 0 means no limit.
func paginate(groups []*models.DuplicateGroup, offset, limit int) ([]*models.DuplicateGroup, int) {
	start := min(max(offset, 0), len(groups))
	page := groups[start:]
	if limit > 0 && limit < len(page) {
		page = page[:limit]
	}
	return page, start
}

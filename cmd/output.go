package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"mediadupfinder/internal/models"
)

var (
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	keepStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	dropStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

func formatSize(bytes int64) string {
	return humanize.Bytes(uint64(max(bytes, 0)))
}

func printResultSummary(r *models.ScanResult) {
	lines := []string{
		titleStyle.Render("Scan Complete"),
		fmt.Sprintf("Files:            %d", r.TotalFiles),
		fmt.Sprintf("Fingerprinted:    %d", r.Fingerprinted),
		fmt.Sprintf("Duplicate groups: %d", len(r.Groups)),
		fmt.Sprintf("Duplicates found: %d (%s reclaimable)", r.TotalDuplicates(), formatSize(r.Reclaimable())),
		fmt.Sprintf("Errors:           %d", len(r.Errors)),
		fmt.Sprintf("Took:             %s", r.Duration.Round(1e6)),
	}
	fmt.Println(boxStyle.Render(strings.Join(lines, "\n")))
}

func printSummaryTable(groups []*models.DuplicateGroup) {
	fmt.Printf("%-8s  %-6s  %-8s  %-12s  %s\n", "Group", "Kind", "Files", "Reclaimable", "Keep (oldest)")
	fmt.Println(dimStyle.Render(strings.Repeat("-", 76)))

	for _, group := range groups {
		keepName := filepath.Base(group.Keep)
		if len(keepName) > 35 {
			keepName = keepName[:32] + "..."
		}

		fmt.Printf("#%-7d  %-6s  %-8d  %-12s  %s\n",
			group.ID, group.Kind, len(group.Members), formatSize(group.Reclaimable()), keepName)
	}
	fmt.Println()
}

func printGroup(group *models.DuplicateGroup, verbose bool) {
	fmt.Println(titleStyle.Render(fmt.Sprintf("Group #%d (%d %ss)", group.ID, len(group.Members), group.Kind)))
	fmt.Println(dimStyle.Render(strings.Repeat("-", 60)))

	for _, m := range group.Members {
		marker := dropStyle.Render("✗")
		if m.Keep {
			marker = keepStyle.Render("✓")
		}

		if verbose {
			fmt.Printf("  %s %s\n", marker, m.Path)
			fmt.Printf("      %s  Size: %s  Modified: %s\n",
				describe(m), formatSize(m.Size), humanize.Time(m.ModTime))
			if taken := m.Summary.TakenAt; taken != nil {
				fmt.Printf("      Taken: %s\n", taken.Format("2006-01-02 15:04:05"))
			}
			if !m.Keep {
				fmt.Printf("      Distance: %.2f\n", m.Summary.Distance)
			}
		} else {
			fmt.Printf("  %s %-40s  %-22s  %8s  %s\n",
				marker, shortenPath(m.Path, 40), describe(m), formatSize(m.Size), m.ModTime.Format("2006-01-02 15:04"))
		}
	}
	fmt.Println()
}

// describe renders the per-kind part of a member's summary
func describe(m *models.Member) string {
	s := m.Summary
	if m.Kind == models.KindImage {
		return fmt.Sprintf("%dx%d", s.Width, s.Height)
	}
	audio := "no audio"
	if s.HasAudio {
		audio = "audio"
	}
	return fmt.Sprintf("%.1fs %d frames %s", s.Duration, s.Frames, audio)
}

func printErrors(errs []models.FileError, limit int) {
	if len(errs) == 0 {
		return
	}
	fmt.Println(warnStyle.Render(fmt.Sprintf("%d files could not be fully processed:", len(errs))))
	for i, e := range errs {
		if limit > 0 && i == limit {
			fmt.Println(dimStyle.Render(fmt.Sprintf("  ... and %d more", len(errs)-limit)))
			break
		}
		fmt.Printf("  %-14s %s\n", e.Kind, shortenPath(e.Path, 60))
		fmt.Println(dimStyle.Render("                 " + e.Reason))
	}
	fmt.Println()
}

func shortenPath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}

	// Try to show filename and as much of the path as possible
	dir, file := filepath.Split(path)
	if len(file) >= maxLen-3 {
		return "..." + file[len(file)-(maxLen-3):]
	}

	remaining := maxLen - len(file) - 4 // 4 for ".../"
	if remaining > 0 && len(dir) > remaining {
		dir = dir[len(dir)-remaining:]
	}
	return "..." + dir + file
}

package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/NamanBalaji/hlsdm/internal/engine"
	"github.com/NamanBalaji/hlsdm/internal/status"
	"github.com/NamanBalaji/hlsdm/internal/tui/styles"
)

const maxNameLen = 30

// JobItem renders one job as three lines: name and state, progress bar,
// and segment and size details.
func JobItem(job engine.JobSummary, width int, selected bool) string {
	name := job.StreamID
	if name == "" {
		name = job.ID.String()[:8]
	}
	if len(name) > maxNameLen {
		name = name[:maxNameLen-3] + "..."
	}

	progress := Progress(job)
	statusLabel := StatusLabel(job.Status)

	percentStyle := lipgloss.NewStyle().Width(10).Align(lipgloss.Right)
	formattedPercent := percentStyle.Render(fmt.Sprintf("%.1f%%", progress*100))

	remainingSpace := width - maxNameLen - lipgloss.Width(statusLabel) - lipgloss.Width(formattedPercent) - 3
	if remainingSpace < 2 {
		remainingSpace = 2
	}

	line1 := fmt.Sprintf("%-*s %s%s%s",
		maxNameLen,
		name,
		statusLabel,
		strings.Repeat(" ", remainingSpace),
		formattedPercent)

	barWidth := max(width-2, 10)
	line2 := styles.ListItemStyle.Render(ProgressBar(barWidth, progress, job.Status))

	info := fmt.Sprintf("%d/%d segments  %d failed  %s", job.Completed, job.Total, job.Failed, formatSize(job.Bytes))
	if job.Variant != nil {
		info += "  " + formatBandwidth(job.Variant.Bandwidth)
		if job.Variant.Resolution != "" {
			info += " " + job.Variant.Resolution
		}
	}
	if job.Reason != "" {
		info += "  " + job.Reason
	}
	line3 := styles.ListItemStyle.Faint(true).Render(info)

	item := lipgloss.JoinVertical(lipgloss.Left, line1, line2, line3)
	if selected {
		return styles.SelectedItemStyle.Width(width).Render(item)
	}
	return styles.ListItemStyle.Width(width).Render(item)
}

// Progress is the share of settled segments, 1 for a completed job.
func Progress(job engine.JobSummary) float64 {
	if job.Status == status.Completed {
		return 1
	}
	if job.Total == 0 {
		return 0
	}
	return float64(job.Completed+job.Failed) / float64(job.Total)
}

func StatusLabel(s status.Status) string {
	switch s {
	case status.Queued:
		return styles.StatusQueued.Render("○ queued")
	case status.Resolving:
		return styles.StatusResolving.Render("◌ resolving")
	case status.Downloading:
		return styles.StatusDownloading.Render("● downloading")
	case status.Assembling:
		return styles.StatusAssembling.Render("◍ assembling")
	case status.Completed:
		return styles.StatusCompleted.Render("✔ completed")
	case status.PartiallyCompleted:
		return styles.StatusPartial.Render("◐ partial")
	case status.Cancelled:
		return styles.StatusCancelled.Render("⊘ cancelled")
	case status.Failed:
		return styles.StatusFailed.Render("✖ failed")
	default:
		return styles.StatusFailed.Render("unknown")
	}
}

// formatSize converts bytes into a human-readable string.
func formatSize(bytes int64) string {
	const unit = 1000
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	d := float64(bytes)
	exp := 0
	for d >= unit && exp < 6 {
		d /= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", d, "kMGTPE"[exp-1])
}

func formatBandwidth(bps int64) string {
	if bps >= 1_000_000 {
		return fmt.Sprintf("%.1f Mbps", float64(bps)/1_000_000)
	}
	return fmt.Sprintf("%d kbps", bps/1000)
}

package components

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/NamanBalaji/hlsdm/internal/engine"
	"github.com/NamanBalaji/hlsdm/internal/tui/styles"
)

const itemHeight = 4

// RenderJobList renders the jobs that fit in height, scrolled so the
// selected one is visible.
func RenderJobList(jobs []engine.JobSummary, selected int, width, height int) string {
	if len(jobs) == 0 {
		return renderEmptyView(width, height)
	}
	if height <= 0 {
		return lipgloss.NewStyle().Width(width).Height(height).Render("")
	}

	visibleCount := max(height/itemHeight, 1)

	start := max(selected-visibleCount/2, 0)
	end := start + visibleCount
	if end > len(jobs) {
		end = len(jobs)
		start = max(end-visibleCount, 0)
	}

	rows := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		rows = append(rows, JobItem(jobs[i], width, i == selected))
	}

	listContent := lipgloss.JoinVertical(lipgloss.Left, rows...)

	return lipgloss.NewStyle().Width(width).Height(height).Render(listContent)
}

func renderEmptyView(width, height int) string {
	logo := []string{
		"██╗  ██╗██╗     ███████╗██████╗ ███╗   ███╗",
		"██║  ██║██║     ██╔════╝██╔══██╗████╗ ████║",
		"███████║██║     ███████╗██║  ██║██╔████╔██║",
		"██╔══██║██║     ╚════██║██║  ██║██║╚██╔╝██║",
		"██║  ██║███████╗███████║██████╔╝██║ ╚═╝ ██║",
		"╚═╝  ╚═╝╚══════╝╚══════╝╚═════╝ ╚═╝     ╚═╝",
	}
	colors := []lipgloss.Color{
		styles.Blue, styles.Mauve, styles.Red,
		styles.Peach, styles.Yellow, styles.Green,
	}

	lines := make([]string, 0, len(logo))
	for i, line := range logo {
		lines = append(lines, lipgloss.NewStyle().Foreground(colors[i]).Render(line))
	}

	subtitle := lipgloss.NewStyle().Foreground(styles.Text).Italic(true).Render("HLS Stream Downloader")
	instruction := lipgloss.NewStyle().Foreground(styles.Subtext0).Render("Press 'a' to add a stream or 'q' to quit")

	content := lipgloss.JoinVertical(lipgloss.Center, lines...)
	content = lipgloss.JoinVertical(lipgloss.Center, content, "", subtitle, "", instruction)

	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, content)
}

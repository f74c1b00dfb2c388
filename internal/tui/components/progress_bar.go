package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/NamanBalaji/hlsdm/internal/status"
	"github.com/NamanBalaji/hlsdm/internal/tui/styles"
)

// ProgressBar returns a bar of width cells, percent (0 to 1) of them filled
// in the colour of s.
func ProgressBar(width int, percent float64, s status.Status) string {
	if width <= 0 {
		return ""
	}

	percent = min(max(percent, 0), 1)

	filledWidth := int(float64(width) * percent)
	emptyWidth := width - filledWidth

	filled := lipgloss.NewStyle().Foreground(statusColor(s)).Render(strings.Repeat("█", filledWidth))

	return filled + styles.ProgressBarEmptyStyle.Render(strings.Repeat("░", emptyWidth))
}

func statusColor(s status.Status) lipgloss.Color {
	switch s {
	case status.Resolving:
		return styles.Sapphire
	case status.Downloading:
		return styles.Teal
	case status.Assembling:
		return styles.Blue
	case status.Completed:
		return styles.Green
	case status.PartiallyCompleted:
		return styles.Peach
	case status.Cancelled:
		return styles.Mauve
	case status.Failed:
		return styles.Red
	default:
		return styles.Yellow
	}
}

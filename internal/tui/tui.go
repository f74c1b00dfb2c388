package tui

import (
	"github.com/google/uuid"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/NamanBalaji/hlsdm/internal/engine"
)

// Engine is the part of the download engine the TUI drives.
type Engine interface {
	Submit(ref engine.StreamReference, hint engine.QualityHint) (uuid.UUID, error)
	List() []engine.JobSummary
	Cancel(id uuid.UUID) error
	Delete(id uuid.UUID) error
}

// Run starts the TUI and blocks until the user quits.
func Run(eng Engine) error {
	p := tea.NewProgram(
		NewModel(eng),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	_, err := p.Run()

	return err
}

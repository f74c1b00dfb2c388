package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/NamanBalaji/hlsdm/internal/engine"
	"github.com/NamanBalaji/hlsdm/internal/status"
	"github.com/NamanBalaji/hlsdm/internal/tui/components"
	"github.com/NamanBalaji/hlsdm/internal/tui/styles"
)

type currentView int

const (
	viewList currentView = iota
	viewAdd
	viewConfirmDelete
	viewConfirmCancel
)

const refreshInterval = 500 * time.Millisecond

var ErrBandwidthNAN = errors.New("max bandwidth must be a whole number of bits/s")

// add form fields, in focus order
const (
	fieldURL = iota
	fieldStreamID
	fieldBandwidth
	fieldCount
)

// Model is the main TUI application model.
type Model struct {
	eng  Engine
	view currentView

	list    listModel
	inputs  [fieldCount]textinput.Model
	focus   int
	spinner spinner.Model
	help    help.Model
	keys    keyMap

	width, height int
	errMsg        string
	successMsg    string
	loaded        bool
}

type listModel struct {
	jobs     []engine.JobSummary
	selected int
}

type (
	clearMsg     struct{}
	tickMsg      struct{}
	jobsMsg      []engine.JobSummary
	actionResult struct {
		success string
		err     error
	}
)

func clearNotifications() tea.Cmd {
	return tea.Tick(3*time.Second, func(time.Time) tea.Msg {
		return clearMsg{}
	})
}

// NewModel creates a new TUI model.
func NewModel(eng Engine) *Model {
	urlInput := textinput.New()
	urlInput.Placeholder = "Manifest URL (.m3u8)"
	urlInput.Focus()
	urlInput.CharLimit = 2048
	urlInput.Width = 60

	idInput := textinput.New()
	idInput.Placeholder = "Stream ID (optional)"
	idInput.CharLimit = 128
	idInput.Width = 40

	bwInput := textinput.New()
	bwInput.Placeholder = "Max bandwidth in bits/s (optional)"
	bwInput.CharLimit = 12
	bwInput.Width = 40
	bwInput.Validate = func(s string) error {
		if s == "" {
			return nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err != nil || n < 0 {
			return ErrBandwidthNAN
		}
		return nil
	}

	sp := spinner.New()
	sp.Spinner = spinner.Line
	sp.Style = lipgloss.NewStyle().Foreground(styles.Pink)

	return &Model{
		eng:     eng,
		view:    viewList,
		inputs:  [fieldCount]textinput.Model{urlInput, idInput, bwInput},
		spinner: sp,
		help:    help.New(),
		keys:    newKeyMap(),
	}
}

// Init initializes the model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.refreshJobs(),
		m.spinner.Tick,
		tick(),
	)
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

// Update handles incoming messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width

	case tickMsg:
		return m, tea.Batch(tick(), m.refreshJobs())

	case jobsMsg:
		m.list.jobs = msg
		m.loaded = true
		m.list.selected = max(min(m.list.selected, len(m.list.jobs)-1), 0)

		return m, nil

	case actionResult:
		if msg.err != nil {
			m.errMsg = msg.err.Error()
		} else {
			m.successMsg = msg.success
		}

		return m, tea.Batch(m.refreshJobs(), clearNotifications())

	case clearMsg:
		m.errMsg = ""
		m.successMsg = ""

		return m, nil

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || (m.view != viewAdd && key.Matches(msg, m.keys.Quit)) {
			return m, tea.Quit
		}
	}

	switch m.view {
	case viewList:
		cmd = m.updateListView(msg)
	case viewAdd:
		cmd = m.updateAddView(msg)
	case viewConfirmDelete:
		cmd = m.updateConfirmView(msg, m.deleteSelected)
	case viewConfirmCancel:
		cmd = m.updateConfirmView(msg, m.cancelSelected)
	}

	return m, cmd
}

// View renders the TUI.
func (m *Model) View() string {
	if !m.loaded {
		return fmt.Sprintf("\n  %s Loading jobs... Please wait.\n\n", m.spinner.View())
	}

	header := renderHeader(m)
	footer := styles.FooterStyle.Width(m.width).Render(m.help.View(m.keys))
	notification := m.renderNotification()

	remainingHeight := max(m.height-lipgloss.Height(header)-lipgloss.Height(notification)-lipgloss.Height(footer), 0)

	var mainContent string
	if remainingHeight > 0 {
		switch m.view {
		case viewList:
			mainContent = components.RenderJobList(m.list.jobs, m.list.selected, m.width, remainingHeight)
		case viewAdd:
			mainContent = m.renderAddView(remainingHeight)
		case viewConfirmDelete:
			mainContent = m.renderConfirmDialog("Delete this job and its video file? (y/n)", remainingHeight)
		case viewConfirmCancel:
			mainContent = m.renderConfirmDialog("Cancel this download? (y/n)", remainingHeight)
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		notification,
		mainContent,
		footer,
	)
}

func (m *Model) renderAddView(height int) string {
	var b strings.Builder

	title := lipgloss.NewStyle().Bold(true).Foreground(styles.Pink).Render("Add HLS Stream")
	b.WriteString(title)
	for _, in := range m.inputs {
		b.WriteString("\n\n" + in.View())
	}

	if err := m.inputs[fieldBandwidth].Validate(m.inputs[fieldBandwidth].Value()); err != nil {
		b.WriteString("\n" + styles.ErrorStyle.Render(err.Error()))
	}

	b.WriteString("\n\n(↑/↓ to switch, enter to confirm, esc to cancel)")

	dialog := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(styles.Pink).
		Padding(1, 2).
		Render(b.String())

	return lipgloss.Place(m.width, height, lipgloss.Center, lipgloss.Center, dialog)
}

func (m *Model) renderConfirmDialog(prompt string, height int) string {
	dialog := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(styles.Red).
		Padding(1, 2).
		Render(prompt)

	return lipgloss.Place(m.width, height, lipgloss.Center, lipgloss.Center, dialog)
}

func (m *Model) renderNotification() string {
	if m.errMsg != "" {
		return styles.ErrorStyle.Width(m.width).Align(lipgloss.Center).Render(m.errMsg)
	}

	if m.successMsg != "" {
		return styles.SuccessStyle.Width(m.width).Align(lipgloss.Center).Render(m.successMsg)
	}

	return lipgloss.NewStyle().Height(1).Render("")
}

func renderHeader(m *Model) string {
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(styles.Crust).
		Background(styles.Pink).
		Padding(0, 1).
		Width(m.width).
		Align(lipgloss.Center).
		Render("HLSDM - HLS Stream Downloader")

	stats := lipgloss.NewStyle().
		Foreground(styles.Text).
		Background(styles.Surface0).
		Padding(0, 1).
		Width(m.width).
		Align(lipgloss.Center).
		Render(statsLine(m.list.jobs))

	return lipgloss.JoinVertical(lipgloss.Top, header, stats)
}

func statsLine(jobs []engine.JobSummary) string {
	var active, queued, completed, partial, failed, cancelled int

	for _, j := range jobs {
		switch {
		case j.Status == status.Queued:
			queued++
		case j.Status.IsActive():
			active++
		case j.Status == status.Completed:
			completed++
		case j.Status == status.PartiallyCompleted:
			partial++
		case j.Status == status.Failed:
			failed++
		case j.Status == status.Cancelled:
			cancelled++
		}
	}

	return fmt.Sprintf(
		"Total: %d | Active: %d | Queued: %d | Completed: %d | Partial: %d | Failed: %d | Cancelled: %d",
		len(jobs), active, queued, completed, partial, failed, cancelled,
	)
}

func (m *Model) refreshJobs() tea.Cmd {
	return func() tea.Msg {
		return jobsMsg(m.eng.List())
	}
}

func (m *Model) selectedJob() (engine.JobSummary, bool) {
	if len(m.list.jobs) > 0 && m.list.selected < len(m.list.jobs) {
		return m.list.jobs[m.list.selected], true
	}

	return engine.JobSummary{}, false
}

func (m *Model) updateListView(msg tea.Msg) tea.Cmd {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return nil
	}

	switch {
	case key.Matches(keyMsg, m.keys.Up):
		if m.list.selected > 0 {
			m.list.selected--
		}
	case key.Matches(keyMsg, m.keys.Down):
		if m.list.selected < len(m.list.jobs)-1 {
			m.list.selected++
		}
	case key.Matches(keyMsg, m.keys.Add):
		m.view = viewAdd
		m.setFocus(fieldURL)

		return textinput.Blink
	case key.Matches(keyMsg, m.keys.Cancel):
		if j, ok := m.selectedJob(); ok && !j.Status.IsTerminal() {
			m.view = viewConfirmCancel
		}
	case key.Matches(keyMsg, m.keys.Delete):
		if j, ok := m.selectedJob(); ok && j.Status.IsTerminal() {
			m.view = viewConfirmDelete
		}
	}

	return nil
}

func (m *Model) setFocus(field int) {
	m.focus = field
	for i := range m.inputs {
		if i == field {
			m.inputs[i].Focus()
		} else {
			m.inputs[i].Blur()
		}
	}
}

func (m *Model) resetAddForm() {
	for i := range m.inputs {
		m.inputs[i].SetValue("")
	}
	m.setFocus(fieldURL)
	m.view = viewList
}

func (m *Model) updateAddView(msg tea.Msg) tea.Cmd {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case keyMsg.Type == tea.KeyDown, keyMsg.Type == tea.KeyTab:
			m.setFocus((m.focus + 1) % fieldCount)
			return nil

		case keyMsg.Type == tea.KeyUp, keyMsg.Type == tea.KeyShiftTab:
			m.setFocus((m.focus + fieldCount - 1) % fieldCount)
			return nil

		case key.Matches(keyMsg, m.keys.Confirm):
			return m.submitAddForm()

		case key.Matches(keyMsg, m.keys.Back):
			m.resetAddForm()
			return nil
		}
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)

	return cmd
}

func (m *Model) submitAddForm() tea.Cmd {
	manifestURL := strings.TrimSpace(m.inputs[fieldURL].Value())
	if manifestURL == "" {
		return nil
	}

	bw := m.inputs[fieldBandwidth].Value()
	if m.inputs[fieldBandwidth].Validate(bw) != nil {
		return nil
	}

	var hint engine.QualityHint
	if bw != "" {
		hint.MaxBandwidth, _ = strconv.ParseInt(bw, 10, 64)
	}

	ref := engine.StreamReference{
		ID:          strings.TrimSpace(m.inputs[fieldStreamID].Value()),
		ManifestURL: manifestURL,
	}
	if ref.ID == "" {
		ref.ID = "stream"
	}

	m.resetAddForm()

	return func() tea.Msg {
		if _, err := m.eng.Submit(ref, hint); err != nil {
			return actionResult{err: err}
		}
		return actionResult{success: "Queued " + manifestURL}
	}
}

func (m *Model) updateConfirmView(msg tea.Msg, action func(uuid.UUID) tea.Cmd) tea.Cmd {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return nil
	}

	switch keyMsg.String() {
	case "y", "Y", "enter":
		m.view = viewList
		if j, ok := m.selectedJob(); ok {
			return action(j.ID)
		}
	case "n", "N", "esc":
		m.view = viewList
	}

	return nil
}

func (m *Model) cancelSelected(id uuid.UUID) tea.Cmd {
	return func() tea.Msg {
		if err := m.eng.Cancel(id); err != nil {
			return actionResult{err: err}
		}
		return actionResult{success: "Cancelling job " + id.String()[:8]}
	}
}

func (m *Model) deleteSelected(id uuid.UUID) tea.Cmd {
	return func() tea.Msg {
		if err := m.eng.Delete(id); err != nil {
			return actionResult{err: err}
		}
		return actionResult{success: "Deleted job " + id.String()[:8]}
	}
}

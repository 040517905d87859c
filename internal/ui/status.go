package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

const refreshInterval = 200 * time.Millisecond

// LinkRow is one peer link in the status view.
type LinkRow struct {
	PeerID string
	State  string
}

// Status is what the live view renders on each refresh.
type Status struct {
	Role       string
	RoomID     string
	Connection string
	LastError  string

	OpenPeers int
	Peers     int
	Links     []LinkRow

	// Captain
	Sent uint64
	Rate string

	// Crew
	Received uint64
	Latency  string
	World    string
}

// StatusSource is polled by the live view. It must be safe to call from
// the UI goroutine.
type StatusSource func() Status

type tickMsg time.Time

// StatusUI is the live session view. It runs inline, keeping earlier
// terminal output visible.
type StatusUI struct {
	program *tea.Program
	model   *statusModel
	quit    chan struct{}
	wg      sync.WaitGroup

	stopOnce sync.Once
}

type statusModel struct {
	title    string
	source   StatusSource
	spinner  spinner.Model
	status   Status
	quitting bool
	onQuit   func()
}

func NewStatusUI(title string, source StatusSource) *StatusUI {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	ui := &StatusUI{quit: make(chan struct{})}
	ui.model = &statusModel{
		title:   title,
		source:  source,
		spinner: s,
		status:  source(),
	}
	ui.model.onQuit = func() { ui.stopOnce.Do(func() { close(ui.quit) }) }
	return ui
}

// Start runs the view in a goroutine.
func (ui *StatusUI) Start() {
	ui.program = tea.NewProgram(ui.model)
	ui.wg.Add(1)
	go func() {
		defer ui.wg.Done()
		if _, err := ui.program.Run(); err != nil {
			fmt.Printf("UI error: %v\n", err)
		}
		ui.model.onQuit()
	}()
}

// Quit is closed when the user leaves the view.
func (ui *StatusUI) Quit() <-chan struct{} {
	return ui.quit
}

// Stop ends the view and waits for the terminal to be restored.
func (ui *StatusUI) Stop() {
	if ui.program != nil {
		ui.program.Quit()
	}
	ui.wg.Wait()
}

func (m *statusModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			m.onQuit()
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		m.status = m.source()
		if m.quitting {
			return m, nil
		}
		return m, tick()
	}
	return m, nil
}

func (m *statusModel) View() string {
	if m.quitting {
		return ""
	}
	return renderStatus(m.title, m.spinner.View(), m.status)
}

func renderStatus(title, spin string, st Status) string {
	var b strings.Builder

	b.WriteString("\n" + TitleStyle.Render(title) + "\n\n")

	conn := st.Connection
	switch st.Connection {
	case "connected":
		conn = SuccessStyle.Render(conn)
	case "unavailable", "closed", "room-lost":
		conn = ErrorStyle.Render(conn)
	default:
		conn = spin + " " + WarningStyle.Render(conn)
	}

	row := func(label, value string) {
		b.WriteString(LabelStyle.Render(label) + value + "\n")
	}
	row("Role", RoleIcon(st.Role)+" "+BoldStyle.Render(st.Role))
	row("Room", st.RoomID)
	row("Relay", conn)
	if st.LastError != "" {
		row("", MutedStyle.Render(st.LastError))
	}
	row("Peers", fmt.Sprintf("%d open / %d", st.OpenPeers, st.Peers))

	if st.Role == "captain" {
		row("Sent", fmt.Sprintf("%d %s", st.Sent, MutedStyle.Render(st.Rate)))
		if st.OpenPeers == 0 {
			b.WriteString("\n" + spin + " " + MutedStyle.Render("waiting for crew to join...") + "\n")
		}
	} else {
		row("Received", fmt.Sprintf("%d", st.Received))
		row("Latency", st.Latency)
		if st.World != "" {
			row("World", st.World)
		}
	}

	if len(st.Links) > 0 {
		b.WriteString("\n" + LinksView(st.Links) + "\n")
	}

	b.WriteString("\n" + MutedStyle.Render("Press q to leave the room"))
	return b.String()
}

// LinksView renders peer links as a table.
func LinksView(links []LinkRow) string {
	rows := make([][]string, len(links))
	for i, l := range links {
		rows[i] = []string{l.PeerID, l.State}
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Peer", "Link").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		}).
		Render()
}

package main

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/alternative-intelligence-cp/aria-shell/pkg/job"
	"github.com/alternative-intelligence-cp/aria-shell/pkg/process"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	stateStyle    = map[job.State]lipgloss.Style{
		job.Foreground: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		job.Background: lipgloss.NewStyle().Foreground(lipgloss.Color("33")),
		job.Stopped:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		job.Terminated: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

type pickerModel struct {
	mgr      *job.Manager
	cursor   int
	quitting bool
	status   string
}

func runPicker(mgr *job.Manager) error {
	_, err := tea.NewProgram(pickerModel{mgr: mgr}).Run()
	return err
}

func (m pickerModel) Init() tea.Cmd { return nil }

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	jobs := m.mgr.Jobs()

	switch keyMsg.String() {
	case "ctrl+c", "q":
		m.quitting = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(jobs)-1 {
			m.cursor++
		}
	case "r":
		j, err := m.mgr.Spawn(context.Background(), process.Config{Path: "/bin/sleep", Args: []string{"30"}}, false)
		if err != nil {
			m.status = err.Error()
		} else {
			m.status = fmt.Sprintf("spawned job %d", j.ID)
		}
	case "f":
		m.status = m.act(jobs, m.mgr.ToForeground)
	case "b":
		m.status = m.act(jobs, m.mgr.ToBackground)
	case "s":
		m.status = m.act(jobs, m.mgr.Stop)
	case "x":
		m.status = m.act(jobs, m.mgr.Terminate)
	}
	return m, nil
}

func (m pickerModel) act(jobs []*job.Job, fn func(id int) error) string {
	if m.cursor >= len(jobs) {
		return "no job selected"
	}
	if err := fn(jobs[m.cursor].ID); err != nil {
		return err.Error()
	}
	return "ok"
}

func (m pickerModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("aria-shell jobs") + "\n\n")

	jobs := m.mgr.Jobs()
	if len(jobs) == 0 {
		b.WriteString(helpStyle.Render("no jobs yet — press r to spawn one") + "\n")
	}
	for i, j := range jobs {
		line := fmt.Sprintf("[%d] pid %-8d %-10s %s", j.ID, j.PID(), j.State(), j.Config.Path)
		if style, ok := stateStyle[j.State()]; ok {
			line = style.Render(line)
		}
		if i == m.cursor {
			line = selectedStyle.Render("> ") + line
		} else {
			line = "  " + line
		}
		b.WriteString(line + "\n")
	}

	if m.status != "" {
		b.WriteString("\n" + m.status + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("j/k move  r spawn  f fg  b bg  s stop  x kill  q quit"))
	return b.String()
}

package ui

import (
	"os"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"
)

// spinModel shows a spinner until the work reports back.
type spinModel struct {
	spinner spinner.Model
	title   string
	done    bool
}

type workDoneMsg struct{}

func newSpinModel(title string) spinModel {
	return spinModel{
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(fg(AccentColor))),
		title:   title,
	}
}

// Init implements tea.Model
func (m spinModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model
func (m spinModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case workDoneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model
func (m spinModel) View() string {
	if m.done {
		return ""
	}
	return m.spinner.View() + " " + HeaderCommandStyle.Render(m.title) + "\n"
}

// Spin runs fn while a spinner labelled title animates on stderr. When
// stderr is not a terminal fn simply runs. Interrupts are left to the
// caller's context.
func Spin(title string, fn func() error) error {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return fn()
	}

	p := tea.NewProgram(newSpinModel(title),
		tea.WithOutput(os.Stderr),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)
	errc := make(chan error, 1)
	go func() {
		errc <- fn()
		p.Send(workDoneMsg{})
	}()
	// A render failure only loses the animation.
	_, _ = p.Run()
	return <-errc
}

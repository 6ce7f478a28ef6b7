package tui

import (
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// BenchState represents the current state of the bench dashboard.
type BenchState int

const (
	// BenchStateRunning indicates requests are still being issued.
	BenchStateRunning BenchState = iota
	// BenchStateDone indicates the run finished.
	BenchStateDone
	// BenchStateQuitting indicates the user asked to stop the run.
	BenchStateQuitting
)

// BenchProgressMsg carries running counters from the bench.
type BenchProgressMsg struct {
	Completed    int64
	BackendCalls int64
	Errors       int64
}

// BenchDoneMsg is sent once the bench returns.
type BenchDoneMsg struct {
	Err error
}

// Layout bounds for the dashboard.
const (
	benchDefaultWidth = 80
	barPadding        = 4
	maxBarWidth       = 60
)

// Key bindings.
const (
	keyQuit  = "q"
	keyCtrlC = "ctrl+c"
	keyEsc   = "esc"
)

// BenchModel is the Bubble Tea model for the live bench dashboard.
//
//nolint:recvcheck // Bubble Tea requires value receivers for Init/Update/View interface methods.
type BenchModel struct {
	title string
	total int64

	state BenchState
	err   error

	completed    int64
	backendCalls int64
	errors       int64

	spinner spinner.Model
	bar     progress.Model
	width   int
}

// NewBenchModel creates a dashboard for a run of total requests.
func NewBenchModel(title string, total int64) BenchModel {
	m := BenchModel{
		title:   title,
		total:   total,
		state:   BenchStateRunning,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		bar:     progress.New(progress.WithDefaultGradient()),
		width:   benchDefaultWidth,
	}
	m.bar.Width = barWidth(m.width)
	return m
}

// Init starts the spinner (Bubble Tea interface).
func (m BenchModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages and updates the model state (Bubble Tea interface).
func (m BenchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = barWidth(msg.Width)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case keyQuit, keyCtrlC, keyEsc:
			m.state = BenchStateQuitting
			return m, tea.Quit
		}
		return m, nil

	case BenchProgressMsg:
		m.completed = msg.Completed
		m.backendCalls = msg.BackendCalls
		m.errors = msg.Errors
		return m, nil

	case BenchDoneMsg:
		m.state = BenchStateDone
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		if m.state != BenchStateRunning {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// State returns the dashboard state.
func (m BenchModel) State() BenchState {
	return m.state
}

// Err returns the error reported with BenchDoneMsg, if any.
func (m BenchModel) Err() error {
	return m.err
}

// Percent is the completed share of the planned requests, in [0, 1].
func (m BenchModel) Percent() float64 {
	if m.total <= 0 {
		return 0
	}
	return min(float64(m.completed)/float64(m.total), 1)
}

// Ratio is completed requests per backend call.
func (m BenchModel) Ratio() float64 {
	if m.backendCalls == 0 {
		return 0
	}
	return float64(m.completed) / float64(m.backendCalls)
}

func barWidth(width int) int {
	return max(min(width-barPadding, maxBarWidth), 10) //nolint:mnd // minimum usable bar
}
